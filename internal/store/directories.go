package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// AddDirectory links an external directory to the project. is_repo is
// computed at insert from the presence of a .git directory. A duplicate
// (project, path) pair is rejected.
func (s *Store) AddDirectory(path, label string) (*LinkedDirectory, error) {
	defer s.lock()()

	var exists bool
	if err := s.db.QueryRow(
		`SELECT COUNT(*) > 0 FROM linked_directories WHERE project_id = ? AND path = ?`,
		s.projectID, path,
	).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("directory %s already linked: %w", path, ErrConflict)
	}

	isRepo := false
	if info, err := os.Stat(filepath.Join(path, ".git")); err == nil && info.IsDir() {
		isRepo = true
	}

	d := LinkedDirectory{
		ID:        uuid.New().String(),
		ProjectID: s.projectID,
		Path:      path,
		Label:     label,
		IsRepo:    isRepo,
		CreatedAt: now(),
	}
	if _, err := s.db.Exec(
		`INSERT INTO linked_directories (id, project_id, path, label, is_repo, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Path, d.Label, d.IsRepo, d.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("linking directory: %w", err)
	}
	return &d, nil
}

// ListDirectories returns the project's linked directories.
func (s *Store) ListDirectories() ([]LinkedDirectory, error) {
	defer s.lock()()

	rows, err := s.db.Query(
		`SELECT id, project_id, path, label, is_repo, created_at FROM linked_directories
		 WHERE project_id = ? ORDER BY created_at`,
		s.projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying directories: %w", err)
	}
	defer rows.Close()

	var dirs []LinkedDirectory
	for rows.Next() {
		var d LinkedDirectory
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Path, &d.Label, &d.IsRepo, &d.CreatedAt); err != nil {
			return nil, err
		}
		dirs = append(dirs, d)
	}
	return dirs, rows.Err()
}

// RemoveDirectory unlinks a directory.
func (s *Store) RemoveDirectory(id string) error {
	defer s.lock()()

	res, err := s.db.Exec(`DELETE FROM linked_directories WHERE id = ? AND project_id = ?`, id, s.projectID)
	if err != nil {
		return fmt.Errorf("removing directory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("directory %s: %w", id, ErrNotFound)
	}
	return nil
}
