package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/josephschmitt/maestro/internal/paths"
)

const artifactSelect = `SELECT id, card_id, name, type, path, created_by, created_at, updated_at FROM artifacts`

func scanArtifact(scan func(dest ...any) error) (Artifact, error) {
	var a Artifact
	err := scan(&a.ID, &a.CardID, &a.Name, &a.Type, &a.Path, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// artifactAbsPath resolves an artifact's relative path against the project root.
func (s *Store) artifactAbsPath(relPath string) string {
	return filepath.Join(paths.ProjectDir(s.basePath, s.projectID), relPath)
}

// CreateArtifact writes the markdown file and inserts the index row. The
// path is artifacts/<card_id>/<slug(name)>.md; when the (card, path) pair
// already exists an 8-hex disambiguator is appended. The file is written
// before the row so a failed insert leaves only a harmless orphan file.
func (s *Store) CreateArtifact(cardID, name, content, createdBy string) (*Artifact, error) {
	defer s.lock()()

	if createdBy != ActorAgent && createdBy != ActorUser {
		return nil, fmt.Errorf("unknown artifact creator %q: %w", createdBy, ErrInvalid)
	}
	if _, err := s.readCard(cardID); err != nil {
		return nil, err
	}

	slug := paths.Slug(name)
	if slug == "" {
		return nil, fmt.Errorf("artifact name must contain at least one alphanumeric character: %w", ErrInvalid)
	}

	relPath := fmt.Sprintf("artifacts/%s/%s.md", cardID, slug)

	var exists bool
	if err := s.db.QueryRow(
		`SELECT COUNT(*) > 0 FROM artifacts WHERE card_id = ? AND path = ?`,
		cardID, relPath,
	).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		relPath = fmt.Sprintf("artifacts/%s/%s-%s.md", cardID, slug, uuid.New().String()[:8])
	}

	absPath := s.artifactAbsPath(relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("writing artifact file: %w", err)
	}

	a := Artifact{
		ID:        uuid.New().String(),
		CardID:    cardID,
		Name:      name,
		Type:      "markdown",
		Path:      relPath,
		CreatedBy: createdBy,
		CreatedAt: now(),
	}
	a.UpdatedAt = a.CreatedAt

	if _, err := s.db.Exec(
		`INSERT INTO artifacts (id, card_id, name, type, path, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, 'markdown', ?, ?, ?, ?)`,
		a.ID, a.CardID, a.Name, a.Path, a.CreatedBy, a.CreatedAt, a.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("creating artifact: %w", err)
	}
	return &a, nil
}

// GetArtifact returns one artifact by id.
func (s *Store) GetArtifact(id string) (*Artifact, error) {
	defer s.lock()()
	return s.getArtifact(id)
}

func (s *Store) getArtifact(id string) (*Artifact, error) {
	row := s.db.QueryRow(artifactSelect+` WHERE id = ?`, id)
	a, err := scanArtifact(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &a, nil
}

// ListArtifacts returns a card's artifacts, newest first.
func (s *Store) ListArtifacts(cardID string) ([]Artifact, error) {
	defer s.lock()()

	rows, err := s.db.Query(artifactSelect+` WHERE card_id = ? ORDER BY created_at DESC`, cardID)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// ReadArtifactContent reads the artifact's file from disk.
func (s *Store) ReadArtifactContent(id string) (string, error) {
	defer s.lock()()

	a, err := s.getArtifact(id)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.artifactAbsPath(a.Path))
	if err != nil {
		return "", fmt.Errorf("reading artifact file: %w", err)
	}
	return string(data), nil
}

// UpdateArtifactContent rewrites the artifact file and bumps updated_at.
func (s *Store) UpdateArtifactContent(id, content string) (*Artifact, error) {
	defer s.lock()()

	a, err := s.getArtifact(id)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(s.artifactAbsPath(a.Path), []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("writing artifact file: %w", err)
	}

	a.UpdatedAt = now()
	if _, err := s.db.Exec(`UPDATE artifacts SET updated_at = ? WHERE id = ?`, a.UpdatedAt, id); err != nil {
		return nil, fmt.Errorf("updating artifact: %w", err)
	}
	return a, nil
}

// DeleteArtifact removes both the row and the file.
func (s *Store) DeleteArtifact(id string) error {
	defer s.lock()()

	a, err := s.getArtifact(id)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(`DELETE FROM artifacts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting artifact: %w", err)
	}
	if err := os.Remove(s.artifactAbsPath(a.Path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting artifact file: %w", err)
	}
	return nil
}

// CollectArtifactContents reads every artifact file under a card's artifact
// directory, returning (filename, content) pairs for prompt assembly.
func CollectArtifactContents(basePath, projectID, cardID string) [][2]string {
	dir := paths.ArtifactDir(basePath, projectID, cardID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var contents [][2]string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		contents = append(contents, [2]string{e.Name(), string(data)})
	}
	return contents
}
