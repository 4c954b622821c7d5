package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/josephschmitt/maestro/internal/paths"
)

// CreateProject creates a fresh per-project store under basePath, inserts
// the project row, and seeds the six default statuses.
func CreateProject(basePath, name string) (*Store, *Project, error) {
	id := uuid.New().String()

	s, err := Open(basePath, id)
	if err != nil {
		return nil, nil, err
	}

	ts := now()
	project := &Project{
		ID:          id,
		Name:        name,
		AgentConfig: map[string]any{},
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}

	unlock := s.lock()
	err = s.withTx(func() error {
		if _, err := s.db.Exec(
			`INSERT INTO projects (id, name, agent_config, created_at, updated_at) VALUES (?, ?, '{}', ?, ?)`,
			id, name, ts, ts,
		); err != nil {
			return fmt.Errorf("creating project: %w", err)
		}
		return s.seedDefaultStatuses(id)
	})
	unlock()
	if err != nil {
		s.Close()
		os.RemoveAll(paths.ProjectDir(basePath, id))
		return nil, nil, err
	}

	return s, project, nil
}

// ListProjects iterates the projects directory and reads each store's
// project row.
func ListProjects(basePath string) ([]Project, error) {
	ids, err := ProjectDirs(basePath)
	if err != nil {
		return nil, err
	}

	projects := make([]Project, 0, len(ids))
	for _, id := range ids {
		s, err := Open(basePath, id)
		if err != nil {
			continue
		}
		p, err := s.Project()
		s.Close()
		if err != nil {
			continue
		}
		projects = append(projects, *p)
	}
	return projects, nil
}

// Project returns this store's project row.
func (s *Store) Project() (*Project, error) {
	defer s.lock()()
	return s.projectRow()
}

func (s *Store) projectRow() (*Project, error) {
	row := s.db.QueryRow(
		`SELECT id, name, agent_config, base_path, created_at, updated_at FROM projects WHERE id = ?`,
		s.projectID,
	)
	return scanProject(row)
}

func scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var configJSON string
	if err := row.Scan(&p.ID, &p.Name, &configJSON, &p.BasePath, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project: %w", ErrNotFound)
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(configJSON), &p.AgentConfig); err != nil || p.AgentConfig == nil {
		p.AgentConfig = map[string]any{}
	}
	return &p, nil
}

// UpdateProject patches name, agent config, and base path. Nil fields keep
// their current values.
func (s *Store) UpdateProject(name *string, agentConfig map[string]any, basePath *string) (*Project, error) {
	defer s.lock()()

	current, err := s.projectRow()
	if err != nil {
		return nil, err
	}

	if name != nil {
		current.Name = *name
	}
	if agentConfig != nil {
		current.AgentConfig = agentConfig
	}
	if basePath != nil {
		current.BasePath = basePath
	}
	current.UpdatedAt = now()

	configJSON, err := json.Marshal(current.AgentConfig)
	if err != nil {
		return nil, fmt.Errorf("encoding agent config: %w", err)
	}

	if _, err := s.db.Exec(
		`UPDATE projects SET name = ?, agent_config = ?, base_path = ?, updated_at = ? WHERE id = ?`,
		current.Name, string(configJSON), current.BasePath, current.UpdatedAt, s.projectID,
	); err != nil {
		return nil, fmt.Errorf("updating project: %w", err)
	}
	return current, nil
}

// DeleteProject deletes the project row; referential cascade removes every
// dependent row. The caller removes the project directory afterwards.
func (s *Store) DeleteProject() error {
	defer s.lock()()

	res, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, s.projectID)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", s.projectID, ErrNotFound)
	}
	return nil
}

// RemoveProjectDir deletes a project's whole directory tree (store,
// artifacts, worktrees) after its row has been deleted.
func RemoveProjectDir(basePath, projectID string) error {
	return os.RemoveAll(paths.ProjectDir(basePath, projectID))
}
