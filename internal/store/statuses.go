package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const statusSelect = `SELECT id, project_id, "group", name, sort_order, is_default, status_prompts, created_at FROM statuses`

// seedDefaultStatuses inserts the six canonical statuses for a new
// project. Runs inside the caller's transaction with the lock held.
func (s *Store) seedDefaultStatuses(projectID string) error {
	seeds := []struct {
		group     string
		name      string
		sortOrder int
		isDefault bool
		prompts   string
	}{
		{GroupBacklog, "Backlog", 0, true, `["brainstorming"]`},
		{GroupUnstarted, "Unstarted", 0, true, `[]`},
		{GroupStarted, "In Progress", 0, true, `["tdd","systematic-debugging","verification"]`},
		{GroupStarted, "In Review", 1, false, `["code-review","verification"]`},
		{GroupCompleted, "Completed", 0, true, `[]`},
		{GroupCancelled, "Cancelled", 0, true, `[]`},
	}

	ts := now()
	for _, seed := range seeds {
		if _, err := s.db.Exec(
			`INSERT INTO statuses (id, project_id, "group", name, sort_order, is_default, status_prompts, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), projectID, seed.group, seed.name, seed.sortOrder, seed.isDefault, seed.prompts, ts,
		); err != nil {
			return fmt.Errorf("seeding status %s: %w", seed.name, err)
		}
	}
	return nil
}

func validateGroup(group string) error {
	for _, g := range Groups {
		if g == group {
			return nil
		}
	}
	return fmt.Errorf("unknown status group %q: %w", group, ErrInvalid)
}

func scanStatus(scan func(dest ...any) error) (Status, error) {
	var st Status
	var promptsJSON string
	if err := scan(&st.ID, &st.ProjectID, &st.Group, &st.Name, &st.SortOrder, &st.IsDefault, &promptsJSON, &st.CreatedAt); err != nil {
		return Status{}, err
	}
	if err := json.Unmarshal([]byte(promptsJSON), &st.StatusPrompts); err != nil || st.StatusPrompts == nil {
		st.StatusPrompts = []string{}
	}
	return st, nil
}

// ListStatuses returns all statuses ordered by group then sort order.
func (s *Store) ListStatuses() ([]Status, error) {
	defer s.lock()()

	rows, err := s.db.Query(statusSelect+` WHERE project_id = ? ORDER BY "group", sort_order`, s.projectID)
	if err != nil {
		return nil, fmt.Errorf("querying statuses: %w", err)
	}
	defer rows.Close()

	var statuses []Status
	for rows.Next() {
		st, err := scanStatus(rows.Scan)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

// GetStatus returns one status by id.
func (s *Store) GetStatus(id string) (*Status, error) {
	defer s.lock()()
	return s.getStatus(id)
}

func (s *Store) getStatus(id string) (*Status, error) {
	row := s.db.QueryRow(statusSelect+` WHERE id = ? AND project_id = ?`, id, s.projectID)
	st, err := scanStatus(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("status %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &st, nil
}

// FindStatusByName resolves a status by name, case-insensitively and with
// hyphens treated as spaces ("in-progress" matches "In Progress").
func (s *Store) FindStatusByName(name string) (*Status, error) {
	defer s.lock()()

	normalized := strings.ReplaceAll(name, "-", " ")
	row := s.db.QueryRow(statusSelect+` WHERE project_id = ? AND LOWER(name) = LOWER(?)`, s.projectID, normalized)
	st, err := scanStatus(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("status %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return &st, nil
}

// DefaultStatus returns the default status for a group.
func (s *Store) DefaultStatus(group string) (*Status, error) {
	defer s.lock()()
	return s.defaultStatus(group)
}

func (s *Store) defaultStatus(group string) (*Status, error) {
	row := s.db.QueryRow(statusSelect+` WHERE project_id = ? AND "group" = ? AND is_default = 1`, s.projectID, group)
	st, err := scanStatus(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("default status for group %s: %w", group, ErrNotFound)
		}
		return nil, err
	}
	return &st, nil
}

// CreateStatus appends a status at the end of its group. Setting isDefault
// clears the group's previous default.
func (s *Store) CreateStatus(group, name string, isDefault bool, prompts []string) (*Status, error) {
	defer s.lock()()

	if err := validateGroup(group); err != nil {
		return nil, err
	}
	if prompts == nil {
		prompts = []string{}
	}
	promptsJSON, err := json.Marshal(prompts)
	if err != nil {
		return nil, err
	}

	st := Status{
		ID:            uuid.New().String(),
		ProjectID:     s.projectID,
		Group:         group,
		Name:          name,
		IsDefault:     isDefault,
		StatusPrompts: prompts,
		CreatedAt:     now(),
	}

	err = s.withTx(func() error {
		var maxOrder int
		if err := s.db.QueryRow(
			`SELECT COALESCE(MAX(sort_order), -1) FROM statuses WHERE project_id = ? AND "group" = ?`,
			s.projectID, group,
		).Scan(&maxOrder); err != nil {
			return fmt.Errorf("reading max sort order: %w", err)
		}
		st.SortOrder = maxOrder + 1

		if isDefault {
			if _, err := s.db.Exec(
				`UPDATE statuses SET is_default = 0 WHERE project_id = ? AND "group" = ?`,
				s.projectID, group,
			); err != nil {
				return fmt.Errorf("clearing previous default: %w", err)
			}
		}

		if _, err := s.db.Exec(
			`INSERT INTO statuses (id, project_id, "group", name, sort_order, is_default, status_prompts, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ID, st.ProjectID, st.Group, st.Name, st.SortOrder, st.IsDefault, string(promptsJSON), st.CreatedAt,
		); err != nil {
			return fmt.Errorf("creating status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpdateStatus patches name, default flag, and prompt list. Nil fields keep
// their current values.
func (s *Store) UpdateStatus(id string, name *string, isDefault *bool, prompts []string) (*Status, error) {
	defer s.lock()()

	existing, err := s.getStatus(id)
	if err != nil {
		return nil, err
	}

	if name != nil {
		existing.Name = *name
	}
	newDefault := existing.IsDefault
	if isDefault != nil {
		newDefault = *isDefault
	}
	if prompts != nil {
		existing.StatusPrompts = prompts
	}
	promptsJSON, err := json.Marshal(existing.StatusPrompts)
	if err != nil {
		return nil, err
	}

	err = s.withTx(func() error {
		if newDefault && !existing.IsDefault {
			if _, err := s.db.Exec(
				`UPDATE statuses SET is_default = 0 WHERE project_id = ? AND "group" = ?`,
				s.projectID, existing.Group,
			); err != nil {
				return fmt.Errorf("clearing previous default: %w", err)
			}
		}
		if _, err := s.db.Exec(
			`UPDATE statuses SET name = ?, is_default = ?, status_prompts = ? WHERE id = ?`,
			existing.Name, newDefault, string(promptsJSON), id,
		); err != nil {
			return fmt.Errorf("updating status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	existing.IsDefault = newDefault
	return existing, nil
}

// DeleteStatus removes a status. Rejected when it is the last status in its
// group or any card still references it. Surviving siblings are renumbered
// densely and the lowest-ordered one becomes default if the deleted status
// was the default.
func (s *Store) DeleteStatus(id string) error {
	defer s.lock()()

	existing, err := s.getStatus(id)
	if err != nil {
		return err
	}

	return s.withTx(func() error {
		var groupCount int64
		if err := s.db.QueryRow(
			`SELECT COUNT(*) FROM statuses WHERE project_id = ? AND "group" = ?`,
			s.projectID, existing.Group,
		).Scan(&groupCount); err != nil {
			return err
		}
		if groupCount <= 1 {
			return fmt.Errorf("cannot delete the last status in the %s group: %w", existing.Group, ErrConflict)
		}

		var cardCount int64
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM cards WHERE status_id = ?`, id).Scan(&cardCount); err != nil {
			return err
		}
		if cardCount > 0 {
			return fmt.Errorf("cannot delete status with %d card(s) assigned: %w", cardCount, ErrConflict)
		}

		if _, err := s.db.Exec(`DELETE FROM statuses WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting status: %w", err)
		}

		// Renumber survivors densely from 0.
		rows, err := s.db.Query(
			`SELECT id FROM statuses WHERE project_id = ? AND "group" = ? ORDER BY sort_order`,
			s.projectID, existing.Group,
		)
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var sid string
			if err := rows.Scan(&sid); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, sid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for i, sid := range ids {
			if _, err := s.db.Exec(`UPDATE statuses SET sort_order = ? WHERE id = ?`, i, sid); err != nil {
				return err
			}
		}

		if existing.IsDefault && len(ids) > 0 {
			if _, err := s.db.Exec(`UPDATE statuses SET is_default = 1 WHERE id = ?`, ids[0]); err != nil {
				return err
			}
		}
		return nil
	})
}
