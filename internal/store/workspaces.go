package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const workspaceSelect = `
SELECT id, card_id, agent_type, status, session_id, pid, worktree_path,
       branch_name, review_count, attached_at, completed_at
FROM agent_workspaces`

func scanWorkspace(scan func(dest ...any) error) (Workspace, error) {
	var w Workspace
	err := scan(&w.ID, &w.CardID, &w.AgentType, &w.Status, &w.SessionID, &w.PID,
		&w.WorktreePath, &w.BranchName, &w.ReviewCount, &w.AttachedAt, &w.CompletedAt)
	return w, err
}

// NewWorkspace describes a workspace row to insert.
type NewWorkspace struct {
	CardID       string
	AgentType    string
	SessionID    *string
	PID          int64
	WorktreePath *string
	BranchName   *string
}

// InsertWorkspace records a freshly spawned child as running.
func (s *Store) InsertWorkspace(nw NewWorkspace) (*Workspace, error) {
	defer s.lock()()

	w := Workspace{
		ID:           uuid.New().String(),
		CardID:       nw.CardID,
		AgentType:    nw.AgentType,
		Status:       WorkspaceRunning,
		SessionID:    nw.SessionID,
		PID:          &nw.PID,
		WorktreePath: nw.WorktreePath,
		BranchName:   nw.BranchName,
		AttachedAt:   now(),
	}
	if _, err := s.db.Exec(
		`INSERT INTO agent_workspaces (id, card_id, agent_type, status, session_id, pid, worktree_path, branch_name, attached_at)
		 VALUES (?, ?, ?, 'running', ?, ?, ?, ?, ?)`,
		w.ID, w.CardID, w.AgentType, w.SessionID, w.PID, w.WorktreePath, w.BranchName, w.AttachedAt,
	); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	return &w, nil
}

// GetWorkspace returns one workspace by id.
func (s *Store) GetWorkspace(id string) (*Workspace, error) {
	defer s.lock()()

	row := s.db.QueryRow(workspaceSelect+` WHERE id = ?`, id)
	w, err := scanWorkspace(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &w, nil
}

// ListWorkspaces returns a card's workspaces, newest first.
func (s *Store) ListWorkspaces(cardID string) ([]Workspace, error) {
	defer s.lock()()

	rows, err := s.db.Query(workspaceSelect+` WHERE card_id = ? ORDER BY attached_at DESC`, cardID)
	if err != nil {
		return nil, fmt.Errorf("querying workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows.Scan)
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, w)
	}
	return workspaces, rows.Err()
}

// ListRunningWorkspaces returns every running row. Rows with a pid are the
// liveness monitor's sweep set.
func (s *Store) ListRunningWorkspaces() ([]Workspace, error) {
	defer s.lock()()

	rows, err := s.db.Query(workspaceSelect + ` WHERE status = 'running'`)
	if err != nil {
		return nil, fmt.Errorf("querying running workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows.Scan)
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, w)
	}
	return workspaces, rows.Err()
}

// LatestRunningWorkspaceForCard returns the card's most recent running
// workspace, or nil when none is running.
func (s *Store) LatestRunningWorkspaceForCard(cardID string) (*Workspace, error) {
	defer s.lock()()

	row := s.db.QueryRow(
		workspaceSelect+` WHERE card_id = ? AND status = 'running' ORDER BY attached_at DESC LIMIT 1`,
		cardID,
	)
	w, err := scanWorkspace(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

// TransitionWorkspace moves a running workspace to a terminal state and
// stamps completed_at. Terminal rows are never transitioned again: the
// guard on status makes a late transition a no-op.
func (s *Store) TransitionWorkspace(id, status string) error {
	defer s.lock()()

	if status != WorkspaceCompleted && status != WorkspaceFailed {
		return fmt.Errorf("invalid workspace transition to %q: %w", status, ErrInvalid)
	}
	_, err := s.db.Exec(
		`UPDATE agent_workspaces SET status = ?, completed_at = ? WHERE id = ? AND status = 'running'`,
		status, now(), id,
	)
	if err != nil {
		return fmt.Errorf("transitioning workspace: %w", err)
	}
	return nil
}

// SetWorkspaceSessionID records the agent-side session token once the
// child reports it.
func (s *Store) SetWorkspaceSessionID(id, sessionID string) error {
	defer s.lock()()

	res, err := s.db.Exec(`UPDATE agent_workspaces SET session_id = ? WHERE id = ?`, sessionID, id)
	if err != nil {
		return fmt.Errorf("setting session id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	return nil
}

// IncrementReviewCount bumps review_count on the card's non-terminal
// workspaces.
func (s *Store) IncrementReviewCount(cardID string) error {
	defer s.lock()()

	_, err := s.db.Exec(
		`UPDATE agent_workspaces SET review_count = review_count + 1
		 WHERE card_id = ? AND status NOT IN ('completed','failed')`,
		cardID,
	)
	if err != nil {
		return fmt.Errorf("incrementing review count: %w", err)
	}
	return nil
}

// MaxReviewCount returns the highest review_count across a card's workspaces.
func (s *Store) MaxReviewCount(cardID string) (int, error) {
	defer s.lock()()

	var count int
	err := s.db.QueryRow(
		`SELECT COALESCE(MAX(review_count), 0) FROM agent_workspaces WHERE card_id = ?`,
		cardID,
	).Scan(&count)
	return count, err
}

// CompleteCardWorkspaces archives a card's non-terminal workspaces as
// completed (the approve flow).
func (s *Store) CompleteCardWorkspaces(cardID string) error {
	defer s.lock()()

	_, err := s.db.Exec(
		`UPDATE agent_workspaces SET status = 'completed', completed_at = ?
		 WHERE card_id = ? AND status NOT IN ('completed','failed')`,
		now(), cardID,
	)
	if err != nil {
		return fmt.Errorf("completing workspaces: %w", err)
	}
	return nil
}

// FailAllRunning marks every running row failed. Used by daemon shutdown.
func (s *Store) FailAllRunning() error {
	defer s.lock()()

	_, err := s.db.Exec(
		`UPDATE agent_workspaces SET status = 'failed', completed_at = ? WHERE status = 'running'`,
		now(),
	)
	if err != nil {
		return fmt.Errorf("failing running workspaces: %w", err)
	}
	return nil
}
