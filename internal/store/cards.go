package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const cardSelect = `
SELECT c.id, c.project_id, c.parent_id, c.status_id, c.title, c.description, c.labels,
       c.sort_order, c.created_at, c.updated_at, s.name, s."group"
FROM cards c JOIN statuses s ON c.status_id = s.id`

func scanCard(scan func(dest ...any) error) (CardWithStatus, error) {
	var c CardWithStatus
	var labelsJSON string
	if err := scan(
		&c.ID, &c.ProjectID, &c.ParentID, &c.StatusID, &c.Title, &c.Description, &labelsJSON,
		&c.SortOrder, &c.CreatedAt, &c.UpdatedAt, &c.StatusName, &c.StatusGroup,
	); err != nil {
		return CardWithStatus{}, err
	}
	if err := json.Unmarshal([]byte(labelsJSON), &c.Labels); err != nil || c.Labels == nil {
		c.Labels = []string{}
	}
	return c, nil
}

// CreateCard inserts a card at the end of its partition. An empty statusID
// places the card in the Backlog group's default status.
func (s *Store) CreateCard(title, description string, labels []string, parentID *string, statusID string) (*CardWithStatus, error) {
	defer s.lock()()

	if statusID == "" {
		def, err := s.defaultStatus(GroupBacklog)
		if err != nil {
			return nil, err
		}
		statusID = def.ID
	} else if _, err := s.getStatus(statusID); err != nil {
		return nil, err
	}

	if labels == nil {
		labels = []string{}
	}
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	ts := now()

	var created *CardWithStatus
	err = s.withTx(func() error {
		var maxOrder int
		if err := s.db.QueryRow(
			`SELECT COALESCE(MAX(sort_order), -1) FROM cards
			 WHERE status_id = ? AND COALESCE(parent_id, '') = COALESCE(?, '')`,
			statusID, parentID,
		).Scan(&maxOrder); err != nil {
			return fmt.Errorf("reading max sort order: %w", err)
		}

		if _, err := s.db.Exec(
			`INSERT INTO cards (id, project_id, parent_id, status_id, title, description, labels, sort_order, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, s.projectID, parentID, statusID, title, description, string(labelsJSON), maxOrder+1, ts, ts,
		); err != nil {
			return fmt.Errorf("creating card: %w", err)
		}

		c, err := s.readCard(id)
		if err != nil {
			return err
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// readCard fetches one joined card row. Lock held by the caller.
func (s *Store) readCard(id string) (*CardWithStatus, error) {
	row := s.db.QueryRow(cardSelect+` WHERE c.id = ? AND c.project_id = ?`, id, s.projectID)
	c, err := scanCard(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

// GetCard returns one card joined with its status.
func (s *Store) GetCard(id string) (*CardWithStatus, error) {
	defer s.lock()()
	return s.readCard(id)
}

// GetParentCard returns the parent of a card, or nil when it has none.
func (s *Store) GetParentCard(id string) (*CardWithStatus, error) {
	defer s.lock()()

	card, err := s.readCard(id)
	if err != nil {
		return nil, err
	}
	if card.ParentID == nil {
		return nil, nil
	}
	return s.readCard(*card.ParentID)
}

// ListCards returns every card in the project ordered by status and sort order.
func (s *Store) ListCards() ([]CardWithStatus, error) {
	defer s.lock()()

	rows, err := s.db.Query(cardSelect+` WHERE c.project_id = ? ORDER BY c.status_id, c.sort_order`, s.projectID)
	if err != nil {
		return nil, fmt.Errorf("querying cards: %w", err)
	}
	defer rows.Close()

	var cards []CardWithStatus
	for rows.Next() {
		c, err := scanCard(rows.Scan)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// ListCardsByStatus returns a status column in board order.
func (s *Store) ListCardsByStatus(statusID string) ([]CardWithStatus, error) {
	defer s.lock()()
	return s.listCardsByStatus(statusID)
}

func (s *Store) listCardsByStatus(statusID string) ([]CardWithStatus, error) {
	rows, err := s.db.Query(
		cardSelect+` WHERE c.status_id = ? AND c.project_id = ? ORDER BY c.sort_order`,
		statusID, s.projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cards: %w", err)
	}
	defer rows.Close()

	var cards []CardWithStatus
	for rows.Next() {
		c, err := scanCard(rows.Scan)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// UpdateCard patches title, description, and labels.
func (s *Store) UpdateCard(id string, title, description *string, labels []string) (*CardWithStatus, error) {
	defer s.lock()()

	existing, err := s.readCard(id)
	if err != nil {
		return nil, err
	}

	if title != nil {
		existing.Title = *title
	}
	if description != nil {
		existing.Description = *description
	}
	if labels != nil {
		existing.Labels = labels
	}
	labelsJSON, err := json.Marshal(existing.Labels)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(
		`UPDATE cards SET title = ?, description = ?, labels = ?, updated_at = ? WHERE id = ?`,
		existing.Title, existing.Description, string(labelsJSON), now(), id,
	); err != nil {
		return nil, fmt.Errorf("updating card: %w", err)
	}
	return s.readCard(id)
}

// DeleteCard removes a card (children cascade) and closes the sort gap in
// its partition.
func (s *Store) DeleteCard(id string) error {
	defer s.lock()()

	existing, err := s.readCard(id)
	if err != nil {
		return err
	}

	return s.withTx(func() error {
		if _, err := s.db.Exec(`DELETE FROM cards WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting card: %w", err)
		}
		if _, err := s.db.Exec(
			`UPDATE cards SET sort_order = sort_order - 1
			 WHERE status_id = ? AND COALESCE(parent_id, '') = COALESCE(?, '') AND sort_order > ?`,
			existing.StatusID, existing.ParentID, existing.SortOrder,
		); err != nil {
			return fmt.Errorf("closing sort gap: %w", err)
		}
		return nil
	})
}

// MoveCard moves a card to targetStatusID at targetIndex, keeping both the
// source and target partitions densely ordered. The partition is
// (status_id, COALESCE(parent_id, '')).
func (s *Store) MoveCard(id, targetStatusID string, targetIndex int) (*CardWithStatus, error) {
	defer s.lock()()
	return s.moveCard(id, targetStatusID, targetIndex)
}

func (s *Store) moveCard(id, targetStatusID string, targetIndex int) (*CardWithStatus, error) {
	existing, err := s.readCard(id)
	if err != nil {
		return nil, err
	}
	if _, err := s.getStatus(targetStatusID); err != nil {
		return nil, err
	}

	var moved *CardWithStatus
	err = s.withTx(func() error {
		// Close the gap in the source partition.
		if _, err := s.db.Exec(
			`UPDATE cards SET sort_order = sort_order - 1
			 WHERE status_id = ? AND COALESCE(parent_id, '') = COALESCE(?, '') AND sort_order > ?`,
			existing.StatusID, existing.ParentID, existing.SortOrder,
		); err != nil {
			return fmt.Errorf("closing gap in source partition: %w", err)
		}

		// Make room in the target partition.
		if _, err := s.db.Exec(
			`UPDATE cards SET sort_order = sort_order + 1
			 WHERE status_id = ? AND COALESCE(parent_id, '') = COALESCE(?, '') AND sort_order >= ? AND id != ?`,
			targetStatusID, existing.ParentID, targetIndex, id,
		); err != nil {
			return fmt.Errorf("making room in target partition: %w", err)
		}

		if _, err := s.db.Exec(
			`UPDATE cards SET status_id = ?, sort_order = ?, updated_at = ? WHERE id = ?`,
			targetStatusID, targetIndex, now(), id,
		); err != nil {
			return fmt.Errorf("moving card: %w", err)
		}

		c, err := s.readCard(id)
		if err != nil {
			return err
		}
		moved = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// MoveCardToEnd appends a card to the end of the target status partition,
// closing the gap in its source partition. Used by the IPC set-status path.
func (s *Store) MoveCardToEnd(id, targetStatusID string) (*CardWithStatus, error) {
	defer s.lock()()

	existing, err := s.readCard(id)
	if err != nil {
		return nil, err
	}

	var end int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM cards
		 WHERE status_id = ? AND COALESCE(parent_id, '') = COALESCE(?, '') AND id != ?`,
		targetStatusID, existing.ParentID, id,
	).Scan(&end); err != nil {
		return nil, fmt.Errorf("reading target partition size: %w", err)
	}

	return s.moveCard(id, targetStatusID, end)
}

// ReorderCards rewrites the sort order of a status column to match the
// given id list. Every id must belong to the status.
func (s *Store) ReorderCards(statusID string, cardIDs []string) ([]CardWithStatus, error) {
	defer s.lock()()

	for _, cardID := range cardIDs {
		var belongs bool
		if err := s.db.QueryRow(
			`SELECT COUNT(*) > 0 FROM cards WHERE id = ? AND status_id = ? AND project_id = ?`,
			cardID, statusID, s.projectID,
		).Scan(&belongs); err != nil {
			return nil, err
		}
		if !belongs {
			return nil, fmt.Errorf("card %s does not belong to status %s: %w", cardID, statusID, ErrInvalid)
		}
	}

	err := s.withTx(func() error {
		for i, cardID := range cardIDs {
			if _, err := s.db.Exec(`UPDATE cards SET sort_order = ? WHERE id = ?`, i, cardID); err != nil {
				return fmt.Errorf("updating sort order: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.listCardsByStatus(statusID)
}
