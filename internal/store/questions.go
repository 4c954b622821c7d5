package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const questionSelect = `SELECT id, card_id, question, resolution, source, resolved_by, created_at, resolved_at FROM open_questions`

func scanQuestion(scan func(dest ...any) error) (OpenQuestion, error) {
	var q OpenQuestion
	err := scan(&q.ID, &q.CardID, &q.Question, &q.Resolution, &q.Source, &q.ResolvedBy, &q.CreatedAt, &q.ResolvedAt)
	return q, err
}

// CreateQuestion inserts an unresolved question on a card.
func (s *Store) CreateQuestion(cardID, question, source string) (*OpenQuestion, error) {
	defer s.lock()()

	if source != ActorAgent && source != ActorUser {
		return nil, fmt.Errorf("unknown question source %q: %w", source, ErrInvalid)
	}
	if _, err := s.readCard(cardID); err != nil {
		return nil, err
	}

	q := OpenQuestion{
		ID:        uuid.New().String(),
		CardID:    cardID,
		Question:  question,
		Source:    source,
		CreatedAt: now(),
	}
	if _, err := s.db.Exec(
		`INSERT INTO open_questions (id, card_id, question, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		q.ID, q.CardID, q.Question, q.Source, q.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("creating question: %w", err)
	}
	return &q, nil
}

// GetQuestion returns one question by id.
func (s *Store) GetQuestion(id string) (*OpenQuestion, error) {
	defer s.lock()()
	return s.getQuestion(id)
}

func (s *Store) getQuestion(id string) (*OpenQuestion, error) {
	row := s.db.QueryRow(questionSelect+` WHERE id = ?`, id)
	q, err := scanQuestion(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("question %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &q, nil
}

// ListQuestions returns a card's questions, oldest first.
func (s *Store) ListQuestions(cardID string) ([]OpenQuestion, error) {
	defer s.lock()()

	rows, err := s.db.Query(questionSelect+` WHERE card_id = ? ORDER BY created_at`, cardID)
	if err != nil {
		return nil, fmt.Errorf("querying questions: %w", err)
	}
	defer rows.Close()

	var questions []OpenQuestion
	for rows.Next() {
		q, err := scanQuestion(rows.Scan)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ResolveQuestion marks a question resolved.
func (s *Store) ResolveQuestion(id string, resolution *string, resolvedBy string) (*OpenQuestion, error) {
	defer s.lock()()

	if resolvedBy != ActorAgent && resolvedBy != ActorUser {
		return nil, fmt.Errorf("unknown resolver %q: %w", resolvedBy, ErrInvalid)
	}

	res, err := s.db.Exec(
		`UPDATE open_questions SET resolution = ?, resolved_by = ?, resolved_at = ? WHERE id = ?`,
		resolution, resolvedBy, now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("resolving question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("question %s: %w", id, ErrNotFound)
	}
	return s.getQuestion(id)
}

// UnresolveQuestion clears a question's resolution state, restoring
// (resolution, resolved_by, resolved_at) to NULL.
func (s *Store) UnresolveQuestion(id string) (*OpenQuestion, error) {
	defer s.lock()()

	res, err := s.db.Exec(
		`UPDATE open_questions SET resolution = NULL, resolved_by = NULL, resolved_at = NULL WHERE id = ?`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("unresolving question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("question %s: %w", id, ErrNotFound)
	}
	return s.getQuestion(id)
}

// DeleteQuestion removes a question.
func (s *Store) DeleteQuestion(id string) error {
	defer s.lock()()

	res, err := s.db.Exec(`DELETE FROM open_questions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("question %s: %w", id, ErrNotFound)
	}
	return nil
}
