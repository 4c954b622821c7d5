package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// StartConversation opens a new message thread on a card.
func (s *Store) StartConversation(cardID, agentType string) (*Conversation, error) {
	defer s.lock()()
	return s.startConversation(cardID, agentType)
}

func (s *Store) startConversation(cardID, agentType string) (*Conversation, error) {
	if _, err := s.readCard(cardID); err != nil {
		return nil, err
	}

	c := Conversation{
		ID:        uuid.New().String(),
		CardID:    cardID,
		AgentType: agentType,
		StartedAt: now(),
	}
	if _, err := s.db.Exec(
		`INSERT INTO conversations (id, card_id, agent_type, started_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.CardID, c.AgentType, c.StartedAt,
	); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return &c, nil
}

// GetOrCreateConversation returns the card's most recent open conversation
// of the given agent type, creating one when none exists. The review flow
// uses this to keep all feedback in a single thread.
func (s *Store) GetOrCreateConversation(cardID, agentType string) (*Conversation, error) {
	defer s.lock()()

	row := s.db.QueryRow(
		`SELECT id, card_id, agent_type, started_at, ended_at FROM conversations
		 WHERE card_id = ? AND agent_type = ? AND ended_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`,
		cardID, agentType,
	)
	var c Conversation
	err := row.Scan(&c.ID, &c.CardID, &c.AgentType, &c.StartedAt, &c.EndedAt)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return s.startConversation(cardID, agentType)
}

// EndConversation stamps ended_at on an open conversation.
func (s *Store) EndConversation(id string) error {
	defer s.lock()()

	res, err := s.db.Exec(`UPDATE conversations SET ended_at = ? WHERE id = ? AND ended_at IS NULL`, now(), id)
	if err != nil {
		return fmt.Errorf("ending conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("open conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListConversations returns a card's conversations, newest first.
func (s *Store) ListConversations(cardID string) ([]Conversation, error) {
	defer s.lock()()

	rows, err := s.db.Query(
		`SELECT id, card_id, agent_type, started_at, ended_at FROM conversations
		 WHERE card_id = ? ORDER BY started_at DESC`,
		cardID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.CardID, &c.AgentType, &c.StartedAt, &c.EndedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// AppendMessage adds a message to a conversation.
func (s *Store) AppendMessage(conversationID, role, content string) (*ConversationMessage, error) {
	defer s.lock()()

	if role != ActorAgent && role != ActorUser {
		return nil, fmt.Errorf("unknown message role %q: %w", role, ErrInvalid)
	}

	var exists bool
	if err := s.db.QueryRow(`SELECT COUNT(*) > 0 FROM conversations WHERE id = ?`, conversationID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	m := ConversationMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      now(),
	}
	if _, err := s.db.Exec(
		`INSERT INTO conversation_messages (id, conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.Timestamp,
	); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	return &m, nil
}

// ListMessages returns a conversation's messages ordered by timestamp.
func (s *Store) ListMessages(conversationID string) ([]ConversationMessage, error) {
	defer s.lock()()

	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, content, timestamp FROM conversation_messages
		 WHERE conversation_id = ? ORDER BY timestamp`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []ConversationMessage
	for rows.Next() {
		var m ConversationMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
