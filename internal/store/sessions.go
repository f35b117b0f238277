package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spigotd/spigot/internal/model"
)

// CreateChatSession inserts a new chat session.
func (s *Store) CreateChatSession(ctx context.Context, sess *model.ChatSession) error {
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	const q = `INSERT INTO chat_sessions (id, user_id, title, created_at, updated_at)
		VALUES (:id, :user_id, :title, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, sess); err != nil {
		return fmt.Errorf("insert chat session: %w", err)
	}
	return nil
}

// GetChatSession returns a session by ID scoped to its owner.
func (s *Store) GetChatSession(ctx context.Context, id string, userID int64) (*model.ChatSession, error) {
	var sess model.ChatSession
	if err := s.db.GetContext(ctx, &sess,
		"SELECT * FROM chat_sessions WHERE id = ? AND user_id = ?", id, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get chat session: %w", err)
	}
	return &sess, nil
}

// ListChatSessions returns a user's sessions, most recently updated first.
func (s *Store) ListChatSessions(ctx context.Context, userID int64) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	if err := s.db.SelectContext(ctx, &sessions,
		"SELECT * FROM chat_sessions WHERE user_id = ? ORDER BY updated_at DESC", userID); err != nil {
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	return sessions, nil
}

// DeleteChatSession removes a session and, via the foreign key cascade, its
// messages.
func (s *Store) DeleteChatSession(ctx context.Context, id string, userID int64) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM chat_sessions WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete chat session rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendChatMessage inserts a message and bumps the session's updated_at.
func (s *Store) AppendChatMessage(ctx context.Context, msg *model.ChatMessage) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	msg.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO chat_messages (session_id, role, content, reasoning, created_at)
		VALUES (:session_id, :role, :content, :reasoning, :created_at)`

	result, err := tx.NamedExecContext(ctx, q, msg)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get chat message id: %w", err)
	}
	msg.ID = id

	if _, err := tx.ExecContext(ctx,
		"UPDATE chat_sessions SET updated_at = ? WHERE id = ?",
		msg.CreatedAt, msg.SessionID); err != nil {
		return fmt.Errorf("touch chat session: %w", err)
	}

	return tx.Commit()
}

// ListChatMessages returns a session's messages in insertion order.
func (s *Store) ListChatMessages(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	if err := s.db.SelectContext(ctx, &messages,
		"SELECT * FROM chat_messages WHERE session_id = ? ORDER BY id", sessionID); err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return messages, nil
}

// GetChatMessage returns one message of a session.
func (s *Store) GetChatMessage(ctx context.Context, id int64, sessionID string) (*model.ChatMessage, error) {
	var msg model.ChatMessage
	if err := s.db.GetContext(ctx, &msg,
		"SELECT * FROM chat_messages WHERE id = ? AND session_id = ?", id, sessionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get chat message: %w", err)
	}
	return &msg, nil
}

// UpdateChatMessage replaces the content of one message.
func (s *Store) UpdateChatMessage(ctx context.Context, id int64, sessionID, content string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE chat_messages SET content = ? WHERE id = ? AND session_id = ?",
		content, id, sessionID)
	if err != nil {
		return fmt.Errorf("update chat message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update chat message rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChatMessage removes one message of a session.
func (s *Store) DeleteChatMessage(ctx context.Context, id int64, sessionID string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM chat_messages WHERE id = ? AND session_id = ?", id, sessionID)
	if err != nil {
		return fmt.Errorf("delete chat message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete chat message rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
