// Package chatsession persists per-conversation chat history (SPEC_FULL
// §4.10's channel router needs the last N turns of a conversation to build
// an agent's context) over database/sql with modernc.org/sqlite, the pure
// Go driver the teacher used for its embedded SQL stores before its
// CockroachDB-backed sessions.* package (not carried here: no CockroachDB
// component exists in this spec). Table shape and locking idiom are
// grounded on internal/sessions/cockroach.go and locker.go.
package chatsession

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/restflow/restflow/internal/models"
)

// ErrNotFound is returned when a conversation id has no stored session.
var ErrNotFound = errors.New("chatsession: not found")

// Store persists chat sessions keyed by conversation id.
type Store struct {
	db *sql.DB
}

// Open creates or opens a sqlite database at path and ensures the schema
// exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("chatsession: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite: serialize writers, matching the teacher's single-writer convention

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("chatsession: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenWithDB wraps an already-open *sql.DB, used by tests to inject a
// sqlmock connection without touching the filesystem.
func OpenWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	conversation_id TEXT PRIMARY KEY,
	channel_type    TEXT NOT NULL,
	messages_json   TEXT NOT NULL,
	updated_at_ms   INTEGER NOT NULL
);`

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Append adds a message to the conversation's history, creating the session
// row if it does not exist yet, and trims history to maxMessages.
func (s *Store) Append(ctx context.Context, conversationID string, channelType models.ChannelType, msg models.Message, maxMessages int) error {
	messages, err := s.history(ctx, conversationID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	messages = append(messages, msg)
	if maxMessages > 0 && len(messages) > maxMessages {
		messages = messages[len(messages)-maxMessages:]
	}

	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("chatsession: marshal history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (conversation_id, channel_type, messages_json, updated_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			messages_json = excluded.messages_json,
			updated_at_ms = excluded.updated_at_ms
	`, conversationID, string(channelType), string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("chatsession: upsert: %w", err)
	}
	return nil
}

// History returns the stored messages for a conversation, oldest first.
func (s *Store) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	return s.history(ctx, conversationID)
}

func (s *Store) history(ctx context.Context, conversationID string) ([]models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT messages_json FROM chat_sessions WHERE conversation_id = ?`, conversationID)

	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatsession: query: %w", err)
	}

	var messages []models.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("chatsession: unmarshal history: %w", err)
	}
	return messages, nil
}

// Delete removes a conversation's stored history.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("chatsession: delete: %w", err)
	}
	return nil
}
