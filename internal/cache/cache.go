// Package cache keeps a non-authoritative local copy of the remote
// history so the UI can paint before the first fetch lands. The remote
// store always wins; the mirror is refreshed after every successful
// fetch and purged on sign-out.
package cache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ResearchChat/internal/conversation"
)

// Mirror wraps the local sqlite database and an in-memory transcript
// memo. Safe for concurrent use.
type Mirror struct {
	db     *sql.DB
	logger *slog.Logger
	memo   sync.Map // conversation id -> []conversation.Message
}

// NewMirror wraps an opened mirror database.
func NewMirror(db *sql.DB, logger *slog.Logger) *Mirror {
	return &Mirror{db: db, logger: logger}
}

// ReplaceSummaries swaps the cached summary list for a user in one
// transaction.
func (m *Mirror) ReplaceSummaries(userID string, summaries []conversation.Summary) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM summaries WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to clear summaries: %w", err)
	}
	for _, s := range summaries {
		_, err := tx.Exec(
			"INSERT INTO summaries (id, user_id, query_text, created_at) VALUES (?, ?, ?, ?)",
			s.ID, userID, s.QueryText, s.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to insert summary: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	m.logger.Debug("mirrored summaries", "user", userID, "count", len(summaries))
	return nil
}

// Summaries returns the cached summary list, newest first.
func (m *Mirror) Summaries(userID string) ([]conversation.Summary, error) {
	rows, err := m.db.Query(
		"SELECT id, query_text, created_at FROM summaries WHERE user_id = ? ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []conversation.Summary
	for rows.Next() {
		var s conversation.Summary
		var createdAt string
		if err := rows.Scan(&s.ID, &s.QueryText, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		s.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// SaveTranscript stores a conversation's messages, replacing any
// previous copy.
func (m *Mirror) SaveTranscript(conversationID int64, messages []conversation.Message) error {
	memoCopy := make([]conversation.Message, len(messages))
	copy(memoCopy, messages)
	m.memo.Store(conversationID, memoCopy)

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM transcripts WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}
	for seq, msg := range messages {
		_, err := tx.Exec(
			"INSERT INTO transcripts (conversation_id, seq, role, content) VALUES (?, ?, ?, ?)",
			conversationID, seq, string(msg.Role), msg.Content,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadTranscript returns a cached transcript. The in-memory memo is
// consulted first, so revisiting a conversation within one run never
// touches the database.
func (m *Mirror) LoadTranscript(conversationID int64) ([]conversation.Message, bool) {
	if v, ok := m.memo.Load(conversationID); ok {
		cached := v.([]conversation.Message)
		out := make([]conversation.Message, len(cached))
		copy(out, cached)
		return out, true
	}

	rows, err := m.db.Query(
		"SELECT role, content FROM transcripts WHERE conversation_id = ? ORDER BY seq",
		conversationID,
	)
	if err != nil {
		m.logger.Warn("failed to query transcript", "error", err)
		return nil, false
	}
	defer rows.Close()

	var messages []conversation.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			m.logger.Warn("failed to scan message", "error", err)
			return nil, false
		}
		messages = append(messages, conversation.Message{Role: conversation.Role(role), Content: content})
	}
	if len(messages) == 0 {
		return nil, false
	}
	m.memo.Store(conversationID, messages)
	out := make([]conversation.Message, len(messages))
	copy(out, messages)
	return out, true
}

// Forget drops one conversation from the mirror after a remote delete.
func (m *Mirror) Forget(conversationID int64) error {
	m.memo.Delete(conversationID)
	if _, err := m.db.Exec("DELETE FROM transcripts WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	if _, err := m.db.Exec("DELETE FROM summaries WHERE id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete summary: %w", err)
	}
	return nil
}

// Purge wipes the mirror, called on sign-out.
func (m *Mirror) Purge() error {
	m.memo.Range(func(key, _ any) bool {
		m.memo.Delete(key)
		return true
	})
	if _, err := m.db.Exec("DELETE FROM transcripts"); err != nil {
		return fmt.Errorf("failed to purge transcripts: %w", err)
	}
	if _, err := m.db.Exec("DELETE FROM summaries"); err != nil {
		return fmt.Errorf("failed to purge summaries: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (m *Mirror) Close() error {
	return m.db.Close()
}
