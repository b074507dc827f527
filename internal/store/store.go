// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides local persistence for conversations and messages.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrConversationNotFound is returned for unknown conversation ids.
	ErrConversationNotFound = errors.New("conversation not found")
)

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite-backed local cache of conversations and their
// message timelines. It holds whatever the remote service has returned
// plus optimistic local entries; it is a cache with durability, not the
// source of truth.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	pinned        INTEGER NOT NULL DEFAULT 0,
	archived      INTEGER NOT NULL DEFAULT 0,
	parent_id     TEXT NOT NULL DEFAULT '',
	branch_name   TEXT NOT NULL DEFAULT '',
	branch_color  TEXT NOT NULL DEFAULT '',
	tokens_used   INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	tool_name       TEXT NOT NULL DEFAULT '',
	tool_output     TEXT NOT NULL DEFAULT '',
	token_count     INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	PRIMARY KEY (conversation_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_conversations_parent ON conversations(parent_id);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
`

// Open opens (or creates) the store at the given database path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps reads cheap while streams write frequently.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// SaveConversation upserts conversation metadata.
func (s *Store) SaveConversation(conv *model.Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	conv.UpdatedAt = time.Now()

	_, err := s.db.Exec(`
		INSERT INTO conversations
			(id, title, model, pinned, archived, parent_id, branch_name, branch_color, tokens_used, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, model=excluded.model,
			pinned=excluded.pinned, archived=excluded.archived,
			branch_name=excluded.branch_name, branch_color=excluded.branch_color,
			tokens_used=excluded.tokens_used, updated_at=excluded.updated_at`,
		conv.ID, conv.Title, conv.Model, boolInt(conv.Pinned), boolInt(conv.Archived),
		conv.ParentID, conv.BranchName, conv.BranchColor, conv.TokensUsed,
		conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// GetConversation loads one conversation's metadata.
func (s *Store) GetConversation(id string) (*model.Conversation, error) {
	row := s.db.QueryRow(`
		SELECT id, title, model, pinned, archived, parent_id, branch_name, branch_color, tokens_used, created_at, updated_at
		FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	return conv, err
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return tx.Commit()
}

// Meta is a conversation listing entry.
type Meta struct {
	model.Conversation
	MessageCount int
	Preview      string
}

// ListConversations returns all conversations, most recently updated
// first, with message counts and a first-user-message preview.
func (s *Store) ListConversations() ([]Meta, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.title, c.model, c.pinned, c.archived, c.parent_id, c.branch_name, c.branch_color, c.tokens_used, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
			COALESCE((SELECT m.content FROM messages m WHERE m.conversation_id = c.id AND m.role = 'user' ORDER BY m.seq LIMIT 1), '')
		FROM conversations c
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []Meta
	for rows.Next() {
		var m Meta
		var pinned, archived int
		var createdNs, updatedNs int64
		var preview string
		if err := rows.Scan(&m.ID, &m.Title, &m.Model, &pinned, &archived,
			&m.ParentID, &m.BranchName, &m.BranchColor, &m.TokensUsed,
			&createdNs, &updatedNs, &m.MessageCount, &preview); err != nil {
			return nil, err
		}
		m.Pinned = pinned != 0
		m.Archived = archived != 0
		m.CreatedAt = time.Unix(0, createdNs)
		m.UpdatedAt = time.Unix(0, updatedNs)
		m.Preview = util.FirstLine(preview, 80)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Children returns the direct branches of a conversation.
func (s *Store) Children(parentID string) ([]*model.Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, title, model, pinned, archived, parent_id, branch_name, branch_color, tokens_used, created_at, updated_at
		FROM conversations WHERE parent_id = ? ORDER BY created_at`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// =============================================================================
// MESSAGES
// =============================================================================

// SaveMessages replaces a conversation's stored timeline with the given
// messages. Full replace mirrors the timeline's truncate-and-regrow
// semantics with one statement shape instead of diffing.
func (s *Store) SaveMessages(conversationID string, msgs []*model.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (id, conversation_id, seq, role, content, tool_name, tool_output, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, m := range msgs {
		if _, err := stmt.Exec(m.ID, conversationID, i, m.Role.String(),
			m.DisplayContent(), m.ToolName, m.ToolOutput, m.TokenCount,
			m.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return tx.Commit()
}

// LoadMessages returns a conversation's stored timeline in order.
func (s *Store) LoadMessages(conversationID string) ([]*model.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, role, content, tool_name, tool_output, token_count, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		var (
			m         model.Message
			role      string
			createdNs int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.ToolName, &m.ToolOutput, &m.TokenCount, &createdNs); err != nil {
			return nil, err
		}
		parsed, err := model.ParseRole(role)
		if err != nil {
			return nil, fmt.Errorf("corrupt message row %s: %w", m.ID, err)
		}
		m.Role = parsed
		m.ConversationID = conversationID
		m.CreatedAt = time.Unix(0, createdNs)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// =============================================================================
// INTERNAL
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var (
		conv                 model.Conversation
		pinned, archived     int
		createdNs, updatedNs int64
	)
	err := row.Scan(&conv.ID, &conv.Title, &conv.Model, &pinned, &archived,
		&conv.ParentID, &conv.BranchName, &conv.BranchColor, &conv.TokensUsed,
		&createdNs, &updatedNs)
	if err != nil {
		return nil, err
	}
	conv.Pinned = pinned != 0
	conv.Archived = archived != 0
	conv.CreatedAt = time.Unix(0, createdNs)
	conv.UpdatedAt = time.Unix(0, updatedNs)
	return &conv, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
