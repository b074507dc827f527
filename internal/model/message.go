// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, messages,
// and queued actions.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message. The set is closed; parsing an
// unknown role is an error.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	case RoleTool:
		return "Tool"
	default:
		return string(r)
	}
}

// ParseRole validates a role string from the wire or storage.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single entry in a conversation timeline.
//
// A message starts with a locally assigned id (msg_ prefix); when the
// server confirms delivery the id is replaced via ConfirmID. Content
// grows append-only while IsStreaming is true and is immutable after
// finalization, except for the edit-and-resend overwrite path.
type Message struct {
	// Identity
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`

	// Content
	Content string `json:"content"`

	// Streaming state (not persisted)
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	IsStreaming   bool            `json:"-"`
	streamContent strings.Builder `json:"-"`

	// Token statistics (best effort, see telemetry)
	TokenCount int `json:"token_count,omitempty"`

	// For tool messages
	ToolName   string `json:"tool_name,omitempty"`
	ToolOutput string `json:"tool_output,omitempty"`
}

// NewMessage creates a new message with a generated local ID.
func NewMessage(conversationID string, role Role, content string) *Message {
	return &Message{
		ID:             generateMessageID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(conversationID, content string) *Message {
	return NewMessage(conversationID, RoleUser, content)
}

// NewAssistantMessage creates an empty assistant placeholder that a
// stream handle will grow. It is born streaming.
func NewAssistantMessage(conversationID string) *Message {
	return &Message{
		ID:             generateMessageID(),
		ConversationID: conversationID,
		Role:           RoleAssistant,
		CreatedAt:      time.Now(),
		IsStreaming:    true,
	}
}

// NewToolMessage creates a tool result message.
func NewToolMessage(conversationID, toolName, output string) *Message {
	msg := NewMessage(conversationID, RoleTool, output)
	msg.ToolName = toolName
	msg.ToolOutput = output
	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendDelta appends streamed content to a streaming message.
// No-op once the message is finalized; the stream package aborts its
// handle before the timeline truncates, so late deltas never land.
func (m *Message) AppendDelta(delta string) {
	if m.IsStreaming {
		m.streamContent.WriteString(delta)
	}
}

// Finalize completes streaming and merges the accumulated content.
// Idempotent: finalizing a non-streaming message is a no-op.
func (m *Message) Finalize() {
	if !m.IsStreaming {
		return
	}
	m.Content += m.streamContent.String()
	m.streamContent.Reset()
	m.IsStreaming = false
}

// ConfirmID replaces the local id with the server-assigned id.
func (m *Message) ConfirmID(serverID string) {
	if serverID != "" {
		m.ID = serverID
	}
}

// DisplayContent returns the content to display (streaming or final).
func (m *Message) DisplayContent() string {
	if m.IsStreaming {
		return m.Content + m.streamContent.String()
	}
	return m.Content
}

// Preview returns a truncated preview of the message content.
func (m *Message) Preview(maxLen int) string {
	content := m.DisplayContent()
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen-3]) + "..."
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && m.streamContent.Len() == 0
}

// =============================================================================
// ID GENERATION
// =============================================================================

// generateMessageID creates a unique local message ID (msg_ + 16 hex chars).
func generateMessageID() string {
	return "msg_" + randomHex(8)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// Fallback to a timestamp-derived suffix; collisions are
		// acceptable for local optimistic ids.
		return hex.EncodeToString([]byte(time.Now().Format("150405.000000000")))[:n*2]
	}
	return hex.EncodeToString(b)
}
