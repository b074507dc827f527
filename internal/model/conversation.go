// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the metadata for one timeline. The messages
// themselves are owned by the timeline package; everything here is
// identity and bookkeeping.
//
// A conversation with a non-empty ParentID is a branch. ParentID is
// assigned exactly once, at creation, by the branch coordinator, and
// never reassigned, so lineage always forms a tree.
type Conversation struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Flags
	Pinned   bool `json:"pinned,omitempty"`
	Archived bool `json:"archived,omitempty"`

	// Branch lineage
	ParentID    string `json:"parent_id,omitempty"`
	BranchName  string `json:"branch_name,omitempty"`
	BranchColor string `json:"branch_color,omitempty"`

	// Context tracking (best effort, see telemetry)
	TokensUsed int `json:"tokens_used,omitempty"`
}

// NewConversation creates a new root conversation with a generated ID.
func NewConversation(modelName string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        generateConversationID(),
		Model:     modelName,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsBranch returns true if this conversation was forked from another.
func (c *Conversation) IsBranch() bool {
	return c.ParentID != ""
}

// Touch bumps the updated timestamp.
func (c *Conversation) Touch() {
	c.UpdatedAt = time.Now()
}

// DisplayTitle returns the title, or a branch label, or a placeholder.
func (c *Conversation) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	if c.BranchName != "" {
		return c.BranchName
	}
	return "New conversation"
}

// generateConversationID creates a unique conversation ID (conv_ + 16 hex chars).
func generateConversationID() string {
	return "conv_" + randomHex(8)
}
