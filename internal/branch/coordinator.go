// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package branch manages conversation forking and lineage.
package branch

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/store"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBranchNotFound is returned when switching to an unknown
	// conversation; the current pointer is left unchanged.
	ErrBranchNotFound = errors.New("branch conversation not found")

	// ErrBranchPointNotFound is returned when the fork anchor is not in
	// the source timeline.
	ErrBranchPointNotFound = errors.New("branch point message not found")
)

// =============================================================================
// COORDINATOR
// =============================================================================

// TimelineProvider exposes read-only timeline snapshots. The engine
// implements it; the coordinator never mutates what it reads.
type TimelineProvider interface {
	TimelineSnapshot(conversationID string) []*model.Message
}

// Coordinator is the sole writer of conversation parentage. A branch's
// ParentID is assigned exactly once, at creation, and never reassigned,
// which is what keeps lineage a tree and path computation terminating.
type Coordinator struct {
	mu        sync.Mutex
	current   string
	store     *store.Store
	timelines TimelineProvider
	logger    *zap.Logger
}

// NewCoordinator creates a branch coordinator over the local store.
func NewCoordinator(st *store.Store, timelines TimelineProvider, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: st, timelines: timelines, logger: logger}
}

// Current returns the id of the current conversation, if any.
func (c *Coordinator) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetCurrent points the coordinator at a conversation without the
// existence check; used when the caller just created it.
func (c *Coordinator) SetCurrent(conversationID string) {
	c.mu.Lock()
	c.current = conversationID
	c.mu.Unlock()
}

// =============================================================================
// OPERATIONS
// =============================================================================

// CreateBranch materializes a new conversation forked from source at
// the given message. The new timeline is a copy of the source up to and
// including the branch point; the source conversation is not mutated.
func (c *Coordinator) CreateBranch(conversationID, branchPointMessageID, name, color string) (*model.Conversation, error) {
	source, err := c.store.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}

	snapshot := c.timelines.TimelineSnapshot(conversationID)
	prefix := prefixThrough(snapshot, branchPointMessageID)
	if prefix == nil {
		return nil, fmt.Errorf("%w: %s", ErrBranchPointNotFound, branchPointMessageID)
	}

	fork := model.NewConversation(source.Model)
	fork.ParentID = source.ID
	fork.BranchName = name
	fork.BranchColor = color
	fork.Title = source.Title

	copied := make([]*model.Message, 0, len(prefix))
	for _, m := range prefix {
		copied = append(copied, copyMessage(m, fork.ID))
	}

	if err := c.store.SaveConversation(fork); err != nil {
		return nil, err
	}
	if err := c.store.SaveMessages(fork.ID, copied); err != nil {
		return nil, err
	}

	c.logger.Info("branch created",
		zap.String("parent_id", source.ID),
		zap.String("branch_id", fork.ID),
		zap.Int("messages", len(copied)))
	return fork, nil
}

// SwitchBranch changes the current-conversation pointer. It performs no
// data mutation on either conversation; an unknown target fails with
// ErrBranchNotFound and leaves the pointer where it was.
func (c *Coordinator) SwitchBranch(fromID, toID string) error {
	if _, err := c.store.GetConversation(toID); err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			return fmt.Errorf("%w: %s", ErrBranchNotFound, toID)
		}
		return err
	}

	c.mu.Lock()
	c.current = toID
	c.mu.Unlock()

	c.logger.Debug("branch switched", zap.String("from", fromID), zap.String("to", toID))
	return nil
}

// ComputeBranchPath walks parent links from the given conversation to
// the root and returns the lineage root-first. Centralized here so
// callers cannot grow divergent traversals.
func (c *Coordinator) ComputeBranchPath(conversationID string) ([]*model.Conversation, error) {
	var path []*model.Conversation
	seen := make(map[string]bool)

	id := conversationID
	for id != "" {
		if seen[id] {
			return nil, fmt.Errorf("branch lineage cycle at %s", id)
		}
		seen[id] = true

		conv, err := c.store.GetConversation(id)
		if err != nil {
			return nil, err
		}
		// Prepend: the walk is leaf-to-root, the result is root-first.
		path = append([]*model.Conversation{conv}, path...)
		id = conv.ParentID
	}
	return path, nil
}

// =============================================================================
// INTERNAL
// =============================================================================

// prefixThrough returns the messages up to and including the anchor,
// or nil when the anchor is absent.
func prefixThrough(msgs []*model.Message, anchorID string) []*model.Message {
	for i, m := range msgs {
		if m.ID == anchorID {
			return msgs[:i+1]
		}
	}
	return nil
}

// copyMessage clones a message into a new conversation. The fork gets
// its own Message values so later mutation of one timeline can never
// leak into the other.
func copyMessage(m *model.Message, conversationID string) *model.Message {
	return &model.Message{
		ID:             m.ID,
		ConversationID: conversationID,
		Role:           m.Role,
		Content:        m.DisplayContent(),
		CreatedAt:      m.CreatedAt,
		TokenCount:     m.TokenCount,
		ToolName:       m.ToolName,
		ToolOutput:     m.ToolOutput,
	}
}
