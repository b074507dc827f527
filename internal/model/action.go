// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ACTION TYPES
// =============================================================================

// ActionType identifies one kind of mutating intent.
type ActionType string

const (
	ActionSend               ActionType = "send"
	ActionRegenerate         ActionType = "regenerate"
	ActionEditAndResend      ActionType = "edit_and_resend"
	ActionCreateConversation ActionType = "create_conversation"
	ActionUpdateConversation ActionType = "update_conversation"
	ActionDeleteConversation ActionType = "delete_conversation"
	ActionCreateBranch       ActionType = "create_branch"
	ActionSwitchBranch       ActionType = "switch_branch"
)

// ActionStatus is the per-action state machine:
// pending -> in_flight -> {succeeded | failed_retryable | failed_permanent}.
// A retryably failed action stays queued and is claimed again on the
// next drain cycle; only permanent failure leaves the queue.
type ActionStatus string

const (
	StatusPending         ActionStatus = "pending"
	StatusInFlight        ActionStatus = "in_flight"
	StatusSucceeded       ActionStatus = "succeeded"
	StatusFailedRetryable ActionStatus = "failed_retryable"
	StatusFailedPermanent ActionStatus = "failed_permanent"
)

// =============================================================================
// QUEUED ACTION
// =============================================================================

// QueuedAction is a serializable description of one mutating intent.
// The ID doubles as the idempotency key sent to the server, so a
// replayed action is detectable as a duplicate.
type QueuedAction struct {
	ID             string          `json:"id"`
	Type           ActionType      `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Payload        json.RawMessage `json:"payload"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	AttemptCount   int             `json:"attempt_count"`

	// Status is runtime state. Only pending actions are persisted; an
	// in-flight action interrupted by a crash reloads as pending, which
	// is what gives at-least-once delivery.
	Status ActionStatus `json:"-"`

	// LastError keeps the most recent failure for inspection.
	LastError string `json:"last_error,omitempty"`
}

// NewQueuedAction creates a pending action with a generated UUID.
func NewQueuedAction(t ActionType, conversationID string, payload any) (*QueuedAction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &QueuedAction{
		ID:             uuid.NewString(),
		Type:           t,
		ConversationID: conversationID,
		Payload:        raw,
		EnqueuedAt:     time.Now(),
		Status:         StatusPending,
	}, nil
}

// =============================================================================
// ACTION PAYLOADS
// =============================================================================

// SendPayload carries a new user message.
type SendPayload struct {
	Content string `json:"content"`
}

// RegeneratePayload targets an assistant message to regenerate.
type RegeneratePayload struct {
	MessageID string `json:"message_id"`
}

// EditPayload overwrites a user message and resends from it.
type EditPayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// BranchPayload creates a fork at a message. The fork conversation
// itself lives in the store; the payload records only the intent, so a
// replayed action re-reads current state instead of a stale snapshot.
type BranchPayload struct {
	BranchPointMessageID string `json:"branch_point_message_id"`
	Name                 string `json:"name,omitempty"`
	Color                string `json:"color,omitempty"`
}

// SwitchPayload moves the active-conversation pointer.
type SwitchPayload struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}
