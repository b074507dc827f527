// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package timeline holds the ordered message sequence for a conversation.
package timeline

import (
	"errors"
	"sync"

	"github.com/jeranaias/relaychat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrMessageNotFound is returned when an anchor id is not in the timeline.
	ErrMessageNotFound = errors.New("message not found in timeline")

	// ErrStreamInProgress is returned when appending a second streaming
	// message to the same conversation.
	ErrStreamInProgress = errors.New("a message is already streaming in this conversation")

	// ErrNoUserMessageToResend is returned when regenerating a message
	// that has no preceding user message.
	ErrNoUserMessageToResend = errors.New("no user message to resend")
)

// =============================================================================
// EVENTS
// =============================================================================

// EventType identifies a timeline change notification.
type EventType int

const (
	EventAppend EventType = iota
	EventDelta
	EventFinalize
	EventTruncate
	EventOverwrite
)

// Event describes one timeline mutation. Presentation layers subscribe
// to these instead of polling.
type Event struct {
	Type           EventType
	ConversationID string
	MessageID      string

	// Delta carries the appended content for EventDelta, so renderers
	// can batch without re-reading the timeline per token.
	Delta string
}

// Listener receives timeline events.
type Listener func(Event)

// =============================================================================
// TIMELINE
// =============================================================================

// Timeline owns the ordered message list for one conversation.
//
// Order is insertion order; it is never reordered, only truncated from
// the tail. At most one message is streaming at any instant; Append
// enforces this. All other components read via Snapshot.
type Timeline struct {
	mu             sync.Mutex
	conversationID string
	messages       []*model.Message
	listeners      []Listener
}

// New creates an empty timeline for a conversation.
func New(conversationID string) *Timeline {
	return &Timeline{conversationID: conversationID}
}

// Load creates a timeline pre-populated with persisted messages.
// Messages arriving from storage are never streaming.
func Load(conversationID string, msgs []*model.Message) *Timeline {
	t := New(conversationID)
	t.messages = append(t.messages, msgs...)
	return t
}

// ConversationID returns the owning conversation id.
func (t *Timeline) ConversationID() string {
	return t.conversationID
}

// Subscribe registers a listener for timeline events. Listeners are
// invoked synchronously after the mutation completes, outside the lock.
func (t *Timeline) Subscribe(fn Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// =============================================================================
// MUTATION
// =============================================================================

// Append adds a message to the tail. Appending a streaming message while
// another message is still streaming violates the single-stream rule and
// fails with ErrStreamInProgress.
func (t *Timeline) Append(msg *model.Message) error {
	t.mu.Lock()
	if msg.IsStreaming && t.streamingLocked() != nil {
		t.mu.Unlock()
		return ErrStreamInProgress
	}
	t.messages = append(t.messages, msg)
	t.mu.Unlock()

	t.notify(Event{Type: EventAppend, ConversationID: t.conversationID, MessageID: msg.ID})
	return nil
}

// UpdateLast appends streamed delta content to the currently streaming
// message. Deltas arriving when nothing is streaming are dropped; the
// engine aborts the stream handle before any truncation, so this only
// happens for a handle that has already been finalized.
func (t *Timeline) UpdateLast(delta string) {
	t.mu.Lock()
	msg := t.streamingLocked()
	if msg == nil {
		t.mu.Unlock()
		return
	}
	msg.AppendDelta(delta)
	id := msg.ID
	t.mu.Unlock()

	t.notify(Event{Type: EventDelta, ConversationID: t.conversationID, MessageID: id, Delta: delta})
}

// FinalizeLast marks the streaming message complete. Idempotent.
func (t *Timeline) FinalizeLast() {
	t.mu.Lock()
	msg := t.streamingLocked()
	if msg == nil {
		t.mu.Unlock()
		return
	}
	msg.Finalize()
	id := msg.ID
	t.mu.Unlock()

	t.notify(Event{Type: EventFinalize, ConversationID: t.conversationID, MessageID: id})
}

// TruncateAfter removes every message strictly after the given id and
// returns how many were removed. Truncating when nothing follows the
// anchor is a no-op. An unknown anchor fails with ErrMessageNotFound
// and the timeline is left untouched.
//
// The caller must abort any active stream handle first: abort-then-
// truncate, never truncate-then-orphan-append.
func (t *Timeline) TruncateAfter(messageID string) (int, error) {
	t.mu.Lock()
	idx := t.indexOfLocked(messageID)
	if idx < 0 {
		t.mu.Unlock()
		return 0, ErrMessageNotFound
	}
	removed := len(t.messages) - (idx + 1)
	if removed == 0 {
		t.mu.Unlock()
		return 0, nil
	}
	t.messages = t.messages[:idx+1]
	t.mu.Unlock()

	t.notify(Event{Type: EventTruncate, ConversationID: t.conversationID, MessageID: messageID})
	return removed, nil
}

// TruncateFrom removes the given message and everything after it.
// Unlike TruncateAfter it needs no surviving anchor, so it can empty
// the timeline. Unknown id fails with ErrMessageNotFound, untouched.
func (t *Timeline) TruncateFrom(messageID string) (int, error) {
	t.mu.Lock()
	idx := t.indexOfLocked(messageID)
	if idx < 0 {
		t.mu.Unlock()
		return 0, ErrMessageNotFound
	}
	removed := len(t.messages) - idx
	t.messages = t.messages[:idx]
	t.mu.Unlock()

	t.notify(Event{Type: EventTruncate, ConversationID: t.conversationID, MessageID: messageID})
	return removed, nil
}

// OverwriteContent replaces the content of a finalized message. This is
// the edit-and-resend path; streamed content is never overwritten.
func (t *Timeline) OverwriteContent(messageID, content string) error {
	t.mu.Lock()
	idx := t.indexOfLocked(messageID)
	if idx < 0 {
		t.mu.Unlock()
		return ErrMessageNotFound
	}
	t.messages[idx].Content = content
	t.mu.Unlock()

	t.notify(Event{Type: EventOverwrite, ConversationID: t.conversationID, MessageID: messageID})
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Snapshot returns a copy of the message list. The slice is owned by
// the caller; the messages are shared and must be treated as read-only.
func (t *Timeline) Snapshot() []*model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*model.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Last returns the most recent message, or nil if empty.
func (t *Timeline) Last() *model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) == 0 {
		return nil
	}
	return t.messages[len(t.messages)-1]
}

// MessageByID returns a message by id, or nil.
func (t *Timeline) MessageByID(id string) *model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.indexOfLocked(id)
	if idx < 0 {
		return nil
	}
	return t.messages[idx]
}

// Streaming returns the currently streaming message, or nil.
func (t *Timeline) Streaming() *model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streamingLocked()
}

// PrecedingUserMessage finds the closest user message at or before the
// given anchor. This is the message a regenerate re-dispatches. Fails
// with ErrNoUserMessageToResend when the anchor is at the conversation
// root with no user turn before it.
func (t *Timeline) PrecedingUserMessage(messageID string) (*model.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.indexOfLocked(messageID)
	if idx < 0 {
		return nil, ErrMessageNotFound
	}
	for i := idx; i >= 0; i-- {
		if t.messages[i].Role == model.RoleUser {
			return t.messages[i], nil
		}
	}
	return nil, ErrNoUserMessageToResend
}

// =============================================================================
// INTERNAL
// =============================================================================

func (t *Timeline) indexOfLocked(id string) int {
	for i, msg := range t.messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) streamingLocked() *model.Message {
	// Only the tail can be streaming; scan from the end.
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].IsStreaming {
			return t.messages[i]
		}
	}
	return nil
}

func (t *Timeline) notify(ev Event) {
	t.mu.Lock()
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
