// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides best-effort usage accounting for
// conversations. Token counts are estimates only; the service's
// own accounting is authoritative when present.
package telemetry

import (
	"sync"

	"github.com/jeranaias/relaychat/internal/model"
)

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// charsPerToken is the rough ratio for English prose. Good enough for
// context-size warnings; not for billing.
const charsPerToken = 4

// EstimateTokens approximates the token count of a text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + charsPerToken - 1) / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateMessage approximates the token count of a message, preferring
// a server-reported count when one was recorded.
func EstimateMessage(m *model.Message) int {
	if m == nil {
		return 0
	}
	if m.TokenCount > 0 {
		return m.TokenCount
	}
	return EstimateTokens(m.DisplayContent())
}

// EstimateConversation sums message estimates.
func EstimateConversation(msgs []*model.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}

// =============================================================================
// USAGE TRACKER
// =============================================================================

// Tracker accumulates per-conversation token usage across a session.
type Tracker struct {
	mu    sync.Mutex
	usage map[string]int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{usage: make(map[string]int)}
}

// Record adds tokens to a conversation's running total.
func (t *Tracker) Record(conversationID string, tokens int) {
	if tokens <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage[conversationID] += tokens
}

// Usage returns the running total for a conversation.
func (t *Tracker) Usage(conversationID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage[conversationID]
}

// Total returns the session-wide total.
func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	sum := 0
	for _, n := range t.usage {
		sum += n
	}
	return sum
}
