// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/relaychat/internal/connectivity"
	"github.com/jeranaias/relaychat/internal/timeline"
)

// =============================================================================
// EXTERNAL EVENT MESSAGES
// =============================================================================

// TimelineEventMsg wraps a timeline mutation for the update loop.
// Delta events bypass the bridge (they go through the DeltaBuffer), so
// only structural events arrive this way.
type TimelineEventMsg timeline.Event

// ConnectivityMsg wraps a connectivity state transition.
type ConnectivityMsg connectivity.State

// ActionFailedMsg reports a permanently failed queued action.
type ActionFailedMsg struct {
	ActionID string
	Reason   string
}

// =============================================================================
// EVENT BRIDGE
// =============================================================================

// Bridge carries events from background goroutines (stream reader,
// connectivity monitor, queue) into the Bubble Tea loop. Sends never
// block: if the UI falls behind, events are dropped and the next
// render reads current state instead.
type Bridge struct {
	ch chan tea.Msg
}

// NewBridge creates a bridge with a small buffer.
func NewBridge() *Bridge {
	return &Bridge{ch: make(chan tea.Msg, 32)}
}

// Send delivers a message without blocking.
func (b *Bridge) Send(msg tea.Msg) {
	select {
	case b.ch <- msg:
	default:
	}
}

// Wait returns a command that delivers the next bridged message.
func (b *Bridge) Wait() tea.Cmd {
	return func() tea.Msg {
		return <-b.ch
	}
}
