// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/relaychat/internal/connectivity"
	"github.com/jeranaias/relaychat/internal/engine"
	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/timeline"
	"github.com/jeranaias/relaychat/internal/ui/styles"
)

// =============================================================================
// CHAT STATE
// =============================================================================

// State is the chat view's mode.
type State int

const (
	StateReady     State = iota // accepting input
	StateStreaming              // a response is arriving
)

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view. All conversation
// state lives in the engine; the model holds presentation state only
// and re-reads the timeline when events say it changed.
type Model struct {
	state State
	theme *styles.Theme

	width  int
	height int
	ready  bool

	engine       *engine.Engine
	conversation *model.Conversation

	buffer *DeltaBuffer
	bridge *Bridge

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model
	keyMap   KeyMap

	online            bool
	reconnectAttempts int
	queued            int
	lastError         string
	branchCrumbs      string
}

// New creates the chat view bound to one conversation and subscribes
// to the engine's event sources.
func New(eng *engine.Engine, conv *model.Conversation, theme *styles.Theme) (Model, error) {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.Prompt = "> "
	input.Focus()
	input.CharLimit = 0

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = theme.Spinner

	m := Model{
		state:        StateReady,
		theme:        theme,
		engine:       eng,
		conversation: conv,
		buffer:       NewDeltaBuffer(),
		bridge:       NewBridge(),
		input:        input,
		spin:         spin,
		keyMap:       DefaultKeyMap(),
	}

	if err := m.watchTimeline(conv.ID); err != nil {
		return Model{}, err
	}

	bridge := m.bridge
	if mon := eng.Monitor(); mon != nil {
		m.online = mon.Online()
		mon.Subscribe(func(st connectivity.State) {
			bridge.Send(ConnectivityMsg(st))
		})
	}

	if q := eng.Queue(); q != nil {
		m.queued = q.Len()
		q.OnPermanentFailure(func(action *model.QueuedAction, err error) {
			bridge.Send(ActionFailedMsg{ActionID: action.ID, Reason: err.Error()})
		})
	}

	m.refreshBranchCrumbs()
	return m, nil
}

// watchTimeline subscribes the view to one conversation's timeline.
// Call it on every conversation switch, not just at construction; a
// timeline the view never subscribed to renders nothing. Subscriptions
// on previously watched timelines stay live but are filtered out by
// conversation id on receipt.
func (m *Model) watchTimeline(conversationID string) error {
	tl, err := m.engine.Timeline(conversationID)
	if err != nil {
		return err
	}
	buffer, bridge := m.buffer, m.bridge
	tl.Subscribe(func(ev timeline.Event) {
		if ev.Type == timeline.EventDelta {
			buffer.Write(ev.Delta)
			return
		}
		bridge.Send(TimelineEventMsg(ev))
	})
	return nil
}

// Init starts the background command loops.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spin.Tick,
		m.bridge.Wait(),
		frameTick(),
	)
}

// refreshBranchCrumbs rebuilds the root-first lineage display.
func (m *Model) refreshBranchCrumbs() {
	path, err := m.engine.Branches().ComputeBranchPath(m.conversation.ID)
	if err != nil || len(path) <= 1 {
		m.branchCrumbs = ""
		return
	}
	crumbs := ""
	for i, c := range path {
		if i > 0 {
			crumbs += " > "
		}
		crumbs += c.DisplayTitle()
	}
	m.branchCrumbs = crumbs
}
