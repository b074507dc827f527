// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/relaychat/internal/timeline"
)

// =============================================================================
// UPDATE LOOP
// =============================================================================

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TimelineEventMsg:
		return m.handleTimelineEvent(timeline.Event(msg))

	case ConnectivityMsg:
		m.online = msg.Online
		m.reconnectAttempts = msg.ReconnectAttempts
		if msg.Online {
			m.lastError = ""
		}
		m.queued = m.queueLen()
		return m, m.bridge.Wait()

	case ActionFailedMsg:
		m.lastError = msg.Reason
		m.queued = m.queueLen()
		return m, m.bridge.Wait()

	case frameTickMsg:
		if _, ok := m.buffer.Flush(); ok {
			m.renderTranscript(true)
		}
		m.queued = m.queueLen()
		return m, frameTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m.updateComponents(msg)
}

// =============================================================================
// HANDLERS
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)

	headerHeight := 2
	inputHeight := 3
	statusHeight := 1
	vpHeight := msg.Height - headerHeight - inputHeight - statusHeight
	if vpHeight < 1 {
		vpHeight = 1
	}

	if !m.ready {
		m.viewport = newTranscriptViewport(msg.Width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = vpHeight
	}
	m.input.Width = msg.Width - 4
	m.renderTranscript(false)
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keyMap.Quit):
		m.engine.Stop()
		return m, tea.Quit

	case key.Matches(msg, m.keyMap.Submit):
		return m.submit()

	case key.Matches(msg, m.keyMap.Abort):
		if m.state == StateStreaming {
			m.engine.Abort(m.conversation.ID)
		}
		return m, nil

	case key.Matches(msg, m.keyMap.Regenerate):
		if m.state == StateStreaming {
			return m, nil
		}
		if _, err := m.engine.Regenerate(m.conversation.ID, ""); err != nil {
			m.lastError = err.Error()
			return m, nil
		}
		m.renderTranscript(true)
		return m, nil

	case key.Matches(msg, m.keyMap.Branch):
		return m.branchAtTail()

	case key.Matches(msg, m.keyMap.Up), key.Matches(msg, m.keyMap.Down),
		key.Matches(msg, m.keyMap.PageUp), key.Matches(msg, m.keyMap.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	return m.updateComponents(msg)
}

// submit sends the input box content. Empty input is ignored.
func (m Model) submit() (tea.Model, tea.Cmd) {
	content := strings.TrimSpace(m.input.Value())
	if content == "" {
		return m, nil
	}
	if _, err := m.engine.Send(m.conversation.ID, content); err != nil {
		m.lastError = err.Error()
		return m, nil
	}
	m.input.Reset()
	m.lastError = ""
	m.queued = m.queueLen()
	m.renderTranscript(true)
	return m, nil
}

// branchAtTail forks the conversation at its last message.
func (m Model) branchAtTail() (tea.Model, tea.Cmd) {
	tl, err := m.engine.Timeline(m.conversation.ID)
	if err != nil {
		m.lastError = err.Error()
		return m, nil
	}
	last := tl.Last()
	if last == nil {
		return m, nil
	}
	fork, err := m.engine.CreateBranch(m.conversation.ID, last.ID, "", "")
	if err != nil {
		m.lastError = err.Error()
		return m, nil
	}
	if err := m.engine.SwitchBranch(fork.ID); err != nil {
		m.lastError = err.Error()
		return m, nil
	}
	if err := m.watchTimeline(fork.ID); err != nil {
		m.lastError = err.Error()
		return m, nil
	}
	m.conversation = fork
	m.refreshBranchCrumbs()
	m.renderTranscript(true)
	return m, nil
}

func (m Model) handleTimelineEvent(ev timeline.Event) (tea.Model, tea.Cmd) {
	if ev.ConversationID != m.conversation.ID {
		return m, m.bridge.Wait()
	}

	switch ev.Type {
	case timeline.EventAppend:
		if tl, err := m.engine.Timeline(m.conversation.ID); err == nil {
			if s := tl.Streaming(); s != nil {
				m.state = StateStreaming
			}
		}
	case timeline.EventFinalize:
		// Pull the response tail out of the buffer before rendering.
		m.buffer.Drain()
		m.state = StateReady
	case timeline.EventTruncate, timeline.EventOverwrite:
		m.state = StateReady
	}

	m.renderTranscript(true)
	return m, m.bridge.Wait()
}

// updateComponents routes remaining messages to the focused widgets.
func (m Model) updateComponents(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// queueLen reads the pending action count.
func (m Model) queueLen() int {
	if q := m.engine.Queue(); q != nil {
		return q.Len()
	}
	return 0
}
