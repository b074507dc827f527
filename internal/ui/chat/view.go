// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/relaychat/internal/model"
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the chat screen.
func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderInput())
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func newTranscriptViewport(width, height int) viewport.Model {
	vp := viewport.New(width, height)
	vp.MouseWheelEnabled = true
	return vp
}

// =============================================================================
// SECTIONS
// =============================================================================

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render(runewidth.Truncate(m.conversation.DisplayTitle(), m.width/2, "..."))
	line := title
	if m.branchCrumbs != "" {
		crumbs := m.theme.BranchCrumb.Render(runewidth.Truncate(m.branchCrumbs, m.width/2-2, "..."))
		line = lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", crumbs)
	}
	return m.theme.Header.Width(m.width).Render(line)
}

func (m Model) renderInput() string {
	prompt := m.input.View()
	if m.state == StateStreaming {
		prompt = m.spin.View() + " responding... " + m.theme.ShortcutDesc.Render("(Esc to stop)")
	}
	return m.theme.InputContainer.Width(m.width).Render(prompt)
}

func (m Model) renderStatusBar() string {
	parts := make([]string, 0, 4)

	if m.online {
		parts = append(parts, m.theme.StatusOnline.Render("online"))
	} else {
		label := "offline"
		if m.reconnectAttempts > 0 {
			label = fmt.Sprintf("offline (retry %d)", m.reconnectAttempts)
		}
		parts = append(parts, m.theme.StatusQueued.Render(label))
	}

	if m.queued > 0 {
		parts = append(parts, m.theme.StatusQueued.Render(fmt.Sprintf("%d queued", m.queued)))
	}

	if used := m.engine.Tracker().Usage(m.conversation.ID); used > 0 {
		parts = append(parts, m.theme.ShortcutDesc.Render(fmt.Sprintf("~%d tok", used)))
	}

	if m.lastError != "" {
		parts = append(parts, m.theme.StatusError.Render(runewidth.Truncate(m.lastError, m.width/3, "...")))
	}

	parts = append(parts, m.renderShortcuts())
	return m.theme.StatusBar.Width(m.width).Render(strings.Join(parts, "  "))
}

func (m Model) renderShortcuts() string {
	var b strings.Builder
	for i, binding := range m.keyMap.ShortHelp() {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(m.theme.ShortcutKey.Render(binding.Help().Key))
		b.WriteString(m.theme.ShortcutDesc.Render(":" + binding.Help().Desc))
	}
	return b.String()
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// renderTranscript rebuilds the viewport content from the timeline.
// followTail keeps the view pinned to the newest message, which is
// what streaming wants; scroll positions are preserved otherwise.
func (m *Model) renderTranscript(followTail bool) {
	tl, err := m.engine.Timeline(m.conversation.ID)
	if err != nil {
		return
	}

	var b strings.Builder
	for i, msg := range tl.Snapshot() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderMessage(msg))
	}
	m.viewport.SetContent(b.String())
	if followTail {
		m.viewport.GotoBottom()
	}
}

func (m Model) renderMessage(msg *model.Message) string {
	label := m.theme.RoleLabel.Render(msg.Role.DisplayName())
	content := msg.DisplayContent()
	if msg.IsStreaming {
		content += " " + m.spin.View()
	}

	var bubble lipgloss.Style
	switch msg.Role {
	case model.RoleUser:
		bubble = m.theme.UserBubble
	case model.RoleAssistant:
		bubble = m.theme.AssistantBubble
	default:
		bubble = m.theme.SystemNote
	}

	body := bubble.Width(m.width - 4).Render(content)
	return label + "\n" + body
}
