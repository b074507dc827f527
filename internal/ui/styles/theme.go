// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the relaychat TUI.
package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// =============================================================================
// COLOR PALETTE
// =============================================================================

const (
	colorAccent    = "#7C7CFF"
	colorUser      = "#5FD7A7"
	colorAssistant = "#C0C0E8"
	colorMuted     = "#6C6C80"
	colorOnline    = "#3FB950"
	colorOffline   = "#D29922"
	colorError     = "#F85149"
	colorBranch    = "#58A6FF"
)

// =============================================================================
// THEME
// =============================================================================

// Theme holds the styled components for the application. It detects the
// terminal's color capability and degrades gracefully.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	Width  int
	Height int

	// Container
	App lipgloss.Style

	// Header
	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	BranchCrumb lipgloss.Style

	// Message bubbles
	UserBubble      lipgloss.Style
	AssistantBubble lipgloss.Style
	SystemNote      lipgloss.Style
	RoleLabel       lipgloss.Style
	Timestamp       lipgloss.Style

	// Input area
	InputContainer lipgloss.Style
	InputPrompt    lipgloss.Style

	// Status bar
	StatusBar    lipgloss.Style
	StatusOnline lipgloss.Style
	StatusQueued lipgloss.Style
	StatusError  lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style

	// Streaming indicator
	Spinner lipgloss.Style
}

// NewTheme creates a theme tuned to the current terminal.
func NewTheme() *Theme {
	profile := termenv.ColorProfile()
	isDark := termenv.HasDarkBackground()

	t := &Theme{
		IsDark:       isDark,
		ColorProfile: profile,
	}

	accent := lipgloss.Color(colorAccent)
	muted := lipgloss.Color(colorMuted)

	t.App = lipgloss.NewStyle()

	t.Header = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(muted).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	t.BranchCrumb = lipgloss.NewStyle().Foreground(lipgloss.Color(colorBranch))

	t.UserBubble = lipgloss.NewStyle().
		Foreground(lipgloss.Color(colorUser)).
		PaddingLeft(2)
	t.AssistantBubble = lipgloss.NewStyle().
		Foreground(lipgloss.Color(colorAssistant)).
		PaddingLeft(2)
	t.SystemNote = lipgloss.NewStyle().
		Foreground(muted).
		Italic(true).
		PaddingLeft(2)
	t.RoleLabel = lipgloss.NewStyle().Bold(true)
	t.Timestamp = lipgloss.NewStyle().Foreground(muted)

	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(muted).
		Padding(0, 1)
	t.InputPrompt = lipgloss.NewStyle().Bold(true).Foreground(accent)

	t.StatusBar = lipgloss.NewStyle().Foreground(muted).Padding(0, 1)
	t.StatusOnline = lipgloss.NewStyle().Foreground(lipgloss.Color(colorOnline)).Bold(true)
	t.StatusQueued = lipgloss.NewStyle().Foreground(lipgloss.Color(colorOffline)).Bold(true)
	t.StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color(colorError))
	t.ShortcutKey = lipgloss.NewStyle().Foreground(accent)
	t.ShortcutDesc = lipgloss.NewStyle().Foreground(muted)

	t.Spinner = lipgloss.NewStyle().Foreground(accent)

	return t
}

// SetSize records the terminal dimensions for width-aware rendering.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}
