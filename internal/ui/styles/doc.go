// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles centralizes lipgloss styling for the relaychat TUI.
//
// All visual decisions live in the Theme type so views never construct
// styles inline. The theme adapts to terminal capability through
// termenv detection at startup.
package styles
