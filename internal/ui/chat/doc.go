// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the conversation view of the relaychat TUI.
//
// The view is a thin presentation layer over the engine: user input
// becomes engine intents, and the transcript re-renders from the
// engine's timeline whenever it changes. Streamed deltas are batched
// through a DeltaBuffer and painted at a capped frame rate; structural
// timeline events (append, finalize, truncate) arrive through an event
// bridge that never blocks the producing goroutine.
package chat
