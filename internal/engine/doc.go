// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine ties the client together: it turns user intents into
// queued actions, executes those actions against the agent service,
// and routes streamed responses into per-conversation timelines.
//
// The engine is both sides of the queue contract. Intent methods
// (Send, Regenerate, EditAndResend, conversation lifecycle) apply the
// optimistic local mutation and enqueue; Execute, called back by the
// queue, performs the remote work. This keeps every remote effect
// replayable: whatever the engine did locally at intent time is
// already persisted when the action runs, so a crash between the two
// re-executes only the remote half.
package engine
