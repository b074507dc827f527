// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, messages,
// and queued actions.
//
// # Key Types
//
//   - Message: one timeline entry; append-only content while streaming
//   - Conversation: timeline metadata plus branch lineage (ParentID)
//   - QueuedAction: a serializable mutating intent with retry bookkeeping
//   - Role: closed set of message senders (user, assistant, system, tool)
//
// Ownership rules: the timeline package owns Message collections, the
// queue package owns QueuedAction entries, and the branch package is
// the sole writer of Conversation parentage. This package only defines
// the shapes.
package model
