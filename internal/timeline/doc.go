// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package timeline holds the ordered message sequence for a conversation.
//
// A Timeline is the exclusive owner of its message list. Order is
// insertion order, never reordered; the only destructive operation is
// TruncateAfter, which removes a tail suffix for regenerate and
// edit-and-resend. At most one message is streaming at any instant.
//
// # Key Operations
//
//   - Append: add a message (rejects a second streaming message)
//   - UpdateLast: append streamed delta content to the streaming message
//   - FinalizeLast: mark the streaming message complete
//   - TruncateAfter: drop everything strictly after an anchor id
//
// Change notifications are published to subscribed listeners; UI layers
// observe rather than poll.
package timeline
