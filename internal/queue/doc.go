// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package queue holds the durable FIFO of pending mutating actions.
//
// Every mutating user intent (send, regenerate, edit-and-resend,
// conversation CRUD, branch creation) is enqueued before it is
// dispatched. When the service is reachable the action drains
// immediately; offline, it waits for the connectivity monitor's online
// transition and replays in original order.
//
// # Guarantees
//
//   - Strict FIFO per conversation; different conversations interleave
//   - An action leaves the queue only on a terminal outcome
//   - Retryable failures back off exponentially and stay pending
//   - Validation failures are surfaced once and kept inspectable
//   - The pending set survives a full process restart (Slot)
//   - Drain is non-reentrant: concurrent drains never double-dispatch
package queue
