// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for the relaychat service.
//
// The client covers the mutating REST endpoints consumed by queued
// actions (conversation CRUD, branch create/switch) plus the health
// probe used by the connectivity monitor. Streaming lives in the
// stream package; this client only does request/response calls.
//
// # Error Taxonomy
//
//   - TransientError: transport failures and 5xx; the queue retries these
//   - ValidationError: 4xx; permanent, surfaced once and never retried
//
// IsRetryable is the single place the queue asks which side of the
// line a failure falls on.
package api
