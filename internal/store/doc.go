// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides local persistence for conversations and messages.
//
// Backed by SQLite (pure Go driver). The store caches what the remote
// service has returned plus optimistic local entries; it never holds
// content the server would not. Timelines are written full-replace so
// truncate-and-regrow never needs a diff.
package store
