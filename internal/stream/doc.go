// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream ingests incrementally streamed agent responses.
//
// An Ingestor opens one long-lived HTTP response stream per request.
// The body is a sequence of newline-delimited `data: <json>` frames;
// each carries a content delta or a terminal signal. Deltas are handed
// to the caller in arrival order through Callbacks, which is the only
// mutation path for streamed content.
//
// Each open returns a Handle with an explicit state machine
// (opening -> streaming -> finalized) so cancellation and error paths
// are enumerable. Abort is idempotent and finalizes exactly like a
// graceful completion; a malformed frame is logged and skipped; a
// transport failure surfaces as a retryable outcome for the queue.
// The ingestor itself never retries.
package stream
