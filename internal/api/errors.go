// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for the relaychat service.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jeranaias/relaychat/internal/util"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// TransientError marks a failure worth retrying: transport errors and
// 5xx responses. The queue keeps the action pending and retries it on
// the next drain cycle.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ValidationError marks a permanent failure: the server rejected the
// request (4xx). Retrying an identical request cannot succeed, so the
// queue surfaces it once and removes the action from the retry path.
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request rejected (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("request rejected (%d)", e.Status)
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// ClassifyStatus maps a non-2xx response to the retry taxonomy.
// 4xx is permanent, everything else is transient.
func ClassifyStatus(status int, body []byte) error {
	msg := util.TruncateRunes(string(body), 200)
	if status >= 400 && status < 500 {
		return &ValidationError{Status: status, Message: msg}
	}
	return &TransientError{
		Op:  "request",
		Err: fmt.Errorf("server returned %d: %s", status, msg),
	}
}

// IsRetryable reports whether an error should stay in the retry path.
// Unclassified errors (transport failures wrapped by callers) default
// to retryable; only an explicit ValidationError is permanent.
func IsRetryable(err error) bool {
	var verr *ValidationError
	return !errors.As(err, &verr)
}

// statusText is a tiny helper for log fields.
func statusText(status int) string {
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}
