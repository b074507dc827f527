// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/relaychat/internal/model"
)

// Configuration constants for the relaychat service API.
const (
	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// ProbeTimeout bounds the health probe; it has to be cheap.
	ProbeTimeout = 5 * time.Second

	// MaxResponseSize caps response bodies.
	// SECURITY: prevents memory exhaustion from a misbehaving server.
	MaxResponseSize = 10 * 1024 * 1024
)

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the relaychat service's mutating REST endpoints.
// Every idempotency-unsafe call carries the queued action's id in an
// X-Action-ID header so a replayed request is detectable as a duplicate
// by the server. The client itself never retries; the action queue owns
// retry policy.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates an API client for the given service base URL.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		logger:  logger,
		// PERFORMANCE: pooled connections shared across all calls.
		// SECURITY: TLS 1.2+ enforced.
		http: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
	}
}

// BaseURL returns the configured service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// HEALTH PROBE
// =============================================================================

// Probe checks service reachability. The connectivity monitor requires
// a probe success before declaring online.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Op: "health probe", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode != http.StatusOK {
		return &TransientError{
			Op:  "health probe",
			Err: fmt.Errorf("unexpected status %s", statusText(resp.StatusCode)),
		}
	}
	return nil
}

// =============================================================================
// CONVERSATION CRUD
// =============================================================================

// CreateConversation registers a conversation with the server and
// returns the server's view of it.
func (c *Client) CreateConversation(ctx context.Context, actionID string, conv *model.Conversation) (*model.Conversation, error) {
	var out model.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations", actionID, conv, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateConversation pushes metadata changes (title, pin, archive).
func (c *Client) UpdateConversation(ctx context.Context, actionID string, conv *model.Conversation) error {
	path := "/api/conversations/" + conv.ID
	return c.do(ctx, http.MethodPut, path, actionID, conv, nil)
}

// DeleteConversation removes a conversation server-side.
func (c *Client) DeleteConversation(ctx context.Context, actionID, conversationID string) error {
	path := "/api/conversations/" + conversationID
	return c.do(ctx, http.MethodDelete, path, actionID, nil, nil)
}

// =============================================================================
// BRANCH ENDPOINTS
// =============================================================================

// CreateBranch records a fork on the server. The branch conversation
// already exists locally; the server copy carries the same id so later
// actions against it resolve.
func (c *Client) CreateBranch(ctx context.Context, actionID string, branch *model.Conversation) error {
	path := "/api/conversations/" + branch.ParentID + "/branches"
	return c.do(ctx, http.MethodPost, path, actionID, branch, nil)
}

// SwitchBranch tells the server which branch is current for this
// client. Purely metadata; the local switch has already happened.
func (c *Client) SwitchBranch(ctx context.Context, actionID, fromID, toID string) error {
	body := map[string]string{"from": fromID, "to": toID}
	return c.do(ctx, http.MethodPost, "/api/branches/switch", actionID, body, nil)
}

// =============================================================================
// INTERNAL
// =============================================================================

// do executes one request and maps failures onto the retry taxonomy:
// transport errors and 5xx are transient, 4xx is a validation error.
func (c *Client) do(ctx context.Context, method, path, actionID string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if actionID != "" {
		req.Header.Set("X-Action-ID", actionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return &TransientError{Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("status", statusText(resp.StatusCode)))
		return ClassifyStatus(resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &TransientError{Op: "decode response", Err: err}
		}
	}
	return nil
}
