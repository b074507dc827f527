// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream ingests incrementally streamed agent responses.
package stream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/relaychat/internal/api"
)

// =============================================================================
// ERRORS
// =============================================================================

var errFrameTooLarge = errors.New("stream frame exceeds size limit")

// =============================================================================
// FRAME PAYLOAD
// =============================================================================

// delta is the decoded payload of one data frame. Unknown fields are
// ignored by json.Unmarshal, which is what the protocol requires.
type delta struct {
	Content   string `json:"content"`
	Done      bool   `json:"done"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// =============================================================================
// HANDLE STATE MACHINE
// =============================================================================

// HandleState tracks a stream handle through its lifecycle:
// opening -> streaming -> finalized. Every exit path (terminal frame,
// EOF, transport error, abort) lands in finalized, so a handle never
// leaves a message dangling in streaming state.
type HandleState int

const (
	StateOpening HandleState = iota
	StateStreaming
	StateFinalized
)

// String returns the state name for logs.
func (s HandleState) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	default:
		return "finalized"
	}
}

// Handle is one open response stream for one conversation.
type Handle struct {
	conversationID string

	mu     sync.Mutex
	state  HandleState
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// ConversationID returns the conversation this handle streams into.
func (h *Handle) ConversationID() string {
	return h.conversationID
}

// State returns the current lifecycle state.
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Abort cancels the stream. Idempotent: aborting an already finalized
// handle is a no-op. An abort is a clean terminal, not an error, so
// Wait returns nil afterwards.
func (h *Handle) Abort() {
	h.mu.Lock()
	if h.state == StateFinalized {
		h.mu.Unlock()
		return
	}
	cancel := h.cancel
	h.mu.Unlock()
	cancel()
	<-h.done
}

// Wait blocks until the stream reaches its terminal state and returns
// the typed outcome: nil for completion or abort, a TransientError for
// transport failures, a ValidationError for a rejected open.
func (h *Handle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// finalize moves the handle to its terminal state exactly once.
func (h *Handle) finalize(err error) {
	h.mu.Lock()
	if h.state == StateFinalized {
		h.mu.Unlock()
		return
	}
	h.state = StateFinalized
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle) setStreaming() {
	h.mu.Lock()
	if h.state == StateOpening {
		h.state = StateStreaming
	}
	h.mu.Unlock()
}

// =============================================================================
// CALLBACKS
// =============================================================================

// Callbacks deliver stream progress to the timeline. This is the only
// mutation path for streamed content.
type Callbacks struct {
	// OnDelta is called for each content delta, in frame-arrival order.
	OnDelta func(content string)

	// OnDone is called exactly once on any terminal path. serverMessageID
	// carries the confirmed id when the terminal frame provided one.
	OnDone func(serverMessageID string)
}

// =============================================================================
// INGESTOR
// =============================================================================

// Ingestor opens long-lived response streams against the agent service.
// It performs no retries; retry policy belongs to the action queue.
type Ingestor struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// PERFORMANCE: connection pooling, no overall timeout (streams are
// long-lived; cancellation comes from the request context).
// SECURITY: TLS 1.2+ enforced.
func newStreamingClient(connectTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: connectTimeout,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// NewIngestor creates a stream ingestor for the given service base URL.
func NewIngestor(baseURL string, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		baseURL: baseURL,
		client:  newStreamingClient(10 * time.Second),
		logger:  logger,
	}
}

// Request describes one stream open.
type Request struct {
	ConversationID string
	// ActionID is the idempotency key of the queued action driving this
	// stream; the server uses it to detect replayed sends.
	ActionID string
	// Body is the JSON request payload (message content, model, history
	// anchor), owned by the caller.
	Body any
}

// Open starts a response stream for one conversation. The returned
// handle owns exactly one timeline mutation stream; callbacks fire on
// the reader goroutine. Open fails fast on connect or a rejected
// request; after that, all outcomes are reported through the handle.
func (ing *Ingestor) Open(ctx context.Context, req Request, cb Callbacks) (*Handle, error) {
	bodyBytes, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	url := fmt.Sprintf("%s/api/conversations/%s/stream", ing.baseURL, req.ConversationID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if req.ActionID != "" {
		httpReq.Header.Set("X-Action-ID", req.ActionID)
	}

	resp, err := ing.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, &api.TransientError{Op: "stream open", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, api.ClassifyStatus(resp.StatusCode, body)
	}

	h := &Handle{
		conversationID: req.ConversationID,
		state:          StateOpening,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	go ing.consume(ctx, h, resp.Body, cb)
	return h, nil
}

// consume reads frames until a terminal condition and finalizes the
// handle. Runs on its own goroutine; the handle's done channel is the
// only synchronization callers need.
func (ing *Ingestor) consume(ctx context.Context, h *Handle, body io.ReadCloser, cb Callbacks) {
	defer body.Close()

	reader := newFrameReader(body)
	serverMessageID := ""

	finish := func(err error) {
		if cb.OnDone != nil {
			cb.OnDone(serverMessageID)
		}
		h.finalize(err)
	}

	for {
		select {
		case <-ctx.Done():
			// Abort path: clean terminal, same finalization as completion.
			finish(nil)
			return
		default:
		}

		data, err := reader.next()
		if err != nil {
			switch {
			case err == io.EOF:
				// End of input without an explicit terminal frame still
				// finalizes cleanly.
				finish(nil)
			case ctx.Err() != nil:
				finish(nil)
			default:
				finish(&api.TransientError{Op: "stream read", Err: err})
			}
			return
		}

		// [DONE] sentinel used by SSE-style endpoints.
		if bytes.Equal(data, []byte("[DONE]")) {
			finish(nil)
			return
		}

		var d delta
		if err := json.Unmarshal(data, &d); err != nil {
			// Frame-local decode failure: skip it, keep the stream alive.
			ing.logger.Warn("skipping malformed stream frame",
				zap.String("conversation_id", h.conversationID),
				zap.Error(err))
			continue
		}

		h.setStreaming()

		if d.Content != "" && cb.OnDelta != nil {
			cb.OnDelta(d.Content)
		}
		if d.MessageID != "" {
			serverMessageID = d.MessageID
		}

		if d.Error != "" {
			finish(&api.TransientError{Op: "stream", Err: errors.New(d.Error)})
			return
		}
		if d.Done {
			finish(nil)
			return
		}
	}
}
