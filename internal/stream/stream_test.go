// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/relaychat/internal/api"
)

// sseServer returns a test server that writes the given lines verbatim
// (plus newlines) as the stream body.
func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
			flusher.Flush()
		}
	}))
}

func collectDeltas() (*strings.Builder, Callbacks, *string) {
	var sb strings.Builder
	serverID := ""
	cb := Callbacks{
		OnDelta: func(content string) { sb.WriteString(content) },
		OnDone:  func(id string) { serverID = id },
	}
	return &sb, cb, &serverID
}

// =============================================================================
// DELTA DELIVERY
// =============================================================================

func TestOpen_DeltasInArrivalOrder(t *testing.T) {
	srv := sseServer(t,
		`data: {"content":"Hel"}`,
		`data: {"content":"lo"}`,
		`data: {"content":", world"}`,
		`data: {"done":true}`,
	)
	defer srv.Close()

	ing := NewIngestor(srv.URL, nil)
	sb, cb, _ := collectDeltas()

	h, err := ing.Open(context.Background(), Request{ConversationID: "conv_1"}, cb)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}

	if sb.String() != "Hello, world" {
		t.Errorf("content = %q, want arrival-order concatenation", sb.String())
	}
	if h.State() != StateFinalized {
		t.Errorf("state = %v, want finalized", h.State())
	}
}

func TestOpen_DoneSentinel(t *testing.T) {
	srv := sseServer(t,
		`data: {"content":"x"}`,
		`data: [DONE]`,
	)
	defer srv.Close()

	ing := NewIngestor(srv.URL, nil)
	sb, cb, _ := collectDeltas()

	h, err := ing.Open(context.Background(), Request{ConversationID: "conv_1"}, cb)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if sb.String() != "x" {
		t.Errorf("content = %q, want %q", sb.String(), "x")
	}
}

func TestOpen_ServerMessageIDConfirmed(t *testing.T) {
	srv := sseServer(t,
		`data: {"content":"hi"}`,
		`data: {"done":true,"message_id":"srv_99"}`,
	)
	defer srv.Close()

	ing := NewIngestor(srv.URL, nil)
	_, cb, serverID := collectDeltas()

	h, err := ing.Open(context.Background(), Request{ConversationID: "conv_1"}, cb)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = h.Wait()

	if *serverID != "srv_99" {
		t.Errorf("serverMessageID = %q, want srv_99", *serverID)
	}
}

// =============================================================================
// FRAME SKIPPING
// =============================================================================

func TestOpen_MalformedFrameSkipped(t *testing.T) {
	srv := sseServer(t,
		`data: {"content":"a"}`,
		`data: {not json at all`,
		`data: {"content":"b"}`,
		`data: {"done":true}`,
	)
	defer srv.Close()

	ing := NewIngestor(srv.URL, nil)
	sb, cb, _ := collectDeltas()

	h, err := ing.Open(context.Background(), Request{ConversationID: "conv_1"}, cb)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("malformed frame must not kill the stream: %v", err)
	}
	if sb.String() != "ab" {
		t.Errorf("content = %q, want %q", sb.String(), "ab")
	}
}

func TestOpen_NonFrameLinesSkipped(t *testing.T) {
	srv := sseServer(t,
		``,
		`: comment line`,
		`event: message`,
		`data: {"content":"only"}`,
		`retry: 1000`,
		`data: {"done":true}`,
	)
	defer srv.Close()

	ing := NewIngestor(srv.URL, nil)
	sb, cb, _ := collectDeltas()

	h, err := ing.Open(context.Background(), Request{ConversationID: "conv_1"}, cb)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if sb.String() != "only" {
		t.Errorf("content = %q, want %q", sb.String(), "only")
	}
}

func TestOpen_EOFWithoutTerminalFrame(t *testing.T) {
	srv := sseServer(t, `data: {"content":"partial"}`)
	defer srv.Close()

	ing := NewIngestor(srv.URL, nil)
	sb, cb, _ := collectDeltas()

	h, err := ing.Open(context.Background(), Request{ConversationID: "conv_1"}, cb)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("EOF should finalize cleanly: %v", err)
	}
	if sb.String() != "partial" {
		t.Errorf("content = %q", sb.String())
	}
}

// =============================================================================
// ERROR PATHS
// =============================================================================

func TestOpen_ValidationErrorOnReject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	ing := NewIngestor(srv.URL, nil)
	_, err := ing.Open(context.Background(), Request{ConversationID: "conv_1"}, Callbacks{})

	var verr *api.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if api.IsRetryable(err) {
		t.Error("validation errors must not be retryable")
	}
}

func TestOpen_TransientErrorOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ing := NewIngestor(srv.URL, nil)
	_, err := ing.Open(context.Background(), Request{ConversationID: "conv_1"}, Callbacks{})

	var terr *api.TransientError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransientError, got %v", err)
	}
	if !api.IsRetryable(err) {
		t.Error("5xx must be retryable")
	}
}

func TestOpen_ErrorFrame(t *testing.T) {
	srv := sseServer(t,
		`data: {"content":"some"}`,
		`data: {"error":"model crashed"}`,
	)
	defer srv.Close()

	ing := NewIngestor(srv.URL, nil)
	_, cb, _ := collectDeltas()

	h, err := ing.Open(context.Background(), Request{ConversationID: "conv_1"}, cb)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	werr := h.Wait()
	if werr == nil || !api.IsRetryable(werr) {
		t.Errorf("error frame should surface as retryable failure, got %v", werr)
	}
}

// =============================================================================
// ABORT
// =============================================================================

func TestAbort_CleanTerminal(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: {\"content\":\"start\"}\n")
		flusher.Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ing := NewIngestor(srv.URL, nil)
	done := false
	cb := Callbacks{OnDone: func(string) { done = true }}

	h, err := ing.Open(context.Background(), Request{ConversationID: "conv_1"}, cb)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Give the reader a moment to enter the streaming state.
	deadline := time.Now().Add(2 * time.Second)
	for h.State() == StateOpening && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.Abort()
	if err := h.Wait(); err != nil {
		t.Errorf("abort is a clean terminal, got %v", err)
	}
	if !done {
		t.Error("OnDone must fire on abort")
	}
	if h.State() != StateFinalized {
		t.Errorf("state = %v, want finalized", h.State())
	}

	// Idempotent: a second abort is a no-op.
	h.Abort()
}

// =============================================================================
// HEADERS
// =============================================================================

func TestOpen_SendsActionID(t *testing.T) {
	gotAction := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("X-Action-ID")
		fmt.Fprintf(w, "data: {\"done\":true}\n")
	}))
	defer srv.Close()

	ing := NewIngestor(srv.URL, nil)
	h, err := ing.Open(context.Background(), Request{
		ConversationID: "conv_1",
		ActionID:       "act-123",
	}, Callbacks{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = h.Wait()

	if gotAction != "act-123" {
		t.Errorf("X-Action-ID = %q, want act-123", gotAction)
	}
}

// =============================================================================
// FRAME READER
// =============================================================================

func TestFrameReader_FinalLineWithoutNewline(t *testing.T) {
	r := newFrameReader(strings.NewReader(`data: {"content":"tail"}`))

	data, err := r.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(data) != `{"content":"tail"}` {
		t.Errorf("got %q", data)
	}
	if _, err := r.next(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestFrameReader_OversizedLineFailsAtCap(t *testing.T) {
	// A stream with no newline at all must fail at MaxFrameSize
	// instead of buffering until one appears.
	r := newFrameReader(strings.NewReader("data: " + strings.Repeat("x", MaxFrameSize+1)))

	if _, err := r.next(); !errors.Is(err, errFrameTooLarge) {
		t.Errorf("expected frame size error, got %v", err)
	}
}

func TestFrameReader_PayloadSurvivesNextRead(t *testing.T) {
	r := newFrameReader(strings.NewReader("data: first\ndata: second\n"))

	first, err := r.next()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.next(); err != nil {
		t.Fatal(err)
	}
	if string(first) != "first" {
		t.Errorf("earlier payload mutated by later read: %q", first)
	}
}
