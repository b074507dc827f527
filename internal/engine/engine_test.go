// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeranaias/relaychat/internal/api"
	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/queue"
	"github.com/jeranaias/relaychat/internal/store"
	"github.com/jeranaias/relaychat/internal/stream"
)

// =============================================================================
// FAKE SERVICE
// =============================================================================

// fakeService stands in for the agent service: echoes conversation
// CRUD, serves scripted response streams, and records branch calls.
type fakeService struct {
	mu sync.Mutex

	// streamFunc serves the nth stream open (1-based).
	streamFunc func(n int, w http.ResponseWriter, r *http.Request)
	streams    int

	branchPaths     []string
	branchActionIDs []string

	switchActionIDs []string
	switchTargets   []string
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/stream"):
		s.mu.Lock()
		s.streams++
		n := s.streams
		fn := s.streamFunc
		s.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		fn(n, w, r)

	case r.Method == http.MethodPost && r.URL.Path == "/api/conversations":
		w.Header().Set("Content-Type", "application/json")
		io.Copy(w, r.Body)

	case r.Method == http.MethodPost && r.URL.Path == "/api/branches/switch":
		var body struct {
			To string `json:"to"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.switchActionIDs = append(s.switchActionIDs, r.Header.Get("X-Action-ID"))
		s.switchTargets = append(s.switchTargets, body.To)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)

	case strings.HasSuffix(r.URL.Path, "/branches"):
		s.mu.Lock()
		s.branchPaths = append(s.branchPaths, r.URL.Path)
		s.branchActionIDs = append(s.branchActionIDs, r.Header.Get("X-Action-ID"))
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *fakeService) streamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams
}

// writeFrame emits one SSE data frame and flushes.
func writeFrame(w http.ResponseWriter, frame map[string]any) {
	data, _ := json.Marshal(frame)
	fmt.Fprintf(w, "data: %s\n\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// scriptedStream serves the given delta chunks then a done frame.
func scriptedStream(chunks []string, serverMessageID string) func(int, http.ResponseWriter, *http.Request) {
	return func(_ int, w http.ResponseWriter, r *http.Request) {
		for _, c := range chunks {
			writeFrame(w, map[string]any{"content": c})
		}
		writeFrame(w, map[string]any{"done": true, "message_id": serverMessageID})
	}
}

// =============================================================================
// RIG
// =============================================================================

type rig struct {
	engine  *Engine
	queue   *queue.Queue
	service *fakeService
	online  *atomic.Bool
}

func newRig(t *testing.T, svc *fakeService, online bool) *rig {
	t.Helper()
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "relaychat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	flag := &atomic.Bool{}
	flag.Store(online)

	eng := New(st, api.NewClient(srv.URL, nil), stream.NewIngestor(srv.URL, nil), nil, "relay-test", zap.NewNop())

	slot := queue.NewSlot(filepath.Join(dir, "queue.json"))
	q, err := queue.New(eng, flag.Load, slot, queue.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	eng.AttachQueue(q)

	// Wait for the queue worker's last persist before TempDir removal,
	// so teardown doesn't race its writes to queue.json.
	t.Cleanup(func() {
		for deadline := time.Now().Add(3 * time.Second); q.Len() > 0 && time.Now().Before(deadline); {
			time.Sleep(10 * time.Millisecond)
		}
	})

	return &rig{engine: eng, queue: q, service: svc, online: flag}
}

// waitIdle waits until the queue has nothing pending.
func (r *rig) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return r.queue.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
}

// =============================================================================
// TESTS
// =============================================================================

func TestSendStreamsResponse(t *testing.T) {
	svc := &fakeService{streamFunc: scriptedStream([]string{"Hel", "lo"}, "msg_srv1")}
	r := newRig(t, svc, true)

	conv, err := r.engine.NewConversation("greetings")
	require.NoError(t, err)

	_, err = r.engine.Send(conv.ID, "hi")
	require.NoError(t, err)

	tl, err := r.engine.Timeline(conv.ID)
	require.NoError(t, err)

	// The user message is visible before any network round trip.
	require.Equal(t, 1, tl.Len())
	require.Equal(t, model.RoleUser, tl.Last().Role)

	r.waitIdle(t)

	msgs := tl.Snapshot()
	require.Len(t, msgs, 2)
	require.Equal(t, "Hello", msgs[1].DisplayContent())
	require.False(t, msgs[1].IsStreaming)
	require.Equal(t, "msg_srv1", msgs[1].ID, "server message id should be confirmed")
}

func TestSendWhileOfflineQueuesUntilOnline(t *testing.T) {
	svc := &fakeService{streamFunc: scriptedStream([]string{"later"}, "")}
	r := newRig(t, svc, false)

	conv, err := r.engine.NewConversation("offline")
	require.NoError(t, err)

	_, err = r.engine.Send(conv.ID, "queued while offline")
	require.NoError(t, err)

	tl, err := r.engine.Timeline(conv.ID)
	require.NoError(t, err)
	require.Equal(t, 1, tl.Len(), "user message appears immediately")
	require.Equal(t, 2, r.queue.Len(), "create + send wait for connectivity")
	require.Equal(t, 0, svc.streamCount())

	r.online.Store(true)
	r.queue.NotifyOnline()

	r.waitIdle(t)
	require.Equal(t, 2, tl.Len())
	require.Equal(t, "later", tl.Last().DisplayContent())
}

func TestRegenerateReplacesTail(t *testing.T) {
	svc := &fakeService{}
	svc.streamFunc = func(n int, w http.ResponseWriter, r *http.Request) {
		if n == 1 {
			scriptedStream([]string{"first answer"}, "")(n, w, r)
			return
		}
		scriptedStream([]string{"second answer"}, "")(n, w, r)
	}
	r := newRig(t, svc, true)

	conv, err := r.engine.NewConversation("regen")
	require.NoError(t, err)
	_, err = r.engine.Send(conv.ID, "hi")
	require.NoError(t, err)
	r.waitIdle(t)

	_, err = r.engine.Regenerate(conv.ID, "")
	require.NoError(t, err)
	r.waitIdle(t)

	tl, err := r.engine.Timeline(conv.ID)
	require.NoError(t, err)
	msgs := tl.Snapshot()
	require.Len(t, msgs, 2, "regenerate must not duplicate the user message")
	require.Equal(t, model.RoleUser, msgs[0].Role)
	require.Equal(t, "hi", msgs[0].DisplayContent())
	require.Equal(t, "second answer", msgs[1].DisplayContent())
}

func TestEditAndResend(t *testing.T) {
	svc := &fakeService{}
	svc.streamFunc = func(n int, w http.ResponseWriter, r *http.Request) {
		scriptedStream([]string{fmt.Sprintf("answer %d", n)}, "")(n, w, r)
	}
	r := newRig(t, svc, true)

	conv, err := r.engine.NewConversation("edit")
	require.NoError(t, err)
	_, err = r.engine.Send(conv.ID, "original question")
	require.NoError(t, err)
	r.waitIdle(t)

	tl, err := r.engine.Timeline(conv.ID)
	require.NoError(t, err)
	userID := tl.Snapshot()[0].ID

	_, err = r.engine.EditAndResend(conv.ID, userID, "better question")
	require.NoError(t, err)
	r.waitIdle(t)

	msgs := tl.Snapshot()
	require.Len(t, msgs, 2)
	require.Equal(t, "better question", msgs[0].DisplayContent())
	require.Equal(t, userID, msgs[0].ID, "edit rewrites in place")
	require.Equal(t, "answer 2", msgs[1].DisplayContent())
}

func TestEditRejectsAssistantMessage(t *testing.T) {
	svc := &fakeService{streamFunc: scriptedStream([]string{"a"}, "")}
	r := newRig(t, svc, true)

	conv, err := r.engine.NewConversation("edit-reject")
	require.NoError(t, err)
	_, err = r.engine.Send(conv.ID, "q")
	require.NoError(t, err)
	r.waitIdle(t)

	tl, _ := r.engine.Timeline(conv.ID)
	assistantID := tl.Last().ID

	_, err = r.engine.EditAndResend(conv.ID, assistantID, "nope")
	require.Error(t, err)
}

func TestStreamRejectionLandsOnFailedList(t *testing.T) {
	svc := &fakeService{}
	svc.streamFunc = func(n int, w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"content too long"}`, http.StatusUnprocessableEntity)
	}
	r := newRig(t, svc, true)

	conv, err := r.engine.NewConversation("rejected")
	require.NoError(t, err)
	_, err = r.engine.Send(conv.ID, "bad input")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(r.queue.Failed()) == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, 0, r.queue.Len())

	// The user message survives; the empty assistant shell is rolled back.
	tl, err := r.engine.Timeline(conv.ID)
	require.NoError(t, err)
	msgs := tl.Snapshot()
	require.Len(t, msgs, 1)
	require.Equal(t, model.RoleUser, msgs[0].Role)
}

func TestAbortKeepsPartialContent(t *testing.T) {
	released := make(chan struct{})
	svc := &fakeService{}
	svc.streamFunc = func(n int, w http.ResponseWriter, r *http.Request) {
		writeFrame(w, map[string]any{"content": "partial thought"})
		select {
		case <-r.Context().Done():
		case <-released:
		}
	}
	r := newRig(t, svc, true)
	defer close(released)

	conv, err := r.engine.NewConversation("abort")
	require.NoError(t, err)
	_, err = r.engine.Send(conv.ID, "go on forever")
	require.NoError(t, err)

	tl, err := r.engine.Timeline(conv.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		last := tl.Last()
		return last != nil && last.DisplayContent() == "partial thought"
	}, 3*time.Second, 10*time.Millisecond)

	r.engine.Abort(conv.ID)
	r.waitIdle(t)

	last := tl.Last()
	require.NotNil(t, last)
	require.False(t, last.IsStreaming)
	require.Equal(t, "partial thought", last.DisplayContent())
	require.Empty(t, r.queue.Failed(), "abort is a clean terminal, not a failure")
}

func TestCreateBranchReachesServer(t *testing.T) {
	svc := &fakeService{streamFunc: scriptedStream([]string{"root answer"}, "")}
	r := newRig(t, svc, true)

	conv, err := r.engine.NewConversation("trunk")
	require.NoError(t, err)
	_, err = r.engine.Send(conv.ID, "hi")
	require.NoError(t, err)
	r.waitIdle(t)

	tl, _ := r.engine.Timeline(conv.ID)
	anchorID := tl.Snapshot()[0].ID

	fork, err := r.engine.CreateBranch(conv.ID, anchorID, "alternate", "blue")
	require.NoError(t, err)
	require.Equal(t, conv.ID, fork.ParentID)
	r.waitIdle(t)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.branchPaths, 1)
	require.Equal(t, "/api/conversations/"+conv.ID+"/branches", svc.branchPaths[0])
	require.NotEmpty(t, svc.branchActionIDs[0], "branch creation carries an idempotency key")
}

func TestSwitchBranchQueuedWhileOffline(t *testing.T) {
	svc := &fakeService{streamFunc: scriptedStream([]string{"root answer"}, "")}
	r := newRig(t, svc, true)

	conv, err := r.engine.NewConversation("trunk")
	require.NoError(t, err)
	_, err = r.engine.Send(conv.ID, "hi")
	require.NoError(t, err)
	r.waitIdle(t)

	tl, _ := r.engine.Timeline(conv.ID)
	fork, err := r.engine.CreateBranch(conv.ID, tl.Snapshot()[0].ID, "side", "")
	require.NoError(t, err)
	r.waitIdle(t)

	r.online.Store(false)
	require.NoError(t, r.engine.SwitchBranch(fork.ID))

	// The local switch is immediate; the server report waits for
	// connectivity like every other queued action.
	require.Equal(t, fork.ID, r.engine.Branches().Current())
	require.Equal(t, 1, r.queue.Len())
	svc.mu.Lock()
	require.Empty(t, svc.switchTargets)
	svc.mu.Unlock()

	r.online.Store(true)
	r.queue.NotifyOnline()
	r.waitIdle(t)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Equal(t, []string{fork.ID}, svc.switchTargets)
	require.NotEmpty(t, svc.switchActionIDs[0], "branch switch carries an idempotency key")
}

func TestSendEmptyContentRejected(t *testing.T) {
	svc := &fakeService{streamFunc: scriptedStream(nil, "")}
	r := newRig(t, svc, true)

	conv, err := r.engine.NewConversation("empty")
	require.NoError(t, err)
	_, err = r.engine.Send(conv.ID, "")
	require.ErrorIs(t, err, ErrEmptyMessage)
}
