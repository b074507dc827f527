// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/relaychat/internal/api"
	"github.com/jeranaias/relaychat/internal/branch"
	"github.com/jeranaias/relaychat/internal/connectivity"
	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/queue"
	"github.com/jeranaias/relaychat/internal/store"
	"github.com/jeranaias/relaychat/internal/stream"
	"github.com/jeranaias/relaychat/internal/telemetry"
	"github.com/jeranaias/relaychat/internal/timeline"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyMessage rejects sends with no content.
	ErrEmptyMessage = errors.New("message content is empty")

	// ErrNoQueue means the engine was used before AttachQueue.
	ErrNoQueue = errors.New("action queue not attached")
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine coordinates the moving parts of the client: user intents
// become queued actions, queued actions become API calls or response
// streams, and stream progress flows into per-conversation timelines.
//
// The engine owns two ordering rules. First, at most one response
// stream is active per conversation. Second, regenerate and edit always
// abort the active stream BEFORE truncating the timeline, so a late
// delta can never land on a truncated tail.
type Engine struct {
	mu sync.Mutex

	defaultModel string
	store        *store.Store
	api          *api.Client
	ingestor     *stream.Ingestor
	monitor      *connectivity.Monitor
	tracker      *telemetry.Tracker
	logger       *zap.Logger

	queue    *queue.Queue
	branches *branch.Coordinator

	timelines map[string]*timeline.Timeline
	active    map[string]*stream.Handle
}

// New creates an engine. The queue is attached afterwards with
// AttachQueue because the queue's executor is the engine itself.
func New(st *store.Store, client *api.Client, ing *stream.Ingestor, mon *connectivity.Monitor, defaultModel string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		defaultModel: defaultModel,
		store:        st,
		api:          client,
		ingestor:     ing,
		monitor:      mon,
		tracker:      telemetry.NewTracker(),
		logger:       logger,
		timelines:    make(map[string]*timeline.Timeline),
		active:       make(map[string]*stream.Handle),
	}
	e.branches = branch.NewCoordinator(st, e, logger)
	return e
}

// AttachQueue wires the action queue. Must be called before any intent
// method.
func (e *Engine) AttachQueue(q *queue.Queue) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = q
}

// Queue returns the action queue for status displays.
func (e *Engine) Queue() *queue.Queue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue
}

// Monitor returns the connectivity monitor, which may be nil in
// offline-only setups.
func (e *Engine) Monitor() *connectivity.Monitor {
	return e.monitor
}

// Branches returns the branch coordinator.
func (e *Engine) Branches() *branch.Coordinator {
	return e.branches
}

// Tracker returns the session usage tracker.
func (e *Engine) Tracker() *telemetry.Tracker {
	return e.tracker
}

// =============================================================================
// TIMELINES
// =============================================================================

// Timeline returns the timeline for a conversation, loading persisted
// messages on first access.
func (e *Engine) Timeline(conversationID string) (*timeline.Timeline, error) {
	e.mu.Lock()
	if tl, ok := e.timelines[conversationID]; ok {
		e.mu.Unlock()
		return tl, nil
	}
	e.mu.Unlock()

	msgs, err := e.store.LoadMessages(conversationID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Another goroutine may have loaded it while we read the store.
	if tl, ok := e.timelines[conversationID]; ok {
		return tl, nil
	}
	tl := timeline.Load(conversationID, msgs)
	e.timelines[conversationID] = tl
	return tl, nil
}

// TimelineSnapshot implements branch.TimelineProvider.
func (e *Engine) TimelineSnapshot(conversationID string) []*model.Message {
	tl, err := e.Timeline(conversationID)
	if err != nil {
		e.logger.Warn("failed to load timeline for snapshot",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return nil
	}
	return tl.Snapshot()
}

// persistTimeline writes a conversation's messages to the local store
// and bumps the conversation's updated timestamp. Persistence failures
// are logged, not fatal: the in-memory timeline stays authoritative for
// the session.
func (e *Engine) persistTimeline(conversationID string) {
	tl, err := e.Timeline(conversationID)
	if err != nil {
		return
	}
	if err := e.store.SaveMessages(conversationID, tl.Snapshot()); err != nil {
		e.logger.Error("failed to persist timeline",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return
	}
	conv, err := e.store.GetConversation(conversationID)
	if err != nil {
		return
	}
	conv.Touch()
	if err := e.store.SaveConversation(conv); err != nil {
		e.logger.Error("failed to persist conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}
}

// =============================================================================
// USER INTENTS
// =============================================================================

// NewConversation creates a conversation locally and queues its
// creation on the server.
func (e *Engine) NewConversation(title string) (*model.Conversation, error) {
	conv := model.NewConversation(e.defaultModel)
	conv.Title = title
	if err := e.store.SaveConversation(conv); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.timelines[conv.ID] = timeline.New(conv.ID)
	e.mu.Unlock()

	if _, err := e.enqueue(model.ActionCreateConversation, conv.ID, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Send appends the user message to the timeline immediately and queues
// the send. The user sees their message at once whether online or not.
func (e *Engine) Send(conversationID, content string) (string, error) {
	if content == "" {
		return "", ErrEmptyMessage
	}
	tl, err := e.Timeline(conversationID)
	if err != nil {
		return "", err
	}

	msg := model.NewUserMessage(conversationID, content)
	if err := tl.Append(msg); err != nil {
		return "", err
	}
	e.persistTimeline(conversationID)

	return e.enqueue(model.ActionSend, conversationID, model.SendPayload{Content: content})
}

// Regenerate discards everything after the user message that produced
// the given assistant message and requests a fresh response. The active
// stream, if any, is aborted before the timeline is truncated.
func (e *Engine) Regenerate(conversationID, messageID string) (string, error) {
	tl, err := e.Timeline(conversationID)
	if err != nil {
		return "", err
	}
	if messageID == "" {
		last := tl.Last()
		if last == nil {
			return "", timeline.ErrNoUserMessageToResend
		}
		messageID = last.ID
	}

	anchor, err := tl.PrecedingUserMessage(messageID)
	if err != nil {
		return "", err
	}

	e.abortActive(conversationID)
	if _, err := tl.TruncateAfter(anchor.ID); err != nil {
		return "", err
	}
	e.persistTimeline(conversationID)

	return e.enqueue(model.ActionRegenerate, conversationID, model.RegeneratePayload{MessageID: anchor.ID})
}

// EditAndResend rewrites a user message in place, discards everything
// after it, and requests a fresh response from the edited text.
func (e *Engine) EditAndResend(conversationID, messageID, content string) (string, error) {
	if content == "" {
		return "", ErrEmptyMessage
	}
	tl, err := e.Timeline(conversationID)
	if err != nil {
		return "", err
	}
	target := tl.MessageByID(messageID)
	if target == nil {
		return "", timeline.ErrMessageNotFound
	}
	if target.Role != model.RoleUser {
		return "", timeline.ErrNoUserMessageToResend
	}

	e.abortActive(conversationID)
	if err := tl.OverwriteContent(messageID, content); err != nil {
		return "", err
	}
	if _, err := tl.TruncateAfter(messageID); err != nil {
		return "", err
	}
	e.persistTimeline(conversationID)

	return e.enqueue(model.ActionEditAndResend, conversationID, model.EditPayload{MessageID: messageID, Content: content})
}

// Abort cancels the active response stream for a conversation. The
// partial content received so far is kept and finalized. Aborting a
// conversation with no active stream is a no-op.
func (e *Engine) Abort(conversationID string) {
	e.abortActive(conversationID)
	e.persistTimeline(conversationID)
}

// UpdateConversation saves local metadata changes and queues the
// server-side update.
func (e *Engine) UpdateConversation(conv *model.Conversation) (string, error) {
	conv.Touch()
	if err := e.store.SaveConversation(conv); err != nil {
		return "", err
	}
	return e.enqueue(model.ActionUpdateConversation, conv.ID, conv)
}

// DeleteConversation removes a conversation locally and queues the
// server-side delete.
func (e *Engine) DeleteConversation(conversationID string) (string, error) {
	e.abortActive(conversationID)

	if err := e.store.DeleteConversation(conversationID); err != nil && !errors.Is(err, store.ErrConversationNotFound) {
		return "", err
	}
	e.mu.Lock()
	delete(e.timelines, conversationID)
	e.mu.Unlock()

	return e.enqueue(model.ActionDeleteConversation, conversationID, struct{}{})
}

// CreateBranch forks a conversation at a message and queues the
// server-side branch creation. The queued payload records the intent;
// the fork itself is read back from the store at execution time.
func (e *Engine) CreateBranch(conversationID, branchPointMessageID, name, color string) (*model.Conversation, error) {
	fork, err := e.branches.CreateBranch(conversationID, branchPointMessageID, name, color)
	if err != nil {
		return nil, err
	}
	payload := model.BranchPayload{BranchPointMessageID: branchPointMessageID, Name: name, Color: color}
	if _, err := e.enqueue(model.ActionCreateBranch, fork.ID, payload); err != nil {
		return nil, err
	}
	return fork, nil
}

// SwitchBranch moves the active-conversation pointer. The local switch
// is immediate; the server-side notification goes through the action
// queue like every other mutation, so an offline switch is reported
// once connectivity returns.
func (e *Engine) SwitchBranch(toID string) error {
	from := e.branches.Current()
	if err := e.branches.SwitchBranch(from, toID); err != nil {
		return err
	}
	_, err := e.enqueue(model.ActionSwitchBranch, toID, model.SwitchPayload{From: from, To: toID})
	return err
}

// Stop aborts every active stream. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	handles := make([]*stream.Handle, 0, len(e.active))
	for id, h := range e.active {
		handles = append(handles, h)
		delete(e.active, id)
	}
	e.mu.Unlock()

	for _, h := range handles {
		h.Abort()
	}
}

// =============================================================================
// INTERNALS
// =============================================================================

// enqueue creates and queues an action, returning its id.
func (e *Engine) enqueue(t model.ActionType, conversationID string, payload any) (string, error) {
	e.mu.Lock()
	q := e.queue
	e.mu.Unlock()
	if q == nil {
		return "", ErrNoQueue
	}
	action, err := model.NewQueuedAction(t, conversationID, payload)
	if err != nil {
		return "", err
	}
	return q.Enqueue(action), nil
}

// abortActive cancels and waits out the active stream for one
// conversation, if any. After it returns, no further deltas can reach
// the conversation's timeline.
func (e *Engine) abortActive(conversationID string) {
	e.mu.Lock()
	h := e.active[conversationID]
	delete(e.active, conversationID)
	e.mu.Unlock()

	if h != nil {
		h.Abort()
	}
}

// setActive registers the active handle for a conversation.
func (e *Engine) setActive(conversationID string, h *stream.Handle) {
	e.mu.Lock()
	e.active[conversationID] = h
	e.mu.Unlock()
}

// clearActive drops the handle registration if it is still current.
func (e *Engine) clearActive(conversationID string, h *stream.Handle) {
	e.mu.Lock()
	if e.active[conversationID] == h {
		delete(e.active, conversationID)
	}
	e.mu.Unlock()
}
