// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package queue holds the durable FIFO of pending mutating actions.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/relaychat/internal/api"
	"github.com/jeranaias/relaychat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrActionNotFound is returned when cancelling or retrying an
	// unknown action id.
	ErrActionNotFound = errors.New("action not found")

	// ErrActionInFlight is returned when cancelling an action that is
	// already executing.
	ErrActionInFlight = errors.New("action is in flight")
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds queue configuration.
type Config struct {
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration

	// BackoffMax caps the retry delay.
	BackoffMax time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		BackoffBase: time.Second,
		BackoffMax:  60 * time.Second,
	}
}

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// Executor runs one action to a terminal outcome. The engine implements
// this: send/regenerate/edit go through the stream ingestor, CRUD goes
// through the API client. A retryable error keeps the action pending;
// a validation error removes it permanently.
type Executor interface {
	Execute(ctx context.Context, action *model.QueuedAction) error
}

// OnlineFunc reports current connectivity. The monitor provides it.
type OnlineFunc func() bool

// FailureListener is told about permanently failed actions so callers
// can surface them; the action's payload stays inspectable on the
// failed list for manual retry.
type FailureListener func(action *model.QueuedAction, err error)

// =============================================================================
// QUEUE
// =============================================================================

// Queue is the durable FIFO of pending mutating actions.
//
// Ordering is strict FIFO per conversation: when an action fails with a
// retryable error, later actions for the same conversation wait, but
// actions against other conversations keep flowing. An action leaves
// the queue only on a terminal outcome. The pending set survives
// process restarts through the Slot.
type Queue struct {
	mu      sync.Mutex
	actions []*model.QueuedAction
	failed  []*model.QueuedAction

	executor  Executor
	online    OnlineFunc
	slot      *Slot
	cfg       Config
	logger    *zap.Logger
	listeners []FailureListener

	draining   bool
	retryTimer *time.Timer
}

// New creates a queue, reloading any previously persisted pending
// actions before accepting new ones.
func New(executor Executor, online OnlineFunc, slot *Slot, cfg Config, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultConfig().BackoffMax
	}

	q := &Queue{
		executor: executor,
		online:   online,
		slot:     slot,
		cfg:      cfg,
		logger:   logger,
	}

	if slot != nil {
		restored, err := slot.Load()
		if err != nil {
			return nil, err
		}
		q.actions = restored
		if len(restored) > 0 {
			logger.Info("restored queued actions", zap.Int("count", len(restored)))
		}
	}
	return q, nil
}

// OnPermanentFailure registers a listener for permanently failed actions.
func (q *Queue) OnPermanentFailure(fn FailureListener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// =============================================================================
// ENQUEUE / CANCEL
// =============================================================================

// Enqueue appends an action, persists the queue, and starts a drain if
// the service is reachable. Returns the action id.
func (q *Queue) Enqueue(action *model.QueuedAction) string {
	q.mu.Lock()
	action.Status = model.StatusPending
	q.actions = append(q.actions, action)
	q.persistLocked()
	q.mu.Unlock()

	q.logger.Debug("action enqueued",
		zap.String("action_id", action.ID),
		zap.String("type", string(action.Type)))

	if q.online() {
		q.kick()
	}
	return action.ID
}

// Cancel removes a pending action. An in-flight action cannot be
// cancelled; its network round trip is already resolving.
func (q *Queue) Cancel(actionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, a := range q.actions {
		if a.ID != actionID {
			continue
		}
		if a.Status == model.StatusInFlight {
			return ErrActionInFlight
		}
		q.actions = append(q.actions[:i], q.actions[i+1:]...)
		q.persistLocked()
		return nil
	}
	return ErrActionNotFound
}

// =============================================================================
// DRAIN
// =============================================================================

// Drain processes pending actions in enqueue order, strict FIFO per
// conversation. Non-reentrant: a concurrent Drain is a no-op, so two
// online signals cannot double-dispatch an action.
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		remaining := len(q.actions)
		q.mu.Unlock()
		if remaining > 0 {
			q.scheduleRetry()
		}
	}()

	// Conversations whose head action failed retryably this cycle;
	// their queued tail must wait to preserve per-conversation order.
	blocked := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		action := q.nextPending(blocked)
		if action == nil {
			return
		}

		err := q.executor.Execute(ctx, action)

		switch {
		case err == nil:
			q.settle(action, model.StatusSucceeded, nil)
		case !api.IsRetryable(err):
			q.settle(action, model.StatusFailedPermanent, err)
		default:
			q.mu.Lock()
			action.Status = model.StatusFailedRetryable
			action.AttemptCount++
			action.LastError = err.Error()
			q.persistLocked()
			q.mu.Unlock()
			blocked[action.ConversationID] = true
			q.logger.Warn("action failed, will retry",
				zap.String("action_id", action.ID),
				zap.Int("attempts", action.AttemptCount),
				zap.Error(err))
		}
	}
}

// nextPending claims the first claimable action whose conversation is
// not blocked, marking it in flight. Retryably failed actions stay in
// the queue and are claimable again on the next drain cycle.
func (q *Queue) nextPending(blocked map[string]bool) *model.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, a := range q.actions {
		claimable := a.Status == model.StatusPending || a.Status == model.StatusFailedRetryable
		if !claimable || blocked[a.ConversationID] {
			continue
		}
		a.Status = model.StatusInFlight
		return a
	}
	return nil
}

// settle removes an action from the queue with its terminal outcome.
func (q *Queue) settle(action *model.QueuedAction, status model.ActionStatus, err error) {
	q.mu.Lock()
	action.Status = status
	if err != nil {
		action.LastError = err.Error()
	}
	for i, a := range q.actions {
		if a.ID == action.ID {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			break
		}
	}
	if status == model.StatusFailedPermanent {
		q.failed = append(q.failed, action)
	}
	q.persistLocked()
	listeners := make([]FailureListener, len(q.listeners))
	copy(listeners, q.listeners)
	q.mu.Unlock()

	if status == model.StatusFailedPermanent {
		q.logger.Warn("action failed permanently",
			zap.String("action_id", action.ID),
			zap.Error(err))
		for _, fn := range listeners {
			fn(action, err)
		}
	} else {
		q.logger.Debug("action succeeded", zap.String("action_id", action.ID))
	}
}

// kick starts an asynchronous drain.
func (q *Queue) kick() {
	go q.Drain(context.Background())
}

// NotifyOnline is wired to the connectivity monitor's online transition
// and replays everything queued while offline.
func (q *Queue) NotifyOnline() {
	q.kick()
}

// scheduleRetry arms the exponential-backoff timer for the next drain
// cycle. The delay grows with the most-retried pending action.
func (q *Queue) scheduleRetry() {
	if !q.online() {
		// The online transition will trigger the next drain.
		return
	}

	q.mu.Lock()
	maxAttempts := 0
	for _, a := range q.actions {
		if a.AttemptCount > maxAttempts {
			maxAttempts = a.AttemptCount
		}
	}
	delay := q.cfg.BackoffBase
	for i := 0; i < maxAttempts-1 && delay < q.cfg.BackoffMax; i++ {
		delay *= 2
	}
	if delay > q.cfg.BackoffMax {
		delay = q.cfg.BackoffMax
	}
	if q.retryTimer != nil {
		q.retryTimer.Stop()
	}
	q.retryTimer = time.AfterFunc(delay, q.kick)
	q.mu.Unlock()

	q.logger.Debug("retry scheduled", zap.Duration("delay", delay))
}

// =============================================================================
// PROJECTIONS
// =============================================================================

// Pending returns a read-only copy of the queued actions, in order.
func (q *Queue) Pending() []model.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.QueuedAction, 0, len(q.actions))
	for _, a := range q.actions {
		out = append(out, *a)
	}
	return out
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Failed returns permanently failed actions, payloads intact, for
// inspection and manual retry.
func (q *Queue) Failed() []model.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.QueuedAction, 0, len(q.failed))
	for _, a := range q.failed {
		out = append(out, *a)
	}
	return out
}

// RetryFailed moves a permanently failed action back onto the queue.
func (q *Queue) RetryFailed(actionID string) error {
	q.mu.Lock()
	for i, a := range q.failed {
		if a.ID != actionID {
			continue
		}
		q.failed = append(q.failed[:i], q.failed[i+1:]...)
		a.Status = model.StatusPending
		a.AttemptCount = 0
		a.LastError = ""
		q.actions = append(q.actions, a)
		q.persistLocked()
		q.mu.Unlock()

		if q.online() {
			q.kick()
		}
		return nil
	}
	q.mu.Unlock()
	return ErrActionNotFound
}

// =============================================================================
// INTERNAL
// =============================================================================

// persistLocked writes the full pending set to the durable slot.
// Persistence failures are logged, not fatal: the in-memory queue keeps
// working and the next mutation retries the write.
func (q *Queue) persistLocked() {
	if q.slot == nil {
		return
	}
	if err := q.slot.Save(q.actions); err != nil {
		q.logger.Error("failed to persist queue", zap.Error(err))
	}
}
