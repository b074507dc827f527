// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/jeranaias/relaychat/internal/api"
	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/stream"
	"github.com/jeranaias/relaychat/internal/telemetry"
	"github.com/jeranaias/relaychat/internal/timeline"
)

// =============================================================================
// WIRE BODIES
// =============================================================================

// sendBody asks the service for a response to new user content.
type sendBody struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// regenerateBody asks for a fresh response to an existing user message.
type regenerateBody struct {
	RegenerateFrom string `json:"regenerate_from"`
}

// editBody asks for a response to an edited user message.
type editBody struct {
	EditMessageID string `json:"edit_message_id"`
	Content       string `json:"content"`
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Execute implements queue.Executor. Message-producing actions open a
// response stream; conversation lifecycle actions call the API
// directly. A retryable failure is reported to the connectivity
// monitor so the UI flips offline without waiting for the next probe.
func (e *Engine) Execute(ctx context.Context, action *model.QueuedAction) error {
	err := e.execute(ctx, action)
	if err != nil && api.IsRetryable(err) && e.monitor != nil {
		e.monitor.ReportFailure()
	}
	return err
}

func (e *Engine) execute(ctx context.Context, action *model.QueuedAction) error {
	switch action.Type {
	case model.ActionSend:
		var p model.SendPayload
		if err := decodePayload(action, &p); err != nil {
			return err
		}
		return e.runStream(ctx, action, sendBody{Content: p.Content, Model: e.modelFor(action.ConversationID)})

	case model.ActionRegenerate:
		var p model.RegeneratePayload
		if err := decodePayload(action, &p); err != nil {
			return err
		}
		tl, err := e.Timeline(action.ConversationID)
		if err != nil {
			return &api.TransientError{Op: "load timeline", Err: err}
		}
		if tl.MessageByID(p.MessageID) == nil {
			return &api.ValidationError{Message: fmt.Sprintf("regenerate anchor %s is gone", p.MessageID)}
		}
		return e.runStream(ctx, action, regenerateBody{RegenerateFrom: p.MessageID})

	case model.ActionEditAndResend:
		var p model.EditPayload
		if err := decodePayload(action, &p); err != nil {
			return err
		}
		return e.runStream(ctx, action, editBody{EditMessageID: p.MessageID, Content: p.Content})

	case model.ActionCreateConversation:
		var conv model.Conversation
		if err := decodePayload(action, &conv); err != nil {
			return err
		}
		created, err := e.api.CreateConversation(ctx, action.ID, &conv)
		if err != nil {
			return err
		}
		if created != nil {
			e.mergeServerConversation(action.ConversationID, created)
		}
		return nil

	case model.ActionUpdateConversation:
		var conv model.Conversation
		if err := decodePayload(action, &conv); err != nil {
			return err
		}
		return e.api.UpdateConversation(ctx, action.ID, &conv)

	case model.ActionDeleteConversation:
		return e.api.DeleteConversation(ctx, action.ID, action.ConversationID)

	case model.ActionCreateBranch:
		var p model.BranchPayload
		if err := decodePayload(action, &p); err != nil {
			return err
		}
		// The action's conversation id is the fork; read its current
		// state so a replay reflects later local edits to the metadata.
		fork, err := e.store.GetConversation(action.ConversationID)
		if err != nil {
			return &api.ValidationError{Message: fmt.Sprintf("branch %s no longer exists locally", action.ConversationID)}
		}
		return e.api.CreateBranch(ctx, action.ID, fork)

	case model.ActionSwitchBranch:
		var p model.SwitchPayload
		if err := decodePayload(action, &p); err != nil {
			return err
		}
		return e.api.SwitchBranch(ctx, action.ID, p.From, p.To)

	default:
		return &api.ValidationError{Message: fmt.Sprintf("unknown action type %q", action.Type)}
	}
}

// decodePayload unmarshals an action payload. A payload that cannot be
// decoded can never succeed, so the failure is permanent.
func decodePayload(action *model.QueuedAction, out any) error {
	if err := json.Unmarshal(action.Payload, out); err != nil {
		return &api.ValidationError{Message: fmt.Sprintf("undecodable %s payload: %v", action.Type, err)}
	}
	return nil
}

// mergeServerConversation folds server-assigned metadata (title,
// model) into the locally stored conversation. The local id stays; the
// server accepts client ids and the idempotency key covers replays.
func (e *Engine) mergeServerConversation(conversationID string, remote *model.Conversation) {
	conv, err := e.store.GetConversation(conversationID)
	if err != nil {
		return
	}
	if remote.Title != "" {
		conv.Title = remote.Title
	}
	if remote.Model != "" {
		conv.Model = remote.Model
	}
	if err := e.store.SaveConversation(conv); err != nil {
		e.logger.Warn("failed to merge server conversation", zap.Error(err))
	}
}

// modelFor returns the conversation's model, falling back to the
// session default.
func (e *Engine) modelFor(conversationID string) string {
	conv, err := e.store.GetConversation(conversationID)
	if err != nil || conv.Model == "" {
		return e.defaultModel
	}
	return conv.Model
}

// =============================================================================
// STREAM EXECUTION
// =============================================================================

// runStream opens a response stream for one action and blocks until a
// terminal outcome. The streamed content lands in the conversation's
// timeline through the callbacks; on failure the partial assistant
// message is discarded so a retried action starts from a clean tail.
func (e *Engine) runStream(ctx context.Context, action *model.QueuedAction, body any) error {
	conversationID := action.ConversationID

	tl, err := e.Timeline(conversationID)
	if err != nil {
		return &api.TransientError{Op: "load timeline", Err: err}
	}

	// A replayed action may find the previous attempt's stream still
	// registered. One stream per conversation; the old one loses.
	e.abortActive(conversationID)

	assistant := model.NewAssistantMessage(conversationID)
	if err := tl.Append(assistant); err != nil {
		return &api.TransientError{Op: "append assistant message", Err: err}
	}

	cb := stream.Callbacks{
		OnDelta: func(content string) {
			tl.UpdateLast(content)
		},
		OnDone: func(serverMessageID string) {
			assistant.ConfirmID(serverMessageID)
			tl.FinalizeLast()
		},
	}

	h, err := e.ingestor.Open(ctx, stream.Request{
		ConversationID: conversationID,
		ActionID:       action.ID,
		Body:           body,
	}, cb)
	if err != nil {
		e.rollback(tl, assistant.ID)
		return err
	}

	e.setActive(conversationID, h)
	defer e.clearActive(conversationID, h)

	if werr := h.Wait(); werr != nil {
		e.rollback(tl, assistant.ID)
		e.persistTimeline(conversationID)
		return werr
	}

	// Terminal success, including user abort: keep what arrived.
	tokens := telemetry.EstimateMessage(assistant)
	e.tracker.Record(conversationID, tokens)
	e.recordUsage(conversationID, tokens)
	e.persistTimeline(conversationID)

	e.logger.Debug("stream completed",
		zap.String("conversation_id", conversationID),
		zap.String("action_id", action.ID),
		zap.Int("tokens_estimated", tokens))
	return nil
}

// rollback discards the attempt's assistant placeholder and anything
// appended after it, so a retried action starts from a clean tail.
// Removing by the placeholder's own id works even when the attempt ran
// against an empty timeline.
func (e *Engine) rollback(tl *timeline.Timeline, placeholderID string) {
	if _, err := tl.TruncateFrom(placeholderID); err != nil {
		e.logger.Warn("failed to roll back partial response", zap.Error(err))
	}
}

// recordUsage folds an estimate into the conversation's running total.
func (e *Engine) recordUsage(conversationID string, tokens int) {
	if tokens <= 0 {
		return
	}
	conv, err := e.store.GetConversation(conversationID)
	if err != nil {
		return
	}
	conv.TokensUsed += tokens
	if err := e.store.SaveConversation(conv); err != nil {
		e.logger.Warn("failed to record usage", zap.Error(err))
	}
}
