// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/jeranaias/relaychat/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "relaychat.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// =============================================================================
// CONVERSATION CRUD
// =============================================================================

func TestStore_SaveAndGetConversation(t *testing.T) {
	s := openTestStore(t)

	conv := model.NewConversation("test-model")
	conv.Title = "greetings"
	conv.Pinned = true
	if err := s.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	got, err := s.GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Title != "greetings" || got.Model != "test-model" || !got.Pinned {
		t.Errorf("loaded conversation = %+v", got)
	}
}

func TestStore_GetConversationNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetConversation("conv_missing")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestStore_UpsertKeepsCreatedAt(t *testing.T) {
	s := openTestStore(t)

	conv := model.NewConversation("m")
	if err := s.SaveConversation(conv); err != nil {
		t.Fatal(err)
	}
	first, _ := s.GetConversation(conv.ID)

	conv.Title = "renamed"
	if err := s.SaveConversation(conv); err != nil {
		t.Fatal(err)
	}
	second, _ := s.GetConversation(conv.ID)

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("upsert must not rewrite created_at")
	}
	if second.Title != "renamed" {
		t.Errorf("Title = %q", second.Title)
	}
}

func TestStore_DeleteConversation(t *testing.T) {
	s := openTestStore(t)

	conv := model.NewConversation("m")
	_ = s.SaveConversation(conv)
	_ = s.SaveMessages(conv.ID, []*model.Message{model.NewUserMessage(conv.ID, "hi")})

	if err := s.DeleteConversation(conv.ID); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	if _, err := s.GetConversation(conv.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Error("conversation should be gone")
	}
	msgs, err := s.LoadMessages(conv.ID)
	if err != nil || len(msgs) != 0 {
		t.Errorf("messages should be gone, got %d (%v)", len(msgs), err)
	}

	if err := s.DeleteConversation("conv_missing"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

// =============================================================================
// MESSAGES
// =============================================================================

func TestStore_SaveAndLoadMessages(t *testing.T) {
	s := openTestStore(t)

	conv := model.NewConversation("m")
	_ = s.SaveConversation(conv)

	u := model.NewUserMessage(conv.ID, "hi")
	a := model.NewAssistantMessage(conv.ID)
	a.AppendDelta("hello")
	a.Finalize()
	tool := model.NewToolMessage(conv.ID, "search", "result text")

	if err := s.SaveMessages(conv.ID, []*model.Message{u, a, tool}); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}

	got, err := s.LoadMessages(conv.ID)
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Role != model.RoleUser || got[0].Content != "hi" {
		t.Errorf("msg[0] = %+v", got[0])
	}
	if got[1].Role != model.RoleAssistant || got[1].Content != "hello" {
		t.Errorf("msg[1] = %+v", got[1])
	}
	if got[2].ToolName != "search" || got[2].ToolOutput != "result text" {
		t.Errorf("msg[2] = %+v", got[2])
	}
	for i, m := range got {
		if m.IsStreaming {
			t.Errorf("msg[%d] loaded as streaming", i)
		}
	}
}

func TestStore_SaveMessagesFullReplace(t *testing.T) {
	s := openTestStore(t)

	conv := model.NewConversation("m")
	_ = s.SaveConversation(conv)

	first := []*model.Message{
		model.NewUserMessage(conv.ID, "one"),
		model.NewUserMessage(conv.ID, "two"),
	}
	_ = s.SaveMessages(conv.ID, first)

	// Truncated timeline writes fewer messages; the old tail must not linger.
	_ = s.SaveMessages(conv.ID, first[:1])

	got, _ := s.LoadMessages(conv.ID)
	if len(got) != 1 || got[0].Content != "one" {
		t.Errorf("full replace failed, got %d messages", len(got))
	}
}

// =============================================================================
// LISTING / BRANCHES
// =============================================================================

func TestStore_ListConversations(t *testing.T) {
	s := openTestStore(t)

	a := model.NewConversation("m")
	b := model.NewConversation("m")
	_ = s.SaveConversation(a)
	_ = s.SaveConversation(b)
	_ = s.SaveMessages(a.ID, []*model.Message{model.NewUserMessage(a.ID, "first question here")})

	// b was saved last, so it sorts first.
	list, err := s.ListConversations()
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != b.ID {
		t.Errorf("most recently updated should sort first")
	}

	for _, m := range list {
		if m.ID == a.ID {
			if m.MessageCount != 1 || m.Preview != "first question here" {
				t.Errorf("meta = %+v", m)
			}
		}
	}
}

func TestStore_Children(t *testing.T) {
	s := openTestStore(t)

	root := model.NewConversation("m")
	branch := model.NewConversation("m")
	branch.ParentID = root.ID
	branch.BranchName = "alt take"
	_ = s.SaveConversation(root)
	_ = s.SaveConversation(branch)

	kids, err := s.Children(root.ID)
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(kids) != 1 || kids[0].ID != branch.ID || kids[0].BranchName != "alt take" {
		t.Errorf("children = %+v", kids)
	}
}
