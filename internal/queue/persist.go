// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package queue

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/util"
)

// =============================================================================
// DURABLE SLOT
// =============================================================================

// Slot is the durable store for the pending-action list: one JSON file,
// read on startup, rewritten whole on every queue mutation. Writes are
// always full-replace through an atomic rename, so a crash mid-write
// can never leave a torn file behind.
type Slot struct {
	path string
}

// NewSlot creates a slot backed by the given file path.
func NewSlot(path string) *Slot {
	return &Slot{path: path}
}

// slotFile is the on-disk shape. The version field exists so a future
// layout change can migrate instead of discarding the queue.
type slotFile struct {
	Version int                   `json:"version"`
	Actions []*model.QueuedAction `json:"actions"`
}

const slotVersion = 1

// Save persists the full pending set.
func (s *Slot) Save(actions []*model.QueuedAction) error {
	data, err := json.MarshalIndent(slotFile{Version: slotVersion, Actions: actions}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}
	if err := util.AtomicWriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	return nil
}

// Load reads the persisted pending set. A missing file is an empty
// queue, not an error. Loaded actions come back pending: an action that
// was in flight when the process died must be replayed, which is what
// at-least-once delivery means.
func (s *Slot) Load() ([]*model.QueuedAction, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	var f slotFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode queue: %w", err)
	}

	for _, a := range f.Actions {
		a.Status = model.StatusPending
	}
	return f.Actions, nil
}
