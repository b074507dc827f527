// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// DELTA BUFFER
// =============================================================================

// DeltaBuffer batches streamed content between renders. Deltas arrive
// on the stream reader goroutine far faster than a terminal can paint;
// the buffer accumulates them and releases a batch when either enough
// deltas have piled up or the frame interval has elapsed. Rendering at
// every delta causes flicker and burns CPU for nothing.
type DeltaBuffer struct {
	mu        sync.Mutex
	pending   strings.Builder
	deltas    int
	lastFlush time.Time

	batchSize   int
	minInterval time.Duration
}

const (
	defaultBatchSize = 12
	defaultMaxFPS    = 30
)

// NewDeltaBuffer creates a buffer tuned for smooth terminal rendering.
func NewDeltaBuffer() *DeltaBuffer {
	return &DeltaBuffer{
		batchSize:   defaultBatchSize,
		minInterval: time.Second / defaultMaxFPS,
		lastFlush:   time.Now(),
	}
}

// Write adds one delta. Called from the stream goroutine.
func (b *DeltaBuffer) Write(delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending.WriteString(delta)
	b.deltas++
}

// Flush returns the accumulated content when a batch or time threshold
// has been reached. Called from the Bubble Tea update loop.
func (b *DeltaBuffer) Flush() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending.Len() == 0 {
		return "", false
	}
	if b.deltas < b.batchSize && time.Since(b.lastFlush) < b.minInterval {
		return "", false
	}
	return b.drainLocked(), true
}

// Drain returns whatever is pending regardless of thresholds. Used on
// finalize so the tail of a response never waits for the next frame.
func (b *DeltaBuffer) Drain() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending.Len() == 0 {
		return "", false
	}
	return b.drainLocked(), true
}

func (b *DeltaBuffer) drainLocked() string {
	content := b.pending.String()
	b.pending.Reset()
	b.deltas = 0
	b.lastFlush = time.Now()
	return content
}

// =============================================================================
// FRAME TICK
// =============================================================================

// frameTickMsg drives the capped render loop during streaming.
type frameTickMsg time.Time

// frameTick schedules the next render check.
func frameTick() tea.Cmd {
	return tea.Tick(time.Second/defaultMaxFPS, func(t time.Time) tea.Msg {
		return frameTickMsg(t)
	})
}
