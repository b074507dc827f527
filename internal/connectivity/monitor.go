// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package connectivity tracks reachability of the relaychat service.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// STATE
// =============================================================================

// State is a snapshot of the monitor: whether the service is reachable
// and how many reconnect attempts have failed since it last was.
// ReconnectAttempts resets to zero on any confirmed transition to online.
type State struct {
	Online            bool
	ReconnectAttempts int
}

// Listener receives state snapshots on every transition.
type Listener func(State)

// Prober confirms reachability with a cheap round trip. *api.Client
// satisfies this.
type Prober interface {
	Probe(ctx context.Context) error
}

// =============================================================================
// MONITOR
// =============================================================================

// Monitor is the online ⇄ offline state machine.
//
// Raw signals (a failed request, a resumed network interface) are
// reported by callers; a transition to online additionally requires a
// probe success so a flaky signal cannot flap the state. On the offline
// transition subscribers are notified and nothing else happens:
// in-flight streams are left to fail naturally.
type Monitor struct {
	mu                sync.Mutex
	online            bool
	reconnectAttempts int
	listeners         []Listener

	prober  Prober
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Config holds monitor configuration.
type Config struct {
	// ProbeInterval is the cadence of the background probe loop.
	ProbeInterval time.Duration

	// ProbeBurst allows this many immediate probes before the limiter
	// paces them at one per ProbeInterval.
	ProbeBurst int
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		ProbeInterval: 10 * time.Second,
		ProbeBurst:    3,
	}
}

// NewMonitor creates a monitor that starts offline; the first probe
// success brings it online.
func NewMonitor(prober Prober, cfg Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultConfig().ProbeInterval
	}
	if cfg.ProbeBurst <= 0 {
		cfg.ProbeBurst = DefaultConfig().ProbeBurst
	}
	return &Monitor{
		prober:  prober,
		limiter: rate.NewLimiter(rate.Every(cfg.ProbeInterval), cfg.ProbeBurst),
		logger:  logger,
	}
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{Online: m.online, ReconnectAttempts: m.reconnectAttempts}
}

// Online reports whether the service is currently reachable.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a listener for state transitions. Listeners run
// synchronously after the transition, outside the lock.
func (m *Monitor) Subscribe(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// =============================================================================
// SIGNALS
// =============================================================================

// ReportFailure records an observed transport failure. While online
// this transitions to offline immediately; transport evidence needs no
// probe confirmation in that direction.
func (m *Monitor) ReportFailure() {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return
	}
	m.online = false
	state := State{Online: false, ReconnectAttempts: m.reconnectAttempts}
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	m.logger.Info("connectivity lost")
	for _, fn := range listeners {
		fn(state)
	}
}

// CheckNow runs one probe, rate-limited, and applies the result to the
// state machine. Returns the resulting online state. A probe success
// while offline is what confirms the online transition.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	if !m.limiter.Allow() {
		return m.Online()
	}

	err := m.prober.Probe(ctx)

	m.mu.Lock()
	wasOnline := m.online
	var state State
	var transition bool

	switch {
	case err == nil && !wasOnline:
		m.online = true
		m.reconnectAttempts = 0
		state = State{Online: true}
		transition = true
	case err == nil:
		// Already online, nothing to do.
	case wasOnline:
		m.online = false
		state = State{Online: false, ReconnectAttempts: m.reconnectAttempts}
		transition = true
	default:
		m.reconnectAttempts++
	}
	listeners := m.snapshotListenersLocked()
	attempts := m.reconnectAttempts
	online := m.online
	m.mu.Unlock()

	if transition {
		if online {
			m.logger.Info("connectivity restored")
		} else {
			m.logger.Info("connectivity lost", zap.Error(err))
		}
		for _, fn := range listeners {
			fn(state)
		}
	} else if err != nil {
		m.logger.Debug("probe failed", zap.Int("attempts", attempts), zap.Error(err))
	}

	return online
}

// Run probes on a ticker until the context is cancelled. The limiter
// inside CheckNow keeps external CheckNow calls and this loop from
// stacking probes.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultConfig().ProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

func (m *Monitor) snapshotListenersLocked() []Listener {
	out := make([]Listener, len(m.listeners))
	copy(out, m.listeners)
	return out
}
