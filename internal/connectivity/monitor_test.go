// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeProber scripts probe outcomes.
type fakeProber struct {
	err   error
	calls int
}

func (f *fakeProber) Probe(ctx context.Context) error {
	f.calls++
	return f.err
}

func testConfig() Config {
	// Effectively unlimited for tests so CheckNow always probes.
	return Config{ProbeInterval: time.Microsecond, ProbeBurst: 1000}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestMonitor_StartsOffline(t *testing.T) {
	m := NewMonitor(&fakeProber{}, testConfig(), nil)
	if m.Online() {
		t.Error("monitor must start offline until a probe confirms")
	}
}

func TestMonitor_ProbeSuccessConfirmsOnline(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(p, testConfig(), nil)

	if !m.CheckNow(context.Background()) {
		t.Error("probe success should bring the monitor online")
	}
	if got := m.State(); !got.Online || got.ReconnectAttempts != 0 {
		t.Errorf("state = %+v, want online with zero attempts", got)
	}
}

func TestMonitor_FailedProbeIncrementsAttempts(t *testing.T) {
	p := &fakeProber{err: errors.New("unreachable")}
	m := NewMonitor(p, testConfig(), nil)

	m.CheckNow(context.Background())
	m.CheckNow(context.Background())
	m.CheckNow(context.Background())

	if got := m.State(); got.Online || got.ReconnectAttempts != 3 {
		t.Errorf("state = %+v, want offline with 3 attempts", got)
	}
}

func TestMonitor_AttemptsResetOnOnline(t *testing.T) {
	p := &fakeProber{err: errors.New("unreachable")}
	m := NewMonitor(p, testConfig(), nil)

	m.CheckNow(context.Background())
	m.CheckNow(context.Background())

	p.err = nil
	m.CheckNow(context.Background())

	if got := m.State(); !got.Online || got.ReconnectAttempts != 0 {
		t.Errorf("state = %+v, want attempts reset to 0 on online", got)
	}
}

func TestMonitor_ReportFailureWhileOnline(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(p, testConfig(), nil)
	m.CheckNow(context.Background())

	m.ReportFailure()
	if m.Online() {
		t.Error("transport failure while online should transition offline")
	}

	// No-op while already offline.
	m.ReportFailure()
	if m.Online() {
		t.Error("repeated failure reports must not flip state")
	}
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func TestMonitor_SubscribersNotifiedOnTransitions(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(p, testConfig(), nil)

	var transitions []bool
	m.Subscribe(func(s State) {
		transitions = append(transitions, s.Online)
	})

	m.CheckNow(context.Background()) // offline -> online
	m.ReportFailure()                // online -> offline
	m.CheckNow(context.Background()) // offline -> online

	want := []bool{true, false, true}
	if len(transitions) != len(want) {
		t.Fatalf("got %d transitions, want %d", len(transitions), len(want))
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestMonitor_NoNotificationWithoutTransition(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(p, testConfig(), nil)

	count := 0
	m.Subscribe(func(State) { count++ })

	m.CheckNow(context.Background())
	m.CheckNow(context.Background())
	m.CheckNow(context.Background())

	if count != 1 {
		t.Errorf("notifications = %d, want 1 (only the transition)", count)
	}
}

// =============================================================================
// RATE LIMITING
// =============================================================================

func TestMonitor_ProbesRateLimited(t *testing.T) {
	p := &fakeProber{err: errors.New("down")}
	m := NewMonitor(p, Config{ProbeInterval: time.Hour, ProbeBurst: 1}, nil)

	m.CheckNow(context.Background())
	m.CheckNow(context.Background())
	m.CheckNow(context.Background())

	if p.calls != 1 {
		t.Errorf("probe calls = %d, want 1 (limiter pacing)", p.calls)
	}
}
