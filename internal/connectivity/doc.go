// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package connectivity tracks reachability of the relaychat service.
//
// The Monitor holds the online ⇄ offline state machine. Transitions to
// offline happen on observed transport failures or failed probes;
// transitions to online require a successful health probe, so a flaky
// network signal cannot flap the state. The reconnect-attempt counter
// grows per failed probe and resets on a confirmed online transition.
//
// Probes are paced with a rate limiter; the action queue subscribes to
// transitions and drains when the service comes back.
package connectivity
