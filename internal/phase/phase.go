// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package phase implements the session lifecycle state machine.
package phase

import (
	"time"
)

// Kind is the coarse lifecycle state of a session.
type Kind string

const (
	Idle               Kind = "idle"
	Processing         Kind = "processing"
	WaitingForInput    Kind = "waiting_for_input"
	WaitingForApproval Kind = "waiting_for_approval"
	Compacting         Kind = "compacting"
	Ended              Kind = "ended"
)

// PermissionContext describes the tool invocation a session is blocked on
// while in WaitingForApproval.
type PermissionContext struct {
	ToolUseID  string    `json:"tool_use_id"`
	ToolName   string    `json:"tool_name"`
	Input      string    `json:"input,omitempty"` // serialized snapshot of the tool input
	ReceivedAt time.Time `json:"received_at"`
}

// Phase is a session's lifecycle state plus the pending-permission payload
// when the state is WaitingForApproval.
type Phase struct {
	Kind       Kind               `json:"kind"`
	Permission *PermissionContext `json:"permission,omitempty"`
}

// NewIdle returns the initial phase for a freshly created session.
func NewIdle() Phase {
	return Phase{Kind: Idle}
}

// NewWaitingForApproval returns a WaitingForApproval phase anchored to ctx.
func NewWaitingForApproval(ctx PermissionContext) Phase {
	return Phase{Kind: WaitingForApproval, Permission: &ctx}
}

// Equal compares kind and permission payload. Two WaitingForApproval phases
// anchored to different tool invocations are not equal.
func (p Phase) Equal(o Phase) bool {
	if p.Kind != o.Kind {
		return false
	}
	if (p.Permission == nil) != (o.Permission == nil) {
		return false
	}
	if p.Permission != nil && p.Permission.ToolUseID != o.Permission.ToolUseID {
		return false
	}
	return true
}

// transitions is the allowed transition table. Self-transitions and
// transitions to Ended are handled separately and do not appear here.
var transitions = map[Kind]map[Kind]bool{
	Idle: {
		Processing:         true,
		WaitingForApproval: true,
		Compacting:         true,
	},
	Processing: {
		WaitingForInput:    true,
		WaitingForApproval: true,
		Compacting:         true,
		Idle:               true,
	},
	WaitingForInput: {
		Processing: true,
		Idle:       true,
		Compacting: true,
	},
	WaitingForApproval: {
		Processing:      true,
		Idle:            true,
		WaitingForInput: true,
		// Re-entry is allowed so the pending tool can be swapped.
		WaitingForApproval: true,
	},
	Compacting: {
		Processing:      true,
		Idle:            true,
		WaitingForInput: true,
	},
	Ended: {},
}

// CanTransition reports whether the phase may move to the target kind.
// Self-transitions are always allowed, and any state may move to Ended.
// Ended is terminal.
func (p Phase) CanTransition(to Kind) bool {
	if p.Kind == Ended {
		return false
	}
	if to == p.Kind || to == Ended {
		return true
	}
	return transitions[p.Kind][to]
}

// Transition applies the target phase if the transition is allowed.
// It returns the resulting phase and whether the transition was accepted;
// on rejection the receiver is returned unchanged.
func (p Phase) Transition(to Phase) (Phase, bool) {
	if !p.CanTransition(to.Kind) {
		return p, false
	}
	return to, true
}
