// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"github.com/wingedpig/lookout/internal/hooks"
	"github.com/wingedpig/lookout/internal/transcript"
)

// Event is the closed set of store mutations. Every producer dispatches one
// of the variants below; nothing mutates session state directly.
type Event interface {
	sessionID() string
}

// HookEvent carries an inbound hook notification.
type HookEvent struct {
	Notification hooks.Notification
}

func (e HookEvent) sessionID() string { return e.Notification.SessionID }

// PermissionOutcome classifies how a pending permission was resolved.
type PermissionOutcome string

const (
	PermissionApproved     PermissionOutcome = "approved"
	PermissionDenied       PermissionOutcome = "denied"
	PermissionSocketFailed PermissionOutcome = "socket_failed"
)

// PermissionResolvedEvent resolves a pending tool approval.
type PermissionResolvedEvent struct {
	SessionID string
	ToolUseID string
	Outcome   PermissionOutcome
	Reason    string
}

func (e PermissionResolvedEvent) sessionID() string { return e.SessionID }

// FileUpdatedEvent is the authoritative log re-sync feeding parser output
// back into the store. Offset is the parser's byte position after the read.
type FileUpdatedEvent struct {
	SessionID string
	Result    *transcript.ParseResult
	Summary   transcript.Summary
	Offset    int64
}

func (e FileUpdatedEvent) sessionID() string { return e.SessionID }

// ToolCompletedEvent records a tool outcome, from either signal path (hook
// PostToolUse or log-derived tool_result). Idempotent at the store.
type ToolCompletedEvent struct {
	SessionID  string
	ToolUseID  string
	Result     string
	IsError    bool
	Structured transcript.Structured
}

func (e ToolCompletedEvent) sessionID() string { return e.SessionID }

// InterruptEvent reports a user interrupt observed in the transcript.
type InterruptEvent struct {
	SessionID string
}

func (e InterruptEvent) sessionID() string { return e.SessionID }

// ClearEvent marks the session for clear reconciliation on the next
// file-updated event.
type ClearEvent struct {
	SessionID string
}

func (e ClearEvent) sessionID() string { return e.SessionID }

// SessionEndedEvent removes a session and cancels its pending resync.
type SessionEndedEvent struct {
	SessionID string
	Reason    string
}

func (e SessionEndedEvent) sessionID() string { return e.SessionID }

// LoadHistoryEvent rebuilds a session's chat history from byte zero.
type LoadHistoryEvent struct {
	SessionID string
}

func (e LoadHistoryEvent) sessionID() string { return e.SessionID }

// ArchiveEvent marks a session archived without removing it.
type ArchiveEvent struct {
	SessionID string
}

func (e ArchiveEvent) sessionID() string { return e.SessionID }

// SubagentToolsEvent delivers a subagent's full current tool list, reported
// by the agent-log watcher when new tool IDs appear.
type SubagentToolsEvent struct {
	SessionID string
	AgentID   string
	Tools     []transcript.AgentTool
}

func (e SubagentToolsEvent) sessionID() string { return e.SessionID }
