// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package hooks receives lifecycle notifications from the agent CLI's hook
// bridge over a Unix socket, one JSON object per connection.
package hooks

// Hook event names, the fixed vocabulary of the bridge.
const (
	EventPreToolUse        = "PreToolUse"
	EventPostToolUse       = "PostToolUse"
	EventPermissionRequest = "PermissionRequest"
	EventNotification      = "Notification"
	EventStop              = "Stop"
	EventSubagentStop      = "SubagentStop"
	EventPreCompact        = "PreCompact"
	EventSessionStart      = "SessionStart"
	EventSessionEnd        = "SessionEnd"
)

// Notification is the inbound hook payload. Field names match what the
// bridge script sends.
type Notification struct {
	SessionID        string         `json:"session_id"`
	WorkDir          string         `json:"cwd"`
	Event            string         `json:"event"`
	Status           string         `json:"status,omitempty"`
	PID              int            `json:"pid,omitempty"`
	TTY              string         `json:"tty,omitempty"`
	TTYValid         bool           `json:"tty_valid,omitempty"`
	Multiplexer      bool           `json:"multiplexer,omitempty"`
	Tool             string         `json:"tool,omitempty"`
	ToolInput        map[string]any `json:"tool_input,omitempty"`
	ToolUseID        string         `json:"tool_use_id,omitempty"`
	NotificationType string         `json:"notification_type,omitempty"`
	Message          string         `json:"message,omitempty"`
	ExpectsResponse  bool           `json:"expects_response,omitempty"`
}

// Decision is the reply written back on a held permission-request
// connection.
type Decision struct {
	Decision string `json:"decision"` // "allow" or "deny"
	Reason   string `json:"reason,omitempty"`
}
