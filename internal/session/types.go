// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session owns all observed-session state. The Store is the single
// writer: every producer (hook listener, watchers, scheduler, health checker,
// user actions) funnels through Dispatch, and a sorted snapshot is
// republished after each processed event.
package session

import (
	"path/filepath"
	"time"

	"github.com/wingedpig/lookout/internal/phase"
	"github.com/wingedpig/lookout/internal/transcript"
)

// ItemKind identifies a chat item variant.
type ItemKind string

const (
	ItemUser        ItemKind = "user"
	ItemAssistant   ItemKind = "assistant"
	ItemTool        ItemKind = "tool"
	ItemThinking    ItemKind = "thinking"
	ItemInterrupted ItemKind = "interrupted"
)

// ToolStatus is the lifecycle state of one tool invocation.
type ToolStatus string

const (
	StatusRunning            ToolStatus = "running"
	StatusWaitingForApproval ToolStatus = "waiting_for_approval"
	StatusSuccess            ToolStatus = "success"
	StatusError              ToolStatus = "error"
	StatusInterrupted        ToolStatus = "interrupted"
)

// Terminal reports whether the status is final. Completions for tools
// already in a terminal status are ignored.
func (s ToolStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusInterrupted
}

// ToolCall is the tracked state of one tool invocation.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Input      map[string]string      `json:"input,omitempty"`
	Status     ToolStatus             `json:"status"`
	Result     string                 `json:"result,omitempty"`
	Structured transcript.Structured  `json:"structured,omitempty"`
	Subagent   []transcript.AgentTool `json:"subagent,omitempty"`
}

// ChatItem is a display-stable conversation unit. Identity is the tool
// invocation ID for tool items and (messageUUID, blockKind, blockIndex) for
// everything else, so re-parses never duplicate an item.
type ChatItem struct {
	ID        string    `json:"id"`
	Kind      ItemKind  `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Tool      *ToolCall `json:"tool,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one observed agent instance. Owned exclusively by the Store;
// mutated only through event processing.
type Session struct {
	ID          string
	WorkDir     string
	ProjectName string
	PID         int
	TTY         string
	Multiplexer bool
	Phase       phase.Phase
	Items       []*ChatItem
	Tools       *ToolTracker
	Subagents   *SubagentState
	Summary     transcript.Summary
	Archived    bool

	// NeedsClearReconcile defers chat-item removal after a detected clear to
	// the next file-updated event, so removal acts on fresh parser truth.
	NeedsClearReconcile bool

	CreatedAt    time.Time
	LastActivity time.Time
}

// TranscriptPath returns the session's transcript location under root.
func (s *Session) TranscriptPath(root string) string {
	return transcript.SessionPath(root, s.WorkDir, s.ID)
}

func (s *Session) findItem(id string) *ChatItem {
	for _, item := range s.Items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (s *Session) findTool(toolUseID string) *ToolCall {
	if item := s.findItem(toolUseID); item != nil && item.Tool != nil {
		return item.Tool
	}
	return nil
}

// SessionView is the read-only projection of a session published to
// consumers.
type SessionView struct {
	ID           string             `json:"id"`
	WorkDir      string             `json:"work_dir"`
	ProjectName  string             `json:"project_name"`
	PID          int                `json:"pid,omitempty"`
	TTY          string             `json:"tty,omitempty"`
	Multiplexer  bool               `json:"multiplexer,omitempty"`
	Phase        phase.Phase        `json:"phase"`
	Items        []ChatItem         `json:"items"`
	Summary      transcript.Summary `json:"summary"`
	Archived     bool               `json:"archived,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActivity time.Time          `json:"last_activity"`
}

func (s *Session) view() SessionView {
	items := make([]ChatItem, 0, len(s.Items))
	for _, item := range s.Items {
		copied := *item
		if item.Tool != nil {
			tool := *item.Tool
			copied.Tool = &tool
		}
		items = append(items, copied)
	}
	return SessionView{
		ID:           s.ID,
		WorkDir:      s.WorkDir,
		ProjectName:  s.ProjectName,
		PID:          s.PID,
		TTY:          s.TTY,
		Multiplexer:  s.Multiplexer,
		Phase:        s.Phase,
		Items:        items,
		Summary:      s.Summary,
		Archived:     s.Archived,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
	}
}

// projectName derives a display name from a working directory.
func projectName(workDir string) string {
	if workDir == "" {
		return ""
	}
	return filepath.Base(workDir)
}
