// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/wingedpig/lookout/internal/transcript"
)

// ToolTracker holds per-session tool bookkeeping: the seen-ID dedup gate, the
// in-flight map, and the last log sync position.
type ToolTracker struct {
	seen     map[string]bool
	inflight map[string]time.Time

	LastOffset int64
	LastSync   time.Time
}

// NewToolTracker creates empty tool bookkeeping.
func NewToolTracker() *ToolTracker {
	return &ToolTracker{
		seen:     make(map[string]bool),
		inflight: make(map[string]time.Time),
	}
}

// MarkSeen registers a tool invocation ID. Returns false when the ID was
// already registered; a duplicate may never create a second chat item.
func (t *ToolTracker) MarkSeen(id string) bool {
	if t.seen[id] {
		return false
	}
	t.seen[id] = true
	return true
}

// Seen reports whether an invocation ID has been registered.
func (t *ToolTracker) Seen(id string) bool { return t.seen[id] }

// Start records a tool as in flight.
func (t *ToolTracker) Start(id string, at time.Time) {
	t.inflight[id] = at
}

// Finish removes a tool from the in-flight map.
func (t *ToolTracker) Finish(id string) {
	delete(t.inflight, id)
}

// InFlight reports whether a tool is currently running.
func (t *ToolTracker) InFlight(id string) bool {
	_, ok := t.inflight[id]
	return ok
}

// TaskContext tracks one Task tool's nested subagent execution.
type TaskContext struct {
	ToolUseID   string
	AgentID     string
	Description string
	StartedAt   time.Time
	Tools       []transcript.AgentTool
}

// SubagentState tracks nested Task executions for one session. The active
// stack is insertion ordered so nested tools attribute to the most recently
// started task when several run concurrently.
type SubagentState struct {
	tasks    map[string]*TaskContext
	active   []string          // task IDs, oldest first
	agents   map[string]string // agent ID -> task ID
	descByID map[string]string // agent ID -> description, kept for display
}

// NewSubagentState creates empty subagent bookkeeping.
func NewSubagentState() *SubagentState {
	return &SubagentState{
		tasks:    make(map[string]*TaskContext),
		agents:   make(map[string]string),
		descByID: make(map[string]string),
	}
}

// StartTask registers a Task invocation and pushes it onto the active stack.
func (s *SubagentState) StartTask(toolUseID, description string, at time.Time) {
	if _, exists := s.tasks[toolUseID]; exists {
		return
	}
	s.tasks[toolUseID] = &TaskContext{
		ToolUseID:   toolUseID,
		Description: description,
		StartedAt:   at,
	}
	s.active = append(s.active, toolUseID)
}

// StopTask removes a task from the active stack, keeping its context for
// later attachment of straggler tool reports.
func (s *SubagentState) StopTask(toolUseID string) {
	for i, id := range s.active {
		if id == toolUseID {
			s.active = append(s.active[:i], s.active[i+1:]...)
			return
		}
	}
}

// PopActive removes and returns the most recently started active task ID,
// or empty when nothing is active.
func (s *SubagentState) PopActive() string {
	if len(s.active) == 0 {
		return ""
	}
	id := s.active[len(s.active)-1]
	s.active = s.active[:len(s.active)-1]
	return id
}

// ActiveTask returns the most recently started active task ID, or empty.
func (s *SubagentState) ActiveTask() string {
	if len(s.active) == 0 {
		return ""
	}
	return s.active[len(s.active)-1]
}

// AnyActive reports whether a Task is currently running.
func (s *SubagentState) AnyActive() bool { return len(s.active) > 0 }

// BindAgent associates a task with its backing agent log once the Task's
// structured result reveals the agent ID.
func (s *SubagentState) BindAgent(toolUseID, agentID string) {
	ctx, ok := s.tasks[toolUseID]
	if !ok {
		return
	}
	ctx.AgentID = agentID
	s.agents[agentID] = toolUseID
	if ctx.Description != "" {
		s.descByID[agentID] = ctx.Description
	}
}

// AgentBound reports whether an agent log is already bound to a task.
func (s *SubagentState) AgentBound(agentID string) bool {
	_, ok := s.agents[agentID]
	return ok
}

// TaskForAgent resolves an agent-log ID to its owning task ID. Falls back to
// the most recent active task for reports that arrive before the binding.
func (s *SubagentState) TaskForAgent(agentID string) string {
	if id, ok := s.agents[agentID]; ok {
		return id
	}
	return s.ActiveTask()
}

// Task returns the context for a task ID, or nil.
func (s *SubagentState) Task(toolUseID string) *TaskContext {
	return s.tasks[toolUseID]
}

// AgentDescription returns the recorded description for an agent log.
func (s *SubagentState) AgentDescription(agentID string) string {
	return s.descByID[agentID]
}
