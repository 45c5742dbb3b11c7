// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/wingedpig/lookout/internal/events"
	"github.com/wingedpig/lookout/internal/hooks"
	"github.com/wingedpig/lookout/internal/phase"
	"github.com/wingedpig/lookout/internal/transcript"
)

// Resyncer schedules debounced transcript re-parses. The store cancels a
// session's pending resync when the session ends.
type Resyncer interface {
	Schedule(sessionID, path string)
	Reload(sessionID, path string)
	Cancel(sessionID string)
}

// PermissionResponder answers a held permission-request connection. A
// returned error means the requester can no longer be reached.
type PermissionResponder interface {
	Respond(sessionID, toolUseID string, allow bool, reason string) error
}

// Store is the single authoritative owner of all session records. Dispatch
// is the sole mutating entry point; each event is processed to completion
// under one lock, then the sorted snapshot is republished on the bus.
type Store struct {
	bus        events.EventBus
	root       string // transcript root directory
	clearGrace time.Duration
	now        func() time.Time

	resync    Resyncer
	responder PermissionResponder

	mu       sync.Mutex
	sessions map[string]*Session
}

// DefaultClearGrace protects hook-created placeholders during clear
// reconciliation: items younger than this survive even when absent from the
// freshly parsed log.
const DefaultClearGrace = 2 * time.Second

// NewStore creates a session store publishing snapshots on bus. Transcript
// paths are resolved under root.
func NewStore(bus events.EventBus, root string) *Store {
	return &Store{
		bus:        bus,
		root:       root,
		clearGrace: DefaultClearGrace,
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
}

// SetResyncer wires the sync scheduler. Must be called before Dispatch.
func (s *Store) SetResyncer(r Resyncer) { s.resync = r }

// SetResponder wires the hook listener's permission reply path.
func (s *Store) SetResponder(r PermissionResponder) { s.responder = r }

// SetClearGrace overrides the reconciliation grace window.
func (s *Store) SetClearGrace(d time.Duration) { s.clearGrace = d }

// SetClock overrides the time source, for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// busEvent is an event queued during processing and published after the
// store lock is released.
type busEvent struct {
	typ       string
	sessionID string
	payload   map[string]interface{}
}

// Dispatch processes one event to completion and republishes the snapshot.
// Events for unknown sessions (other than hook notifications, which create
// sessions) are dropped.
func (s *Store) Dispatch(ev Event) {
	s.mu.Lock()

	var pending []busEvent
	switch e := ev.(type) {
	case HookEvent:
		s.handleHook(e.Notification, &pending)
	case PermissionResolvedEvent:
		s.withSession(e.SessionID, "permission resolved", func(sess *Session) {
			s.handlePermissionResolved(sess, e, &pending)
		})
	case FileUpdatedEvent:
		s.withSession(e.SessionID, "file updated", func(sess *Session) {
			s.handleFileUpdated(sess, e, &pending)
		})
	case ToolCompletedEvent:
		s.withSession(e.SessionID, "tool completed", func(sess *Session) {
			s.handleToolCompleted(sess, e, &pending)
		})
	case InterruptEvent:
		s.withSession(e.SessionID, "interrupt", func(sess *Session) {
			s.handleInterrupt(sess, &pending)
		})
	case ClearEvent:
		s.withSession(e.SessionID, "clear", func(sess *Session) {
			sess.NeedsClearReconcile = true
			s.schedule(sess)
		})
	case SessionEndedEvent:
		s.handleSessionEnded(e.SessionID, e.Reason, &pending)
	case LoadHistoryEvent:
		s.withSession(e.SessionID, "load history", func(sess *Session) {
			s.handleLoadHistory(sess)
		})
	case ArchiveEvent:
		s.withSession(e.SessionID, "archive", func(sess *Session) {
			sess.Archived = true
		})
	case SubagentToolsEvent:
		s.withSession(e.SessionID, "subagent tools", func(sess *Session) {
			s.handleSubagentTools(sess, e)
		})
	default:
		log.Printf("session: unhandled event %T", ev)
	}

	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	for _, be := range pending {
		s.publish(be.typ, be.sessionID, be.payload)
	}
	s.publish(events.EventSessionUpdated, "", map[string]interface{}{"sessions": snapshot})
}

// withSession runs fn against an existing session; unknown sessions are a
// logged drop, not an error.
func (s *Store) withSession(id, what string, fn func(*Session)) {
	sess, ok := s.sessions[id]
	if !ok {
		log.Printf("session: %s for unknown session %s, dropped", what, id)
		return
	}
	fn(sess)
}

func (s *Store) publish(typ, sessionID string, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	err := s.bus.Publish(context.Background(), events.Event{
		Type:      typ,
		SessionID: sessionID,
		Payload:   payload,
	})
	if err != nil {
		log.Printf("session: publish %s: %v", typ, err)
	}
}

func (s *Store) schedule(sess *Session) {
	if s.resync != nil {
		s.resync.Schedule(sess.ID, sess.TranscriptPath(s.root))
	}
}

// Snapshot returns all sessions sorted by project name, then ID.
func (s *Store) Snapshot() []SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Get returns a single session view.
func (s *Store) Get(id string) (SessionView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return SessionView{}, false
	}
	return sess.view(), true
}

func (s *Store) snapshotLocked() []SessionView {
	views := make([]SessionView, 0, len(s.sessions))
	for _, sess := range s.sessions {
		views = append(views, sess.view())
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].ProjectName != views[j].ProjectName {
			return views[i].ProjectName < views[j].ProjectName
		}
		return views[i].ID < views[j].ID
	})
	return views
}

// Approve resolves a pending permission in the requester's favor.
func (s *Store) Approve(sessionID, toolUseID string) {
	s.Dispatch(PermissionResolvedEvent{SessionID: sessionID, ToolUseID: toolUseID, Outcome: PermissionApproved})
}

// Deny resolves a pending permission against the requester.
func (s *Store) Deny(sessionID, toolUseID, reason string) {
	s.Dispatch(PermissionResolvedEvent{SessionID: sessionID, ToolUseID: toolUseID, Outcome: PermissionDenied, Reason: reason})
}

// Archive marks a session archived.
func (s *Store) Archive(sessionID string) {
	s.Dispatch(ArchiveEvent{SessionID: sessionID})
}

// Reload rebuilds a session's history from byte zero.
func (s *Store) Reload(sessionID string) {
	s.Dispatch(LoadHistoryEvent{SessionID: sessionID})
}

// --- hook notifications ---

func (s *Store) handleHook(n hooks.Notification, pending *[]busEvent) {
	if n.SessionID == "" {
		log.Printf("session: hook %s without session id, dropped", n.Event)
		return
	}

	if n.Event == hooks.EventSessionEnd {
		s.handleSessionEnded(n.SessionID, "hook", pending)
		return
	}

	now := s.now()
	sess, ok := s.sessions[n.SessionID]
	if !ok {
		sess = &Session{
			ID:          n.SessionID,
			WorkDir:     n.WorkDir,
			ProjectName: projectName(n.WorkDir),
			Phase:       phase.NewIdle(),
			Tools:       NewToolTracker(),
			Subagents:   NewSubagentState(),
			CreatedAt:   now,
		}
		s.sessions[n.SessionID] = sess
		*pending = append(*pending, busEvent{
			typ:       events.EventSessionCreated,
			sessionID: sess.ID,
			payload:   map[string]interface{}{"project": sess.ProjectName, "work_dir": sess.WorkDir},
		})
	}

	if n.WorkDir != "" && sess.WorkDir == "" {
		sess.WorkDir = n.WorkDir
		sess.ProjectName = projectName(n.WorkDir)
	}
	if n.PID != 0 {
		sess.PID = n.PID
	}
	if n.TTY != "" && n.TTYValid {
		sess.TTY = n.TTY
	}
	if n.Multiplexer {
		sess.Multiplexer = true
	}
	sess.LastActivity = now

	if target, ok := targetPhase(n, now); ok {
		s.applyPhase(sess, target)
	}

	switch n.Event {
	case hooks.EventPreToolUse:
		s.handlePreToolUse(sess, n, now, pending)
		s.schedule(sess)
	case hooks.EventPostToolUse:
		s.handlePostToolUse(sess, n)
		s.schedule(sess)
	case hooks.EventPermissionRequest:
		s.handlePermissionRequest(sess, n, now, pending)
	case hooks.EventSubagentStop:
		if id := sess.Subagents.PopActive(); id != "" {
			*pending = append(*pending, busEvent{
				typ:       events.EventSubagentStopped,
				sessionID: sess.ID,
				payload:   map[string]interface{}{"tool_use_id": id},
			})
		}
		s.schedule(sess)
	case hooks.EventStop, hooks.EventPreCompact:
		s.schedule(sess)
	}
}

// targetPhase computes the phase a hook notification implies, when any.
func targetPhase(n hooks.Notification, now time.Time) (phase.Phase, bool) {
	switch n.Event {
	case hooks.EventPreCompact:
		return phase.Phase{Kind: phase.Compacting}, true
	case hooks.EventPermissionRequest:
		if n.Tool != "" {
			return phase.NewWaitingForApproval(permissionContext(n, now)), true
		}
	case hooks.EventPreToolUse, hooks.EventPostToolUse:
		return phase.Phase{Kind: phase.Processing}, true
	case hooks.EventNotification:
		// The bridge reports idle as "idle_prompt"; an idle notification
		// outranks whatever the status field says.
		if n.NotificationType == "idle_prompt" || n.NotificationType == "idle" {
			return phase.NewIdle(), true
		}
	case hooks.EventSessionStart:
		return phase.NewIdle(), true
	}
	return phaseFromStatus(n.Status)
}

func phaseFromStatus(status string) (phase.Phase, bool) {
	switch status {
	case "processing", "working":
		return phase.Phase{Kind: phase.Processing}, true
	case "waiting_for_input", "waiting":
		return phase.Phase{Kind: phase.WaitingForInput}, true
	case "compacting":
		return phase.Phase{Kind: phase.Compacting}, true
	case "idle":
		return phase.NewIdle(), true
	case "ended":
		return phase.Phase{Kind: phase.Ended}, true
	}
	return phase.Phase{}, false
}

func permissionContext(n hooks.Notification, now time.Time) phase.PermissionContext {
	return phase.PermissionContext{
		ToolUseID:  n.ToolUseID,
		ToolName:   n.Tool,
		Input:      serializeInput(transcript.CoerceInput(n.ToolInput)),
		ReceivedAt: now,
	}
}

func serializeInput(input map[string]string) string {
	if len(input) == 0 {
		return ""
	}
	data, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	return string(data)
}

// applyPhase routes every phase change through the transition gate.
// Rejection is logged and the rest of the event's side effects proceed.
func (s *Store) applyPhase(sess *Session, target phase.Phase) {
	next, ok := sess.Phase.Transition(target)
	if !ok {
		log.Printf("session: %s rejected phase %s -> %s", sess.ID, sess.Phase.Kind, target.Kind)
		return
	}
	sess.Phase = next
}

// handlePreToolUse creates an optimistic placeholder for a starting tool.
// Nested tools running under an active Task attribute to the task instead of
// getting their own top-level item.
func (s *Store) handlePreToolUse(sess *Session, n hooks.Notification, now time.Time, pending *[]busEvent) {
	if n.ToolUseID == "" {
		return
	}
	input := transcript.CoerceInput(n.ToolInput)

	if n.Tool == "Task" {
		sess.Subagents.StartTask(n.ToolUseID, input["description"], now)
	} else if sess.Subagents.AnyActive() {
		attachNestedTool(sess, n, now)
		return
	}

	if existing := sess.findTool(n.ToolUseID); existing != nil {
		existing.Input = input
		if !existing.Status.Terminal() {
			existing.Status = StatusRunning
		}
		sess.Tools.Start(n.ToolUseID, now)
		return
	}
	if !sess.Tools.MarkSeen(n.ToolUseID) {
		return
	}
	sess.Items = append(sess.Items, &ChatItem{
		ID:   n.ToolUseID,
		Kind: ItemTool,
		Tool: &ToolCall{
			ID:     n.ToolUseID,
			Name:   n.Tool,
			Input:  input,
			Status: StatusRunning,
		},
		CreatedAt: now,
	})
	sess.Tools.Start(n.ToolUseID, now)

	*pending = append(*pending, busEvent{
		typ:       events.EventToolStarted,
		sessionID: sess.ID,
		payload:   map[string]interface{}{"tool": n.Tool, "tool_use_id": n.ToolUseID},
	})
}

// attachNestedTool records a tool under the most recently started task.
func attachNestedTool(sess *Session, n hooks.Notification, now time.Time) {
	taskID := sess.Subagents.ActiveTask()
	ctx := sess.Subagents.Task(taskID)
	if ctx == nil {
		return
	}
	for _, t := range ctx.Tools {
		if t.ToolUseID == n.ToolUseID {
			return
		}
	}
	ctx.Tools = append(ctx.Tools, transcript.AgentTool{
		ToolUseID: n.ToolUseID,
		Name:      n.Tool,
		Input:     transcript.CoerceInput(n.ToolInput),
		Timestamp: now,
	})
	if item := sess.findTool(taskID); item != nil {
		item.Subagent = ctx.Tools
	}
}

// handlePostToolUse flips a still-pending placeholder to success. The
// authoritative result arrives later via the log.
func (s *Store) handlePostToolUse(sess *Session, n hooks.Notification) {
	if n.ToolUseID == "" {
		return
	}
	if tool := sess.findTool(n.ToolUseID); tool != nil && tool.Status == StatusRunning {
		tool.Status = StatusSuccess
	}
	sess.Tools.Finish(n.ToolUseID)
	if n.Tool == "Task" {
		sess.Subagents.StopTask(n.ToolUseID)
	} else if ctx := sess.Subagents.Task(sess.Subagents.ActiveTask()); ctx != nil {
		for i := range ctx.Tools {
			if ctx.Tools[i].ToolUseID == n.ToolUseID {
				ctx.Tools[i].Completed = true
			}
		}
	}
}

func (s *Store) handlePermissionRequest(sess *Session, n hooks.Notification, now time.Time, pending *[]busEvent) {
	if n.ToolUseID == "" {
		return
	}
	if tool := sess.findTool(n.ToolUseID); tool != nil {
		if !tool.Status.Terminal() {
			tool.Status = StatusWaitingForApproval
		}
	} else if sess.Tools.MarkSeen(n.ToolUseID) {
		sess.Items = append(sess.Items, &ChatItem{
			ID:   n.ToolUseID,
			Kind: ItemTool,
			Tool: &ToolCall{
				ID:     n.ToolUseID,
				Name:   n.Tool,
				Input:  transcript.CoerceInput(n.ToolInput),
				Status: StatusWaitingForApproval,
			},
			CreatedAt: now,
		})
	}
	*pending = append(*pending, busEvent{
		typ:       events.EventPermissionRequested,
		sessionID: sess.ID,
		payload:   map[string]interface{}{"tool": n.Tool, "tool_use_id": n.ToolUseID},
	})
}

// --- permission resolution ---

func (s *Store) handlePermissionResolved(sess *Session, e PermissionResolvedEvent, pending *[]busEvent) {
	outcome := e.Outcome

	// Answer the held hook connection first; an unreachable requester
	// downgrades the outcome to a socket failure.
	if s.responder != nil && outcome != PermissionSocketFailed {
		allow := outcome == PermissionApproved
		if err := s.responder.Respond(sess.ID, e.ToolUseID, allow, e.Reason); err != nil {
			log.Printf("session: %s permission reply for %s failed: %v", sess.ID, e.ToolUseID, err)
			outcome = PermissionSocketFailed
		}
	}

	if tool := sess.findTool(e.ToolUseID); tool != nil {
		switch outcome {
		case PermissionApproved:
			tool.Status = StatusRunning
			sess.Tools.Start(e.ToolUseID, s.now())
		case PermissionDenied:
			tool.Status = StatusError
			tool.Result = denialText(e.Reason)
		case PermissionSocketFailed:
			tool.Status = StatusError
			tool.Result = "permission reply could not be delivered"
		}
	}

	s.advancePastApproval(sess, e.ToolUseID, outcome == PermissionSocketFailed)

	*pending = append(*pending, busEvent{
		typ:       events.EventPermissionResolved,
		sessionID: sess.ID,
		payload:   map[string]interface{}{"tool_use_id": e.ToolUseID, "outcome": string(outcome)},
	})
}

func denialText(reason string) string {
	if reason == "" {
		return "denied by user"
	}
	return reason
}

// advancePastApproval re-evaluates phase after a pending permission
// resolves. FIFO by chat-item order: the next still-waiting tool anchors a
// fresh WaitingForApproval; with nothing left pending the session moves to
// Processing, or Idle when the requester is gone.
func (s *Store) advancePastApproval(sess *Session, resolvedID string, socketFailed bool) {
	for _, item := range sess.Items {
		if item.Tool == nil || item.Tool.ID == resolvedID {
			continue
		}
		if item.Tool.Status == StatusWaitingForApproval {
			s.applyPhase(sess, phase.NewWaitingForApproval(phase.PermissionContext{
				ToolUseID:  item.Tool.ID,
				ToolName:   item.Tool.Name,
				Input:      serializeInput(item.Tool.Input),
				ReceivedAt: s.now(),
			}))
			return
		}
	}
	if socketFailed {
		s.applyPhase(sess, phase.NewIdle())
		return
	}
	s.applyPhase(sess, phase.Phase{Kind: phase.Processing})
}

// --- authoritative log re-sync ---

func (s *Store) handleFileUpdated(sess *Session, e FileUpdatedEvent, pending *[]busEvent) {
	if e.Result == nil {
		return
	}
	now := s.now()

	sess.Summary = e.Summary

	if e.Result.ClearDetected {
		sess.NeedsClearReconcile = true
	}
	if sess.NeedsClearReconcile {
		reconcileClear(sess, e.Result.ItemIdentities(), s.clearGrace, now)
	}

	mergeMessages(sess, e.Result.Messages, now)

	s.attachSubagentLogs(sess, e.Result, pending)

	// Two-phase commit: the log's completed-tool set overrides optimistic
	// placeholders still pending from hook signals.
	for _, item := range sess.Items {
		if item.Tool == nil || item.Tool.Status.Terminal() {
			continue
		}
		if c, ok := e.Result.Completed[item.Tool.ID]; ok {
			s.handleToolCompleted(sess, ToolCompletedEvent{
				SessionID:  sess.ID,
				ToolUseID:  c.ToolUseID,
				Result:     c.Raw,
				IsError:    c.IsError,
				Structured: c.Structured,
			}, pending)
		}
	}

	sess.Tools.LastOffset = e.Offset
	sess.Tools.LastSync = now
	sess.LastActivity = now
}

// attachSubagentLogs binds Task tools to their backing agent logs and
// attaches the agents' current tool lists. A newly discovered agent log is
// announced on the bus so a watcher can be started for it.
func (s *Store) attachSubagentLogs(sess *Session, result *transcript.ParseResult, pending *[]busEvent) {
	for _, item := range sess.Items {
		if item.Tool == nil || item.Tool.Name != "Task" {
			continue
		}
		structured := item.Tool.Structured
		if c, ok := result.Completed[item.Tool.ID]; ok && c.Structured != nil {
			structured = c.Structured
		}
		sub, ok := structured.(transcript.SubtaskResult)
		if !ok || sub.AgentID == "" {
			continue
		}
		if !sess.Subagents.AgentBound(sub.AgentID) {
			*pending = append(*pending, busEvent{
				typ:       events.EventSubagentStarted,
				sessionID: sess.ID,
				payload: map[string]interface{}{
					"agent_id": sub.AgentID,
					"work_dir": sess.WorkDir,
				},
			})
		}
		sess.Subagents.BindAgent(item.Tool.ID, sub.AgentID)

		tools, err := transcript.AgentTools(transcript.AgentPath(s.root, sess.WorkDir, sub.AgentID))
		if err != nil {
			log.Printf("session: %s agent log %s: %v", sess.ID, sub.AgentID, err)
			continue
		}
		if len(tools) > 0 {
			item.Tool.Subagent = tools
			if ctx := sess.Subagents.Task(item.Tool.ID); ctx != nil {
				ctx.Tools = tools
			}
		}
	}
}

// --- tool completion ---

func (s *Store) handleToolCompleted(sess *Session, e ToolCompletedEvent, pending *[]busEvent) {
	tool := sess.findTool(e.ToolUseID)
	if tool == nil {
		return
	}
	if tool.Status.Terminal() {
		// Both signal paths may report; the first one wins.
		return
	}

	anchored := sess.Phase.Kind == phase.WaitingForApproval &&
		sess.Phase.Permission != nil &&
		sess.Phase.Permission.ToolUseID == e.ToolUseID

	if e.IsError {
		tool.Status = StatusError
	} else {
		tool.Status = StatusSuccess
	}
	tool.Result = e.Result
	if e.Structured != nil {
		tool.Structured = e.Structured
	}
	sess.Tools.Finish(e.ToolUseID)

	if anchored {
		s.advancePastApproval(sess, e.ToolUseID, false)
	}

	*pending = append(*pending, busEvent{
		typ:       events.EventToolCompleted,
		sessionID: sess.ID,
		payload:   map[string]interface{}{"tool_use_id": e.ToolUseID, "tool": tool.Name, "is_error": e.IsError},
	})
}

// --- interrupt ---

func (s *Store) handleInterrupt(sess *Session, pending *[]busEvent) {
	sess.Subagents = NewSubagentState()
	for _, item := range sess.Items {
		if item.Tool != nil && item.Tool.Status == StatusRunning {
			item.Tool.Status = StatusInterrupted
			sess.Tools.Finish(item.Tool.ID)
		}
	}
	s.applyPhase(sess, phase.NewIdle())
	sess.LastActivity = s.now()

	*pending = append(*pending, busEvent{
		typ:       events.EventSessionInterrupted,
		sessionID: sess.ID,
	})
}

// --- session end / history ---

func (s *Store) handleSessionEnded(id, reason string, pending *[]busEvent) {
	if _, ok := s.sessions[id]; !ok {
		return
	}
	delete(s.sessions, id)
	if s.resync != nil {
		s.resync.Cancel(id)
	}
	*pending = append(*pending, busEvent{
		typ:       events.EventSessionEnded,
		sessionID: id,
		payload:   map[string]interface{}{"reason": reason},
	})
}

func (s *Store) handleLoadHistory(sess *Session) {
	sess.Items = nil
	sess.Tools = NewToolTracker()
	sess.Subagents = NewSubagentState()
	sess.NeedsClearReconcile = false
	if s.resync != nil {
		s.resync.Reload(sess.ID, sess.TranscriptPath(s.root))
	}
}

// --- subagent tool reports ---

func (s *Store) handleSubagentTools(sess *Session, e SubagentToolsEvent) {
	taskID := sess.Subagents.TaskForAgent(e.AgentID)
	if taskID == "" {
		log.Printf("session: %s tools for unattributed agent %s, dropped", sess.ID, e.AgentID)
		return
	}
	sess.Subagents.BindAgent(taskID, e.AgentID)
	if ctx := sess.Subagents.Task(taskID); ctx != nil {
		ctx.Tools = e.Tools
	}
	if tool := sess.findTool(taskID); tool != nil {
		tool.Subagent = e.Tools
	}
	sess.LastActivity = s.now()
}
