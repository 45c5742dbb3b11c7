// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/lookout/internal/events"
	"github.com/wingedpig/lookout/internal/hooks"
	"github.com/wingedpig/lookout/internal/phase"
	"github.com/wingedpig/lookout/internal/transcript"
)

type fakeResync struct {
	mu        sync.Mutex
	scheduled []string
	reloaded  []string
	cancelled []string
}

func (f *fakeResync) Schedule(sessionID, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, sessionID)
}

func (f *fakeResync) Reload(sessionID, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloaded = append(f.reloaded, sessionID)
}

func (f *fakeResync) Cancel(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, sessionID)
}

type fakeResponder struct {
	mu      sync.Mutex
	replies []bool
	err     error
}

func (f *fakeResponder) Respond(sessionID, toolUseID string, allow bool, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, allow)
	return f.err
}

func newTestStore(t *testing.T) (*Store, *fakeResync) {
	t.Helper()
	store := NewStore(nil, t.TempDir())
	resync := &fakeResync{}
	store.SetResyncer(resync)
	return store, resync
}

func hookEvent(sessionID, event string, mutate func(*hooks.Notification)) HookEvent {
	n := hooks.Notification{
		SessionID: sessionID,
		WorkDir:   "/home/user/proj",
		Event:     event,
		PID:       1234,
	}
	if mutate != nil {
		mutate(&n)
	}
	return HookEvent{Notification: n}
}

func TestHookCreatesSession(t *testing.T) {
	store, _ := newTestStore(t)

	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))

	view, ok := store.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "proj", view.ProjectName)
	assert.Equal(t, 1234, view.PID)
	assert.Equal(t, phase.Idle, view.Phase.Kind)
}

func TestPreToolUseCreatesPlaceholderOnce(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))

	pre := hookEvent("s1", hooks.EventPreToolUse, func(n *hooks.Notification) {
		n.Tool = "Bash"
		n.ToolUseID = "t1"
		n.ToolInput = map[string]any{"command": "ls"}
	})
	store.Dispatch(pre)
	store.Dispatch(pre)

	view, _ := store.Get("s1")
	require.Len(t, view.Items, 1)
	require.NotNil(t, view.Items[0].Tool)
	assert.Equal(t, StatusRunning, view.Items[0].Tool.Status)
	assert.Equal(t, phase.Processing, view.Phase.Kind)
}

func TestPreToolUseCoercesMixedTypeInput(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))

	store.Dispatch(hookEvent("s1", hooks.EventPreToolUse, func(n *hooks.Notification) {
		n.Tool = "Read"
		n.ToolUseID = "t1"
		n.ToolInput = map[string]any{
			"file_path": "/tmp/x.go",
			"limit":     float64(100),
			"todos":     []any{map[string]any{"content": "a"}},
		}
	}))

	view, _ := store.Get("s1")
	require.Len(t, view.Items, 1)
	input := view.Items[0].Tool.Input
	assert.Equal(t, "/tmp/x.go", input["file_path"])
	assert.Equal(t, "100", input["limit"])
	assert.Equal(t, `[{"content":"a"}]`, input["todos"])
}

func TestPreToolUsePublishesToolStarted(t *testing.T) {
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{HistoryMaxEvents: 100})
	t.Cleanup(func() { bus.Close() })
	store := NewStore(bus, t.TempDir())
	store.SetResyncer(&fakeResync{})

	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))
	pre := hookEvent("s1", hooks.EventPreToolUse, func(n *hooks.Notification) {
		n.Tool = "Bash"
		n.ToolUseID = "t1"
	})
	store.Dispatch(pre)
	store.Dispatch(pre)

	history, err := bus.History(events.EventFilter{Types: []string{events.EventToolStarted}})
	require.NoError(t, err)
	require.Len(t, history, 1, "one start announcement per invocation")
	assert.Equal(t, "s1", history[0].SessionID)
	assert.Equal(t, "t1", history[0].Payload["tool_use_id"])
}

func TestIdlePromptNotificationForcesIdle(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))
	store.Dispatch(hookEvent("s1", hooks.EventPreToolUse, func(n *hooks.Notification) {
		n.Tool = "Bash"
		n.ToolUseID = "t1"
	}))

	// The bridge pairs the idle prompt with status waiting_for_input; the
	// notification type wins.
	store.Dispatch(hookEvent("s1", hooks.EventNotification, func(n *hooks.Notification) {
		n.NotificationType = "idle_prompt"
		n.Status = "waiting_for_input"
	}))

	view, _ := store.Get("s1")
	assert.Equal(t, phase.Idle, view.Phase.Kind)
}

func TestPostToolUseFlipsPendingPlaceholder(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))
	store.Dispatch(hookEvent("s1", hooks.EventPreToolUse, func(n *hooks.Notification) {
		n.Tool = "Bash"
		n.ToolUseID = "t1"
	}))

	store.Dispatch(hookEvent("s1", hooks.EventPostToolUse, func(n *hooks.Notification) {
		n.Tool = "Bash"
		n.ToolUseID = "t1"
	}))

	view, _ := store.Get("s1")
	assert.Equal(t, StatusSuccess, view.Items[0].Tool.Status)
}

func TestApprovalOrderingIsFIFOByChatOrder(t *testing.T) {
	store, _ := newTestStore(t)
	responder := &fakeResponder{}
	store.SetResponder(responder)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))

	for _, id := range []string{"t1", "t2"} {
		id := id
		store.Dispatch(hookEvent("s1", hooks.EventPermissionRequest, func(n *hooks.Notification) {
			n.Tool = "Bash"
			n.ToolUseID = id
			n.ExpectsResponse = true
		}))
	}

	view, _ := store.Get("s1")
	require.Equal(t, phase.WaitingForApproval, view.Phase.Kind)

	// Approving t1 anchors the phase on t2, the next waiting tool in chat
	// order.
	store.Approve("s1", "t1")
	view, _ = store.Get("s1")
	require.Equal(t, phase.WaitingForApproval, view.Phase.Kind)
	require.NotNil(t, view.Phase.Permission)
	assert.Equal(t, "t2", view.Phase.Permission.ToolUseID)
	assert.Equal(t, StatusRunning, view.Items[0].Tool.Status)

	// Approving t2 leaves nothing pending.
	store.Approve("s1", "t2")
	view, _ = store.Get("s1")
	assert.Equal(t, phase.Processing, view.Phase.Kind)
	assert.Equal(t, []bool{true, true}, responder.replies)
}

func TestDenialSetsErrorWithReason(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))
	store.Dispatch(hookEvent("s1", hooks.EventPermissionRequest, func(n *hooks.Notification) {
		n.Tool = "Bash"
		n.ToolUseID = "t1"
	}))

	store.Deny("s1", "t1", "not in this repo")

	view, _ := store.Get("s1")
	assert.Equal(t, StatusError, view.Items[0].Tool.Status)
	assert.Equal(t, "not in this repo", view.Items[0].Tool.Result)
	assert.Equal(t, phase.Processing, view.Phase.Kind)
}

func TestUnreachableRequesterDowngradesToSocketFailure(t *testing.T) {
	store, _ := newTestStore(t)
	responder := &fakeResponder{err: assert.AnError}
	store.SetResponder(responder)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))
	store.Dispatch(hookEvent("s1", hooks.EventPermissionRequest, func(n *hooks.Notification) {
		n.Tool = "Bash"
		n.ToolUseID = "t1"
	}))

	store.Approve("s1", "t1")

	view, _ := store.Get("s1")
	assert.Equal(t, StatusError, view.Items[0].Tool.Status)
	assert.Equal(t, phase.Idle, view.Phase.Kind)
}

func TestToolCompletedIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))
	store.Dispatch(hookEvent("s1", hooks.EventPreToolUse, func(n *hooks.Notification) {
		n.Tool = "Bash"
		n.ToolUseID = "t1"
	}))

	store.Dispatch(ToolCompletedEvent{SessionID: "s1", ToolUseID: "t1", Result: "first"})
	store.Dispatch(ToolCompletedEvent{SessionID: "s1", ToolUseID: "t1", Result: "second", IsError: true})

	view, _ := store.Get("s1")
	assert.Equal(t, StatusSuccess, view.Items[0].Tool.Status)
	assert.Equal(t, "first", view.Items[0].Tool.Result)
}

func TestFileUpdatedMergesAndCommitsCompletions(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))
	store.Dispatch(hookEvent("s1", hooks.EventPreToolUse, func(n *hooks.Notification) {
		n.Tool = "Bash"
		n.ToolUseID = "t1"
	}))

	result := &transcript.ParseResult{
		Messages: []transcript.Message{
			{
				UUID: "m1",
				Role: "user",
				Blocks: []transcript.Block{
					{Kind: transcript.BlockText, Index: 0, Text: "run it"},
				},
			},
			{
				UUID: "m2",
				Role: "assistant",
				Blocks: []transcript.Block{
					{Kind: transcript.BlockToolUse, Index: 0, ToolUseID: "t1", ToolName: "Bash",
						Input: map[string]string{"command": "ls"}},
				},
			},
		},
		Completed: map[string]transcript.Completion{
			"t1": {ToolUseID: "t1", ToolName: "Bash", Raw: "ok",
				Structured: transcript.ShellResult{Stdout: "ok"}},
		},
	}
	store.Dispatch(FileUpdatedEvent{SessionID: "s1", Result: result,
		Summary: transcript.Summary{Headline: "run it"}})

	view, _ := store.Get("s1")
	require.Len(t, view.Items, 2)
	assert.Equal(t, ItemUser, view.Items[1].Kind)

	// The optimistic placeholder keeps its position and picks up the
	// authoritative completion.
	tool := view.Items[0].Tool
	require.NotNil(t, tool)
	assert.Equal(t, StatusSuccess, tool.Status)
	assert.Equal(t, "ok", tool.Result)
	assert.Equal(t, map[string]string{"command": "ls"}, tool.Input)
	assert.Equal(t, "run it", view.Summary.Headline)

	// Re-dispatching the same result duplicates nothing.
	store.Dispatch(FileUpdatedEvent{SessionID: "s1", Result: result})
	view, _ = store.Get("s1")
	assert.Len(t, view.Items, 2)
}

func TestFileUpdatedRecordsParserOffset(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))

	store.Dispatch(FileUpdatedEvent{
		SessionID: "s1",
		Result:    &transcript.ParseResult{},
		Offset:    4096,
	})

	assert.Equal(t, int64(4096), store.sessions["s1"].Tools.LastOffset)
}

func TestClearReconciliationSparesRecentItems(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()
	clock := now
	var mu sync.Mutex
	store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	})

	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))
	store.Dispatch(hookEvent("s1", hooks.EventPreToolUse, func(n *hooks.Notification) {
		n.Tool = "Bash"
		n.ToolUseID = "old"
	}))

	mu.Lock()
	clock = now.Add(10 * time.Second)
	mu.Unlock()
	store.Dispatch(hookEvent("s1", hooks.EventPreToolUse, func(n *hooks.Notification) {
		n.Tool = "Read"
		n.ToolUseID = "fresh"
	}))

	store.Dispatch(ClearEvent{SessionID: "s1"})

	mu.Lock()
	clock = now.Add(11 * time.Second)
	mu.Unlock()
	store.Dispatch(FileUpdatedEvent{SessionID: "s1", Result: &transcript.ParseResult{}})

	view, _ := store.Get("s1")
	require.Len(t, view.Items, 1)
	assert.Equal(t, "fresh", view.Items[0].ID)
}

func TestInterruptFlattensRunningTools(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))
	store.Dispatch(hookEvent("s1", hooks.EventPreToolUse, func(n *hooks.Notification) {
		n.Tool = "Task"
		n.ToolUseID = "task1"
	}))

	store.Dispatch(InterruptEvent{SessionID: "s1"})

	view, _ := store.Get("s1")
	assert.Equal(t, StatusInterrupted, view.Items[0].Tool.Status)
	assert.Equal(t, phase.Idle, view.Phase.Kind)
}

func TestNestedToolsAttributeToActiveTask(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))
	store.Dispatch(hookEvent("s1", hooks.EventPreToolUse, func(n *hooks.Notification) {
		n.Tool = "Task"
		n.ToolUseID = "task1"
		n.ToolInput = map[string]any{"description": "explore"}
	}))

	store.Dispatch(hookEvent("s1", hooks.EventPreToolUse, func(n *hooks.Notification) {
		n.Tool = "Grep"
		n.ToolUseID = "nested1"
	}))

	view, _ := store.Get("s1")
	require.Len(t, view.Items, 1, "nested tool must not get a top-level item")
	task := view.Items[0].Tool
	require.Len(t, task.Subagent, 1)
	assert.Equal(t, "nested1", task.Subagent[0].ToolUseID)
	assert.Equal(t, "Grep", task.Subagent[0].Name)
}

func TestSubagentToolsAttachToTask(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))
	store.Dispatch(hookEvent("s1", hooks.EventPreToolUse, func(n *hooks.Notification) {
		n.Tool = "Task"
		n.ToolUseID = "task1"
	}))

	tools := []transcript.AgentTool{{ToolUseID: "a1", Name: "Read", Completed: true}}
	store.Dispatch(SubagentToolsEvent{SessionID: "s1", AgentID: "agent9", Tools: tools})

	view, _ := store.Get("s1")
	assert.Equal(t, tools, view.Items[0].Tool.Subagent)
}

func TestSessionEndRemovesAndCancelsResync(t *testing.T) {
	store, resync := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))

	store.Dispatch(SessionEndedEvent{SessionID: "s1", Reason: "process exited"})

	_, ok := store.Get("s1")
	assert.False(t, ok)
	assert.Contains(t, resync.cancelled, "s1")
}

func TestSessionEndHookRemoves(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))

	store.Dispatch(hookEvent("s1", hooks.EventSessionEnd, nil))

	_, ok := store.Get("s1")
	assert.False(t, ok)
}

func TestLoadHistoryResetsAndReloads(t *testing.T) {
	store, resync := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))
	store.Dispatch(hookEvent("s1", hooks.EventPreToolUse, func(n *hooks.Notification) {
		n.Tool = "Bash"
		n.ToolUseID = "t1"
	}))

	store.Reload("s1")

	view, _ := store.Get("s1")
	assert.Empty(t, view.Items)
	assert.Contains(t, resync.reloaded, "s1")
}

func TestSnapshotSortedByProjectName(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, func(n *hooks.Notification) {
		n.WorkDir = "/home/user/zebra"
	}))
	store.Dispatch(hookEvent("s2", hooks.EventSessionStart, func(n *hooks.Notification) {
		n.WorkDir = "/home/user/alpha"
	}))

	snapshot := store.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "alpha", snapshot[0].ProjectName)
	assert.Equal(t, "zebra", snapshot[1].ProjectName)
}

func TestUnknownSessionMutationIsDropped(t *testing.T) {
	store, _ := newTestStore(t)

	store.Dispatch(ToolCompletedEvent{SessionID: "ghost", ToolUseID: "t1"})
	store.Dispatch(InterruptEvent{SessionID: "ghost"})

	assert.Empty(t, store.Snapshot())
}

func TestPreCompactSetsCompactingPhase(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))

	store.Dispatch(hookEvent("s1", hooks.EventPreCompact, nil))

	view, _ := store.Get("s1")
	assert.Equal(t, phase.Compacting, view.Phase.Kind)
}

func TestArchiveMarksSession(t *testing.T) {
	store, _ := newTestStore(t)
	store.Dispatch(hookEvent("s1", hooks.EventSessionStart, nil))

	store.Archive("s1")

	view, _ := store.Get("s1")
	assert.True(t, view.Archived)
}
