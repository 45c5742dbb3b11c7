// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/lookout/internal/hooks"
)

// A pid far above the default Linux pid_max, so nothing can own it.
const deadPID = 999999999

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
	assert.True(t, processAlive(1), "init is unsignalable but alive")
	assert.False(t, processAlive(deadPID))
}

func TestTTYUsable(t *testing.T) {
	assert.True(t, ttyUsable("/dev/null"))
	assert.False(t, ttyUsable(filepath.Join(t.TempDir(), "pts99")))
}

func TestSweepEndsDeadProcessSession(t *testing.T) {
	store, resync := newTestStore(t)
	store.Dispatch(HookEvent{Notification: hooks.Notification{
		SessionID: "s1",
		WorkDir:   "/home/user/proj",
		Event:     hooks.EventSessionStart,
		PID:       deadPID,
	}})

	h := NewHealthChecker(store, resync, t.TempDir(), 0)
	h.Sweep()

	_, ok := store.Get("s1")
	assert.False(t, ok, "session with a dead pid is removed")
}

func TestSweepEndsClosedTerminalSession(t *testing.T) {
	store, resync := newTestStore(t)
	store.Dispatch(HookEvent{Notification: hooks.Notification{
		SessionID: "s1",
		WorkDir:   "/home/user/proj",
		Event:     hooks.EventSessionStart,
		PID:       os.Getpid(),
		TTY:       filepath.Join(t.TempDir(), "pts99"),
		TTYValid:  true,
	}})

	h := NewHealthChecker(store, resync, t.TempDir(), 0)
	h.Sweep()

	_, ok := store.Get("s1")
	assert.False(t, ok, "session whose terminal vanished is removed")
}

func TestSweepSchedulesResyncWhileProcessing(t *testing.T) {
	store, resync := newTestStore(t)
	store.Dispatch(HookEvent{Notification: hooks.Notification{
		SessionID: "s1",
		WorkDir:   "/home/user/proj",
		Event:     hooks.EventSessionStart,
		PID:       os.Getpid(),
	}})
	store.Dispatch(HookEvent{Notification: hooks.Notification{
		SessionID: "s1",
		WorkDir:   "/home/user/proj",
		Event:     hooks.EventPreToolUse,
		Tool:      "Bash",
		ToolUseID: "t1",
	}})

	h := NewHealthChecker(store, resync, t.TempDir(), 0)
	h.Sweep()

	resync.mu.Lock()
	defer resync.mu.Unlock()
	require.NotEmpty(t, resync.scheduled)
	assert.Contains(t, resync.scheduled, "s1")
}

func TestSweepLeavesHealthyIdleSessionAlone(t *testing.T) {
	store, resync := newTestStore(t)
	store.Dispatch(HookEvent{Notification: hooks.Notification{
		SessionID: "s1",
		WorkDir:   "/home/user/proj",
		Event:     hooks.EventSessionStart,
		PID:       os.Getpid(),
	}})
	resync.mu.Lock()
	before := len(resync.scheduled)
	resync.mu.Unlock()

	h := NewHealthChecker(store, resync, t.TempDir(), 0)
	h.Sweep()

	_, ok := store.Get("s1")
	assert.True(t, ok)
	resync.mu.Lock()
	defer resync.mu.Unlock()
	assert.Len(t, resync.scheduled, before, "idle sessions are not resynced")
}
