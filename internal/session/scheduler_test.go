// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/lookout/internal/transcript"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []Event
}

func (d *recordingDispatcher) Dispatch(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func (d *recordingDispatcher) last() Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.events) == 0 {
		return nil
	}
	return d.events[len(d.events)-1]
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	var data []byte
	for _, l := range lines {
		data = append(data, l...)
		data = append(data, '\n')
	}
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
}

func newTestScheduler(t *testing.T) (*Scheduler, *recordingDispatcher) {
	t.Helper()
	rec := &recordingDispatcher{}
	sched := NewScheduler(transcript.NewParser(), transcript.NewSummarizer(), rec, 10*time.Millisecond)
	t.Cleanup(sched.Stop)
	return sched, rec
}

func TestSchedulerDispatchesNewContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s1.jsonl")
	writeLines(t, path,
		`{"type":"user","message":{"content":"hello"},"uuid":"m1","timestamp":"2024-01-01T00:00:00.000Z"}`)
	sched, rec := newTestScheduler(t)

	sched.Schedule("s1", path)

	require.Eventually(t, func() bool { return rec.count() == 1 },
		time.Second, 5*time.Millisecond)
	ev, ok := rec.last().(FileUpdatedEvent)
	require.True(t, ok)
	assert.Equal(t, "s1", ev.SessionID)
	require.Len(t, ev.Result.NewMessages, 1)
	assert.Equal(t, "hello", ev.Summary.FirstMessage)
	assert.Positive(t, ev.Offset, "parser position travels with the event")
}

func TestSchedulerSkipsWhenNothingGrew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s1.jsonl")
	writeLines(t, path,
		`{"type":"user","message":{"content":"hello"},"uuid":"m1","timestamp":"2024-01-01T00:00:00.000Z"}`)
	sched, rec := newTestScheduler(t)

	sched.Schedule("s1", path)
	require.Eventually(t, func() bool { return rec.count() == 1 },
		time.Second, 5*time.Millisecond)

	sched.Schedule("s1", path)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count(), "no dispatch without file growth")
}

func TestSchedulerCompletionOnlyGrowth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s1.jsonl")
	writeLines(t, path,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu1","name":"Bash","input":{"command":"ls"}}]},"uuid":"m1","timestamp":"2024-01-01T00:00:00.000Z"}`)
	sched, rec := newTestScheduler(t)

	sched.Schedule("s1", path)
	require.Eventually(t, func() bool { return rec.count() == 1 },
		time.Second, 5*time.Millisecond)

	// A tool_result carrier line projects no message but must still reach
	// the store so the running tool can complete.
	appendLine(t, path,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu1","content":"ok"}]},"uuid":"m2","timestamp":"2024-01-01T00:00:01.000Z"}`)
	sched.Schedule("s1", path)

	require.Eventually(t, func() bool { return rec.count() == 2 },
		time.Second, 5*time.Millisecond)
	ev := rec.last().(FileUpdatedEvent)
	assert.Empty(t, ev.Result.NewMessages)
	assert.Contains(t, ev.Result.Completed, "tu1")
}

func TestSchedulerReloadResyncsFromZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s1.jsonl")
	writeLines(t, path,
		`{"type":"user","message":{"content":"hello"},"uuid":"m1","timestamp":"2024-01-01T00:00:00.000Z"}`)
	sched, rec := newTestScheduler(t)

	sched.Schedule("s1", path)
	require.Eventually(t, func() bool { return rec.count() == 1 },
		time.Second, 5*time.Millisecond)

	sched.Reload("s1", path)
	require.Equal(t, 2, rec.count())
	ev := rec.last().(FileUpdatedEvent)
	require.Len(t, ev.Result.NewMessages, 1, "full history re-emitted after reload")
}

func TestSchedulerCancelDropsPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s1.jsonl")
	writeLines(t, path,
		`{"type":"user","message":{"content":"hello"},"uuid":"m1","timestamp":"2024-01-01T00:00:00.000Z"}`)
	rec := &recordingDispatcher{}
	sched := NewScheduler(transcript.NewParser(), transcript.NewSummarizer(), rec, 50*time.Millisecond)
	t.Cleanup(sched.Stop)

	sched.Schedule("s1", path)
	sched.Cancel("s1")
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rec.count())
}
