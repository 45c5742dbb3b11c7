// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log"
	"sync"
	"time"

	"github.com/wingedpig/lookout/internal/transcript"
	"github.com/wingedpig/lookout/internal/watcher"
)

// Dispatcher accepts store events. Satisfied by *Store.
type Dispatcher interface {
	Dispatch(Event)
}

// DefaultResyncDelay is the quiescent interval before a scheduled resync
// actually parses.
const DefaultResyncDelay = 300 * time.Millisecond

// Scheduler debounces transcript re-parses, at most one pending per session.
// Scheduling again cancels and replaces the pending one. Parsing runs on the
// debounce timer's goroutine, off the store's critical path; results re-enter
// the store as a file-updated event.
type Scheduler struct {
	parser     *transcript.Parser
	summarizer *transcript.Summarizer
	dispatcher Dispatcher
	debounce   *watcher.Debouncer

	mu      sync.Mutex
	offsets map[string]int64 // last offset handed to the store, per session
}

// NewScheduler creates a sync scheduler dispatching into d.
func NewScheduler(parser *transcript.Parser, summarizer *transcript.Summarizer, d Dispatcher, delay time.Duration) *Scheduler {
	if delay <= 0 {
		delay = DefaultResyncDelay
	}
	return &Scheduler{
		parser:     parser,
		summarizer: summarizer,
		dispatcher: d,
		debounce:   watcher.NewDebouncer(delay),
		offsets:    make(map[string]int64),
	}
}

// Schedule queues a debounced resync for a session, replacing any pending
// one.
func (s *Scheduler) Schedule(sessionID, path string) {
	s.debounce.Debounce(sessionID, func() {
		s.sync(sessionID, path)
	})
}

// Reload drops all parser state for a session and resyncs from byte zero.
func (s *Scheduler) Reload(sessionID, path string) {
	s.parser.Reset(sessionID)
	s.summarizer.Invalidate(path)
	s.debounce.Cancel(sessionID)
	s.mu.Lock()
	delete(s.offsets, sessionID)
	s.mu.Unlock()
	s.sync(sessionID, path)
}

// Cancel drops a pending resync. Called when the session ends.
func (s *Scheduler) Cancel(sessionID string) {
	s.debounce.Cancel(sessionID)
	s.mu.Lock()
	delete(s.offsets, sessionID)
	s.mu.Unlock()
}

// Stop cancels all pending resyncs. Idempotent.
func (s *Scheduler) Stop() {
	s.debounce.Stop()
}

// sync runs one incremental parse and hands any new content to the store.
func (s *Scheduler) sync(sessionID, path string) {
	result, err := s.parser.ParseIncremental(sessionID, path)
	if err != nil {
		log.Printf("scheduler: parse %s: %v", path, err)
		return
	}
	// Completion-only appends (tool_result lines) produce no new messages
	// but do advance the offset, so offset movement is the growth signal.
	offset := s.parser.Offset(sessionID)
	s.mu.Lock()
	last, known := s.offsets[sessionID]
	s.offsets[sessionID] = offset
	s.mu.Unlock()
	if !result.ClearDetected && len(result.NewMessages) == 0 && known && offset == last {
		return
	}

	s.summarizer.Invalidate(path)
	summary, err := s.summarizer.Summarize(path)
	if err != nil {
		log.Printf("scheduler: summarize %s: %v", path, err)
	}

	s.dispatcher.Dispatch(FileUpdatedEvent{
		SessionID: sessionID,
		Result:    result,
		Summary:   summary,
		Offset:    offset,
	})
}
