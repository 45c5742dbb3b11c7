// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/wingedpig/lookout/internal/events"
	"github.com/wingedpig/lookout/internal/session"
	"github.com/wingedpig/lookout/internal/transcript"
	"github.com/wingedpig/lookout/internal/watcher"
)

// watcherSet manages one transcript watcher per live session and one
// agent-log watcher per discovered subagent, driven by bus events.
type watcherSet struct {
	store     *session.Store
	scheduler *session.Scheduler
	root      string
	debounce  time.Duration

	mu          sync.Mutex
	transcripts map[string]*watcher.TranscriptWatcher // session ID
	agents      map[string]*watcher.AgentLogWatcher   // agent ID
	agentOwner  map[string]string                     // agent ID -> session ID
	subs        []events.SubscriptionID
	bus         events.EventBus
	stopped     bool
}

func newWatcherSet(store *session.Store, scheduler *session.Scheduler, root string, debounce time.Duration) *watcherSet {
	return &watcherSet{
		store:       store,
		scheduler:   scheduler,
		root:        root,
		debounce:    debounce,
		transcripts: make(map[string]*watcher.TranscriptWatcher),
		agents:      make(map[string]*watcher.AgentLogWatcher),
		agentOwner:  make(map[string]string),
	}
}

// subscribe registers for the session and subagent lifecycle events that
// create and destroy watchers.
func (ws *watcherSet) subscribe(bus events.EventBus) error {
	ws.bus = bus

	created, err := bus.Subscribe(events.EventSessionCreated, ws.onSessionCreated)
	if err != nil {
		return err
	}
	ended, err := bus.Subscribe(events.EventSessionEnded, ws.onSessionEnded)
	if err != nil {
		return err
	}
	started, err := bus.Subscribe(events.EventSubagentStarted, ws.onSubagentStarted)
	if err != nil {
		return err
	}

	ws.mu.Lock()
	ws.subs = append(ws.subs, created, ended, started)
	ws.mu.Unlock()
	return nil
}

func (ws *watcherSet) onSessionCreated(_ context.Context, ev events.Event) error {
	sessionID := ev.SessionID
	workDir, _ := ev.Payload["work_dir"].(string)
	if sessionID == "" || workDir == "" {
		return nil
	}
	path := transcript.SessionPath(ws.root, workDir, sessionID)

	w, err := watcher.NewTranscriptWatcher(sessionID, path, ws.debounce,
		func(id string) { ws.scheduler.Schedule(id, path) },
		func(id string) { ws.store.Dispatch(session.InterruptEvent{SessionID: id}) },
	)
	if err != nil {
		log.Printf("app: watch transcript %s: %v", path, err)
		return nil
	}

	ws.mu.Lock()
	if ws.stopped {
		ws.mu.Unlock()
		w.Stop()
		return nil
	}
	if prev, ok := ws.transcripts[sessionID]; ok {
		prev.Stop()
	}
	ws.transcripts[sessionID] = w
	ws.mu.Unlock()

	// Pick up any history already on disk.
	ws.scheduler.Schedule(sessionID, path)
	return nil
}

func (ws *watcherSet) onSessionEnded(_ context.Context, ev events.Event) error {
	ws.mu.Lock()
	w := ws.transcripts[ev.SessionID]
	delete(ws.transcripts, ev.SessionID)
	var agentWatchers []*watcher.AgentLogWatcher
	for agentID, owner := range ws.agentOwner {
		if owner == ev.SessionID {
			if aw, ok := ws.agents[agentID]; ok {
				agentWatchers = append(agentWatchers, aw)
			}
			delete(ws.agents, agentID)
			delete(ws.agentOwner, agentID)
		}
	}
	ws.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	for _, aw := range agentWatchers {
		aw.Stop()
	}
	return nil
}

func (ws *watcherSet) onSubagentStarted(_ context.Context, ev events.Event) error {
	agentID, _ := ev.Payload["agent_id"].(string)
	workDir, _ := ev.Payload["work_dir"].(string)
	sessionID := ev.SessionID
	if agentID == "" || workDir == "" || sessionID == "" {
		return nil
	}

	ws.mu.Lock()
	_, exists := ws.agents[agentID]
	ws.mu.Unlock()
	if exists {
		return nil
	}

	path := transcript.AgentPath(ws.root, workDir, agentID)
	w, err := watcher.NewAgentLogWatcher(agentID, path,
		func(id string, tools []transcript.AgentTool) {
			ws.store.Dispatch(session.SubagentToolsEvent{
				SessionID: sessionID,
				AgentID:   id,
				Tools:     tools,
			})
		},
	)
	if err != nil {
		log.Printf("app: watch agent log %s: %v", path, err)
		return nil
	}

	ws.mu.Lock()
	if ws.stopped {
		ws.mu.Unlock()
		w.Stop()
		return nil
	}
	ws.agents[agentID] = w
	ws.agentOwner[agentID] = sessionID
	ws.mu.Unlock()
	return nil
}

// stop tears down all watchers and subscriptions. Idempotent.
func (ws *watcherSet) stop() {
	ws.mu.Lock()
	if ws.stopped {
		ws.mu.Unlock()
		return
	}
	ws.stopped = true
	transcripts := ws.transcripts
	agents := ws.agents
	subs := ws.subs
	bus := ws.bus
	ws.transcripts = make(map[string]*watcher.TranscriptWatcher)
	ws.agents = make(map[string]*watcher.AgentLogWatcher)
	ws.agentOwner = make(map[string]string)
	ws.mu.Unlock()

	if bus != nil {
		for _, id := range subs {
			bus.Unsubscribe(id)
		}
	}
	for _, w := range transcripts {
		w.Stop()
	}
	for _, w := range agents {
		w.Stop()
	}
}
