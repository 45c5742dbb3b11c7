// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"log"
	"os"
	"sync"
	"syscall"
	"time"

	ps "github.com/mitchellh/go-ps"

	"github.com/wingedpig/lookout/internal/phase"
	"github.com/wingedpig/lookout/internal/transcript"
)

// DefaultHealthInterval is the period between process liveness sweeps.
const DefaultHealthInterval = 15 * time.Second

// HealthChecker periodically confirms that each session's owning process is
// still alive, ending dead sessions and scheduling resyncs for busy ones.
// It snapshots the session list before iterating so its own dispatches do
// not race the sweep.
type HealthChecker struct {
	store    *Store
	resync   Resyncer
	root     string
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewHealthChecker creates a checker over store, resolving transcript paths
// under root.
func NewHealthChecker(store *Store, resync Resyncer, root string, interval time.Duration) *HealthChecker {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &HealthChecker{
		store:    store,
		resync:   resync,
		root:     root,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (h *HealthChecker) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.Sweep()
			}
		}
	}()
}

// Stop ends the loop. Idempotent.
func (h *HealthChecker) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}

// Sweep runs one liveness pass over all sessions.
func (h *HealthChecker) Sweep() {
	for _, view := range h.store.Snapshot() {
		if view.Phase.Kind == phase.Ended {
			continue
		}
		if view.PID != 0 && !processAlive(view.PID) {
			log.Printf("health: session %s pid %d is gone", view.ID, view.PID)
			h.store.Dispatch(SessionEndedEvent{SessionID: view.ID, Reason: "process exited"})
			continue
		}
		if view.TTY != "" && !ttyUsable(view.TTY) {
			log.Printf("health: session %s tty %s is gone", view.ID, view.TTY)
			h.store.Dispatch(SessionEndedEvent{SessionID: view.ID, Reason: "terminal closed"})
			continue
		}
		if view.Phase.Kind == phase.Processing || view.Phase.Kind == phase.WaitingForApproval {
			h.resync.Schedule(view.ID, transcript.SessionPath(h.root, view.WorkDir, view.ID))
		}
	}
}

// processAlive probes a pid two ways: a process-table lookup, then a
// zero-signal probe. EPERM means the process exists but is unsignalable,
// which still counts as alive.
func processAlive(pid int) bool {
	if proc, err := ps.FindProcess(pid); err == nil && proc != nil {
		return true
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// ttyUsable reports whether a recorded terminal device still exists.
func ttyUsable(tty string) bool {
	_, err := os.Stat(tty)
	return err == nil
}
