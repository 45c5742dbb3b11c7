// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"
)

// DefaultSocketPath is where the bridge script connects.
const DefaultSocketPath = "/tmp/lookout.sock"

// readTimeout bounds how long a connection may take to deliver its payload.
const readTimeout = 5 * time.Second

// ErrNoHeldConnection is returned when answering a permission that has no
// connection waiting for it.
var ErrNoHeldConnection = errors.New("no held connection for permission")

// Listener accepts hook notifications on a Unix socket, one JSON object per
// connection. Permission requests that expect a response keep their
// connection open until Respond is called for them.
type Listener struct {
	path           string
	onNotification func(Notification)

	mu     sync.Mutex
	ln     net.Listener
	held   map[string]net.Conn // sessionID + "/" + toolUseID
	closed bool

	wg sync.WaitGroup
}

// NewListener creates a hook listener on path. Notifications are delivered
// via onNotification from connection goroutines; the receiver is responsible
// for serializing them.
func NewListener(path string, onNotification func(Notification)) *Listener {
	if path == "" {
		path = DefaultSocketPath
	}
	return &Listener{
		path:           path,
		onNotification: onNotification,
		held:           make(map[string]net.Conn),
	}
}

// Start binds the socket and launches the accept loop. A stale socket file
// from a previous run is removed first.
func (l *Listener) Start() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket %s: %w", l.path, err)
	}

	ln, err := net.Listen("unix", l.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.path, err)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.wg.Add(1)
	go l.acceptLoop(ln)

	log.Printf("hooks: listening on %s", l.path)
	return nil
}

func (l *Listener) acceptLoop(ln net.Listener) {
	defer l.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if !closed {
				log.Printf("hooks: accept: %v", err)
			}
			return
		}
		l.wg.Add(1)
		go l.handleConn(conn)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	defer l.wg.Done()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var n Notification
	if err := json.NewDecoder(conn).Decode(&n); err != nil {
		log.Printf("hooks: bad payload: %v", err)
		conn.Close()
		return
	}

	// A permission request that expects a response holds the connection
	// open; the store answers it through Respond.
	if n.Event == EventPermissionRequest && n.ExpectsResponse && n.ToolUseID != "" {
		conn.SetReadDeadline(time.Time{})
		key := heldKey(n.SessionID, n.ToolUseID)
		l.mu.Lock()
		if prev, ok := l.held[key]; ok {
			prev.Close()
		}
		l.held[key] = conn
		l.mu.Unlock()
		l.onNotification(n)
		return
	}

	conn.Close()
	l.onNotification(n)
}

// Respond answers a held permission-request connection with the decision and
// closes it. Returns an error when no connection is held or the write fails.
func (l *Listener) Respond(sessionID, toolUseID string, allow bool, reason string) error {
	key := heldKey(sessionID, toolUseID)
	l.mu.Lock()
	conn, ok := l.held[key]
	delete(l.held, key)
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHeldConnection, key)
	}
	defer conn.Close()

	decision := Decision{Decision: "deny", Reason: reason}
	if allow {
		decision = Decision{Decision: "allow"}
	}
	conn.SetWriteDeadline(time.Now().Add(readTimeout))
	if err := json.NewEncoder(conn).Encode(decision); err != nil {
		return fmt.Errorf("write decision: %w", err)
	}
	return nil
}

// Close stops accepting, drops held connections, and removes the socket
// file. Idempotent.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	ln := l.ln
	held := l.held
	l.held = make(map[string]net.Conn)
	l.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, conn := range held {
		conn.Close()
	}
	l.wg.Wait()
	os.Remove(l.path)
	return nil
}

func heldKey(sessionID, toolUseID string) string {
	return sessionID + "/" + toolUseID
}
