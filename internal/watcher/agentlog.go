// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"encoding/json"
	"sync"

	"github.com/wingedpig/lookout/internal/transcript"
)

// AgentLogWatcher tails a subagent's private log and reports the agent's
// full current tool list whenever tool invocations it has not seen before
// appear.
type AgentLogWatcher struct {
	agentID string
	path    string
	tail    *fileTail
	onTools func(agentID string, tools []transcript.AgentTool)

	mu   sync.Mutex
	seen map[string]bool
}

// NewAgentLogWatcher starts watching an agent log, with the same
// directory-then-file fallback as the transcript watcher.
func NewAgentLogWatcher(agentID, path string, onTools func(agentID string, tools []transcript.AgentTool)) (*AgentLogWatcher, error) {
	w := &AgentLogWatcher{
		agentID: agentID,
		path:    path,
		onTools: onTools,
		seen:    make(map[string]bool),
	}

	// Tools already in the log count as seen so only growth triggers a
	// report.
	if tools, err := transcript.AgentTools(path); err == nil {
		for _, tool := range tools {
			w.seen[tool.ToolUseID] = true
		}
	}

	tail, err := newFileTail(path, w.handleAppend)
	if err != nil {
		return nil, err
	}
	w.tail = tail
	return w, nil
}

func (w *AgentLogWatcher) handleAppend(data []byte) {
	if !containsNewToolIDs(data, w.markSeen) {
		return
	}
	tools, err := transcript.AgentTools(w.path)
	if err != nil || len(tools) == 0 {
		return
	}
	if w.onTools != nil {
		w.onTools(w.agentID, tools)
	}
}

// markSeen records an id and reports whether it was new.
func (w *AgentLogWatcher) markSeen(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[id] {
		return false
	}
	w.seen[id] = true
	return true
}

// containsNewToolIDs scans appended lines for tool_use blocks, calling mark
// for each id found. Returns true when at least one id was new.
func containsNewToolIDs(data []byte, mark func(id string) bool) bool {
	found := false
	for line := range splitLines(data) {
		var l struct {
			Message struct {
				Content []struct {
					Type string `json:"type"`
					ID   string `json:"id"`
				} `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal(line, &l); err != nil {
			continue
		}
		for _, b := range l.Message.Content {
			if b.Type == "tool_use" && b.ID != "" && mark(b.ID) {
				found = true
			}
		}
	}
	return found
}

// splitLines yields non-empty newline-separated chunks.
func splitLines(data []byte) func(func([]byte) bool) {
	return func(yield func([]byte) bool) {
		start := 0
		for i := 0; i <= len(data); i++ {
			if i == len(data) || data[i] == '\n' {
				if i > start {
					if !yield(data[start:i]) {
						return
					}
				}
				start = i + 1
			}
		}
	}
}

// Stop ends the watch. Idempotent.
func (w *AgentLogWatcher) Stop() error {
	return w.tail.Close()
}
