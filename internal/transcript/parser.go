// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Completion is the recorded outcome of a tool invocation.
type Completion struct {
	ToolUseID  string
	ToolName   string
	Raw        string
	IsError    bool
	Structured Structured
}

// ParseResult is the output of one incremental parse pass.
type ParseResult struct {
	// NewMessages are messages first seen during this pass, in file order.
	NewMessages []Message
	// Messages is the full accumulated message list for the session.
	Messages []Message
	// Completed maps tool invocation IDs to their recorded outcomes,
	// covering the whole session so far.
	Completed map[string]Completion
	// ClearDetected is set when a live clear marker was consumed this pass.
	ClearDetected bool
}

// ItemIdentities returns the identity keys of every display item the
// accumulated messages would project, used for clear reconciliation.
// Tool blocks key by invocation ID; text-like blocks key by
// (messageUUID, blockKind, blockIndex).
func (r *ParseResult) ItemIdentities() map[string]bool {
	ids := make(map[string]bool)
	for _, msg := range r.Messages {
		for _, b := range msg.Blocks {
			ids[ItemIdentity(msg.UUID, b)] = true
		}
	}
	return ids
}

// ItemIdentity derives the stable display identity of a block.
func ItemIdentity(messageUUID string, b Block) string {
	if b.Kind == BlockToolUse {
		return b.ToolUseID
	}
	return messageUUID + "/" + string(b.Kind) + "/" + itoa(b.Index)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// sessionState is the per-session incremental parse state.
type sessionState struct {
	offset    int64
	parsed    bool // at least one read completed (clear markers before this are historical)
	messages  []Message
	seenTools map[string]bool
	toolNames map[string]string
	completed map[string]Completion
	// clearPending is set once per live-detected clear and consumed by the
	// next ParseIncremental return.
	clearPending bool
}

func newSessionState() *sessionState {
	return &sessionState{
		seenTools: make(map[string]bool),
		toolNames: make(map[string]string),
		completed: make(map[string]Completion),
	}
}

// Parser is a resumable incremental reader over session transcripts.
// One instance serves all sessions; state is keyed by session ID.
type Parser struct {
	mu     sync.Mutex
	states map[string]*sessionState
}

// NewParser creates an incremental transcript parser.
func NewParser() *Parser {
	return &Parser{states: make(map[string]*sessionState)}
}

// Reset drops all accumulated state for a session. The next parse restarts
// from byte zero.
func (p *Parser) Reset(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.states, sessionID)
}

// Offset returns the last successfully processed byte offset for a session.
func (p *Parser) Offset(sessionID string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[sessionID]; ok {
		return st.offset
	}
	return 0
}

// ParseIncremental reads the transcript from the last processed offset to
// end-of-file. A missing file yields an empty result. If the file shrank
// below the stored offset (truncate or rotation), all per-session state is
// reset and parsing restarts from zero.
func (p *Parser) ParseIncremental(sessionID, path string) (*ParseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[sessionID]
	if !ok {
		st = newSessionState()
		p.states[sessionID] = st
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p.result(st, nil), nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	if size < st.offset {
		log.Printf("parser: transcript %s shrank (%d < %d), resetting session %s", path, size, st.offset, sessionID)
		fresh := newSessionState()
		p.states[sessionID] = fresh
		st = fresh
	}

	if size == st.offset {
		// No growth: idempotent no-op.
		return p.result(st, nil), nil
	}

	if _, err := f.Seek(st.offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, size-st.offset)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	buf = buf[:n]

	// A writer may be mid-line; only consume through the last newline and
	// leave the partial tail for the next pass.
	consumed := int64(len(buf))
	if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
		consumed = int64(i + 1)
		buf = buf[:i+1]
	} else {
		return p.result(st, nil), nil
	}

	newMsgs := p.processBuffer(st, buf)
	st.offset += consumed
	st.parsed = true

	return p.result(st, newMsgs), nil
}

// result builds a ParseResult snapshot, consuming a pending clear flag.
// Caller must hold p.mu (or own st exclusively).
func (p *Parser) result(st *sessionState, newMsgs []Message) *ParseResult {
	completed := make(map[string]Completion, len(st.completed))
	for id, c := range st.completed {
		completed[id] = c
	}
	msgs := make([]Message, len(st.messages))
	copy(msgs, st.messages)

	clear := st.clearPending
	st.clearPending = false

	return &ParseResult{
		NewMessages:   newMsgs,
		Messages:      msgs,
		Completed:     completed,
		ClearDetected: clear,
	}
}

// processBuffer splits a read buffer on line-feeds and handles each line
// best-effort. Returns the messages newly appended to the session state.
func (p *Parser) processBuffer(st *sessionState, buf []byte) []Message {
	var newMsgs []Message
	for _, raw := range bytes.Split(buf, []byte{'\n'}) {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		// Clear markers only count when observed live; a marker already in
		// the file on the first read is history, not a fresh clear.
		if bytes.Contains(raw, []byte(ClearMarker)) {
			if st.parsed {
				p.handleClear(st)
			}
			continue
		}

		var l line
		if err := json.Unmarshal(raw, &l); err != nil {
			continue
		}
		if msg, ok := p.processLine(st, &l); ok {
			newMsgs = append(newMsgs, msg)
		}
	}
	return newMsgs
}

// handleClear resets semantic state while keeping the byte offset, since the
// file itself keeps growing past the marker.
func (p *Parser) handleClear(st *sessionState) {
	st.messages = nil
	st.seenTools = make(map[string]bool)
	st.toolNames = make(map[string]string)
	st.completed = make(map[string]Completion)
	st.clearPending = true
}

// processLine interprets a single decoded transcript line.
func (p *Parser) processLine(st *sessionState, l *line) (Message, bool) {
	if l.IsMeta || (l.Type != "user" && l.Type != "assistant") {
		return Message{}, false
	}

	var mf messageField
	if len(l.Message) > 0 {
		if err := json.Unmarshal(l.Message, &mf); err != nil {
			return Message{}, false
		}
	}

	// tool_result entries arrive as user-typed lines; record the completion
	// and do not project a message.
	if l.Type == "user" && p.recordToolResults(st, l, mf.Content) {
		return Message{}, false
	}

	blocks := decodeBlocks(mf.Content)

	// Register tool invocations exactly once. A duplicate ID (reparse,
	// rewritten line) is silently dropped from the block list.
	kept := blocks[:0]
	for _, b := range blocks {
		if b.Kind == BlockToolUse {
			if st.seenTools[b.ToolUseID] {
				continue
			}
			st.seenTools[b.ToolUseID] = true
			st.toolNames[b.ToolUseID] = b.ToolName
		}
		kept = append(kept, b)
	}
	if len(kept) == 0 {
		return Message{}, false
	}

	msg := Message{
		UUID:      l.UUID,
		Role:      l.Type,
		Timestamp: l.time(),
		Blocks:    kept,
	}
	st.messages = append(st.messages, msg)
	return msg, true
}

// recordToolResults scans a user line's content for tool_result blocks,
// updating the completed-tool bookkeeping. Returns true when the line was a
// tool result carrier.
func (p *Parser) recordToolResults(st *sessionState, l *line, content json.RawMessage) bool {
	if len(content) == 0 {
		return false
	}
	var raws []rawBlock
	if err := json.Unmarshal(content, &raws); err != nil {
		return false
	}

	found := false
	for _, rb := range raws {
		if rb.Type != "tool_result" || rb.ToolUseID == "" {
			continue
		}
		found = true

		name := st.toolNames[rb.ToolUseID]
		if name == "" {
			name = l.ToolName
		}
		c := Completion{
			ToolUseID: rb.ToolUseID,
			ToolName:  name,
			Raw:       flattenContent(rb.Content),
			IsError:   rb.IsError,
		}
		if len(l.ToolUseResult) > 0 {
			c.Structured = DecodeResult(name, nil, l.ToolUseResult)
		}
		st.completed[rb.ToolUseID] = c
	}
	return found
}

// AgentTool is a tool invocation observed in a subagent's private log.
type AgentTool struct {
	ToolUseID string
	Name      string
	Input     map[string]string
	Completed bool
	Raw       string
	IsError   bool
	Timestamp time.Time
}

// AgentTools reads a subagent transcript in full and returns its tool
// invocations in file order. Missing files yield an empty list.
func AgentTools(path string) ([]AgentTool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tools []AgentTool
	index := make(map[string]int)

	for _, raw := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var l line
		if err := json.Unmarshal(raw, &l); err != nil {
			continue
		}
		var mf messageField
		if len(l.Message) > 0 {
			if err := json.Unmarshal(l.Message, &mf); err != nil {
				continue
			}
		}
		var raws []rawBlock
		if err := json.Unmarshal(mf.Content, &raws); err != nil {
			continue
		}
		for _, rb := range raws {
			switch rb.Type {
			case "tool_use":
				if rb.ID == "" {
					continue
				}
				if _, dup := index[rb.ID]; dup {
					continue
				}
				index[rb.ID] = len(tools)
				tools = append(tools, AgentTool{
					ToolUseID: rb.ID,
					Name:      rb.Name,
					Input:     CoerceInput(rb.Input),
					Timestamp: l.time(),
				})
			case "tool_result":
				if i, ok := index[rb.ToolUseID]; ok {
					tools[i].Completed = true
					tools[i].Raw = flattenContent(rb.Content)
					tools[i].IsError = rb.IsError
				}
			}
		}
	}
	return tools, nil
}
