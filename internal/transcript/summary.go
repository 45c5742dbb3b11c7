// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	// summaryTailThreshold is the file size above which only the trailing
	// window is read for summaries.
	summaryTailThreshold = 10 * 1024 * 1024
	// summaryTailWindow is the trailing window size for oversized files.
	summaryTailWindow = 2 * 1024 * 1024

	summaryMaxLen = 200
)

// Summary is the lightweight conversation digest used for session listings.
type Summary struct {
	// Headline is an explicit summary record when present, otherwise the
	// first qualifying user message.
	Headline string `json:"headline"`
	// FirstMessage is the first qualifying user message.
	FirstMessage string `json:"first_message"`
	// LastMessage is the most recent displayable message or tool description.
	LastMessage string `json:"last_message"`
	// LastTool is the most recent tool name, when the last displayable
	// entry was a tool invocation.
	LastTool string `json:"last_tool,omitempty"`
	// LastUserAt is the most recent user message timestamp. Sorting by this
	// keeps ordering stable while the agent keeps replying.
	LastUserAt time.Time `json:"last_user_at"`
}

type cachedSummary struct {
	modTime time.Time
	size    int64
	summary Summary
}

// Summarizer extracts conversation summaries, cached by file modification
// time so repeated snapshot requests do not re-read unchanged transcripts.
type Summarizer struct {
	mu    sync.Mutex
	cache map[string]cachedSummary
}

// NewSummarizer creates a summary extractor.
func NewSummarizer() *Summarizer {
	return &Summarizer{cache: make(map[string]cachedSummary)}
}

// Invalidate drops the cached summary for a path.
func (s *Summarizer) Invalidate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, path)
}

// Summarize returns the conversation summary for a transcript. A missing
// file yields a zero Summary. Files beyond the size threshold are read only
// in their trailing window, discarding a possibly-partial leading line.
func (s *Summarizer) Summarize(path string) (Summary, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Summary{}, nil
		}
		return Summary{}, err
	}

	s.mu.Lock()
	if c, ok := s.cache[path]; ok && c.modTime.Equal(info.ModTime()) && c.size == info.Size() {
		s.mu.Unlock()
		return c.summary, nil
	}
	s.mu.Unlock()

	data, err := readTail(path, info.Size())
	if err != nil {
		return Summary{}, err
	}

	sum := extractSummary(data)

	s.mu.Lock()
	s.cache[path] = cachedSummary{modTime: info.ModTime(), size: info.Size(), summary: sum}
	s.mu.Unlock()

	return sum, nil
}

// readTail reads the whole file, or only the trailing window for oversized
// files (dropping the leading partial line).
func readTail(path string, size int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if size <= summaryTailThreshold {
		return io.ReadAll(f)
	}

	if _, err := f.Seek(size-summaryTailWindow, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return data, nil
}

// extractSummary performs one forward pass for the first qualifying user
// message and one backward pass that finds, in a single traversal, the most
// recent displayable message, the most recent user timestamp, and an
// explicit summary record, stopping early once all three are found.
func extractSummary(data []byte) Summary {
	lines := bytes.Split(data, []byte{'\n'})
	var sum Summary

	for _, raw := range lines {
		if text, ok := userText(raw); ok {
			sum.FirstMessage = truncateSummary(text)
			break
		}
	}

	var lastDone, userAtDone, headlineDone bool
	for i := len(lines) - 1; i >= 0; i-- {
		raw := bytes.TrimSpace(lines[i])
		if len(raw) == 0 {
			continue
		}
		var l line
		if err := json.Unmarshal(raw, &l); err != nil {
			continue
		}

		if !headlineDone && l.Type == "summary" && l.Summary != "" {
			sum.Headline = truncateSummary(l.Summary)
			headlineDone = true
		}

		if l.IsMeta {
			continue
		}

		if !userAtDone && l.Type == "user" {
			if _, ok := userText(raw); ok {
				sum.LastUserAt = l.time()
				userAtDone = true
			}
		}

		if !lastDone && (l.Type == "user" || l.Type == "assistant") {
			if text, tool, ok := displayable(&l); ok {
				sum.LastMessage = truncateSummary(text)
				sum.LastTool = tool
				lastDone = true
			}
		}

		if lastDone && userAtDone && headlineDone {
			break
		}
	}

	if sum.Headline == "" {
		sum.Headline = sum.FirstMessage
	}
	return sum
}

// userText decodes a line and returns its plain user text when the line is a
// real (non-meta, non-echo, non-tool-result) user message.
func userText(raw []byte) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return "", false
	}
	if l.Type != "user" || l.IsMeta {
		return "", false
	}
	var mf messageField
	if err := json.Unmarshal(l.Message, &mf); err != nil {
		return "", false
	}
	for _, b := range decodeBlocks(mf.Content) {
		if b.Kind == BlockText {
			return b.Text, true
		}
	}
	return "", false
}

// displayable returns the most recent displayable text of a message,
// preferring the first non-interrupted block from the end. Tool invocations
// yield a formatted description plus the tool name.
func displayable(l *line) (text, tool string, ok bool) {
	var mf messageField
	if err := json.Unmarshal(l.Message, &mf); err != nil {
		return "", "", false
	}
	blocks := decodeBlocks(mf.Content)

	var fallback string
	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		switch b.Kind {
		case BlockInterrupted:
			if fallback == "" {
				fallback = b.Text
			}
		case BlockText, BlockThinking:
			return b.Text, "", true
		case BlockToolUse:
			return describeTool(b), b.ToolName, true
		}
	}
	if fallback != "" {
		return fallback, "", true
	}
	return "", "", false
}

// describeTool formats a tool invocation for display in a summary line.
func describeTool(b Block) string {
	for _, key := range []string{"command", "file_path", "pattern", "description", "url", "query"} {
		if v := b.Input[key]; v != "" {
			return fmt.Sprintf("%s: %s", b.ToolName, v)
		}
	}
	return b.ToolName
}

func truncateSummary(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) > summaryMaxLen {
		return s[:summaryMaxLen] + "..."
	}
	return s
}
