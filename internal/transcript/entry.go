// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transcript reads the append-only JSONL logs written by the agent
// CLI. It provides a resumable incremental parser for live tailing, a
// bounded-memory conversation summarizer, and a decoder for per-tool
// structured results.
package transcript

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// BlockKind identifies a content block within a parsed message.
type BlockKind string

const (
	BlockText        BlockKind = "text"
	BlockToolUse     BlockKind = "tool_use"
	BlockThinking    BlockKind = "thinking"
	BlockInterrupted BlockKind = "interrupted"
)

// Block is one ordered content block of a message.
type Block struct {
	Kind      BlockKind
	Index     int // position within the source message
	Text      string
	ToolUseID string
	ToolName  string
	Input     map[string]string
}

// Message is a parsed user or assistant transcript entry.
type Message struct {
	UUID      string
	Role      string
	Timestamp time.Time
	Blocks    []Block
}

// ClearMarker is the command echo the CLI writes when the user clears the
// conversation. The transcript keeps growing past it; semantic history
// restarts.
const ClearMarker = "<command-name>/clear</command-name>"

// InterruptMarker prefixes the synthetic text block the CLI records when the
// user interrupts a running request.
const InterruptMarker = "[Request interrupted by user"

// line is the external JSONL contract, one object per line.
type line struct {
	Type          string          `json:"type"`
	UUID          string          `json:"uuid"`
	Timestamp     string          `json:"timestamp"`
	IsMeta        bool            `json:"isMeta"`
	Message       json.RawMessage `json:"message"`
	ToolUseResult json.RawMessage `json:"toolUseResult"`
	ToolName      string          `json:"toolName"`
	Summary       string          `json:"summary"`
}

// messageField is the nested message object. Content is either a plain
// string or an array of content blocks.
type messageField struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// rawBlock is one element of an array-form message content.
type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

func (l *line) time() time.Time {
	if l.Timestamp == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, l.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// isCommandEcho reports whether text is a command-echo artifact
// (slash-command markup) rather than real user input.
func isCommandEcho(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "<command-") ||
		strings.HasPrefix(trimmed, "<local-command-stdout>")
}

// CoerceInput flattens a decoded tool input to a string-keyed, string-valued
// map. Non-string values are re-encoded as compact JSON.
func CoerceInput(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			data, err := json.Marshal(val)
			if err != nil {
				out[k] = fmt.Sprintf("%v", val)
				continue
			}
			out[k] = string(data)
		}
	}
	return out
}

// flattenContent extracts displayable text from a tool_result content field,
// which is either a string or an array of {type:"text"} blocks.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// decodeBlocks turns a message content payload into ordered blocks.
// Tool results are not returned here; they are routed through the parser's
// completion bookkeeping instead.
func decodeBlocks(content json.RawMessage) []Block {
	if len(content) == 0 {
		return nil
	}

	// String form: a plain user message.
	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		if text == "" || isCommandEcho(text) {
			return nil
		}
		if strings.HasPrefix(text, InterruptMarker) {
			return []Block{{Kind: BlockInterrupted, Text: text}}
		}
		return []Block{{Kind: BlockText, Text: text}}
	}

	var raws []rawBlock
	if err := json.Unmarshal(content, &raws); err != nil {
		return nil
	}

	var blocks []Block
	for i, rb := range raws {
		switch rb.Type {
		case "text":
			if rb.Text == "" || isCommandEcho(rb.Text) {
				continue
			}
			kind := BlockText
			if strings.HasPrefix(rb.Text, InterruptMarker) {
				kind = BlockInterrupted
			}
			blocks = append(blocks, Block{Kind: kind, Index: i, Text: rb.Text})
		case "thinking":
			if rb.Thinking == "" {
				continue
			}
			blocks = append(blocks, Block{Kind: BlockThinking, Index: i, Text: rb.Thinking})
		case "tool_use":
			if rb.ID == "" {
				continue
			}
			blocks = append(blocks, Block{
				Kind:      BlockToolUse,
				Index:     i,
				ToolUseID: rb.ID,
				ToolName:  rb.Name,
				Input:     CoerceInput(rb.Input),
			})
		}
	}
	return blocks
}

// ProjectSlug converts a working directory to the per-project transcript
// directory name: path separators and dots become hyphens.
func ProjectSlug(workDir string) string {
	slug := strings.ReplaceAll(workDir, string(filepath.Separator), "-")
	return strings.ReplaceAll(slug, ".", "-")
}

// SessionPath returns the transcript path for a session.
func SessionPath(root, workDir, sessionID string) string {
	return filepath.Join(root, ProjectSlug(workDir), sessionID+".jsonl")
}

// AgentPath returns the transcript path for a subagent's private log.
func AgentPath(root, workDir, agentID string) string {
	return filepath.Join(root, ProjectSlug(workDir), "agent-"+agentID+".jsonl")
}
