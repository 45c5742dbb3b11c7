// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"encoding/json"
	"strings"
)

// Structured is a decoded, tool-specific result shape. Decoding is total:
// unknown tools and malformed payloads produce a GenericResult.
type Structured interface {
	Kind() string
}

// ReadResult is the outcome of a file read.
type ReadResult struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
	NumLines int    `json:"num_lines"`
}

func (ReadResult) Kind() string { return "read" }

// EditResult is the outcome of an in-place file edit.
type EditResult struct {
	FilePath  string `json:"file_path"`
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
	Replaced  int    `json:"replaced"`
}

func (EditResult) Kind() string { return "edit" }

// WriteResult is the outcome of a whole-file write.
type WriteResult struct {
	FilePath string `json:"file_path"`
	Created  bool   `json:"created"`
	Bytes    int    `json:"bytes"`
}

func (WriteResult) Kind() string { return "write" }

// ShellResult is the outcome of a shell command.
type ShellResult struct {
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	Interrupted bool   `json:"interrupted"`
	ExitCode    int    `json:"exit_code"`
}

func (ShellResult) Kind() string { return "shell" }

// GrepResult is the outcome of a content search.
type GrepResult struct {
	Pattern  string   `json:"pattern"`
	NumFiles int      `json:"num_files"`
	NumLines int      `json:"num_lines"`
	Files    []string `json:"files,omitempty"`
}

func (GrepResult) Kind() string { return "grep" }

// GlobResult is the outcome of a filename pattern match.
type GlobResult struct {
	Pattern  string   `json:"pattern"`
	NumFiles int      `json:"num_files"`
	Files    []string `json:"files,omitempty"`
}

func (GlobResult) Kind() string { return "glob" }

// TodoItem is one entry of a todo-list update.
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

// TodoResult is the outcome of a todo-list update.
type TodoResult struct {
	Todos []TodoItem `json:"todos"`
}

func (TodoResult) Kind() string { return "todo" }

// SubtaskResult is the outcome of a nested subagent task. AgentID, when
// present, names the agent's private log so its tools can be attached.
type SubtaskResult struct {
	AgentID     string `json:"agent_id"`
	Description string `json:"description"`
	Summary     string `json:"summary"`
	TotalTokens int    `json:"total_tokens"`
}

func (SubtaskResult) Kind() string { return "subtask" }

// WebFetchResult is the outcome of a URL fetch.
type WebFetchResult struct {
	URL     string `json:"url"`
	Code    int    `json:"code"`
	Result  string `json:"result"`
	Bytes   int    `json:"bytes"`
	Seconds int    `json:"duration_seconds"`
}

func (WebFetchResult) Kind() string { return "web_fetch" }

// WebSearchItem is one hit of a web search.
type WebSearchItem struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// WebSearchResult is the outcome of a web search.
type WebSearchResult struct {
	Query   string          `json:"query"`
	Results []WebSearchItem `json:"results,omitempty"`
}

func (WebSearchResult) Kind() string { return "web_search" }

// QuestionResult is the outcome of an interactive question put to the user.
type QuestionResult struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func (QuestionResult) Kind() string { return "question" }

// ShellOutputResult is a poll of a background shell's output.
type ShellOutputResult struct {
	ShellID string `json:"shell_id"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Status  string `json:"status"`
}

func (ShellOutputResult) Kind() string { return "shell_output" }

// KillShellResult is the outcome of terminating a background shell.
type KillShellResult struct {
	ShellID string `json:"shell_id"`
	Killed  bool   `json:"killed"`
}

func (KillShellResult) Kind() string { return "kill_shell" }

// PlanResult is the outcome of exiting plan mode.
type PlanResult struct {
	Plan     string `json:"plan"`
	Approved bool   `json:"approved"`
}

func (PlanResult) Kind() string { return "plan" }

// ExternalToolResult is the outcome of a namespaced external (MCP) tool.
type ExternalToolResult struct {
	Server  string `json:"server"`
	Tool    string `json:"tool"`
	Content string `json:"content"`
}

func (ExternalToolResult) Kind() string { return "external" }

// GenericResult is the fallback shape: whatever displayable content the
// payload carried.
type GenericResult struct {
	Content string `json:"content"`
}

func (GenericResult) Kind() string { return "generic" }

// externalToolPrefix marks namespaced external tools: mcp__<server>__<tool>.
const externalToolPrefix = "mcp__"

// genericPayload covers the common fields a result payload may surface.
type genericPayload struct {
	Content json.RawMessage `json:"content"`
	Stdout  string          `json:"stdout"`
	Result  string          `json:"result"`
}

// DecodeResult decodes a raw toolUseResult payload into the structured shape
// for the named tool. It has no failure mode: anything it cannot interpret
// becomes a GenericResult.
func DecodeResult(toolName string, input map[string]string, raw json.RawMessage) Structured {
	if strings.HasPrefix(toolName, externalToolPrefix) {
		return decodeExternal(toolName, raw)
	}

	switch toolName {
	case "Read":
		var r struct {
			File struct {
				FilePath string `json:"filePath"`
				Content  string `json:"content"`
				NumLines int    `json:"numLines"`
			} `json:"file"`
		}
		if json.Unmarshal(raw, &r) == nil && r.File.FilePath != "" {
			return ReadResult{FilePath: r.File.FilePath, Content: r.File.Content, NumLines: r.File.NumLines}
		}
		return ReadResult{FilePath: input["file_path"], Content: genericContent(raw)}

	case "Edit", "MultiEdit":
		var r struct {
			FilePath  string `json:"filePath"`
			OldString string `json:"oldString"`
			NewString string `json:"newString"`
		}
		json.Unmarshal(raw, &r)
		if r.FilePath == "" {
			r.FilePath = input["file_path"]
		}
		return EditResult{FilePath: r.FilePath, OldString: r.OldString, NewString: r.NewString, Replaced: 1}

	case "Write":
		var r struct {
			FilePath string `json:"filePath"`
			Content  string `json:"content"`
			Type     string `json:"type"`
		}
		json.Unmarshal(raw, &r)
		if r.FilePath == "" {
			r.FilePath = input["file_path"]
		}
		return WriteResult{FilePath: r.FilePath, Created: r.Type == "create", Bytes: len(r.Content)}

	case "Bash":
		var r struct {
			Stdout      string `json:"stdout"`
			Stderr      string `json:"stderr"`
			Interrupted bool   `json:"interrupted"`
			ExitCode    int    `json:"exitCode"`
		}
		json.Unmarshal(raw, &r)
		return ShellResult{Stdout: r.Stdout, Stderr: r.Stderr, Interrupted: r.Interrupted, ExitCode: r.ExitCode}

	case "Grep":
		var r struct {
			NumFiles  int      `json:"numFiles"`
			NumLines  int      `json:"numLines"`
			Filenames []string `json:"filenames"`
		}
		json.Unmarshal(raw, &r)
		return GrepResult{Pattern: input["pattern"], NumFiles: r.NumFiles, NumLines: r.NumLines, Files: r.Filenames}

	case "Glob":
		var r struct {
			NumFiles  int      `json:"numFiles"`
			Filenames []string `json:"filenames"`
		}
		json.Unmarshal(raw, &r)
		return GlobResult{Pattern: input["pattern"], NumFiles: r.NumFiles, Files: r.Filenames}

	case "TodoWrite":
		var r struct {
			NewTodos []TodoItem `json:"newTodos"`
		}
		if json.Unmarshal(raw, &r) == nil && len(r.NewTodos) > 0 {
			return TodoResult{Todos: r.NewTodos}
		}
		return TodoResult{}

	case "Task":
		var r struct {
			AgentID     string          `json:"agentId"`
			Description string          `json:"description"`
			Content     json.RawMessage `json:"content"`
			TotalTokens int             `json:"totalTokens"`
		}
		json.Unmarshal(raw, &r)
		desc := r.Description
		if desc == "" {
			desc = input["description"]
		}
		return SubtaskResult{
			AgentID:     r.AgentID,
			Description: desc,
			Summary:     flattenContent(r.Content),
			TotalTokens: r.TotalTokens,
		}

	case "WebFetch":
		var r struct {
			URL             string  `json:"url"`
			Code            int     `json:"code"`
			Result          string  `json:"result"`
			Bytes           int     `json:"bytes"`
			DurationSeconds float64 `json:"durationSeconds"`
		}
		json.Unmarshal(raw, &r)
		if r.URL == "" {
			r.URL = input["url"]
		}
		return WebFetchResult{URL: r.URL, Code: r.Code, Result: r.Result, Bytes: r.Bytes, Seconds: int(r.DurationSeconds)}

	case "WebSearch":
		var r struct {
			Query   string `json:"query"`
			Results []struct {
				Title string `json:"title"`
				URL   string `json:"url"`
			} `json:"results"`
		}
		json.Unmarshal(raw, &r)
		if r.Query == "" {
			r.Query = input["query"]
		}
		res := WebSearchResult{Query: r.Query}
		for _, item := range r.Results {
			res.Results = append(res.Results, WebSearchItem{Title: item.Title, URL: item.URL})
		}
		return res

	case "AskUserQuestion":
		var r struct {
			Answers []struct {
				Question string `json:"question"`
				Answer   string `json:"answer"`
			} `json:"answers"`
		}
		if json.Unmarshal(raw, &r) == nil && len(r.Answers) > 0 {
			return QuestionResult{Question: r.Answers[0].Question, Answer: r.Answers[0].Answer}
		}
		return QuestionResult{Question: input["question"]}

	case "BashOutput":
		var r struct {
			ShellID string `json:"shellId"`
			Stdout  string `json:"stdout"`
			Stderr  string `json:"stderr"`
			Status  string `json:"status"`
		}
		json.Unmarshal(raw, &r)
		if r.ShellID == "" {
			r.ShellID = input["bash_id"]
		}
		return ShellOutputResult{ShellID: r.ShellID, Stdout: r.Stdout, Stderr: r.Stderr, Status: r.Status}

	case "KillShell", "KillBash":
		var r struct {
			ShellID string `json:"shell_id"`
		}
		json.Unmarshal(raw, &r)
		if r.ShellID == "" {
			r.ShellID = input["shell_id"]
		}
		return KillShellResult{ShellID: r.ShellID, Killed: true}

	case "ExitPlanMode", "exit_plan_mode":
		var r struct {
			Plan     string `json:"plan"`
			IsAgreed bool   `json:"isAgreed"`
		}
		json.Unmarshal(raw, &r)
		if r.Plan == "" {
			r.Plan = input["plan"]
		}
		return PlanResult{Plan: r.Plan, Approved: r.IsAgreed}
	}

	return GenericResult{Content: genericContent(raw)}
}

// decodeExternal splits mcp__<server>__<tool> into its parts and surfaces
// whatever content the payload carried.
func decodeExternal(toolName string, raw json.RawMessage) Structured {
	rest := strings.TrimPrefix(toolName, externalToolPrefix)
	server, tool := rest, ""
	if i := strings.Index(rest, "__"); i >= 0 {
		server, tool = rest[:i], rest[i+2:]
	}
	return ExternalToolResult{Server: server, Tool: tool, Content: genericContent(raw)}
}

// genericContent pulls the first displayable field out of an arbitrary
// result payload.
func genericContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var p genericPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ""
	}
	if c := flattenContent(p.Content); c != "" {
		return c
	}
	if p.Stdout != "" {
		return p.Stdout
	}
	return p.Result
}
