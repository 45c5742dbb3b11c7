// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTranscript(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "session.jsonl")
	var data []byte
	for _, l := range lines {
		data = append(data, l...)
		data = append(data, '\n')
	}
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
}

const userHello = `{"type":"user","message":{"content":"hello"},"uuid":"m1","timestamp":"2024-01-01T00:00:00.000Z"}`

func TestParseIncremental_SingleUserLine(t *testing.T) {
	path := writeTranscript(t, t.TempDir(), userHello)
	p := NewParser()

	res, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)

	require.Len(t, res.NewMessages, 1)
	msg := res.NewMessages[0]
	assert.Equal(t, "user", msg.Role)
	assert.Equal(t, "m1", msg.UUID)
	require.Len(t, msg.Blocks, 1)
	assert.Equal(t, BlockText, msg.Blocks[0].Kind)
	assert.Equal(t, "hello", msg.Blocks[0].Text)
}

func TestParseIncremental_IdempotentWithoutGrowth(t *testing.T) {
	path := writeTranscript(t, t.TempDir(), userHello)
	p := NewParser()

	first, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)
	require.Len(t, first.NewMessages, 1)

	second, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)
	assert.Empty(t, second.NewMessages)
	assert.Len(t, second.Messages, 1)
}

func TestParseIncremental_ResumesFromOffset(t *testing.T) {
	path := writeTranscript(t, t.TempDir(), userHello)
	p := NewParser()

	_, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)

	appendLines(t, path, `{"type":"assistant","message":{"content":[{"type":"text","text":"hi there"}]},"uuid":"m2","timestamp":"2024-01-01T00:00:01.000Z"}`)

	res, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)
	require.Len(t, res.NewMessages, 1)
	assert.Equal(t, "assistant", res.NewMessages[0].Role)
	assert.Len(t, res.Messages, 2)
}

func TestParseIncremental_ToolDedup(t *testing.T) {
	toolLine := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu1","name":"Bash","input":{"command":"ls"}}]},"uuid":"m3","timestamp":"2024-01-01T00:00:02.000Z"}`
	path := writeTranscript(t, t.TempDir(), toolLine)
	p := NewParser()

	_, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)

	// The same invocation ID appearing again never yields a second block.
	appendLines(t, path, toolLine)
	res, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)
	assert.Empty(t, res.NewMessages)

	count := 0
	for _, m := range res.Messages {
		for _, b := range m.Blocks {
			if b.ToolUseID == "tu1" {
				count++
			}
		}
	}
	assert.Equal(t, 1, count)
}

func TestParseIncremental_ToolResultCompletion(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu1","name":"Bash","input":{"command":"ls"}}]},"uuid":"m1","timestamp":"2024-01-01T00:00:00.000Z"}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu1","content":"file.txt"}]},"uuid":"m2","timestamp":"2024-01-01T00:00:01.000Z","toolUseResult":{"stdout":"file.txt","stderr":"","exitCode":0}}`,
	)
	p := NewParser()

	res, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)

	c, ok := res.Completed["tu1"]
	require.True(t, ok)
	assert.Equal(t, "Bash", c.ToolName)
	assert.Equal(t, "file.txt", c.Raw)
	require.IsType(t, ShellResult{}, c.Structured)
	assert.Equal(t, "file.txt", c.Structured.(ShellResult).Stdout)

	// The tool_result carrier line projects no message.
	require.Len(t, res.NewMessages, 1)
}

func TestParseIncremental_ClearLiveOnly(t *testing.T) {
	dir := t.TempDir()
	clearLine := `{"type":"user","message":{"content":"<command-name>/clear</command-name>"},"uuid":"c1","timestamp":"2024-01-01T00:00:00.000Z"}`

	// Marker present on the very first read: not a live clear.
	path := writeTranscript(t, dir, clearLine, userHello)
	p := NewParser()
	res, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)
	assert.False(t, res.ClearDetected)

	// Marker appended after a completed read: live clear, reported once.
	appendLines(t, path, clearLine)
	res, err = p.ParseIncremental("s1", path)
	require.NoError(t, err)
	assert.True(t, res.ClearDetected)
	assert.Empty(t, res.Messages, "semantic history resets on clear")

	res, err = p.ParseIncremental("s1", path)
	require.NoError(t, err)
	assert.False(t, res.ClearDetected, "clear-pending is consumed exactly once")
}

func TestParseIncremental_TruncationResets(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, userHello,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]},"uuid":"m2","timestamp":"2024-01-01T00:00:01.000Z"}`)
	p := NewParser()

	_, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)
	require.Greater(t, p.Offset("s1"), int64(0))

	// Rewrite the file smaller than the stored offset.
	require.NoError(t, os.WriteFile(path, []byte(userHello+"\n"), 0644))

	res, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "m1", res.Messages[0].UUID)
}

func TestParseIncremental_PartialTrailingLineBuffered(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, userHello)
	p := NewParser()

	_, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)

	// Append half a line (no newline): must not be consumed yet.
	partial := `{"type":"assistant","message":{"content":[{"type":"text","te`
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(partial)
	require.NoError(t, err)
	f.Close()

	res, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)
	assert.Empty(t, res.NewMessages)

	appendLines(t, path, `xt":"done"}]},"uuid":"m2","timestamp":"2024-01-01T00:00:01.000Z"}`)
	res, err = p.ParseIncremental("s1", path)
	require.NoError(t, err)
	require.Len(t, res.NewMessages, 1)
	assert.Equal(t, "done", res.NewMessages[0].Blocks[0].Text)
}

func TestParseIncremental_MissingFile(t *testing.T) {
	p := NewParser()
	res, err := p.ParseIncremental("s1", filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
}

func TestParseIncremental_MalformedLinesSkipped(t *testing.T) {
	path := writeTranscript(t, t.TempDir(), "not json at all", userHello, `{"type":"garbage"}`)
	p := NewParser()

	res, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)
	require.Len(t, res.NewMessages, 1)
	assert.Equal(t, "m1", res.NewMessages[0].UUID)
}

func TestParseIncremental_MetaAndEchoSkipped(t *testing.T) {
	path := writeTranscript(t, t.TempDir(),
		`{"type":"user","isMeta":true,"message":{"content":"internal"},"uuid":"meta1","timestamp":"2024-01-01T00:00:00.000Z"}`,
		`{"type":"user","message":{"content":"<command-message>doit</command-message>"},"uuid":"echo1","timestamp":"2024-01-01T00:00:01.000Z"}`,
		userHello,
	)
	p := NewParser()

	res, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)
	require.Len(t, res.NewMessages, 1)
	assert.Equal(t, "m1", res.NewMessages[0].UUID)
}

func TestParseIncremental_InterruptedBlock(t *testing.T) {
	path := writeTranscript(t, t.TempDir(),
		`{"type":"user","message":{"content":"[Request interrupted by user]"},"uuid":"i1","timestamp":"2024-01-01T00:00:00.000Z"}`)
	p := NewParser()

	res, err := p.ParseIncremental("s1", path)
	require.NoError(t, err)
	require.Len(t, res.NewMessages, 1)
	assert.Equal(t, BlockInterrupted, res.NewMessages[0].Blocks[0].Kind)
}

func TestItemIdentity(t *testing.T) {
	tool := Block{Kind: BlockToolUse, ToolUseID: "tu9"}
	text := Block{Kind: BlockText, Index: 2}

	assert.Equal(t, "tu9", ItemIdentity("m1", tool))
	assert.Equal(t, "m1/text/2", ItemIdentity("m1", text))
}

func TestAgentTools(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent-a1.jsonl")
	lines := []string{
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"at1","name":"Read","input":{"file_path":"/tmp/x"}}]},"uuid":"a1","timestamp":"2024-01-01T00:00:00.000Z"}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"at1","content":"data"}]},"uuid":"a2","timestamp":"2024-01-01T00:00:01.000Z"}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"at2","name":"Grep","input":{"pattern":"foo"}}]},"uuid":"a3","timestamp":"2024-01-01T00:00:02.000Z"}`,
	}
	var data string
	for _, l := range lines {
		data += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	tools, err := AgentTools(path)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "Read", tools[0].Name)
	assert.True(t, tools[0].Completed)
	assert.Equal(t, "data", tools[0].Raw)
	assert.False(t, tools[1].Completed)
}

func TestProjectSlug(t *testing.T) {
	assert.Equal(t, "-home-user-my-project", ProjectSlug("/home/user/my.project"))
}

func TestParseIncremental_ManySessionsIndependent(t *testing.T) {
	dir := t.TempDir()
	p := NewParser()
	for i := 0; i < 3; i++ {
		sub := filepath.Join(dir, fmt.Sprintf("p%d", i))
		require.NoError(t, os.MkdirAll(sub, 0755))
		path := writeTranscript(t, sub, userHello)
		res, err := p.ParseIncremental(fmt.Sprintf("s%d", i), path)
		require.NoError(t, err)
		assert.Len(t, res.NewMessages, 1)
	}
}
