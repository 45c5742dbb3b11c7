// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/wingedpig/lookout/internal/transcript"
)

// mergeMessages folds parsed message blocks into the session's chat items.
// Identity makes the merge idempotent: a block whose item already exists is
// left in place, except that an existing tool item has its displayed input
// refreshed without touching status or result. Returns the tool invocation
// IDs newly materialized from the log.
func mergeMessages(sess *Session, msgs []transcript.Message, now time.Time) []string {
	var newTools []string
	for _, msg := range msgs {
		for _, block := range msg.Blocks {
			id := transcript.ItemIdentity(msg.UUID, block)

			if existing := sess.findItem(id); existing != nil {
				if existing.Tool != nil && block.Kind == transcript.BlockToolUse {
					existing.Tool.Input = block.Input
				}
				continue
			}

			item := projectBlock(id, msg, block, now)
			if item == nil {
				continue
			}
			if item.Tool != nil {
				sess.Tools.MarkSeen(item.Tool.ID)
				newTools = append(newTools, item.Tool.ID)
			}
			sess.Items = append(sess.Items, item)
		}
	}
	return newTools
}

// projectBlock converts one message block into a chat item. Tool items start
// Running; the log's completed-tool set overrides that via synthesized
// completion events.
func projectBlock(id string, msg transcript.Message, block transcript.Block, now time.Time) *ChatItem {
	created := msg.Timestamp
	if created.IsZero() {
		created = now
	}

	switch block.Kind {
	case transcript.BlockText:
		kind := ItemAssistant
		if msg.Role == "user" {
			kind = ItemUser
		}
		return &ChatItem{ID: id, Kind: kind, Text: block.Text, CreatedAt: created}

	case transcript.BlockThinking:
		return &ChatItem{ID: id, Kind: ItemThinking, Text: block.Text, CreatedAt: created}

	case transcript.BlockInterrupted:
		return &ChatItem{ID: id, Kind: ItemInterrupted, Text: block.Text, CreatedAt: created}

	case transcript.BlockToolUse:
		return &ChatItem{
			ID:   id,
			Kind: ItemTool,
			Tool: &ToolCall{
				ID:     block.ToolUseID,
				Name:   block.ToolName,
				Input:  block.Input,
				Status: StatusRunning,
			},
			CreatedAt: created,
		}
	}
	return nil
}

// reconcileClear drops chat items whose identity is absent from the freshly
// parsed log, sparing items created within the grace window: a placeholder
// for a tool started right after the clear may not have reached the log yet.
// Trackers are rebuilt from the surviving items.
func reconcileClear(sess *Session, present map[string]bool, grace time.Duration, now time.Time) {
	kept := sess.Items[:0]
	for _, item := range sess.Items {
		if present[item.ID] || now.Sub(item.CreatedAt) <= grace {
			kept = append(kept, item)
		}
	}
	for i := len(kept); i < len(sess.Items); i++ {
		sess.Items[i] = nil
	}
	sess.Items = kept

	tools := NewToolTracker()
	tools.LastOffset = sess.Tools.LastOffset
	tools.LastSync = sess.Tools.LastSync
	for _, item := range sess.Items {
		if item.Tool != nil {
			tools.MarkSeen(item.Tool.ID)
			if !item.Tool.Status.Terminal() {
				tools.Start(item.Tool.ID, item.CreatedAt)
			}
		}
	}
	sess.Tools = tools
	sess.Subagents = NewSubagentState()
	sess.NeedsClearReconcile = false
}
