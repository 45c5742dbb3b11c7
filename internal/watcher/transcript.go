// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"bytes"
	"time"
)

// Interrupt signatures scanned for in newly appended transcript bytes. The
// CLI records either a synthetic error tool_result or an explicit
// interrupted flag.
var interruptSignatures = [][]byte{
	[]byte("[Request interrupted by user"),
	[]byte(`"interrupted":true`),
}

// TranscriptWatcher tails one session transcript and reports two things:
// every append (so a resync can be scheduled) and, at most once per
// detection, an interrupt signature appearing in the fresh bytes. Change
// reports are coalesced through the debounce window; interrupts bypass it.
type TranscriptWatcher struct {
	sessionID   string
	tail        *fileTail
	debounce    *Debouncer
	onChange    func(sessionID string)
	onInterrupt func(sessionID string)
}

// NewTranscriptWatcher starts watching a session transcript. The file may
// not exist yet; the parent directory is watched until it appears. A
// debounce of zero reports every append immediately.
func NewTranscriptWatcher(sessionID, path string, debounce time.Duration, onChange, onInterrupt func(sessionID string)) (*TranscriptWatcher, error) {
	w := &TranscriptWatcher{
		sessionID:   sessionID,
		onChange:    onChange,
		onInterrupt: onInterrupt,
	}
	if debounce > 0 {
		w.debounce = NewDebouncer(debounce)
	}
	tail, err := newFileTail(path, w.handleAppend)
	if err != nil {
		return nil, err
	}
	w.tail = tail
	return w, nil
}

func (w *TranscriptWatcher) handleAppend(data []byte) {
	if w.onChange != nil {
		if w.debounce != nil {
			w.debounce.Debounce(w.sessionID, func() { w.onChange(w.sessionID) })
		} else {
			w.onChange(w.sessionID)
		}
	}

	if w.onInterrupt == nil {
		return
	}
	for _, sig := range interruptSignatures {
		if bytes.Contains(data, sig) {
			// One report per batch, however many signatures it contains.
			w.onInterrupt(w.sessionID)
			return
		}
	}
}

// Stop ends the watch. Idempotent.
func (w *TranscriptWatcher) Stop() error {
	if w.debounce != nil {
		w.debounce.Stop()
	}
	return w.tail.Close()
}
