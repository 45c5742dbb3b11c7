// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// fileTail watches a single file with fsnotify and invokes a callback with
// each batch of newly appended bytes. If the file does not exist yet, the
// parent directory is watched until the file is created, then the watch
// switches to the file itself. Truncation rewinds the read position.
type fileTail struct {
	path     string
	onAppend func(data []byte)

	mu       sync.Mutex
	fw       *fsnotify.Watcher
	offset   int64
	watching bool // watching the file directly (vs. the parent directory)
	closed   bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// newFileTail starts tailing path. Existing content is consumed immediately
// so onAppend only ever sees bytes that arrived after construction.
func newFileTail(path string, onAppend func(data []byte)) (*fileTail, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	t := &fileTail{
		path:     path,
		onAppend: onAppend,
		fw:       fw,
		closeCh:  make(chan struct{}),
	}

	if info, err := os.Stat(path); err == nil {
		t.offset = info.Size()
		if err := fw.Add(path); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}
		t.watching = true
	} else {
		// File not created yet: watch the parent directory and switch once
		// the file appears.
		dir := filepath.Dir(path)
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	t.wg.Add(1)
	go t.loop()

	return t, nil
}

func (t *fileTail) loop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.closeCh:
			return

		case event, ok := <-t.fw.Events:
			if !ok {
				return
			}
			t.handleEvent(event)

		case err, ok := <-t.fw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %s: %v", t.path, err)
		}
	}
}

func (t *fileTail) handleEvent(event fsnotify.Event) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	if !t.watching {
		// Directory mode: wait for our file to be created.
		if event.Name != t.path || !event.Has(fsnotify.Create) {
			t.mu.Unlock()
			return
		}
		dir := filepath.Dir(t.path)
		if err := t.fw.Add(t.path); err != nil {
			log.Printf("watcher: watch %s: %v", t.path, err)
			t.mu.Unlock()
			return
		}
		t.fw.Remove(dir)
		t.watching = true
		t.offset = 0
		t.mu.Unlock()
		t.drain()
		return
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.drain()
}

// drain reads everything past the current offset and hands it to the
// callback.
func (t *fileTail) drain() {
	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}
	size := info.Size()

	if size < offset {
		// Truncated externally; restart from the top.
		offset = 0
	}
	if size == offset {
		return
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return
	}
	data := make([]byte, size-offset)
	n, err := io.ReadFull(f, data)
	if err != nil && err != io.ErrUnexpectedEOF {
		return
	}
	data = data[:n]

	t.mu.Lock()
	t.offset = offset + int64(n)
	closed := t.closed
	t.mu.Unlock()

	if !closed && len(data) > 0 {
		t.onAppend(data)
	}
}

// Close stops the tail. Idempotent.
func (t *fileTail) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.closeCh)
	t.fw.Close()
	t.wg.Wait()
	return nil
}
