// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lookout.hjson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadHJSON(t *testing.T) {
	path := writeConfig(t, `
{
  // comments are allowed
  server: {
    host: 0.0.0.0
    port: 8080
  }
  transcripts: {
    root: /var/lib/agent/projects
  }
  watch: {
    resync: 500ms
  }
}
`)

	cfg, err := NewLoader().LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/var/lib/agent/projects", cfg.Transcripts.Root)
	assert.Equal(t, "500ms", cfg.Watch.Resync)

	// Defaults fill the rest.
	assert.Equal(t, "/tmp/lookout.sock", cfg.Hooks.Socket)
	assert.Equal(t, "100ms", cfg.Watch.Debounce)
	assert.Equal(t, "15s", cfg.Health.Interval)
	assert.Equal(t, "2s", cfg.Sessions.ClearGrace)
	assert.Equal(t, 10000, cfg.Events.History.MaxEvents)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), "/does/not/exist.hjson")
	assert.Error(t, err)
}

func TestLoadMalformed(t *testing.T) {
	path := writeConfig(t, "{ server: { port: }")
	_, err := NewLoader().Load(context.Background(), path)
	assert.Error(t, err)
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	if cfg.Transcripts.Root == "" {
		cfg.Transcripts.Root = "/tmp/projects"
	}
	assert.NoError(t, NewValidator().Validate(cfg))
}

func TestValidatorRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 99999
	cfg.Watch.Debounce = "soon"
	cfg.Transcripts.Root = "/tmp/projects"

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Len(t, verr.Problems, 2)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 300*time.Millisecond, ParseDuration("", 300*time.Millisecond))
	assert.Equal(t, 2*time.Second, ParseDuration("2s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("bogus", time.Minute))
}
