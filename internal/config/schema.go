// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the HJSON configuration file.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Hooks       HooksConfig       `json:"hooks"`
	Transcripts TranscriptsConfig `json:"transcripts"`
	Watch       WatchConfig       `json:"watch"`
	Health      HealthConfig      `json:"health"`
	Sessions    SessionsConfig    `json:"sessions"`
	Events      EventsConfig      `json:"events"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// HooksConfig configures the hook notification socket.
type HooksConfig struct {
	Socket string `json:"socket"`
}

// TranscriptsConfig locates the agent CLI's transcript tree.
type TranscriptsConfig struct {
	Root string `json:"root"`
}

// WatchConfig configures file-change debouncing.
type WatchConfig struct {
	// Debounce batches rapid file events before the watcher reacts.
	Debounce string `json:"debounce"`
	// Resync is the quiescent interval before a scheduled re-parse runs.
	Resync string `json:"resync"`
}

// HealthConfig configures the process liveness sweep.
type HealthConfig struct {
	Interval string `json:"interval"`
}

// SessionsConfig tunes session bookkeeping.
type SessionsConfig struct {
	// ClearGrace spares freshly created chat items during clear
	// reconciliation.
	ClearGrace string `json:"clear_grace"`
}

// EventsConfig configures the event bus history.
type EventsConfig struct {
	History EventHistoryConfig `json:"history"`
}

// EventHistoryConfig bounds the retained event history.
type EventHistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// ParseDuration parses a duration string, returning a default if empty or
// invalid.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// DefaultTranscriptRoot is where the agent CLI writes its per-project
// transcript directories.
func DefaultTranscriptRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}
