// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError collects all problems found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config:\n  " + strings.Join(e.Problems, "\n  ")
}

func (e *ValidationError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validator checks a loaded configuration.
type Validator struct{}

// NewValidator creates a config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns nil or a *ValidationError listing every problem.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs.add("server.port must be 1-65535, got %d", cfg.Server.Port)
	}
	if cfg.Hooks.Socket == "" {
		errs.add("hooks.socket must not be empty")
	}
	if cfg.Transcripts.Root == "" {
		errs.add("transcripts.root must not be empty")
	}

	checkDuration(errs, "watch.debounce", cfg.Watch.Debounce)
	checkDuration(errs, "watch.resync", cfg.Watch.Resync)
	checkDuration(errs, "health.interval", cfg.Health.Interval)
	checkDuration(errs, "sessions.clear_grace", cfg.Sessions.ClearGrace)
	checkDuration(errs, "events.history.max_age", cfg.Events.History.MaxAge)

	if len(errs.Problems) > 0 {
		return errs
	}
	return nil
}

func checkDuration(errs *ValidationError, name, value string) {
	if value == "" {
		return
	}
	if _, err := time.ParseDuration(value); err != nil {
		errs.add("%s: %v", name, err)
	}
}
