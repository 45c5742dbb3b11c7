// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/wingedpig/lookout/internal/events"
)

// EventClient handles event history API operations.
type EventClient struct {
	client *Client
}

// HistoryOptions filters an event history query. Zero values are omitted.
type HistoryOptions struct {
	Types     []string
	SessionID string
	Since     time.Time
	Limit     int
}

// History returns recorded bus events, newest last.
func (e *EventClient) History(ctx context.Context, opts HistoryOptions) ([]events.Event, error) {
	query := url.Values{}
	for _, t := range opts.Types {
		query.Add("type", t)
	}
	if opts.SessionID != "" {
		query.Set("session", opts.SessionID)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if !opts.Since.IsZero() {
		query.Set("since", opts.Since.Format(time.RFC3339))
	}

	path := "/api/events"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var list []events.Event
	if err := e.client.get(ctx, path, &list); err != nil {
		return nil, err
	}
	return list, nil
}
