// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net/url"

	"github.com/wingedpig/lookout/internal/session"
)

// SessionClient handles session API operations.
type SessionClient struct {
	client *Client
}

// List returns the current snapshot of all observed sessions.
func (s *SessionClient) List(ctx context.Context) ([]session.SessionView, error) {
	var views []session.SessionView
	if err := s.client.get(ctx, "/api/sessions", &views); err != nil {
		return nil, err
	}
	return views, nil
}

// Get returns a single session by ID.
func (s *SessionClient) Get(ctx context.Context, id string) (*session.SessionView, error) {
	var view session.SessionView
	if err := s.client.get(ctx, "/api/sessions/"+url.PathEscape(id), &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// permissionRequest is the body for approve and deny.
type permissionRequest struct {
	ToolUseID string `json:"tool_use_id"`
	Reason    string `json:"reason,omitempty"`
}

// Approve resolves a pending permission request in the tool's favor.
func (s *SessionClient) Approve(ctx context.Context, id, toolUseID string) error {
	body := permissionRequest{ToolUseID: toolUseID}
	return s.client.postJSON(ctx, "/api/sessions/"+url.PathEscape(id)+"/approve", body, nil)
}

// Deny resolves a pending permission request against the tool, with an
// optional reason relayed back to the agent.
func (s *SessionClient) Deny(ctx context.Context, id, toolUseID, reason string) error {
	body := permissionRequest{ToolUseID: toolUseID, Reason: reason}
	return s.client.postJSON(ctx, "/api/sessions/"+url.PathEscape(id)+"/deny", body, nil)
}

// Archive marks a session archived.
func (s *SessionClient) Archive(ctx context.Context, id string) error {
	return s.client.postJSON(ctx, "/api/sessions/"+url.PathEscape(id)+"/archive", nil, nil)
}

// Reload asks the server to rebuild a session's history from its transcript.
func (s *SessionClient) Reload(ctx context.Context, id string) error {
	return s.client.postJSON(ctx, "/api/sessions/"+url.PathEscape(id)+"/reload", nil, nil)
}

// Health checks server liveness.
func (s *SessionClient) Health(ctx context.Context) error {
	return s.client.get(ctx, "/api/health", nil)
}
