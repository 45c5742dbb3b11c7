// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/lookout/internal/api"
	"github.com/wingedpig/lookout/internal/events"
	"github.com/wingedpig/lookout/internal/hooks"
	"github.com/wingedpig/lookout/internal/session"
)

func testServer(t *testing.T) (*Client, *session.Store) {
	t.Helper()
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{HistoryMaxEvents: 100})
	t.Cleanup(func() { bus.Close() })
	store := session.NewStore(bus, t.TempDir())
	srv := httptest.NewServer(api.NewRouter(api.Dependencies{Store: store, EventBus: bus}))
	t.Cleanup(srv.Close)
	return New(srv.URL), store
}

func seedSession(store *session.Store, id string) {
	store.Dispatch(session.HookEvent{Notification: hooks.Notification{
		SessionID: id,
		WorkDir:   "/home/user/proj",
		Event:     hooks.EventSessionStart,
	}})
}

func TestListAndGetSessions(t *testing.T) {
	c, store := testServer(t)
	seedSession(store, "s1")

	views, err := c.Sessions.List(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "s1", views[0].ID)
	assert.Equal(t, "proj", views[0].ProjectName)

	view, err := c.Sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", view.ID)
}

func TestGetUnknownSession(t *testing.T) {
	c, _ := testServer(t)

	_, err := c.Sessions.Get(context.Background(), "ghost")
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
}

func TestApproveAndDeny(t *testing.T) {
	c, store := testServer(t)
	seedSession(store, "s1")

	require.NoError(t, c.Sessions.Approve(context.Background(), "s1", "t1"))
	require.NoError(t, c.Sessions.Deny(context.Background(), "s1", "t2", "not now"))

	err := c.Sessions.Approve(context.Background(), "s1", "")
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, "BAD_REQUEST", apiErr.Code)
}

func TestArchiveAndReload(t *testing.T) {
	c, store := testServer(t)
	seedSession(store, "s1")

	require.NoError(t, c.Sessions.Archive(context.Background(), "s1"))
	view, _ := store.Get("s1")
	assert.True(t, view.Archived)

	require.NoError(t, c.Sessions.Reload(context.Background(), "s1"))
}

func TestHealth(t *testing.T) {
	c, _ := testServer(t)
	require.NoError(t, c.Sessions.Health(context.Background()))
}

func TestEventHistory(t *testing.T) {
	c, store := testServer(t)
	seedSession(store, "s1")

	list, err := c.Events.History(context.Background(), HistoryOptions{
		Types:     []string{events.EventSessionCreated},
		SessionID: "s1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, events.EventSessionCreated, list[0].Type)
}
