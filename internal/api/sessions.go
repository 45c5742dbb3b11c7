// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wingedpig/lookout/internal/session"
)

// SessionHandler handles session-related API requests.
type SessionHandler struct {
	store *session.Store
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store *session.Store) *SessionHandler {
	return &SessionHandler{store: store}
}

// List returns the current snapshot of all sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.store.Snapshot())
}

// Get returns a single session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, ok := h.store.Get(id)
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found: "+id)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// permissionBody is the request body for approve/deny.
type permissionBody struct {
	ToolUseID string `json:"tool_use_id"`
	Reason    string `json:"reason,omitempty"`
}

// Approve resolves a pending permission in the requester's favor.
func (h *SessionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, ok := h.decodePermission(w, r, id)
	if !ok {
		return
	}
	h.store.Approve(id, body.ToolUseID)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// Deny resolves a pending permission against the requester.
func (h *SessionHandler) Deny(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, ok := h.decodePermission(w, r, id)
	if !ok {
		return
	}
	h.store.Deny(id, body.ToolUseID, body.Reason)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "denied"})
}

func (h *SessionHandler) decodePermission(w http.ResponseWriter, r *http.Request, id string) (permissionBody, bool) {
	if _, ok := h.store.Get(id); !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found: "+id)
		return permissionBody{}, false
	}
	var body permissionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ToolUseID == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "tool_use_id is required")
		return permissionBody{}, false
	}
	return body, true
}

// Archive marks a session archived.
func (h *SessionHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.store.Get(id); !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found: "+id)
		return
	}
	h.store.Archive(id)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// Reload rebuilds a session's history from the transcript.
func (h *SessionHandler) Reload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.store.Get(id); !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found: "+id)
		return
	}
	h.store.Reload(id)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "reloading"})
}

// Health reports process liveness for monitoring.
func Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
