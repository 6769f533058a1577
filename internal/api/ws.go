// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package api

import (
	"net/http"
	"strings"

	gws "github.com/gorilla/websocket"

	"github.com/watchtower/screenlog/internal/logging"
	ws "github.com/watchtower/screenlog/internal/websocket"
)

// WSHandler upgrades /ws requests onto the status-broadcast hub. The
// hub pushes control-state transitions, rolling capture stats, and
// live detected events to the menu-bar UI.
type WSHandler struct {
	hub      *ws.Hub
	upgrader gws.Upgrader
}

// NewWSHandler builds the upgrade handler around a running hub.
func NewWSHandler(hub *ws.Hub) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true // non-browser client
				}
				return strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1")
			},
		},
	}
}

// Serve upgrades the connection and registers the client with the
// hub; the client's pumps own the connection from here.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("api: websocket upgrade failed")
		return
	}
	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}
