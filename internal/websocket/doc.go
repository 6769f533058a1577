// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

/*
Package websocket provides real-time bidirectional communication for the
local control/status surface.

This package broadcasts newly detected events, session summaries,
pipeline statistics, and privacy control transitions to connected
dashboard clients. It uses the gorilla/websocket library with a
hub-client architecture for efficient message broadcasting.

Key Components:

  - Hub: Central message broker that manages client connections and broadcasts
  - Client: Represents a single WebSocket connection with read/write goroutines
  - Message: Typed message structure for different event types

Architecture:

The package implements a hub-and-spoke pattern:

	┌──────────┐
	│   Hub    │ ← Broadcasts to all clients
	└────┬─────┘
	     │
	┌────┴─────┬─────────┬─────────┐
	│          │         │         │
	│ Client1  │ Client2 │ Client3 │ Client4
	│          │         │         │
	└──────────┴─────────┴─────────┘

Each client has two goroutines:
  - readPump: Reads from WebSocket, handles pings
  - writePump: Writes to WebSocket, sends pongs

Message Types:

The following message types are supported:

  - event: A new event was detected and indexed (target, confidence, evidence)
  - session_closed: The summarizer finalized a session into a span
  - stats_update: Pipeline counters changed (event count, last event time)
  - detection_alert: A detector flagged an event requiring operator attention
  - privacy_state: Pause/resume/allowlist/emergency-stop transition

Usage Example - Server:

	import (
	    "github.com/watchtower/screenlog/internal/websocket"
	    "net/http"
	)

	// Create hub
	hub := websocket.NewHub()
	go hub.Run()

	// WebSocket upgrade endpoint
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
	    websocket.ServeWS(hub, w, r)
	})

	// Broadcast a session summary
	hub.BroadcastSessionClosed(42, 2340) // 42 events, 2340ms of session span

	// Broadcast stats update
	hub.BroadcastStatsUpdate(10000, lastEventTimestamp)

Usage Example - Client (JavaScript):

	// Connect to WebSocket
	const ws = new WebSocket('ws://localhost:8765/ws');

	ws.onmessage = (event) => {
	    const msg = JSON.parse(event.data);

	    if (msg.type === 'event') {
	        appendEventRow(msg.data);
	    }

	    if (msg.type === 'privacy_state') {
	        updatePrivacyBanner(msg.data.action);
	    }
	};

Performance Characteristics:

  - Broadcast latency: <10ms for typical payloads
  - Max clients: dashboard is local-only, a handful of concurrent connections expected
  - Ping interval: 30 seconds (keeps connection alive)
  - Write deadline: 10 seconds per message
  - Message size limit: 512KB (configurable)

Connection Lifecycle:

1. Client connects via HTTP upgrade
2. Hub registers client
3. Client starts read/write goroutines
4. Hub broadcasts messages to all clients
5. Client disconnects (network error or explicit close)
6. Hub unregisters client and cleans up

Thread Safety:

The package is fully thread-safe:
  - Hub uses mutex for client map access
  - Channels coordinate goroutine communication
  - Each client has separate read/write goroutines
  - No shared mutable state between clients

Error Handling:

The package handles:
  - Connection upgrade failures: Returns HTTP 400
  - Read errors: Closes connection gracefully
  - Write errors: Removes client from hub
  - Ping/pong timeout: Detects dead connections (60s timeout)

Configuration:

WebSocket settings:
  - writeWait: 10 seconds (time allowed to write message)
  - pongWait: 60 seconds (time allowed to read pong)
  - pingPeriod: 30 seconds (ping interval, must be < pongWait)
  - maxMessageSize: 512 KB (max message size)

See Also:

  - github.com/gorilla/websocket: Underlying WebSocket library
  - internal/api: WebSocket endpoint handler
  - internal/eventbus: Off-process event publication
*/
package websocket
