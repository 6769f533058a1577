// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package api serves the local control/status surface the menu-bar UI
// consumes as its contract with the recorder core.
//
// The server binds to localhost only; nothing here is reachable off
// the machine and no user-auth layer exists. Routes:
//
//	GET  /healthz                  liveness
//	GET  /status                   control state + per-display capture status
//	POST /controls/{action}        pause | privacy-mode | emergency-stop | reset
//	GET  /privacy/check            would frames from ?app on ?display be captured
//	GET  /sessions                 sessions grouped from recent events
//	GET  /sessions/{id}/summary    rendered narrative + evidence reference
//	GET  /spans                    persisted spans (time/kind/tag filters, paginated)
//	GET  /spans/{id}               one persisted span
//	GET  /metrics                  Prometheus text format
//	GET  /ws                       websocket upgrade onto the status hub
//
// Middleware order is request id, gzip compression, per-IP rate
// limit, CORS (local origins only), Prometheus instrumentation.
//
// Control POSTs measure enqueue-to-status latency and record it both
// to the metrics surface and, when an audit logger is installed, to
// the audit trail.
package api
