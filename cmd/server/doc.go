// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package main is the entry point for the screenlog recorder daemon.
//
// Screenlog continuously captures multi-monitor screen activity,
// extracts text and UI structure from the stream, detects meaningful
// interaction events, groups them into sessions, and produces
// evidence-linked narrative summaries. Everything stays on the local
// machine under strict retention and privacy budgets.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 sources (defaults, YAML, env)
//  2. Credential store: load-or-create the storage root key
//  3. Storage: DuckDB columnar (frames/ocr/events) + row (spans) stores,
//     versioned migrations, optional at-rest file vault
//  4. WAL (build tag "wal"): BadgerDB staging ahead of event commits
//  5. Privacy gate: allowlist snapshots + immediate controls
//  6. Capture: one supervised session per display, segment lifecycle
//  7. Pipeline: indexer -> OCR -> event detector consumer
//  8. Summarizer: background session grouping and span persistence
//  9. Retention: age-based sweep with integrity verification
//  10. Audit: privacy-action trail in the row store
//  11. Control surface: localhost HTTP + WebSocket status hub
//
// Every long-running piece registers with a three-layer suture
// supervisor tree (capture / pipeline / api), so a crash restarts
// only the smallest subtree that contains it.
//
// # Build Tags
//
// Optional build tags enable additional functionality:
//
//	go build -tags "nats" ./cmd/server      # embedded JetStream stage bus
//	go build -tags "wal" ./cmd/server       # BadgerDB event staging
//	go build -tags "nats,wal" ./cmd/server  # both
//
// Without "nats" the pipeline stages communicate over in-process
// channels only; without "wal" event commits skip durable staging.
//
// # Platform Boundaries
//
// Screen capture sources, hardware H.264 encoders, and native OCR
// engines are platform bindings supplied by external collaborator
// builds; this binary compiles and runs without them, with capture
// disabled until a source factory is registered.
//
// # Signal Handling
//
// The daemon shuts down gracefully on SIGINT and SIGTERM: capture
// sessions finalize their open segments, the pipeline finishes the
// record in flight, and the supervisor tree drains within its
// shutdown timeout.
package main
