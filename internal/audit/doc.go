// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package audit records privacy-relevant recorder actions for later review.
//
// A recorder that watches the user's screen owes that user an
// auditable trail: when capture was paused and by what path, which
// applications were refused, what was deleted or quarantined, and
// when the storage key changed hands. This package persists that
// trail to the row store and exposes it for querying.
//
// # Overview
//
// The audit system provides:
//   - Structured event logging with typed event categories
//   - DuckDB persistence for durable audit trail storage
//   - Asynchronous buffered writes for minimal latency impact
//   - Automatic retention policy enforcement with configurable cleanup
//   - Common Event Format (CEF) export for external log tooling
//   - Flexible querying with multi-dimensional filters
//
// # Event Types
//
// Events are categorized into the following groups:
//
// Privacy-control events:
//   - privacy.pause_toggled, privacy.privacy_mode_toggled,
//     privacy.emergency_stop: immediate-control transitions, with the
//     hotkey-to-status latency recorded in metadata
//   - privacy.pause_expired: automatic resume after the pause timeout
//   - privacy.allowlist_changed, privacy.pii_pattern_changed: rule-set
//     updates
//   - privacy.violation: a frame or text row handled after reaching a
//     stage it should have been blocked or masked before
//
// Storage events:
//   - storage.key_rotated: root-key rotation and file rewrite
//   - storage.tamper_detected: AEAD authentication failure on read
//   - storage.file_quarantined: corrupt file moved aside
//   - storage.migration_applied: schema version change
//
// Retention and pipeline events:
//   - retention.sweep_completed: per-pass deletion counts
//   - capture.session_restarted: supervisor-driven capture restarts
//   - plugin.failure: plugin killed for timeout, over-memory, or panic
//
// Administrative events:
//   - config.changed, data.export, admin.action
//
// # Architecture
//
// The audit system uses a producer-consumer pattern:
//
//	Logger.Log() -> Event Buffer (chan) -> Async Writer -> Store
//	                     |                      |
//	                 Non-blocking           Background goroutine
//
// Events are buffered in a channel to avoid blocking the caller; the
// hotkey path in particular must never wait on a database write. A
// background goroutine drains the buffer and persists events.
//
// # Usage Example
//
//	store := audit.NewDuckDBStore(rowStore.Conn())
//	logger := audit.NewLogger(store, audit.DefaultConfig())
//	defer logger.Close()
//
//	// Record an emergency stop with its measured latency
//	logger.LogControlAction(ctx, audit.UserActor("desktop"),
//	    audit.HotkeySource(), "emergency_stop", true, 42*time.Millisecond)
//
// Querying:
//
//	filter := audit.QueryFilter{
//	    Types:     []audit.EventType{audit.EventTypeEmergencyStop},
//	    StartTime: &startTime,
//	    Limit:     100,
//	    OrderDesc: true,
//	}
//	events, err := logger.Query(ctx, filter)
//
// # Retention Policy
//
// Automatic retention cleanup runs at the configured interval:
//
//	logger.StartCleanupRoutine(ctx)
//	// Events older than RetentionDays are automatically deleted
//
// # Thread Safety
//
// All exported functions are safe for concurrent use:
//   - Logger uses a buffered channel for non-blocking writes
//   - Store implementations use appropriate synchronization
//   - Query operations use read locks for concurrent access
package audit
