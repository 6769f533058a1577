// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

/*
Package metrics exposes Prometheus instrumentation for the recording
pipeline.

Every non-fatal error path in the pipeline updates a counter here, and
the capture stage publishes its rolling performance contract (CPU%,
RSS, frames encoded/dropped, encode latency, estimated bitrate,
open-segment age) at a >=1 Hz cadence.

Metric families, by component:

  - screenlog_capture_*, screenlog_encode_*, screenlog_segments_*:
    compositor frames, drops by reason, encode latency, segment
    lifecycle, CPU/RSS/bitrate gauges
  - screenlog_indexer_*: sampled frames, kept keyframes by reason
  - screenlog_ocr_*, screenlog_pii_*: recognition latency, row yield
    per engine, masked-row provenance counts
  - screenlog_events_*, screenlog_event_candidates_*,
    screenlog_sessions_*, screenlog_summaries_*: detector emissions
    per type, rejected candidates, session and summary production
  - screenlog_db_*, screenlog_retention_*: store query latency and
    errors, sweep deletions/bytes/errors
  - screenlog_privacy_*, screenlog_control_*, screenlog_paused:
    ingress vetoes, hotkey-to-status latency, pause state
  - screenlog_api_*: control API request counts, latency, in-flight
    gauge (recorded by the middleware package)

Metrics are served at GET /metrics on the local control surface in
Prometheus text format.
*/
package metrics
