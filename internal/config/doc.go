// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

/*
Package config provides layered configuration loading for the recorder
via koanf v2: struct defaults, an optional YAML file, then environment
variables, in that order of precedence.

# Configuration Groups

  - CaptureConfig: per-display capture/encoding (fps, bitrate, segment rollover)
  - IndexerConfig: keyframe selection thresholds (pHash, SSIM, entropy)
  - PerceptionConfig: OCR engine selection and PII masking
  - DetectionConfig: event-detector thresholds and confidence weights
  - SummarizerConfig: session grouping and evidence-confidence weights
  - PrivacyConfig: allowlist/blocklist rules and pause controls
  - RetentionConfig: per-data-kind retention windows and sweep cadence
  - StorageConfig: DuckDB store paths and envelope-encryption settings
  - NATSConfig: embedded JetStream broker and circuit-breaker tuning
  - PluginConfig: plugin host resource bounds
  - ServerConfig: local HTTP/websocket control surface bind address
  - LoggingConfig: zerolog level/format

# Usage

	cfg, err := config.LoadWithKoanf()
	if err != nil {
	    log.Fatalf("config load failed: %v", err)
	}

# Hot Reload

WatchConfigFile registers a file watcher that invokes a callback on
change; the caller owns mutex protection around swapping the active
*Config.

# Thread Safety

A *Config returned by LoadWithKoanf is immutable; safe for concurrent
reads without synchronization.
*/
package config
