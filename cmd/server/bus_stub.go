// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

//go:build !nats

package main

import (
	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/logging"
	"github.com/watchtower/screenlog/internal/pipeline"
)

// initBus is a no-op without the "nats" build tag: stages communicate
// over in-process channels only.
func initBus(cfg *config.Config, _ *pipeline.Consumer) {
	if cfg.NATS.Enabled {
		logging.Warn().Msg("NATS_ENABLED=true but this binary was built without -tags=nats")
	}
}
