// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

//go:build nats

package main

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/eventbus"
	"github.com/watchtower/screenlog/internal/logging"
	"github.com/watchtower/screenlog/internal/pipeline"
)

// initBus starts the embedded JetStream broker and wires the
// breaker-wrapped publisher into the pipeline consumer's stage
// boundaries. Requires the "nats" build tag.
func initBus(cfg *config.Config, consumer *pipeline.Consumer) {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("Event bus disabled (NATS_ENABLED=false)")
		return
	}

	if cfg.NATS.EmbeddedServer {
		if _, err := eventbus.StartEmbeddedServer(cfg.NATS); err != nil {
			logging.Warn().Err(err).Msg("Embedded JetStream broker failed to start, stage notifications disabled")
			return
		}
	}

	bus, err := eventbus.New(cfg.NATS, watermill.NewSlogLogger(logging.NewSlogLogger()))
	if err != nil {
		logging.Warn().Err(err).Msg("Event bus unavailable, stage notifications disabled")
		return
	}
	consumer.SetPublisher(bus)
	logging.Info().Msg("Embedded JetStream event bus started")
}
