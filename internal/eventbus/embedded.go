// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

//go:build nats

package eventbus

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/watchtower/screenlog/internal/config"
)

// StartEmbeddedServer runs an in-process JetStream broker bound to
// localhost, so the pipeline's bounded queues never leave the
// machine. The returned server is stopped with Shutdown.
func StartEmbeddedServer(cfg config.NATSConfig) (*natsserver.Server, error) {
	port := 4222
	if u, err := url.Parse(cfg.URL); err == nil && u.Port() != "" {
		if p, err := strconv.Atoi(u.Port()); err == nil {
			port = p
		}
	}

	opts := &natsserver.Options{
		Host:               "127.0.0.1",
		Port:               port,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStore,
		NoSigs:             true,
		NoLog:              true,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("eventbus: build embedded server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("eventbus: embedded server not ready within 10s")
	}
	return srv, nil
}
