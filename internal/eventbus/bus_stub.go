// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

//go:build !nats

package eventbus

import (
	"context"
	"fmt"

	"github.com/watchtower/screenlog/internal/config"
)

// Topic names for the four pipeline stage boundaries.
const (
	TopicFramesIndexed  = "frames.indexed"
	TopicOCRProcessed   = "ocr.processed"
	TopicEventsDetected = "events.detected"
	TopicSummariesReady = "summaries.ready"
)

// Bus is a stub when NATS dependencies are not available.
// Build with -tags=nats to enable the embedded JetStream event bus.
type Bus struct{}

// New returns an error when NATS dependencies are not available.
func New(_ config.NATSConfig, _ interface{}) (*Bus, error) {
	return nil, fmt.Errorf("eventbus: not available, build with -tags=nats")
}

// Publish is a stub that returns an error.
func (b *Bus) Publish(_ context.Context, _ string, _ []byte) error {
	return fmt.Errorf("eventbus: not available, build with -tags=nats")
}

// Subscribe is a stub that returns an error.
func Subscribe(_ config.NATSConfig, topic, _ string, _ interface{}) (interface{}, error) {
	return nil, fmt.Errorf("eventbus: subscribe %s not available, build with -tags=nats", topic)
}

// Close is a no-op stub.
func (b *Bus) Close() error { return nil }
