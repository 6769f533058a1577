// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

//go:build nats

// Package eventbus wires Watermill publisher/subscriber pairs, backed
// by an embedded NATS JetStream broker, onto the pipeline's stage
// boundaries: frames.indexed, ocr.processed, events.detected and
// summaries.ready. The publisher is gobreaker-wrapped and
// message-ID deduplicated, so a stalled broker degrades publishing
// instead of cascading into the producing stage.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/watchtower/screenlog/internal/config"
)

// Topic names for the four pipeline stage boundaries.
const (
	TopicFramesIndexed  = "frames.indexed"
	TopicOCRProcessed   = "ocr.processed"
	TopicEventsDetected = "events.detected"
	TopicSummariesReady = "summaries.ready"
)

// Bus wraps a Watermill NATS publisher with circuit-breaker
// protection, one publisher shared across every pipeline topic.
type Bus struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[interface{}]
	mu        sync.RWMutex
	closed    bool
	logger    watermill.LoggerAdapter
}

// New builds a Bus from NATSConfig. The caller is responsible for
// starting (or connecting to) the JetStream broker at cfg.URL before
// calling New.
func New(cfg config.NATSConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("eventbus: nats disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("eventbus: nats reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			TrackMsgId:    true,
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("eventbus: create publisher: %w", err)
	}

	var breaker *gobreaker.CircuitBreaker[interface{}]
	if cfg.BreakerMaxFailures > 0 {
		breaker = gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
			Name:        "eventbus",
			MaxRequests: 1,
			Timeout:     cfg.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
			},
		})
	}

	return &Bus{publisher: pub, breaker: breaker, logger: logger}, nil
}

// Publish sends payload to topic, setting the NATS message-ID header
// from the message UUID for JetStream deduplication.
func (b *Bus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("eventbus: publisher closed")
	}
	b.mu.RUnlock()

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)

	if b.breaker != nil {
		_, err := b.breaker.Execute(func() (interface{}, error) {
			return nil, b.publisher.Publish(topic, msg)
		})
		return err
	}
	return b.publisher.Publish(topic, msg)
}

// Subscribe builds a durable JetStream subscriber bound to topic.
func Subscribe(cfg config.NATSConfig, topic, durableName string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: "screenlog",
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   30 * time.Second,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			AckAsync:      false,
			DurablePrefix: durableName,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("eventbus: create subscriber for %s: %w", topic, err)
	}
	return sub, nil
}

// Close gracefully shuts the bus's publisher down.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.publisher.Close()
}
