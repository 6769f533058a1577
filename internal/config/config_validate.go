// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package config

import (
	"fmt"
	"strings"
)

// Validate checks that required configuration is present and internally
// consistent.
func (c *Config) Validate() error {
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateIndexer(); err != nil {
		return err
	}
	if err := c.validateDetection(); err != nil {
		return err
	}
	if err := c.validateSummarizer(); err != nil {
		return err
	}
	if err := c.validatePrivacy(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateCapture() error {
	if c.Capture.FPS <= 0 {
		return fmt.Errorf("config: capture.fps must be positive, got %d", c.Capture.FPS)
	}
	if c.Capture.SegmentDuration <= 0 {
		return fmt.Errorf("config: capture.segment_duration must be positive")
	}
	if c.Capture.SegmentDir == "" {
		return fmt.Errorf("config: capture.segment_dir is required")
	}
	return nil
}

func (c *Config) validateIndexer() error {
	if c.Indexer.SampleFPS <= 0 {
		return fmt.Errorf("config: indexer.sample_fps must be positive")
	}
	if c.Indexer.PHashThreshold < 0 {
		return fmt.Errorf("config: indexer.phash_threshold cannot be negative")
	}
	if c.Indexer.SSIMThreshold < 0 || c.Indexer.SSIMThreshold > 1 {
		return fmt.Errorf("config: indexer.ssim_threshold must be in [0,1]")
	}
	return nil
}

func (c *Config) validateDetection() error {
	if c.Detection.MinIoU < 0 || c.Detection.MinIoU > 1 {
		return fmt.Errorf("config: detection.min_iou must be in [0,1]")
	}
	if c.Detection.MaxTextSimilarity < 0 || c.Detection.MaxTextSimilarity > 1 {
		return fmt.Errorf("config: detection.max_text_similarity must be in [0,1]")
	}
	weightSum := c.Detection.OCRConfidenceWeight + c.Detection.SpatialWeight + c.Detection.TextualWeight
	if weightSum <= 0 {
		return fmt.Errorf("config: detection confidence weights must sum to a positive value")
	}
	if c.Detection.MinEventConfidence < 0 || c.Detection.MinEventConfidence > 1 {
		return fmt.Errorf("config: detection.min_event_confidence must be in [0,1]")
	}
	return nil
}

func (c *Config) validateSummarizer() error {
	if c.Summarizer.MaxEventGap <= 0 {
		return fmt.Errorf("config: summarizer.max_event_gap must be positive")
	}
	if c.Summarizer.SimilarityThreshold < 0 || c.Summarizer.SimilarityThreshold > 1 {
		return fmt.Errorf("config: summarizer.similarity_threshold must be in [0,1]")
	}
	switch c.Summarizer.DefaultTemplate {
	case "narrative", "structured", "playbook", "timeline", "executive":
	default:
		return fmt.Errorf("config: summarizer.default_template must be one of narrative, structured, playbook, timeline, executive, got %q", c.Summarizer.DefaultTemplate)
	}
	return nil
}

func (c *Config) validatePrivacy() error {
	switch c.Privacy.Mode {
	case "allowlist", "blocklist":
	default:
		return fmt.Errorf("config: privacy.mode must be allowlist or blocklist, got %q", c.Privacy.Mode)
	}
	return nil
}

func (c *Config) validateRetention() error {
	// Negative means "never delete"; zero would silently disable a
	// kind's sweep while looking like a real window, so reject it.
	kinds := map[string]int{
		"retention.raw_video_days":      c.Retention.RawVideoDays,
		"retention.frame_metadata_days": c.Retention.FrameMetadataDays,
		"retention.ocr_data_days":       c.Retention.OCRDataDays,
		"retention.events_days":         c.Retention.EventsDays,
		"retention.spans_days":          c.Retention.SpansDays,
		"retention.summaries_days":      c.Retention.SummariesDays,
	}
	for key, days := range kinds {
		if days == 0 {
			return fmt.Errorf("config: %s must be positive or negative (-1 = never), got 0", key)
		}
	}
	if c.Retention.SafetyMarginDays < 0 {
		return fmt.Errorf("config: retention.safety_margin_days must not be negative")
	}
	if c.Retention.SweepBatchSize < 1 || c.Retention.SweepBatchSize > 100 {
		return fmt.Errorf("config: retention.sweep_batch_size must be in [1,100], got %d", c.Retention.SweepBatchSize)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("config: storage.data_dir is required")
	}
	if c.Storage.EncryptAtRest && c.Storage.CredentialPath == "" {
		return fmt.Errorf("config: storage.credential_path is required when encrypt_at_rest is enabled")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("config: nats.url is required when nats.enabled is true")
	}
	if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		return fmt.Errorf("config: nats.url must use the nats:// or tls:// scheme")
	}
	if c.NATS.EmbeddedServer && c.NATS.StoreDir == "" {
		return fmt.Errorf("config: nats.store_dir is required when nats.embedded_server is true")
	}
	if c.NATS.SubscribersCount <= 0 {
		return fmt.Errorf("config: nats.subscribers_count must be positive")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("config: server.host is required")
	}
	return nil
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Environment, "development")
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return fmt.Errorf("config: logging.level invalid: %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("config: logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
