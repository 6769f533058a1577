// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCapture(t *testing.T) {
	cfg := defaultConfig()
	cfg.Capture.FPS = 0
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Capture.SegmentDir = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateIndexer(t *testing.T) {
	cfg := defaultConfig()
	cfg.Indexer.SSIMThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidateDetection(t *testing.T) {
	cfg := defaultConfig()
	cfg.Detection.MinIoU = -0.1
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Detection.OCRConfidenceWeight = 0
	cfg.Detection.SpatialWeight = 0
	cfg.Detection.TextualWeight = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateSummarizerTemplate(t *testing.T) {
	cfg := defaultConfig()
	cfg.Summarizer.DefaultTemplate = "invalid"
	assert.Error(t, cfg.Validate())

	cfg.Summarizer.DefaultTemplate = "timeline"
	assert.NoError(t, cfg.Validate())
}

func TestValidatePrivacyMode(t *testing.T) {
	cfg := defaultConfig()
	cfg.Privacy.Mode = "invalid"
	assert.Error(t, cfg.Validate())
}

func TestValidateRetention(t *testing.T) {
	cfg := defaultConfig()
	cfg.Retention.SpansDays = 0
	assert.Error(t, cfg.Validate(), "zero retention is neither a window nor never")

	cfg = defaultConfig()
	cfg.Retention.SpansDays = -1
	assert.NoError(t, cfg.Validate(), "negative means never delete")

	cfg = defaultConfig()
	cfg.Retention.SweepBatchSize = 500
	assert.Error(t, cfg.Validate(), "batch size above 100 breaks the bounded-I/O contract")

	cfg = defaultConfig()
	cfg.Retention.SafetyMarginDays = -2
	assert.Error(t, cfg.Validate())
}

func TestValidateStorageEncryptionRequiresCredentialPath(t *testing.T) {
	cfg := defaultConfig()
	cfg.Storage.EncryptAtRest = true
	cfg.Storage.CredentialPath = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateNATSRequiresURL(t *testing.T) {
	cfg := defaultConfig()
	cfg.NATS.Enabled = true
	cfg.NATS.URL = ""
	assert.Error(t, cfg.Validate())

	cfg.NATS.URL = "http://example.com"
	assert.Error(t, cfg.Validate())
}

func TestValidateServerPort(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestIsProductionAndDevelopment(t *testing.T) {
	cfg := defaultConfig()
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Server.Environment = "production"
	assert.True(t, cfg.IsProduction())
}

func TestValidateLoggingLevel(t *testing.T) {
	cfg := defaultConfig()
	cfg.Logging.Level = "nonsense"
	assert.Error(t, cfg.Validate())
}
