// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/screenlog/config.yaml",
	"/etc/screenlog/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the
// config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with sensible defaults, applied
// before the config file and environment variable layers.
func defaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			FPS:               10,
			MaxWidth:          0,
			MaxHeight:         0,
			BitrateKbps:       2000,
			SegmentDuration:   5 * time.Minute,
			SegmentDir:        "/data/segments",
			IdleCaptureFPS:    1,
			IdleAfter:         2 * time.Minute,
			MultiDisplay:      true,
			ReconnectInterval: 5 * time.Second,
		},
		Indexer: IndexerConfig{
			SampleFPS:       1.5,
			PHashThreshold:  10,
			SSIMThreshold:   0.92,
			MinEntropyBits:  1.0,
			MaxFrameCacheMB: 256,
		},
		Perception: PerceptionConfig{
			PrimaryEngine:     "vision",
			FallbackEngine:    "tesseract",
			MinConfidence:     0.4,
			Preprocess:        true,
			MaskPII:           true,
			MaxConcurrentJobs: 2,
		},
		Detection: DetectionConfig{
			MaxFrameCache:       64,
			MinIoU:              0.3,
			MaxTextSimilarity:   0.8,
			OCRConfidenceWeight: 0.4,
			SpatialWeight:       0.3,
			TextualWeight:       0.3,
			TemporalBoost:       0.1,
			MinEventConfidence:  0.6,
			SettleWindow:        1500 * time.Millisecond,
			ClickEnabled:        false,
		},
		Summarizer: SummarizerConfig{
			MaxEventGap:              300 * time.Second,
			SimilarityThreshold:      0.7,
			MinSessionDuration:       60 * time.Second,
			MinEvidenceConfidence:    0.5,
			MaxEvidenceFrames:        10,
			DefaultTemplate:          "narrative",
			EventWeight:              0.4,
			FrameOCRWeight:           0.3,
			SceneTransitionWeight:    0.2,
			WorkflowContinuityWeight: 0.1,
		},
		Privacy: PrivacyConfig{
			Mode:               "blocklist",
			GlobalRules:        []string{},
			PerDisplayRules:    map[string][]string{},
			PauseHotkeyEnabled: true,
			EmergencyStopKey:   "ctrl+shift+p",
			ResumeTimeout:      0,
		},
		Retention: RetentionConfig{
			RawVideoDays:      14,
			FrameMetadataDays: 90,
			OCRDataDays:       90,
			EventsDays:        365,
			SpansDays:         -1, // never
			SummariesDays:     -1, // never
			SafetyMarginDays:  1,
			SweepInterval:     24 * time.Hour,
			SweepBatchSize:    100,
		},
		Storage: StorageConfig{
			DataDir:                "/data",
			ColumnarMaxMemory:      "2GB",
			Threads:                0, // 0 = runtime.NumCPU()
			PreserveInsertionOrder: true,
			EncryptAtRest:          true,
			CredentialPath:         "/data/credential.key",
			Passphrase:             "",
		},
		NATS: NATSConfig{
			Enabled:            true,
			URL:                "nats://127.0.0.1:4222",
			EmbeddedServer:     true,
			StoreDir:           "/data/nats/jetstream",
			MaxMemory:          1 << 30,
			MaxStore:           10 << 30,
			RetentionHours:     24,
			SubscribersCount:   4,
			FlushInterval:      5 * time.Second,
			BreakerMaxFailures: 5,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Plugin: PluginConfig{
			Enabled:        false,
			Dir:            "/data/plugins",
			MaxMemoryBytes: 128 << 20,
			MaxExecutionMS: 2 * time.Second,
		},
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8743,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if present)
//  3. Environment variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("config: process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// FindConfigFile reports the active config file path (CONFIG_PATH or
// the first default search path that exists), or "" when running on
// defaults+env only. cmd/server uses it to attach the hot-reload
// watcher.
func FindConfigFile() string { return findConfigFile() }

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"privacy.global_rules",
}

// processSliceFields converts comma-separated string values to slices
// for known slice fields, since environment variables arrive as plain
// strings but the config expects []string.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config
// paths. Unmapped keys are dropped to avoid unrelated environment
// variables polluting the config tree.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Capture
		"capture_fps":                "capture.fps",
		"capture_max_width":          "capture.max_width",
		"capture_max_height":         "capture.max_height",
		"capture_bitrate_kbps":       "capture.bitrate_kbps",
		"capture_segment_duration":   "capture.segment_duration",
		"capture_segment_dir":        "capture.segment_dir",
		"capture_idle_fps":           "capture.idle_capture_fps",
		"capture_idle_after":         "capture.idle_after",
		"capture_multi_display":      "capture.multi_display",
		"capture_reconnect_interval": "capture.reconnect_interval",

		// Indexer
		"indexer_sample_fps":         "indexer.sample_fps",
		"indexer_phash_threshold":    "indexer.phash_threshold",
		"indexer_ssim_threshold":     "indexer.ssim_threshold",
		"indexer_min_entropy_bits":   "indexer.min_entropy_bits",
		"indexer_max_frame_cache_mb": "indexer.max_frame_cache_mb",

		// Perception
		"perception_primary_engine":      "perception.primary_engine",
		"perception_fallback_engine":     "perception.fallback_engine",
		"perception_min_confidence":      "perception.min_confidence",
		"perception_preprocess":          "perception.preprocess",
		"perception_mask_pii":            "perception.mask_pii",
		"perception_max_concurrent_jobs": "perception.max_concurrent_jobs",

		// Detection
		"detection_max_frame_cache":       "detection.max_frame_cache",
		"detection_min_iou":               "detection.min_iou",
		"detection_max_text_similarity":   "detection.max_text_similarity",
		"detection_ocr_confidence_weight": "detection.ocr_confidence_weight",
		"detection_spatial_weight":        "detection.spatial_weight",
		"detection_textual_weight":        "detection.textual_weight",
		"detection_temporal_boost":        "detection.temporal_boost",
		"detection_min_event_confidence":  "detection.min_event_confidence",
		"detection_settle_window":         "detection.settle_window",
		"detection_click_enabled":         "detection.click_enabled",

		// Summarizer
		"summarizer_max_event_gap":              "summarizer.max_event_gap",
		"summarizer_similarity_threshold":       "summarizer.similarity_threshold",
		"summarizer_min_session_duration":       "summarizer.min_session_duration",
		"summarizer_min_evidence_confidence":    "summarizer.min_evidence_confidence",
		"summarizer_max_evidence_frames":        "summarizer.max_evidence_frames",
		"summarizer_default_template":           "summarizer.default_template",
		"summarizer_event_weight":               "summarizer.event_weight",
		"summarizer_frame_ocr_weight":           "summarizer.frame_ocr_weight",
		"summarizer_scene_transition_weight":    "summarizer.scene_transition_weight",
		"summarizer_workflow_continuity_weight": "summarizer.workflow_continuity_weight",

		// Privacy
		"privacy_mode":                 "privacy.mode",
		"privacy_global_rules":         "privacy.global_rules",
		"privacy_pause_hotkey_enabled": "privacy.pause_hotkey_enabled",
		"privacy_emergency_stop_key":   "privacy.emergency_stop_key",
		"privacy_resume_timeout":       "privacy.resume_timeout",

		// Retention
		"retention_raw_video_days":      "retention.raw_video_days",
		"retention_frame_metadata_days": "retention.frame_metadata_days",
		"retention_ocr_data_days":       "retention.ocr_data_days",
		"retention_events_days":         "retention.events_days",
		"retention_spans_days":          "retention.spans_days",
		"retention_summaries_days":      "retention.summaries_days",
		"retention_safety_margin_days":  "retention.safety_margin_days",
		"retention_sweep_interval":      "retention.sweep_interval",
		"retention_sweep_batch_size":    "retention.sweep_batch_size",

		// Storage
		"storage_data_dir":            "storage.data_dir",
		"storage_columnar_max_memory": "storage.columnar_max_memory",
		"storage_threads":             "storage.threads",
		"storage_encrypt_at_rest":     "storage.encrypt_at_rest",
		"storage_credential_path":     "storage.credential_path",
		"storage_passphrase":          "storage.passphrase",

		// NATS
		"nats_enabled":              "nats.enabled",
		"nats_url":                  "nats.url",
		"nats_embedded":             "nats.embedded_server",
		"nats_store_dir":            "nats.store_dir",
		"nats_max_memory":           "nats.max_memory",
		"nats_max_store":            "nats.max_store",
		"nats_retention_hours":      "nats.retention_hours",
		"nats_subscribers":          "nats.subscribers_count",
		"nats_flush_interval":       "nats.flush_interval",
		"nats_breaker_max_failures": "nats.breaker_max_failures",
		"nats_breaker_open_timeout": "nats.breaker_open_timeout",

		// Plugin
		"plugin_enabled":          "plugin.enabled",
		"plugin_dir":              "plugin.dir",
		"plugin_max_memory_bytes": "plugin.max_memory_bytes",
		"plugin_max_execution_ms": "plugin.max_execution_ms",

		// Server
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// GetKoanfInstance returns a fresh koanf instance for advanced usage
// (hot-reload, tests, custom sources).
func GetKoanfInstance() *koanf.Koanf {
	return koanf.New(".")
}

// WatchConfigFile sets up a file watcher for hot-reload. The caller is
// responsible for mutex protection when swapping the active Config.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
