// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package config

import "time"

// Config is the root configuration for the recorder. Every field is
// loaded in three layers: struct defaults, optional YAML file,
// environment variables (highest precedence).
type Config struct {
	Capture    CaptureConfig    `koanf:"capture"`
	Indexer    IndexerConfig    `koanf:"indexer"`
	Perception PerceptionConfig `koanf:"perception"`
	Detection  DetectionConfig  `koanf:"detection"`
	Summarizer SummarizerConfig `koanf:"summarizer"`
	Privacy    PrivacyConfig    `koanf:"privacy"`
	Retention  RetentionConfig  `koanf:"retention"`
	Storage    StorageConfig    `koanf:"storage"`
	NATS       NATSConfig       `koanf:"nats"`
	Plugin     PluginConfig     `koanf:"plugin"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// CaptureConfig controls per-display screen capture and encoding.
type CaptureConfig struct {
	FPS               int           `koanf:"fps"`                // target capture frame rate
	MaxWidth          int           `koanf:"max_width"`          // downscale cap, 0 = native
	MaxHeight         int           `koanf:"max_height"`         // downscale cap, 0 = native
	BitrateKbps       int           `koanf:"bitrate_kbps"`       // target encoder bitrate
	SegmentDuration   time.Duration `koanf:"segment_duration"`   // rollover interval per segment file
	SegmentDir        string        `koanf:"segment_dir"`        // directory holding sealed segment files
	IdleCaptureFPS    int           `koanf:"idle_capture_fps"`   // reduced fps when the display is idle
	IdleAfter         time.Duration `koanf:"idle_after"`         // no-input duration before idle fps kicks in
	MultiDisplay      bool          `koanf:"multi_display"`      // capture every attached display
	ReconnectInterval time.Duration `koanf:"reconnect_interval"` // retry interval after display loss
}

// IndexerConfig controls keyframe selection.
type IndexerConfig struct {
	SampleFPS       float64 `koanf:"sample_fps"`       // rate at which candidate frames are sampled, 1-2fps
	PHashThreshold  int     `koanf:"phash_threshold"`  // minimum Hamming distance to keep a frame
	SSIMThreshold   float64 `koanf:"ssim_threshold"`   // below this SSIM, keep even if pHash says unchanged
	MinEntropyBits  float64 `koanf:"min_entropy_bits"` // below this Shannon entropy, frame is treated as blank
	MaxFrameCacheMB int     `koanf:"max_frame_cache_mb"`
}

// PerceptionConfig controls OCR extraction and PII masking.
type PerceptionConfig struct {
	PrimaryEngine     string  `koanf:"primary_engine"` // "vision", "tesseract", ...
	FallbackEngine    string  `koanf:"fallback_engine"`
	MinConfidence     float64 `koanf:"min_confidence"` // OCR rows below this are dropped before masking
	Preprocess        bool    `koanf:"preprocess"`     // grayscale+contrast normalization before OCR
	MaskPII           bool    `koanf:"mask_pii"`       // redact matched PII patterns in OCR text
	MaxConcurrentJobs int     `koanf:"max_concurrent_jobs"`
}

// DetectionConfig controls the event detector.
type DetectionConfig struct {
	MaxFrameCache       int           `koanf:"max_frame_cache"`       // recent-frame window held for region matching
	MinIoU              float64       `koanf:"min_iou"`               // region match threshold, default 0.3
	MaxTextSimilarity   float64       `koanf:"max_text_similarity"`   // above this, text is considered unchanged, default 0.8
	OCRConfidenceWeight float64       `koanf:"ocr_confidence_weight"` // default 0.4
	SpatialWeight       float64       `koanf:"spatial_weight"`        // default 0.3
	TextualWeight       float64       `koanf:"textual_weight"`        // default 0.3
	TemporalBoost       float64       `koanf:"temporal_boost"`        // added on a same target/type repeat within 30s, default 0.1
	MinEventConfidence  float64       `koanf:"min_event_confidence"`  // emit threshold, default 0.6
	SettleWindow        time.Duration `koanf:"settle_window"`         // not read: a change settles on its second consecutive match
	ClickEnabled        bool          `koanf:"click_enabled"`         // emits low-confidence click candidates, off by default
}

// SummarizerConfig controls session grouping and summary rendering.
type SummarizerConfig struct {
	MaxEventGap              time.Duration `koanf:"max_event_gap"`              // session boundary gap, default 300s
	SimilarityThreshold      float64       `koanf:"similarity_threshold"`       // Jaccard context drop, default 0.7
	MinSessionDuration       time.Duration `koanf:"min_session_duration"`       // sessions shorter than this are discarded
	MinEvidenceConfidence    float64       `koanf:"min_evidence_confidence"`
	MaxEvidenceFrames        int           `koanf:"max_evidence_frames"` // cap on correlated evidence frames per summary
	DefaultTemplate          string        `koanf:"default_template"` // "narrative", "timeline", "executive"
	EventWeight              float64       `koanf:"event_weight"`     // confidence aggregation, default 0.4
	FrameOCRWeight           float64       `koanf:"frame_ocr_weight"` // default 0.3
	SceneTransitionWeight    float64       `koanf:"scene_transition_weight"`    // default 0.2
	WorkflowContinuityWeight float64       `koanf:"workflow_continuity_weight"` // default 0.1
}

// PrivacyConfig controls the allowlist/blocklist gate.
type PrivacyConfig struct {
	Mode               string              `koanf:"mode"` // "allowlist" or "blocklist"
	GlobalRules        []string            `koanf:"global_rules"` // app bundle ids / title globs
	PerDisplayRules    map[string][]string `koanf:"per_display_rules"`
	PauseHotkeyEnabled bool                `koanf:"pause_hotkey_enabled"`
	EmergencyStopKey   string              `koanf:"emergency_stop_key"`
	ResumeTimeout      time.Duration       `koanf:"resume_timeout"` // auto-resume after manual pause, 0 = indefinite
}

// RetentionConfig controls the age-based sweep across every data kind.
type RetentionConfig struct {
	RawVideoDays      int           `koanf:"raw_video_days"`
	FrameMetadataDays int           `koanf:"frame_metadata_days"`
	OCRDataDays       int           `koanf:"ocr_data_days"`
	EventsDays        int           `koanf:"events_days"`
	SpansDays         int           `koanf:"spans_days"`
	SummariesDays     int           `koanf:"summaries_days"`
	SafetyMarginDays  int           `koanf:"safety_margin_days"`
	SweepInterval     time.Duration `koanf:"sweep_interval"`
	SweepBatchSize    int           `koanf:"sweep_batch_size"`
}

// StorageConfig controls the DuckDB columnar + row stores and the
// envelope-encryption root key.
type StorageConfig struct {
	DataDir                string `koanf:"data_dir"`
	ColumnarMaxMemory      string `koanf:"columnar_max_memory"`
	Threads                int    `koanf:"threads"`
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
	EncryptAtRest          bool   `koanf:"encrypt_at_rest"`
	CredentialPath         string `koanf:"credential_path"`
	Passphrase             string `koanf:"passphrase"`
}

// NATSConfig controls the embedded JetStream broker and Watermill
// publisher/subscriber pairs wired between pipeline stages.
type NATSConfig struct {
	Enabled            bool          `koanf:"enabled"`
	URL                string        `koanf:"url"`
	EmbeddedServer     bool          `koanf:"embedded_server"`
	StoreDir           string        `koanf:"store_dir"`
	MaxMemory          int64         `koanf:"max_memory"`
	MaxStore           int64         `koanf:"max_store"`
	RetentionHours     int           `koanf:"retention_hours"`
	SubscribersCount   int           `koanf:"subscribers_count"`
	FlushInterval      time.Duration `koanf:"flush_interval"`
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// PluginConfig bounds the enhance_ocr / detect_events plugin contract.
type PluginConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Dir            string        `koanf:"dir"`
	MaxMemoryBytes int64         `koanf:"max_memory_bytes"`
	MaxExecutionMS time.Duration `koanf:"max_execution_ms"`
}

// ServerConfig controls the local HTTP + websocket control/status surface.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// LoggingConfig controls the zerolog sink.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
