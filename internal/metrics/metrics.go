// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Capture and encoding.
var (
	framesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenlog_capture_frames_total",
		Help: "Frames delivered by the compositor, per display",
	}, []string{"display"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenlog_capture_frames_dropped_total",
		Help: "Frames dropped before encode, per display and reason (backpressure, privacy, encode_error)",
	}, []string{"display", "reason"})

	encodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "screenlog_encode_duration_seconds",
		Help:    "Per-frame encode latency",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})

	segmentsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenlog_segments_finalized_total",
		Help: "Segments sealed with a moov-first rewrite, per display",
	}, []string{"display"})

	segmentsQuarantined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenlog_segments_quarantined_total",
		Help: "Segment files quarantined after finalize or decode failure",
	})

	captureCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screenlog_capture_cpu_percent",
		Help: "Rolling process CPU usage attributed to capture and encode",
	})

	captureRSSBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screenlog_capture_rss_bytes",
		Help: "Resident set size of the recorder process",
	})

	estimatedBitrate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "screenlog_capture_bitrate_bps",
		Help: "Estimated encoder output bitrate, per display",
	}, []string{"display"})

	segmentDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "screenlog_capture_segment_seconds",
		Help: "Age of the currently open segment, per display",
	}, []string{"display"})
)

// Indexing and perception.
var (
	framesSampled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenlog_indexer_frames_sampled_total",
		Help: "Candidate frames decoded by the keyframe indexer",
	})

	keyframesKept = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenlog_indexer_keyframes_kept_total",
		Help: "Frames kept as keyframes, per monitor and keep reason (scene_change, anchor)",
	}, []string{"monitor", "reason"})

	ocrDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "screenlog_ocr_duration_seconds",
		Help:    "Per-frame OCR latency including preprocessing and fallback",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	ocrRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenlog_ocr_rows_total",
		Help: "Recognized text regions persisted, per engine",
	}, []string{"processor"})

	maskedRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenlog_pii_masked_rows_total",
		Help: "OCR rows with at least one redaction applied before persistence",
	})
)

// Event detection and summarization.
var (
	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenlog_events_emitted_total",
		Help: "Typed events that cleared the confidence threshold, per type",
	}, []string{"type"})

	eventCandidatesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenlog_event_candidates_rejected_total",
		Help: "Candidate events scored below min_event_confidence",
	})

	sessionsFormed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenlog_sessions_formed_total",
		Help: "Sessions surviving the duration and event-count thresholds",
	})

	summariesRendered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenlog_summaries_rendered_total",
		Help: "Summaries rendered, per template",
	}, []string{"template"})
)

// Storage, retention, privacy.
var (
	dbQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "screenlog_db_query_duration_seconds",
		Help:    "Store query latency, per operation and store",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"operation", "store"})

	dbQueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenlog_db_query_errors_total",
		Help: "Failed store queries, per operation and store",
	}, []string{"operation", "store"})

	retentionDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenlog_retention_deleted_total",
		Help: "Records or files removed by the retention sweep, per data kind",
	}, []string{"kind"})

	retentionBytesFreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenlog_retention_bytes_freed_total",
		Help: "Bytes reclaimed by the retention sweep",
	})

	retentionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenlog_retention_errors_total",
		Help: "Non-fatal retention sweep failures (verification, unlink)",
	})

	privacyFramesBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenlog_privacy_frames_blocked_total",
		Help: "Frames dropped at capture ingress by the allowlist gate, per display",
	}, []string{"display"})

	controlLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "screenlog_control_latency_seconds",
		Help:    "Hotkey-to-status latency for pause, privacy mode, and emergency stop",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
	})

	pausedState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screenlog_paused",
		Help: "1 while capture is paused or privacy mode is active",
	})
)

// Control API surface.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenlog_api_requests_total",
		Help: "Control API requests, per method, endpoint, and status",
	}, []string{"method", "endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "screenlog_api_request_duration_seconds",
		Help:    "Control API request latency",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
	}, []string{"method", "endpoint"})

	apiActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screenlog_api_active_requests",
		Help: "In-flight control API requests",
	})
)

// RecordFrameCaptured counts one compositor frame for a display.
func RecordFrameCaptured(display string) {
	framesCaptured.WithLabelValues(display).Inc()
}

// RecordFrameDropped counts a frame dropped before encode.
func RecordFrameDropped(display, reason string) {
	framesDropped.WithLabelValues(display, reason).Inc()
}

// RecordEncode observes one frame's encode latency.
func RecordEncode(d time.Duration) {
	encodeDuration.Observe(d.Seconds())
}

// RecordSegmentFinalized counts one sealed segment.
func RecordSegmentFinalized(display string) {
	segmentsFinalized.WithLabelValues(display).Inc()
}

// RecordSegmentQuarantined counts a quarantined segment file.
func RecordSegmentQuarantined() {
	segmentsQuarantined.Inc()
}

// UpdateCaptureResources publishes the rolling CPU/RSS sample.
func UpdateCaptureResources(cpuPercent float64, rssBytes uint64) {
	captureCPUPercent.Set(cpuPercent)
	captureRSSBytes.Set(float64(rssBytes))
}

// UpdateEncoderRates publishes the per-display bitrate estimate and
// open-segment age.
func UpdateEncoderRates(display string, bitrateBps float64, segmentAge time.Duration) {
	estimatedBitrate.WithLabelValues(display).Set(bitrateBps)
	segmentDuration.WithLabelValues(display).Set(segmentAge.Seconds())
}

// RecordFrameSampled counts one decoded candidate frame.
func RecordFrameSampled() {
	framesSampled.Inc()
}

// RecordKeyframeKept counts one kept keyframe.
func RecordKeyframeKept(monitor, reason string) {
	keyframesKept.WithLabelValues(monitor, reason).Inc()
}

// RecordOCR observes one frame's OCR latency and row yield.
func RecordOCR(processor string, rows int, d time.Duration) {
	ocrDuration.Observe(d.Seconds())
	ocrRows.WithLabelValues(processor).Add(float64(rows))
}

// RecordMaskApplied counts one OCR row that had PII redacted.
func RecordMaskApplied() {
	maskedRows.Inc()
}

// RecordEventEmitted counts one emitted typed event.
func RecordEventEmitted(eventType string) {
	eventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordEventRejected counts one below-threshold candidate.
func RecordEventRejected() {
	eventCandidatesRejected.Inc()
}

// RecordSessionFormed counts one surviving session.
func RecordSessionFormed() {
	sessionsFormed.Inc()
}

// RecordSummaryRendered counts one rendered summary.
func RecordSummaryRendered(template string) {
	summariesRendered.WithLabelValues(template).Inc()
}

// RecordDBQuery observes one store query.
func RecordDBQuery(operation, store string, d time.Duration, err error) {
	dbQueryDuration.WithLabelValues(operation, store).Observe(d.Seconds())
	if err != nil {
		dbQueryErrors.WithLabelValues(operation, store).Inc()
	}
}

// RecordRetention publishes one sweep's per-kind results.
func RecordRetention(kind string, deleted int, bytesFreed int64, errors int) {
	retentionDeleted.WithLabelValues(kind).Add(float64(deleted))
	retentionBytesFreed.Add(float64(bytesFreed))
	retentionErrors.Add(float64(errors))
}

// RecordPrivacyBlocked counts one frame vetoed at ingress.
func RecordPrivacyBlocked(display string) {
	privacyFramesBlocked.WithLabelValues(display).Inc()
}

// RecordControlLatency observes one control operation's
// hotkey-to-status latency.
func RecordControlLatency(d time.Duration) {
	controlLatency.Observe(d.Seconds())
}

// SetPaused publishes the pause/privacy-mode gauge.
func SetPaused(paused bool) {
	if paused {
		pausedState.Set(1)
		return
	}
	pausedState.Set(0)
}

// RecordAPIRequest records one control API request.
func RecordAPIRequest(method, endpoint, statusCode string, d time.Duration) {
	apiRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	apiRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		apiActiveRequests.Inc()
		return
	}
	apiActiveRequests.Dec()
}
