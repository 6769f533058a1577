// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package detection

import (
	"github.com/watchtower/screenlog/internal/models"
)

// Frame is one keyframe's OCR rows as seen by the detector, keyed by
// the keyframe they were recognized from.
type Frame struct {
	Keyframe models.Keyframe
	Regions  []models.OCRRow
}

// AppContext carries the currently-known application/window focus at
// a frame's timestamp, passed to detectors that need app-switch or
// navigation context.
type AppContext struct {
	AppBundleID string
	WindowTitle string
}

// Candidate is an event candidate before confidence scoring and the
// min_event_confidence gate; Detectors emit these, the Engine scores
// and may drop them.
type Candidate struct {
	Type           models.EventType
	Target         string
	ValueFrom      *string
	ValueTo        *string
	OCRConfidence  float64 // mean OCR confidence of contributing regions
	Spatial        float64 // IoU of matched regions, or 1.0 for single-region events
	Textual        float64 // 1 - similarity for change events, pattern strength for banner/modal
	EvidenceFrames []models.Keyframe
	Metadata       map[string]string
}

// Detector evaluates one frame (with access to the immediately
// preceding frame via the Engine's sliding window) and returns zero or
// more event candidates.
type Detector interface {
	// Name identifies the detector for metrics and logging.
	Name() string
	// Detect evaluates the newest frame against the recent window
	// (oldest first, newest last, newest == window[len-1]) and the
	// currently-resolved app context.
	Detect(window []Frame, appCtx AppContext) []Candidate
}
