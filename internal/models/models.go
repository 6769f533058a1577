// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package models defines the record types shared across the capture,
// indexing, perception, detection, and summarization pipeline.
//
// Every entity carries a 128-bit identifier (UUIDv7, time-ordered) and
// is owned exclusively by the component that produces it; downstream
// components hold weak references by identifier only.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a time-ordered identifier suitable for a new record.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the system clock/rand source is
		// unavailable; fall back to a random v4 rather than panic.
		return uuid.New()
	}
	return id
}

// SegmentState is the lifecycle state of a capture segment.
type SegmentState string

const (
	SegmentIdle       SegmentState = "idle"
	SegmentOpening    SegmentState = "opening"
	SegmentWriting    SegmentState = "writing"
	SegmentFinalizing SegmentState = "finalizing"
	SegmentFinalized  SegmentState = "finalized"
	SegmentRetained   SegmentState = "retained"
	SegmentDeleted    SegmentState = "deleted"
)

// Segment is a bounded H.264 video file for one display.
type Segment struct {
	ID        uuid.UUID
	DisplayID string
	TStart    time.Time
	TEnd      time.Time
	Path      string
	ByteSize  int64
	State     SegmentState
	Finalized bool
}

// Keyframe is a decoded still and its metadata, subsampled at 1-2fps.
type Keyframe struct {
	ID          uuid.UUID
	SegmentID   uuid.UUID
	T           time.Time
	MonitorID   string
	ImagePath   string
	PHash64     uint64
	Entropy     float32
	AppBundleID string
	WindowTitle string
}

// BBox is a normalized bounding box in frame pixel coordinates. It
// implements sql.Scanner/driver.Valuer so it can round-trip through a
// JSON text column.
type BBox struct {
	X, Y, W, H float32
}

// IoU returns the intersection-over-union of two boxes.
func (b BBox) IoU(o BBox) float64 {
	ix1, iy1 := maxF(b.X, o.X), maxF(b.Y, o.Y)
	ix2, iy2 := minF(b.X+b.W, o.X+o.W), minF(b.Y+b.H, o.Y+o.H)
	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw) * float64(ih)
	union := float64(b.W)*float64(b.H) + float64(o.W)*float64(o.H) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func maxF(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func (b BBox) Value() (driver.Value, error) {
	return json.Marshal(b)
}

func (b *BBox) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		return nil
	default:
		return fmt.Errorf("models: cannot scan %T into BBox", src)
	}
	return json.Unmarshal(raw, b)
}

// OCRProcessor identifies which OCR engine produced a row.
type OCRProcessor string

const (
	ProcessorVision   OCRProcessor = "vision"
	ProcessorFallback OCRProcessor = "fallback"
)

// OCRRow is one recognized text region within a keyframe.
type OCRRow struct {
	FrameID     uuid.UUID
	BBox        BBox
	Text        string
	Lang        string
	Confidence  float32
	Processor   OCRProcessor
	T           time.Time
	Masked      bool // provenance flag: true once masking has run
}

// EventType enumerates the typed interactions the detector emits.
type EventType string

const (
	EventFieldChange     EventType = "field_change"
	EventFormSubmission  EventType = "form_submission"
	EventModalAppearance EventType = "modal_appearance"
	EventErrorDisplay    EventType = "error_display"
	EventNavigation      EventType = "navigation"
	EventDataEntry       EventType = "data_entry"
	EventAppSwitch       EventType = "app_switch"
	EventClick           EventType = "click"
)

// StringList is a string slice stored as a JSON array column.
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

func (s *StringList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*s = nil
		return nil
	default:
		return fmt.Errorf("models: cannot scan %T into StringList", src)
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(raw, s)
}

// Event is a detected interaction, linked to the evidence that
// justified it.
type Event struct {
	ID             uuid.UUID
	T              time.Time
	Type           EventType
	Target         string
	ValueFrom      *string
	ValueTo        *string
	Confidence     float64
	EvidenceFrames []uuid.UUID
	Metadata       map[string]string
}

// Validate checks the event invariants from the data model: a
// non-empty evidence list and the type-specific required fields.
func (e Event) Validate() error {
	if len(e.EvidenceFrames) == 0 {
		return fmt.Errorf("models: event %s has no evidence frames", e.ID)
	}
	if e.Type == EventFieldChange && e.ValueFrom == nil && e.ValueTo == nil {
		return fmt.Errorf("models: field_change event %s requires value_from or value_to", e.ID)
	}
	return nil
}

// Session is a temporally contiguous group of events, derived at
// summarization time and not persisted directly.
type Session struct {
	TStart     time.Time
	TEnd       time.Time
	Events     []Event
	PrimaryApp string
	Type       string
}

// SpanKind enumerates the classification a persisted span was
// generated under.
type SpanKind string

// Span is a persisted narrative unit summarizing a session.
type Span struct {
	SpanID        uuid.UUID
	Kind          SpanKind
	TStart        time.Time
	TEnd          time.Time
	Title         string
	SummaryMD     string
	Tags          StringList
	CreatedAt     time.Time
}

// Validate enforces the span invariant t_end >= t_start.
func (s Span) Validate() error {
	if s.TEnd.Before(s.TStart) {
		return fmt.Errorf("models: span %s has t_end before t_start", s.SpanID)
	}
	return nil
}

// TagSet returns the span's tags as a set for membership queries.
func (s Span) TagSet() map[string]struct{} {
	out := make(map[string]struct{}, len(s.Tags))
	for _, t := range s.Tags {
		out[strings.ToLower(t)] = struct{}{}
	}
	return out
}

// FrameEvidence is one entry in an EvidenceReference's ranked frame
// list: a frame plus the correlation score that kept it.
type FrameEvidence struct {
	FrameID uuid.UUID
	Score   float64
}

// EvidenceReference binds a summary to the events and frames that
// justify it, with a confidence-propagation trace.
type EvidenceReference struct {
	SummaryID         uuid.UUID
	DirectFrames      []uuid.UUID
	CorrelatedFrames  []FrameEvidence
	FrameToEvents     map[uuid.UUID][]uuid.UUID
	EventToSummary    map[uuid.UUID]uuid.UUID
	TraceConfidence   float64
}
