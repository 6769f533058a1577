// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package detection

import (
	"sync"
	"time"

	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/logging"
	"github.com/watchtower/screenlog/internal/models"
)

// DetectorMetrics tracks one detector's evaluation counters.
type DetectorMetrics struct {
	FramesEvaluated int64
	EventsEmitted   int64
	Errors          int64
	LastEmittedAt   time.Time
}

// EngineMetrics aggregates detector metrics for the metrics surface.
type EngineMetrics struct {
	mu              sync.RWMutex
	FramesProcessed int64
	EventsEmitted   int64
	DetectorMetrics map[string]*DetectorMetrics
}

func newEngineMetrics() *EngineMetrics {
	return &EngineMetrics{DetectorMetrics: make(map[string]*DetectorMetrics)}
}

func (m *EngineMetrics) forDetector(name string) *DetectorMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	dm, ok := m.DetectorMetrics[name]
	if !ok {
		dm = &DetectorMetrics{}
		m.DetectorMetrics[name] = dm
	}
	return dm
}

// recentEmission tracks the last time a (target, type) pair produced
// an event, for the temporal boost.
type recentEmission struct {
	target string
	typ    models.EventType
	at     time.Time
}

// Engine maintains the sliding window of recent frames and evaluates
// every registered Detector against it, scoring and filtering
// candidates into persisted Events. Architecturally this mirrors the
// Engine/Detector/RegisterDetector registry shape; the
// geolocation-specific alert store, trust store, and notifier
// broadcast are replaced by scoring against this domain's weighted
// confidence model and a plain slice of emitted events.
type Engine struct {
	mu       sync.Mutex
	window   []Frame
	maxCache int

	detectors []Detector
	tracker   *TargetTracker

	cfg     config.DetectionConfig
	metrics *EngineMetrics

	recent []recentEmission

	dataEntryNotify *FormSubmissionDetector // may be nil
}

// NewEngine builds an Engine from the detector config. Detectors are
// registered after construction via RegisterDetector.
func NewEngine(cfg config.DetectionConfig) *Engine {
	return &Engine{
		maxCache: cfg.MaxFrameCache,
		tracker:  NewTargetTracker(),
		cfg:      cfg,
		metrics:  newEngineMetrics(),
	}
}

// RegisterDetector adds a detector to the evaluation set, run in
// registration order against every new frame.
func (e *Engine) RegisterDetector(d Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detectors = append(e.detectors, d)
	if fs, ok := d.(*FormSubmissionDetector); ok {
		e.dataEntryNotify = fs
	}
	e.metrics.forDetector(d.Name())
}

// Metrics returns a snapshot-safe pointer for read access from the
// metrics surface.
func (e *Engine) Metrics() *EngineMetrics { return e.metrics }

// Process appends a new frame's OCR rows to the sliding window, runs
// every detector, and returns the events that clear
// min_event_confidence. Malformed OCR rows (already filtered upstream
// by perception) are not re-validated here; a detector panic is not
// recovered in-process: Process is always called from the CPU-bound
// worker pool which already isolates stage failures.
func (e *Engine) Process(kf models.Keyframe, regions []models.OCRRow, appCtx AppContext) []models.Event {
	e.mu.Lock()
	e.window = append(e.window, Frame{Keyframe: kf, Regions: regions})
	if e.maxCache > 0 && len(e.window) > e.maxCache {
		e.window = e.window[len(e.window)-e.maxCache:]
	}
	window := append([]Frame(nil), e.window...)
	e.metrics.mu.Lock()
	e.metrics.FramesProcessed++
	e.metrics.mu.Unlock()
	e.mu.Unlock()

	var dataEntrySeen bool
	var events []models.Event
	for _, d := range e.detectors {
		dm := e.metrics.forDetector(d.Name())
		dm.FramesEvaluated++

		candidates := d.Detect(window, appCtx)
		if d.Name() == "data_entry" && len(candidates) > 0 {
			dataEntrySeen = true
		}
		for _, c := range candidates {
			ev, ok := e.score(c)
			if !ok {
				continue
			}
			events = append(events, ev)
			dm.EventsEmitted++
			dm.LastEmittedAt = time.Now()
		}
	}

	if e.dataEntryNotify != nil {
		e.dataEntryNotify.NoteDataEntry(dataEntrySeen)
	}

	if len(events) > 0 {
		e.metrics.mu.Lock()
		e.metrics.EventsEmitted += int64(len(events))
		e.metrics.mu.Unlock()
	}
	return events
}

// score applies the weighted confidence formula and the temporal
// boost (TemporalBoost is added when the same target and type were
// scored within the last 30s; no penalty is ever subtracted),
// returning ok=false if the result falls below min_event_confidence.
func (e *Engine) score(c Candidate) (models.Event, bool) {
	ocrW, spW, txW := e.cfg.OCRConfidenceWeight, e.cfg.SpatialWeight, e.cfg.TextualWeight
	if ocrW == 0 && spW == 0 && txW == 0 {
		ocrW, spW, txW = 0.4, 0.3, 0.3
	}
	confidence := ocrW*c.OCRConfidence + spW*c.Spatial + txW*c.Textual

	e.mu.Lock()
	now := time.Now()
	boost := 0.0
	for _, r := range e.recent {
		if r.target == c.Target && r.typ == c.Type && now.Sub(r.at) < 30*time.Second {
			boost = e.cfg.TemporalBoost
			break
		}
	}
	e.recent = append(e.recent, recentEmission{target: c.Target, typ: c.Type, at: now})
	if len(e.recent) > 256 {
		e.recent = e.recent[len(e.recent)-256:]
	}
	e.mu.Unlock()

	confidence = clamp01(confidence + boost)

	threshold := e.cfg.MinEventConfidence
	if threshold == 0 {
		threshold = 0.6
	}
	if confidence < threshold {
		logging.Debug().Str("type", string(c.Type)).Float64("confidence", confidence).Msg("detection: candidate below threshold, dropped")
		return models.Event{}, false
	}

	ids := make([]models.Keyframe, len(c.EvidenceFrames))
	copy(ids, c.EvidenceFrames)

	ev := models.Event{
		ID:         models.NewID(),
		Type:       c.Type,
		Target:     c.Target,
		ValueFrom:  c.ValueFrom,
		ValueTo:    c.ValueTo,
		Confidence: confidence,
		Metadata:   c.Metadata,
	}
	if len(ids) > 0 {
		ev.T = ids[len(ids)-1].T
		for _, kf := range ids {
			ev.EvidenceFrames = append(ev.EvidenceFrames, kf.ID)
		}
	}
	if err := ev.Validate(); err != nil {
		logging.Warn().Err(err).Msg("detection: scored event failed invariant check, dropped")
		return models.Event{}, false
	}
	return ev, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
