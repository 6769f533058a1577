// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package summarizer

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/watchtower/screenlog/internal/cache"
	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/models"
)

// FrameContext is the keyframe metadata needed to score temporal
// correlation: the frame itself plus whether it marked a scene
// transition (kept by the indexer because of, not despite, its
// content).
type FrameContext struct {
	Frame          models.Keyframe
	SceneChange    bool
	AvgOCRConf     float64
}

// BuildEvidenceReference rebuilds a summary's EvidenceReference from
// authoritative event and frame rows, never from a cached prior
// version: flat tables, rebuilt on demand;
// note: there are no in-memory cycles between summaries, events, and
// frames, only bidirectional lookup maps built fresh each time.
func BuildEvidenceReference(summaryID uuid.UUID, session models.Session, candidateFrames []FrameContext, cfg config.SummarizerConfig) models.EvidenceReference {
	ref := models.EvidenceReference{
		SummaryID:      summaryID,
		FrameToEvents:  make(map[uuid.UUID][]uuid.UUID),
		EventToSummary: make(map[uuid.UUID]uuid.UUID),
	}

	directSet := make(map[uuid.UUID]bool)
	for _, ev := range session.Events {
		ref.EventToSummary[ev.ID] = summaryID
		for _, fid := range ev.EvidenceFrames {
			if !directSet[fid] {
				directSet[fid] = true
				ref.DirectFrames = append(ref.DirectFrames, fid)
			}
			ref.FrameToEvents[fid] = append(ref.FrameToEvents[fid], ev.ID)
		}
	}
	sort.Slice(ref.DirectFrames, func(i, j int) bool { return ref.DirectFrames[i].String() < ref.DirectFrames[j].String() })

	threshold := cfg.MinEvidenceConfidence
	if threshold == 0 {
		threshold = 0.5
	}
	maxFrames := cfg.MaxEvidenceFrames
	if maxFrames <= 0 {
		maxFrames = 10
	}

	// Bounded top-K selection: a capacity-evicting min-heap
	// (internal/cache) keyed on the score axis keeps only the
	// strongest maxFrames candidates, so a long session never
	// materializes its full candidate list.
	top := cache.NewMinHeap[models.FrameEvidence](maxFrames)
	for _, fc := range candidateFrames {
		score := TemporalCorrelationScore(fc, session)
		if score < threshold {
			continue
		}
		top.Push(fc.Frame.ID.String(),
			models.FrameEvidence{FrameID: fc.Frame.ID, Score: score},
			time.Unix(0, int64(score*float64(time.Second))))
	}
	correlated := make([]models.FrameEvidence, 0, top.Len())
	for _, entry := range top.All() {
		correlated = append(correlated, entry.Value)
	}
	sort.Slice(correlated, func(i, j int) bool {
		if correlated[i].Score != correlated[j].Score {
			return correlated[i].Score > correlated[j].Score
		}
		return correlated[i].FrameID.String() < correlated[j].FrameID.String()
	})
	ref.CorrelatedFrames = correlated

	ref.TraceConfidence = AggregateConfidence(session, candidateFrames, cfg)
	return ref
}

// TemporalCorrelationScore implements the per-frame scoring formula
// for a frame within a session:
//
//	0.4*proximity + 0.3*primary_app_match + 0.2*scene_transition + 0.1*workflow_continuity
func TemporalCorrelationScore(fc FrameContext, session models.Session) float64 {
	proximity := proximityToNearestEvent(fc.Frame.T, session.Events)
	appMatch := 0.0
	if fc.Frame.AppBundleID != "" && fc.Frame.AppBundleID == session.PrimaryApp {
		appMatch = 1.0
	}
	scene := 0.0
	if fc.SceneChange {
		scene = 1.0
	}
	continuity := workflowContinuity(fc, session)
	return 0.4*proximity + 0.3*appMatch + 0.2*scene + 0.1*continuity
}

func proximityToNearestEvent(t time.Time, events []models.Event) float64 {
	if len(events) == 0 {
		return 0
	}
	best := -1.0
	for _, ev := range events {
		d := t.Sub(ev.T)
		if d < 0 {
			d = -d
		}
		// normalize: within 5s -> ~1.0, decaying to 0 by 5 minutes.
		score := 1 - float64(d)/float64(5*time.Minute)
		if score < 0 {
			score = 0
		}
		if score > best {
			best = score
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

func workflowContinuity(fc FrameContext, session models.Session) float64 {
	if fc.Frame.WindowTitle == "" {
		return 0
	}
	for _, ev := range session.Events {
		if ev.Metadata != nil && ev.Metadata["window_title"] == fc.Frame.WindowTitle {
			return 1
		}
	}
	return 0
}

// AggregateConfidence combines mean event confidence (0.4), mean frame
// OCR confidence (0.3), temporal consistency (0.2), and spatial
// consistency (0.1) into one summary-level confidence score.
func AggregateConfidence(session models.Session, frames []FrameContext, cfg config.SummarizerConfig) float64 {
	eventW, frameW, temporalW, spatialW := cfg.EventWeight, cfg.FrameOCRWeight, cfg.SceneTransitionWeight, cfg.WorkflowContinuityWeight
	if eventW == 0 && frameW == 0 && temporalW == 0 && spatialW == 0 {
		eventW, frameW, temporalW, spatialW = 0.4, 0.3, 0.2, 0.1
	}

	var meanEvent float64
	for _, ev := range session.Events {
		meanEvent += ev.Confidence
	}
	if len(session.Events) > 0 {
		meanEvent /= float64(len(session.Events))
	}

	var meanFrame float64
	for _, fc := range frames {
		meanFrame += fc.AvgOCRConf
	}
	if len(frames) > 0 {
		meanFrame /= float64(len(frames))
	}

	temporal := temporalConsistency(session)
	spatial := spatialConsistency(session)

	return clamp01(eventW*meanEvent + frameW*meanFrame + temporalW*temporal + spatialW*spatial)
}

func temporalConsistency(session models.Session) float64 {
	if len(session.Events) < 2 {
		return 1
	}
	var gaps []float64
	for i := 1; i < len(session.Events); i++ {
		gaps = append(gaps, float64(session.Events[i].T.Sub(session.Events[i-1].T)))
	}
	mean := 0.0
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))
	var variance float64
	for _, g := range gaps {
		d := g - mean
		variance += d * d
	}
	variance /= float64(len(gaps))
	if mean == 0 {
		return 1
	}
	cv := math.Sqrt(variance) / mean // coefficient of variation
	score := 1 - cv
	return clamp01(score)
}

func spatialConsistency(session models.Session) float64 {
	targets := make(map[string]bool)
	for _, ev := range session.Events {
		targets[ev.Target] = true
	}
	if len(session.Events) == 0 {
		return 1
	}
	// fewer distinct targets relative to event count implies a more
	// spatially focused (consistent) session.
	return clamp01(1 - float64(len(targets))/float64(len(session.Events)+1))
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

// Trace is the ordered path summary -> events -> frames with
// per-level confidence, aggregated as a length-normalized weighted
// sum (summary 0.1, event 0.3, frame 0.6 per step).
type Trace struct {
	SummaryConfidence float64
	Steps             []TraceStep
	Aggregate         float64
}

// TraceStep is one event->frame hop in the trace.
type TraceStep struct {
	EventID    uuid.UUID
	EventConf  float64
	FrameID    uuid.UUID
	FrameConf  float64
}

// BuildTrace walks session.Events -> their evidence frames and
// computes the per-step and aggregate confidence.
func BuildTrace(summaryConfidence float64, session models.Session, frameConf map[uuid.UUID]float64) Trace {
	t := Trace{SummaryConfidence: summaryConfidence}
	var weighted float64
	var steps int
	for _, ev := range session.Events {
		for _, fid := range ev.EvidenceFrames {
			fc := frameConf[fid]
			t.Steps = append(t.Steps, TraceStep{EventID: ev.ID, EventConf: ev.Confidence, FrameID: fid, FrameConf: fc})
			weighted += 0.1*summaryConfidence + 0.3*ev.Confidence + 0.6*fc
			steps++
		}
	}
	if steps > 0 {
		t.Aggregate = weighted / float64(steps)
	} else {
		t.Aggregate = summaryConfidence
	}
	return t
}
