// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package summarizer

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/models"
)

func summarizerCfg() config.SummarizerConfig {
	return config.SummarizerConfig{
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
	}
}

func sessionWithEvents(start time.Time, n int, spacing time.Duration) models.Session {
	s := models.Session{TStart: start, PrimaryApp: "com.example.editor", Type: "data_entry"}
	for i := 0; i < n; i++ {
		ev := models.Event{
			ID:             uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("ev-%d", i))),
			T:              start.Add(time.Duration(i) * spacing),
			Type:           models.EventDataEntry,
			Target:         "field:name",
			Confidence:     0.8,
			EvidenceFrames: []uuid.UUID{uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("fr-%d", i)))},
		}
		s.Events = append(s.Events, ev)
	}
	s.TEnd = start.Add(time.Duration(n-1) * spacing)
	return s
}

func TestBuildEvidenceReference_DirectAndBidirectionalMaps(t *testing.T) {
	session := sessionWithEvents(time.Unix(1000, 0), 4, 30*time.Second)
	summaryID := models.NewID()

	ref := BuildEvidenceReference(summaryID, session, nil, summarizerCfg())

	assert.Equal(t, summaryID, ref.SummaryID)
	assert.Len(t, ref.DirectFrames, 4, "union of per-event evidence frames")
	for _, ev := range session.Events {
		assert.Equal(t, summaryID, ref.EventToSummary[ev.ID])
		for _, fid := range ev.EvidenceFrames {
			assert.Contains(t, ref.FrameToEvents[fid], ev.ID)
		}
	}
}

func TestBuildEvidenceReference_CorrelatedFramesCappedAndSorted(t *testing.T) {
	session := sessionWithEvents(time.Unix(1000, 0), 6, 30*time.Second)

	// 30 candidates inside the session window, all with primary-app
	// match and scene change, so they clear the 0.5 threshold.
	var candidates []FrameContext
	for i := 0; i < 30; i++ {
		candidates = append(candidates, FrameContext{
			Frame: models.Keyframe{
				ID:          models.NewID(),
				T:           session.TStart.Add(time.Duration(i) * 5 * time.Second),
				AppBundleID: "com.example.editor",
			},
			SceneChange: true,
			AvgOCRConf:  0.85,
		})
	}

	ref := BuildEvidenceReference(models.NewID(), session, candidates, summarizerCfg())
	require.LessOrEqual(t, len(ref.CorrelatedFrames), 10, "max_evidence_frames cap")
	require.NotEmpty(t, ref.CorrelatedFrames)
	for i := 1; i < len(ref.CorrelatedFrames); i++ {
		assert.GreaterOrEqual(t, ref.CorrelatedFrames[i-1].Score, ref.CorrelatedFrames[i].Score, "descending score order")
	}
	for _, fe := range ref.CorrelatedFrames {
		assert.GreaterOrEqual(t, fe.Score, 0.5)
	}
}

func TestTemporalCorrelationScore_Weights(t *testing.T) {
	session := sessionWithEvents(time.Unix(1000, 0), 3, 30*time.Second)

	onEvent := FrameContext{
		Frame: models.Keyframe{
			ID:          models.NewID(),
			T:           session.Events[1].T,
			AppBundleID: "com.example.editor",
		},
		SceneChange: true,
	}
	score := TemporalCorrelationScore(onEvent, session)
	// proximity 1.0*0.4 + app match 1.0*0.3 + scene 1.0*0.2 = 0.9 (+0.1 continuity if titles match)
	assert.InDelta(t, 0.9, score, 0.01)

	farAway := FrameContext{
		Frame: models.Keyframe{
			ID: models.NewID(),
			T:  session.TEnd.Add(20 * time.Minute),
		},
	}
	assert.Less(t, TemporalCorrelationScore(farAway, session), 0.5)
}

func TestAggregateConfidence_UsesConfiguredWeights(t *testing.T) {
	session := sessionWithEvents(time.Unix(1000, 0), 4, 30*time.Second)
	frames := []FrameContext{{Frame: models.Keyframe{ID: models.NewID(), T: session.TStart}, AvgOCRConf: 0.9}}

	conf := AggregateConfidence(session, frames, summarizerCfg())
	assert.Greater(t, conf, 0.0)
	assert.LessOrEqual(t, conf, 1.0)

	// Perfectly regular spacing means temporal consistency 1; the
	// event and frame terms are exact.
	expected := 0.4*0.8 + 0.3*0.9 + 0.2*1.0 + 0.1*spatialConsistency(session)
	assert.InDelta(t, expected, conf, 1e-9)
}

func TestBuildTrace_AggregateWeights(t *testing.T) {
	session := sessionWithEvents(time.Unix(1000, 0), 2, 30*time.Second)
	frameConf := map[uuid.UUID]float64{}
	for _, ev := range session.Events {
		for _, fid := range ev.EvidenceFrames {
			frameConf[fid] = 0.9
		}
	}

	trace := BuildTrace(0.75, session, frameConf)
	require.Len(t, trace.Steps, 2)
	for _, step := range trace.Steps {
		assert.Equal(t, 0.8, step.EventConf)
		assert.Equal(t, 0.9, step.FrameConf)
	}
	// Each step is 0.1*summary + 0.3*event + 0.6*frame, normalized by
	// step count.
	expected := 0.1*0.75 + 0.3*0.8 + 0.6*0.9
	assert.InDelta(t, expected, trace.Aggregate, 1e-9)
}

func TestSpanIDForSession_Stable(t *testing.T) {
	a := sessionWithEvents(time.Unix(1000, 0), 3, 30*time.Second)
	b := sessionWithEvents(time.Unix(1000, 0), 3, 30*time.Second)
	c := sessionWithEvents(time.Unix(2000, 0), 3, 30*time.Second)

	assert.Equal(t, SpanIDForSession(a), SpanIDForSession(b))
	assert.NotEqual(t, SpanIDForSession(a), SpanIDForSession(c))
}

type fixedLookup struct{ spans []models.Span }

func (f fixedLookup) SpansInRange(_, _ time.Time) ([]models.Span, error) { return f.spans, nil }

// The idempotence law: summarizing the same session with unchanged
// inputs produces byte-identical narrative output.
func TestSummarize_ByteIdenticalOnUnchangedInputs(t *testing.T) {
	events := sessionWithEvents(time.Unix(1000, 0), 5, 30*time.Second).Events
	lookup := fixedLookup{}

	s := New(summarizerCfg())
	first, err := s.Summarize(events, lookup, nil, "narrative", 3)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := s.Summarize(events, lookup, nil, "narrative", 3)
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, first[0].Narrative, second[0].Narrative)
	assert.Equal(t, first[0].Span.SpanID, second[0].Span.SpanID)
}
