// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/logging"
	"github.com/watchtower/screenlog/internal/metrics"
	"github.com/watchtower/screenlog/internal/models"
	"github.com/watchtower/screenlog/internal/storage"
	"github.com/watchtower/screenlog/internal/summarizer"
)

// SummarizeLoop periodically groups recent events into sessions and
// persists a span per surviving session. It runs on the background
// pool: freely cancellable between passes, never on the capture hot
// path.
type SummarizeLoop struct {
	cfg        config.SummarizerConfig
	columnar   *storage.Columnar
	rowStore   *storage.RowStore
	summarizer *summarizer.Summarizer

	interval  time.Duration
	lookback  time.Duration
	minEvents int
}

// NewSummarizeLoop builds the loop. The lookback window covers one
// interval plus twice the largest allowed inter-event gap, so a session
// straddling two passes is re-grouped whole (span upserts are keyed
// deterministically, so regrouping rewrites rather than duplicates).
func NewSummarizeLoop(cfg config.SummarizerConfig, columnar *storage.Columnar, rowStore *storage.RowStore) *SummarizeLoop {
	interval := 10 * time.Minute
	return &SummarizeLoop{
		cfg:        cfg,
		columnar:   columnar,
		rowStore:   rowStore,
		summarizer: summarizer.New(cfg),
		interval:   interval,
		lookback:   interval + cfg.MaxEventGap + cfg.MaxEventGap,
		minEvents:  3,
	}
}

// Serve implements suture.Service.
func (s *SummarizeLoop) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.RunOnce(ctx)
			if err != nil {
				logging.Warn().Err(err).Msg("summarize: pass failed")
				continue
			}
			if n > 0 {
				logging.Info().Int("spans", n).Msg("summarize: pass complete")
			}
		}
	}
}

// RunOnce summarizes the lookback window and upserts one span per
// surviving session. Returns the number of spans written.
func (s *SummarizeLoop) RunOnce(ctx context.Context) (int, error) {
	now := time.Now()
	from := now.Add(-s.lookback)

	events, err := s.columnar.EventsBetween(ctx, from, now)
	if err != nil {
		return 0, fmt.Errorf("summarize: load events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	frames, err := s.candidateFrames(ctx, from, now)
	if err != nil {
		return 0, err
	}

	summaries, err := s.summarizer.Summarize(events, s.rowStore, frames, s.cfg.DefaultTemplate, s.minEvents)
	if err != nil {
		return 0, fmt.Errorf("summarize: %w", err)
	}

	var written int
	for _, sum := range summaries {
		if err := s.rowStore.UpsertSpan(ctx, sum.Span); err != nil {
			logging.Warn().Err(err).Str("span_id", sum.Span.SpanID.String()).Msg("summarize: span upsert failed")
			continue
		}
		metrics.RecordSessionFormed()
		metrics.RecordSummaryRendered(s.cfg.DefaultTemplate)
		written++
	}
	return written, nil
}

// candidateFrames loads the window's keyframes with their mean OCR
// confidence for evidence correlation.
func (s *SummarizeLoop) candidateFrames(ctx context.Context, from, to time.Time) ([]summarizer.FrameContext, error) {
	stats, err := s.columnar.FrameStatsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarize: load frame stats: %w", err)
	}
	out := make([]summarizer.FrameContext, len(stats))
	for i, fs := range stats {
		out[i] = summarizer.FrameContext{
			Frame: fs.Keyframe,
			// Every kept frame except a segment's anchor marks a
			// scene transition; anchors are indistinguishable here and
			// rare (one per segment), so kept == transition.
			SceneChange: true,
			AvgOCRConf:  fs.AvgOCRConf,
		}
	}
	return out, nil
}

// Summaries exposes one-shot summarization over an arbitrary window
// for the control API.
func (s *SummarizeLoop) Summaries(ctx context.Context, from, to time.Time, template string) ([]summarizer.Summary, error) {
	events, err := s.columnar.EventsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarize: load events: %w", err)
	}
	frames, err := s.candidateFrames(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if template == "" {
		template = s.cfg.DefaultTemplate
	}
	return s.summarizer.Summarize(events, s.rowStore, frames, template, s.minEvents)
}

// Sessions groups (without rendering or persisting) the events in a
// window, for the control API's GET /sessions.
func (s *SummarizeLoop) Sessions(ctx context.Context, from, to time.Time) ([]models.Session, error) {
	events, err := s.columnar.EventsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarize: load events: %w", err)
	}
	return summarizer.GroupSessions(events, s.cfg, s.minEvents), nil
}
