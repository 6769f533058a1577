// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package summarizer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/models"
	"github.com/watchtower/screenlog/internal/summarizer/render"
)

// Summary is the full output of summarizing one session: the span to
// persist, its evidence reference, and the rendered narrative for the
// requested template.
type Summary struct {
	Span      models.Span
	Evidence  models.EvidenceReference
	Narrative string
}

// Summarizer ties session grouping, temporal context, evidence
// building, and template rendering into one entry point.
type Summarizer struct {
	cfg       config.SummarizerConfig
	templates *render.Registry
}

// New builds a Summarizer with the default template registry.
func New(cfg config.SummarizerConfig) *Summarizer {
	return &Summarizer{cfg: cfg, templates: render.NewRegistry()}
}

// Templates exposes the registry so callers can register custom
// templates or list formatters.
func (s *Summarizer) Templates() *render.Registry { return s.templates }

// SpanLookup resolves spans within a time window, used to build
// temporal context; implemented by the row store.
type SpanLookup interface {
	SpansInRange(tStart, tEnd time.Time) ([]models.Span, error)
}

// Summarize groups events into sessions, computes temporal context
// for each, and renders the requested template. Session inputs that
// are unchanged between two calls produce byte-identical narrative
// output: Summarize performs no randomized or time-dependent
// formatting beyond what the session/events already carry.
func (s *Summarizer) Summarize(events []models.Event, lookup SpanLookup, candidateFrames []FrameContext, templateName string, minEventsPerSession int) ([]Summary, error) {
	sessions := GroupSessions(events, s.cfg, minEventsPerSession)
	summaries := make([]Summary, 0, len(sessions))

	for _, session := range sessions {
		ctx, err := s.temporalContext(session, lookup)
		if err != nil {
			return nil, fmt.Errorf("summarizer: temporal context: %w", err)
		}

		narrative, err := s.templates.Render(templateName, session, ctx)
		if err != nil {
			return nil, err
		}

		summaryID := SpanIDForSession(session)
		sessionFrames := frameContextsForSession(session, candidateFrames)
		evidence := BuildEvidenceReference(summaryID, session, sessionFrames, s.cfg)

		span := models.Span{
			SpanID:    summaryID,
			Kind:      models.SpanKind(session.Type),
			TStart:    session.TStart,
			TEnd:      session.TEnd,
			Title:     spanTitle(session),
			SummaryMD: narrative,
			Tags:      spanTags(session, ctx),
			CreatedAt: time.Now(),
		}
		if err := span.Validate(); err != nil {
			return nil, fmt.Errorf("summarizer: invalid span: %w", err)
		}

		summaries = append(summaries, Summary{Span: span, Evidence: evidence, Narrative: narrative})
	}
	return summaries, nil
}

func (s *Summarizer) temporalContext(session models.Session, lookup SpanLookup) (render.Context, error) {
	ctx := render.Context{}
	if lookup == nil {
		ctx.WorkflowPhase = WorkflowPhase(session.Type, nil)
		return ctx, nil
	}

	preceding, err := lookup.SpansInRange(session.TStart.Add(-time.Hour), session.TStart)
	if err != nil {
		return ctx, err
	}
	following, err := lookup.SpansInRange(session.TEnd, session.TEnd.Add(30*time.Minute))
	if err != nil {
		return ctx, err
	}
	ctx.PrecedingSpans = preceding
	ctx.FollowingSpans = following
	ctx.ContinuityScore = continuityScore(session, preceding, following)

	kinds := make([]models.SpanKind, 0, len(preceding)+len(following))
	for _, sp := range preceding {
		kinds = append(kinds, sp.Kind)
	}
	for _, sp := range following {
		kinds = append(kinds, sp.Kind)
	}
	ctx.WorkflowPhase = WorkflowPhase(session.Type, kinds)
	return ctx, nil
}

// continuityScore weights (a) proximity-normalized time gap, (b)
// content-keyword Jaccard on span titles vs session keywords, and (c)
// primary-app membership in span tags.
func continuityScore(session models.Session, preceding, following []models.Span) float64 {
	var best float64
	keywords := contextTokens(session.Events)
	for _, sp := range append(append([]models.Span(nil), preceding...), following...) {
		gap := spanGap(session, sp)
		proximity := 1 - gap.Seconds()/3600
		if proximity < 0 {
			proximity = 0
		}
		titleTokens := contextTokens(nil)
		for k := range keywordsFromTitle(sp.Title) {
			titleTokens[k] = true
		}
		jaccard := jaccardStrings(keywords, titleTokens)
		appMatch := 0.0
		if session.PrimaryApp != "" {
			if _, ok := sp.TagSet()[session.PrimaryApp]; ok {
				appMatch = 1
			}
		}
		score := 0.5*proximity + 0.3*jaccard + 0.2*appMatch
		if score > best {
			best = score
		}
	}
	return best
}

func spanGap(session models.Session, sp models.Span) time.Duration {
	if sp.TEnd.Before(session.TStart) {
		return session.TStart.Sub(sp.TEnd)
	}
	if sp.TStart.After(session.TEnd) {
		return sp.TStart.Sub(session.TEnd)
	}
	return 0
}

func keywordsFromTitle(title string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range splitWords(title) {
		out["tok:"+w] = true
	}
	return out
}

func splitWords(s string) []string {
	var words []string
	var cur []rune
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			if len(cur) > 0 {
				words = append(words, string(cur))
				cur = nil
			}
			continue
		}
		cur = append(cur, toLowerRune(r))
	}
	if len(cur) > 0 {
		words = append(words, string(cur))
	}
	return words
}

func toLowerRune(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + 32
	}
	return r
}

func jaccardStrings(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	seen := make(map[string]bool, len(a)+len(b))
	var intersect int
	for k := range a {
		seen[k] = true
	}
	for k := range b {
		if a[k] {
			intersect++
		}
		seen[k] = true
	}
	if len(seen) == 0 {
		return 1
	}
	return float64(intersect) / float64(len(seen))
}

func frameContextsForSession(session models.Session, candidates []FrameContext) []FrameContext {
	out := make([]FrameContext, 0, len(candidates))
	for _, fc := range candidates {
		if fc.Frame.T.Before(session.TStart.Add(-time.Minute)) || fc.Frame.T.After(session.TEnd.Add(time.Minute)) {
			continue
		}
		out = append(out, fc)
	}
	return out
}

// SpanIDForSession derives a stable span id from the session's
// identity (its first event and start time), so re-summarizing the
// same session upserts the same span instead of duplicating it, and
// API clients can address a derived session before its span persists.
func SpanIDForSession(session models.Session) uuid.UUID {
	seed := session.TStart.UTC().Format(time.RFC3339Nano)
	if len(session.Events) > 0 {
		seed += "|" + session.Events[0].ID.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("screenlog-span:"+seed))
}

func spanTitle(session models.Session) string {
	app := session.PrimaryApp
	if app == "" {
		app = "unknown app"
	}
	return fmt.Sprintf("%s - %s session", app, session.Type)
}

func spanTags(session models.Session, ctx render.Context) models.StringList {
	tags := models.StringList{session.Type, ctx.WorkflowPhase}
	if session.PrimaryApp != "" {
		tags = append(tags, session.PrimaryApp)
	}
	return tags
}
