// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package summarizer implements session grouping, temporal context,
// and evidence-linked narrative generation: events are cut into
// sessions, classified by type, correlated against surrounding spans,
// and rendered through pluggable deterministic templates.
package summarizer

import (
	"sort"
	"strings"

	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/models"
)

// GroupSessions sorts events by time and cuts session boundaries on
// either an inter-event gap exceeding MaxEventGap or a context-Jaccard
// drop below SimilarityThreshold. Sessions failing MinSessionDuration
// or the minimum event count are discarded.
func GroupSessions(events []models.Event, cfg config.SummarizerConfig, minEventsPerSession int) []models.Session {
	if len(events) == 0 {
		return nil
	}
	sorted := append([]models.Event(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].T.Before(sorted[j].T) })

	var sessions []models.Session
	var current []models.Event
	for i, ev := range sorted {
		if len(current) == 0 {
			current = append(current, ev)
			continue
		}
		prev := current[len(current)-1]
		gap := ev.T.Sub(prev.T)
		sim := contextSimilarity(current, sorted[i:i+1])
		if gap > cfg.MaxEventGap || sim < cfg.SimilarityThreshold {
			sessions = append(sessions, finalizeSession(current, cfg, minEventsPerSession)...)
			current = nil
		}
		current = append(current, ev)
	}
	sessions = append(sessions, finalizeSession(current, cfg, minEventsPerSession)...)
	return sessions
}

func finalizeSession(events []models.Event, cfg config.SummarizerConfig, minEvents int) []models.Session {
	if len(events) == 0 {
		return nil
	}
	tStart, tEnd := events[0].T, events[0].T
	for _, ev := range events {
		if ev.T.Before(tStart) {
			tStart = ev.T
		}
		if ev.T.After(tEnd) {
			tEnd = ev.T
		}
	}
	if tEnd.Sub(tStart) < cfg.MinSessionDuration {
		return nil
	}
	if len(events) < minEvents {
		return nil
	}
	return []models.Session{{
		TStart:     tStart,
		TEnd:       tEnd,
		Events:     events,
		PrimaryApp: primaryApp(events),
		Type:       ClassifySessionType(events),
	}}
}

// contextSimilarity computes Jaccard similarity between the bag of
// {primary_app, target tokens, event types} of two event slices.
func contextSimilarity(a, b []models.Event) float64 {
	setA := contextTokens(a)
	setB := contextTokens(b)
	if app := primaryApp(a); app != "" {
		setA["app:"+app] = true
	}
	if app := primaryApp(b); app != "" {
		setB["app:"+app] = true
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	var intersect, union int
	seen := make(map[string]bool, len(setA)+len(setB))
	for t := range setA {
		seen[t] = true
	}
	for t := range setB {
		if setA[t] {
			intersect++
		}
		seen[t] = true
	}
	union = len(seen)
	if union == 0 {
		return 1
	}
	return float64(intersect) / float64(union)
}

func contextTokens(events []models.Event) map[string]bool {
	out := make(map[string]bool)
	for _, ev := range events {
		out[string(ev.Type)] = true
		for _, tok := range strings.Fields(ev.Target) {
			out["tok:"+strings.ToLower(tok)] = true
		}
	}
	return out
}

func primaryApp(events []models.Event) string {
	counts := make(map[string]int)
	for _, ev := range events {
		if app, ok := ev.Metadata["app_bundle_id"]; ok && app != "" {
			counts[app]++
		}
	}
	best, bestN := "", 0
	for app, n := range counts {
		if n > bestN {
			best, bestN = app, n
		}
	}
	return best
}

// sessionTypePriority breaks plurality ties in a fixed order
// §4.6 specifies: form_submission > data_entry > navigation >
// research > mixed.
var sessionTypePriority = []string{"form_submission", "data_entry", "navigation", "research", "mixed"}

// ClassifySessionType returns the plurality event type among the
// session's events, with ties broken by sessionTypePriority. "research"
// has no direct EventType and is inferred from a majority of
// navigation+app_switch events with no form-oriented events present.
func ClassifySessionType(events []models.Event) string {
	counts := make(map[string]int)
	for _, ev := range events {
		counts[string(ev.Type)]++
	}

	if counts[string(models.EventNavigation)]+counts[string(models.EventAppSwitch)] > len(events)/2 &&
		counts[string(models.EventFormSubmission)] == 0 && counts[string(models.EventDataEntry)] == 0 {
		counts["research"] = counts[string(models.EventNavigation)] + counts[string(models.EventAppSwitch)]
	}

	best, bestN := "mixed", 0
	for _, candidate := range sessionTypePriority {
		if n := counts[candidate]; n > bestN {
			best, bestN = candidate, n
		}
	}
	for typ, n := range counts {
		if n > bestN {
			best, bestN = typ, n
		}
	}
	return best
}

// WorkflowPhase identifies a workflow phase from a finite catalog,
// using the session type plus the kinds of the spans
// surrounding it.
func WorkflowPhase(sessionType string, surroundingSpanKinds []models.SpanKind) string {
	switch sessionType {
	case "data_entry":
		return "data_collection"
	case "form_submission":
		for _, k := range surroundingSpanKinds {
			if string(k) == "form_completion" {
				return "form_completion"
			}
		}
		return "form_initiation"
	case "research":
		return "information_seeking"
	case "navigation":
		return "information_seeking"
	}
	for _, k := range surroundingSpanKinds {
		if string(k) == "implementation" {
			return "implementation"
		}
		if string(k) == "communication" {
			return "communication"
		}
	}
	return "mixed"
}
