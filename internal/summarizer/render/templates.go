// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package render implements the summarizer's pluggable template
// engine and output formatters: deterministic pure functions over
// (session, context) that never alter or fabricate values, using the
// same named-registry shape as the detection engine's Detector
// registry.
package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/watchtower/screenlog/internal/models"
)

// Context is the temporal context computed for a session: surrounding
// spans, continuity score, and workflow phase.
type Context struct {
	PrecedingSpans []models.Span
	FollowingSpans []models.Span
	ContinuityScore float64
	WorkflowPhase   string
}

// Template renders a session+context into narrative text.
// Implementations are deterministic: the same inputs always produce
// byte-identical output, and no field may be fabricated beyond what
// session/context already carries.
type Template interface {
	Name() string
	Render(session models.Session, ctx Context) string
}

// Registry holds the named templates available to the summarizer,
// mirroring the detector registry's Register shape.
type Registry struct {
	templates map[string]Template
}

// NewRegistry builds a Registry preloaded with the five named
// named templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template)}
	for _, t := range []Template{
		NarrativeTemplate{},
		StructuredTemplate{},
		PlaybookTemplate{},
		TimelineTemplate{},
		ExecutiveTemplate{},
	} {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a named template.
func (r *Registry) Register(t Template) { r.templates[t.Name()] = t }

// Render looks up name and renders, returning an error if the
// template is not registered.
func (r *Registry) Render(name string, session models.Session, ctx Context) (string, error) {
	t, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("render: unknown template %q", name)
	}
	return t.Render(session, ctx), nil
}

func eventTypeCounts(events []models.Event) map[string]int {
	counts := make(map[string]int)
	for _, ev := range events {
		counts[string(ev.Type)]++
	}
	return counts
}

func sortedEvents(events []models.Event) []models.Event {
	out := append([]models.Event(nil), events...)
	sort.Slice(out, func(i, j int) bool { return out[i].T.Before(out[j].T) })
	return out
}

func fmtTime(t time.Time) string { return t.UTC().Format("15:04:05") }

// NarrativeTemplate renders a prose summary of the session.
type NarrativeTemplate struct{}

func (NarrativeTemplate) Name() string { return "narrative" }

func (NarrativeTemplate) Render(session models.Session, ctx Context) string {
	var b strings.Builder
	app := session.PrimaryApp
	if app == "" {
		app = "an unidentified application"
	}
	fmt.Fprintf(&b, "Between %s and %s, the user worked in %s (%s), producing %d events.\n",
		fmtTime(session.TStart), fmtTime(session.TEnd), app, session.Type, len(session.Events))
	if ctx.WorkflowPhase != "" {
		fmt.Fprintf(&b, "This session is classified as the %s phase.\n", ctx.WorkflowPhase)
	}
	for _, ev := range sortedEvents(session.Events) {
		fmt.Fprintf(&b, "- [%s] %s: %s", fmtTime(ev.T), ev.Type, ev.Target)
		if ev.ValueFrom != nil && ev.ValueTo != nil {
			fmt.Fprintf(&b, " (%q -> %q)", *ev.ValueFrom, *ev.ValueTo)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// StructuredTemplate renders a machine-oriented field listing.
type StructuredTemplate struct{}

func (StructuredTemplate) Name() string { return "structured" }

func (StructuredTemplate) Render(session models.Session, ctx Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "session_type: %s\n", session.Type)
	fmt.Fprintf(&b, "primary_app: %s\n", session.PrimaryApp)
	fmt.Fprintf(&b, "t_start: %s\n", session.TStart.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "t_end: %s\n", session.TEnd.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "workflow_phase: %s\n", ctx.WorkflowPhase)
	fmt.Fprintf(&b, "event_count: %d\n", len(session.Events))
	counts := eventTypeCounts(session.Events)
	types := make([]string, 0, len(counts))
	for typ := range counts {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		fmt.Fprintf(&b, "event_type.%s: %d\n", typ, counts[typ])
	}
	return b.String()
}

// PlaybookTemplate renders stepwise instructions recreating the
// session's observed sequence of actions.
type PlaybookTemplate struct{}

func (PlaybookTemplate) Name() string { return "playbook" }

func (PlaybookTemplate) Render(session models.Session, _ Context) string {
	var b strings.Builder
	b.WriteString("Steps:\n")
	for i, ev := range sortedEvents(session.Events) {
		step := playbookStep(ev)
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	return b.String()
}

func playbookStep(ev models.Event) string {
	switch ev.Type {
	case models.EventFieldChange:
		if ev.ValueTo != nil {
			return fmt.Sprintf("Set %s to %q", ev.Target, *ev.ValueTo)
		}
		return fmt.Sprintf("Change %s", ev.Target)
	case models.EventFormSubmission:
		return fmt.Sprintf("Submit the form via %s", ev.Target)
	case models.EventNavigation:
		return fmt.Sprintf("Navigate to %q", stringOrTarget(ev.ValueTo, ev.Target))
	case models.EventAppSwitch:
		return fmt.Sprintf("Switch to %s", ev.Target)
	case models.EventModalAppearance:
		return fmt.Sprintf("Handle the dialog %q", ev.Target)
	case models.EventErrorDisplay:
		return fmt.Sprintf("Observe error: %s", ev.Target)
	case models.EventDataEntry:
		return fmt.Sprintf("Enter data into %s", ev.Target)
	default:
		return fmt.Sprintf("%s: %s", ev.Type, ev.Target)
	}
}

func stringOrTarget(s *string, fallback string) string {
	if s != nil {
		return *s
	}
	return fallback
}

// TimelineTemplate renders a flat chronological event timeline.
type TimelineTemplate struct{}

func (TimelineTemplate) Name() string { return "timeline" }

func (TimelineTemplate) Render(session models.Session, _ Context) string {
	var b strings.Builder
	for _, ev := range sortedEvents(session.Events) {
		fmt.Fprintf(&b, "%s | %-18s | %s\n", fmtTime(ev.T), ev.Type, ev.Target)
	}
	return b.String()
}

// ExecutiveTemplate renders a one-paragraph high-level summary
// suitable for a dashboard tile.
type ExecutiveTemplate struct{}

func (ExecutiveTemplate) Name() string { return "executive" }

func (ExecutiveTemplate) Render(session models.Session, ctx Context) string {
	duration := session.TEnd.Sub(session.TStart).Round(time.Second)
	app := session.PrimaryApp
	if app == "" {
		app = "multiple applications"
	}
	return fmt.Sprintf("%s session in %s lasting %s with %d events (%s phase).",
		titleCase(strings.ReplaceAll(session.Type, "_", " ")), app, duration, len(session.Events), ctx.WorkflowPhase)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
