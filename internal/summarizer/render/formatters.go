// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package render

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/watchtower/screenlog/internal/models"
)

// Row is one traceable output row/step: every formatter contract
// requires each row to carry at least one event and one frame
// reference; confidence is optional per format config.
type Row struct {
	EventID         string
	FrameID         string
	Text            string
	Confidence      *float64
	IncludeConfidence bool
}

// Formatter renders a session's rows into one output format.
type Formatter interface {
	Name() string
	Format(title string, rows []Row) ([]byte, error)
}

// FormatterRegistry holds the four named report formatters
// (markdown, csv, json, html).
type FormatterRegistry struct {
	formatters map[string]Formatter
}

// NewFormatterRegistry builds a registry preloaded with the default
// formatter set.
func NewFormatterRegistry() *FormatterRegistry {
	r := &FormatterRegistry{formatters: make(map[string]Formatter)}
	for _, f := range []Formatter{MarkdownFormatter{}, CSVFormatter{}, JSONFormatter{}, HTMLFormatter{}} {
		r.Register(f)
	}
	return r
}

func (r *FormatterRegistry) Register(f Formatter) { r.formatters[f.Name()] = f }

func (r *FormatterRegistry) Format(name, title string, rows []Row) ([]byte, error) {
	f, ok := r.formatters[name]
	if !ok {
		return nil, fmt.Errorf("render: unknown formatter %q", name)
	}
	return f.Format(title, rows)
}

// RowsFromSession builds traceable rows from a session's events,
// pairing each event with its first evidence frame (every event's
// evidence_frames is non-empty per the data model invariant).
func RowsFromSession(session models.Session, includeConfidence bool) []Row {
	rows := make([]Row, 0, len(session.Events))
	for _, ev := range session.Events {
		if len(ev.EvidenceFrames) == 0 {
			continue
		}
		conf := ev.Confidence
		rows = append(rows, Row{
			EventID:           ev.ID.String(),
			FrameID:           ev.EvidenceFrames[0].String(),
			Text:              playbookStep(ev),
			Confidence:        &conf,
			IncludeConfidence: includeConfidence,
		})
	}
	return rows
}

// MarkdownFormatter renders a markdown table.
type MarkdownFormatter struct{}

func (MarkdownFormatter) Name() string { return "markdown" }

func (MarkdownFormatter) Format(title string, rows []Row) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	b.WriteString("| Event | Frame | Detail | Confidence |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, r := range rows {
		conf := ""
		if r.IncludeConfidence && r.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *r.Confidence)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", r.EventID, r.FrameID, escapeMD(r.Text), conf)
	}
	return []byte(b.String()), nil
}

func escapeMD(s string) string {
	return strings.NewReplacer("|", "\\|", "\n", " ").Replace(s)
}

// CSVFormatter renders the rows as CSV with a header row.
type CSVFormatter struct{}

func (CSVFormatter) Name() string { return "csv" }

func (CSVFormatter) Format(_ string, rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"event_id", "frame_id", "detail", "confidence"}); err != nil {
		return nil, err
	}
	for _, r := range rows {
		conf := ""
		if r.IncludeConfidence && r.Confidence != nil {
			conf = fmt.Sprintf("%.4f", *r.Confidence)
		}
		if err := w.Write([]string{r.EventID, r.FrameID, r.Text, conf}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JSONFormatter renders the rows as a JSON array.
type JSONFormatter struct{}

func (JSONFormatter) Name() string { return "json" }

type jsonRow struct {
	EventID    string   `json:"event_id"`
	FrameID    string   `json:"frame_id"`
	Detail     string   `json:"detail"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (JSONFormatter) Format(title string, rows []Row) ([]byte, error) {
	out := struct {
		Title string    `json:"title"`
		Rows  []jsonRow `json:"rows"`
	}{Title: title}
	for _, r := range rows {
		jr := jsonRow{EventID: r.EventID, FrameID: r.FrameID, Detail: r.Text}
		if r.IncludeConfidence {
			jr.Confidence = r.Confidence
		}
		out.Rows = append(out.Rows, jr)
	}
	return json.MarshalIndent(out, "", "  ")
}

// HTMLFormatter renders a minimal, escaped HTML table.
type HTMLFormatter struct{}

func (HTMLFormatter) Name() string { return "html" }

func (HTMLFormatter) Format(title string, rows []Row) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>\n<table>\n<tr><th>Event</th><th>Frame</th><th>Detail</th><th>Confidence</th></tr>\n", html.EscapeString(title))
	for _, r := range rows {
		conf := ""
		if r.IncludeConfidence && r.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *r.Confidence)
		}
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(r.EventID), html.EscapeString(r.FrameID), html.EscapeString(r.Text), conf)
	}
	b.WriteString("</table>\n")
	return []byte(b.String()), nil
}
