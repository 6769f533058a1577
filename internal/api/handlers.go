// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/watchtower/screenlog/internal/audit"
	"github.com/watchtower/screenlog/internal/cache"
	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/logging"
	"github.com/watchtower/screenlog/internal/metrics"
	"github.com/watchtower/screenlog/internal/models"
	"github.com/watchtower/screenlog/internal/pipeline"
	"github.com/watchtower/screenlog/internal/privacy"
	"github.com/watchtower/screenlog/internal/storage"
	"github.com/watchtower/screenlog/internal/summarizer"
	"github.com/watchtower/screenlog/internal/supervisor"
)

// DisplayReporter exposes the capture supervisor's per-display state
// for the status endpoint; satisfied by *supervisor.DisplaySupervisor.
type DisplayReporter interface {
	Status() []supervisor.DisplayStatus
}

// Handler owns the control API's route implementations.
type Handler struct {
	cfg        *config.Config
	controls   *privacy.Controls
	gate       *privacy.Gate
	rowStore   *storage.RowStore
	summaries  *pipeline.SummarizeLoop
	displays   DisplayReporter
	auditLog   *audit.Logger
	queryCache cache.Cacher
}

// NewHandler builds the handler set. displays and auditLog may be
// nil; read endpoints then omit the corresponding sections.
func NewHandler(cfg *config.Config, controls *privacy.Controls, gate *privacy.Gate,
	rowStore *storage.RowStore, summaries *pipeline.SummarizeLoop) *Handler {
	return &Handler{
		cfg:       cfg,
		controls:  controls,
		gate:      gate,
		rowStore:  rowStore,
		summaries: summaries,
		// Session grouping over a day of events is the expensive read
		// path; an LFU cache absorbs the menu-bar UI's refresh cadence.
		queryCache: cache.NewLFU(1024, 15*time.Second),
	}
}

// SetDisplayReporter installs the capture supervisor's status source.
func (h *Handler) SetDisplayReporter(d DisplayReporter) { h.displays = d }

// SetAuditLogger installs the audit trail for control actions.
func (h *Handler) SetAuditLogger(l *audit.Logger) { h.auditLog = l }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("api: response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Status reports pipeline health: control state, per-display capture
// status, and whether capture is currently admitted.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	state := h.controls.Snapshot()
	resp := map[string]interface{}{
		"paused":        state.Paused,
		"privacy_mode":  state.PrivacyMode,
		"emergency_hit": state.EmergencyHit,
		"changed_at":    state.ChangedAt,
	}
	if h.displays != nil {
		statuses := h.displays.Status()
		displays := make([]map[string]interface{}, len(statuses))
		for i, ds := range statuses {
			displays[i] = map[string]interface{}{
				"display_id": ds.DisplayID,
				"running":    ds.Running,
				"started_at": ds.StartedAt,
			}
		}
		resp["displays"] = displays
	}
	writeJSON(w, http.StatusOK, resp)
}

// Control handles POST /controls/{action}. The toggle itself is
// non-blocking; the handler measures enqueue-to-status latency and
// records it against the 100ms contract.
func (h *Handler) Control(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	start := time.Now()

	switch action {
	case "pause":
		h.controls.TogglePause()
	case "privacy-mode":
		h.controls.TogglePrivacyMode()
	case "emergency-stop":
		h.controls.EmergencyStop()
	case "reset":
		h.controls.Reset()
	default:
		writeError(w, http.StatusNotFound, "unknown control "+action)
		return
	}

	state := h.controls.Snapshot()
	latency := time.Since(start)
	metrics.RecordControlLatency(latency)
	metrics.SetPaused(state.Paused || state.PrivacyMode || state.EmergencyHit)

	if h.auditLog != nil {
		engaged := state.Paused || state.PrivacyMode || state.EmergencyHit
		h.auditLog.LogControlAction(r.Context(), audit.UserActor("desktop"),
			audit.SourceFromRequest(r), strings.ReplaceAll(action, "-", "_"), engaged, latency)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"paused":        state.Paused,
		"privacy_mode":  state.PrivacyMode,
		"emergency_hit": state.EmergencyHit,
		"latency_ms":    latency.Milliseconds(),
	})
}

// PrivacyCheck reports whether frames from an app on a display would
// currently be admitted; the menu-bar UI drives its per-app indicator
// from this.
func (h *Handler) PrivacyCheck(w http.ResponseWriter, r *http.Request) {
	app := r.URL.Query().Get("app")
	display := r.URL.Query().Get("display")
	if app == "" {
		writeError(w, http.StatusBadRequest, "app query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"app":            app,
		"display":        display,
		"should_capture": h.gate.ShouldCapture(app, display),
	})
}

// timeWindow parses from/to query params, defaulting to the last 24h.
func timeWindow(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now()
	from := now.Add(-24 * time.Hour)
	to := now
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, err
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, err
		}
		to = t
	}
	return from, to, nil
}

type sessionSummary struct {
	ID         uuid.UUID `json:"id"`
	TStart     time.Time `json:"t_start"`
	TEnd       time.Time `json:"t_end"`
	Type       string    `json:"type"`
	PrimaryApp string    `json:"primary_app,omitempty"`
	EventCount int       `json:"event_count"`
}

// Sessions lists the sessions grouped from events in the requested
// window (default: last 24h). Sessions are derived, not persisted;
// their ids are stable across calls with unchanged inputs.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	from, to, err := timeWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time bound: "+err.Error())
		return
	}

	cacheKey := "sessions:" + from.Format(time.RFC3339) + ":" + to.Format(time.RFC3339)
	if cached, ok := h.queryCache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	sessions, err := h.summaries.Sessions(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]sessionSummary, len(sessions))
	for i, s := range sessions {
		out[i] = sessionSummary{
			ID:         summarizer.SpanIDForSession(s),
			TStart:     s.TStart,
			TEnd:       s.TEnd,
			Type:       s.Type,
			PrimaryApp: s.PrimaryApp,
			EventCount: len(s.Events),
		}
	}
	h.queryCache.Set(cacheKey, out)
	writeJSON(w, http.StatusOK, out)
}

// SessionSummary renders one session's summary with its evidence
// reference, recomputed from authoritative rows.
func (h *Handler) SessionSummary(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	from, to, err := timeWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time bound: "+err.Error())
		return
	}
	template := r.URL.Query().Get("template")

	summaries, err := h.summaries.Summaries(r.Context(), from, to, template)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for i := range summaries {
		if summaries[i].Span.SpanID == id {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"span":      spanJSON(summaries[i].Span),
				"narrative": summaries[i].Narrative,
				"evidence":  evidenceJSON(summaries[i].Evidence),
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, "no session with that id in the window")
}

type spanResponse struct {
	SpanID    uuid.UUID `json:"span_id"`
	Kind      string    `json:"kind"`
	TStart    time.Time `json:"t_start"`
	TEnd      time.Time `json:"t_end"`
	Title     string    `json:"title"`
	SummaryMD string    `json:"summary_md,omitempty"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

func spanJSON(sp models.Span) spanResponse {
	return spanResponse{
		SpanID:    sp.SpanID,
		Kind:      string(sp.Kind),
		TStart:    sp.TStart,
		TEnd:      sp.TEnd,
		Title:     sp.Title,
		SummaryMD: sp.SummaryMD,
		Tags:      sp.Tags,
		CreatedAt: sp.CreatedAt,
	}
}

func evidenceJSON(ref models.EvidenceReference) map[string]interface{} {
	return map[string]interface{}{
		"direct_frames":     ref.DirectFrames,
		"correlated_frames": ref.CorrelatedFrames,
		"trace_confidence":  ref.TraceConfidence,
	}
}

// Spans serves the persisted span query surface: time-range overlap,
// kind filter, tag membership, pagination.
func (h *Handler) Spans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.SpanFilter{Kind: q.Get("kind")}

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
			return
		}
		filter.Start = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
			return
		}
		filter.End = &t
	}
	if v := q.Get("tags"); v != "" {
		filter.Tags = strings.Split(v, ",")
	}
	filter.Limit = intParam(q.Get("limit"), 100)
	filter.Offset = intParam(q.Get("offset"), 0)

	start := time.Now()
	spans, err := h.rowStore.QuerySpans(r.Context(), filter)
	metrics.RecordDBQuery("query_spans", "row", time.Since(start), err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := h.rowStore.CountSpans(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]spanResponse, len(spans))
	for i, sp := range spans {
		out[i] = spanJSON(sp)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spans":  out,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// Span serves one persisted span by id.
func (h *Handler) Span(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid span id")
		return
	}
	sp, err := h.rowStore.SpanByID(r.Context(), id)
	if err != nil {
		if err == storage.ErrSpanNotFound {
			writeError(w, http.StatusNotFound, "span not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, spanJSON(sp))
}

func intParam(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
