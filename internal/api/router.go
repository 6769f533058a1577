// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/watchtower/screenlog/internal/middleware"
)

// Router assembles the local control/status surface. It binds to
// localhost only (enforced by ServerConfig.Host); there is no user
// authentication layer because the surface never leaves the machine.
type Router struct {
	handler *Handler
	ws      *WSHandler
}

// NewRouter builds the router around a handler set.
func NewRouter(handler *Handler, ws *WSHandler) *Router {
	return &Router{handler: handler, ws: ws}
}

// adapt lifts the HandlerFunc-style middleware this repo uses onto
// chi's http.Handler middleware chain.
func adapt(m func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m(next.ServeHTTP)
	}
}

// Setup wires routes and the middleware stack: request id,
// compression, rate limit, CORS, Prometheus instrumentation.
func (rt *Router) Setup() chi.Router {
	r := chi.NewRouter()

	r.Use(adapt(middleware.RequestID))
	r.Use(adapt(middleware.Compression))
	r.Use(httprate.LimitByIP(300, time.Minute))
	r.Use(cors.Handler(cors.Options{
		// The menu-bar UI runs from a local origin; nothing else is
		// expected to call this surface cross-origin.
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(adapt(middleware.PrometheusMetrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", rt.handler.Status)
	r.Post("/controls/{action}", rt.handler.Control)
	r.Get("/privacy/check", rt.handler.PrivacyCheck)

	r.Get("/sessions", rt.handler.Sessions)
	r.Get("/sessions/{id}/summary", rt.handler.SessionSummary)

	r.Get("/spans", rt.handler.Spans)
	r.Get("/spans/{id}", rt.handler.Span)

	r.Handle("/metrics", promhttp.Handler())

	if rt.ws != nil {
		r.Get("/ws", rt.ws.Serve)
	}

	return r
}
