// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

/*
Package middleware provides HTTP middleware components for the application.

This package implements infrastructure middleware for compression, performance
monitoring, request ID tracking, and Prometheus metrics integration. The
control API combines them with chi's rate limiter and CORS handler into
its middleware stack.

Key Components:

  - Compression: Gzip compression for clients that accept it
  - Performance Monitor: Request latency tracking with percentile calculations
  - Request ID: UUID-based request tracking for distributed tracing
  - Prometheus Metrics: HTTP request/response instrumentation

Middleware Stack:

Router.Setup in internal/api applies, outermost first:

	r.Use(adapt(middleware.RequestID))          // Layer 1: Request tracking
	r.Use(adapt(middleware.Compression))        // Layer 2: Gzip
	r.Use(httprate.LimitByIP(300, time.Minute)) // Layer 3: Rate limiting
	r.Use(cors.Handler(...))                    // Layer 4: CORS headers
	r.Use(adapt(middleware.PrometheusMetrics))  // Layer 5: Metrics

Usage Example - Compression:

	import "github.com/watchtower/screenlog/internal/middleware"

	// Wrap handler with gzip compression
	http.HandleFunc("/api/v1/data",
	    middleware.Compression(handler),
	)

	// Every response is compressed when the request carries
	// Accept-Encoding: gzip (WebSocket upgrades are passed through)

Usage Example - Performance Monitoring:

	// Create performance monitor keeping the last 1000 requests
	perfMon := middleware.NewPerformanceMonitor(1000)

	// Wrap handler
	http.Handle("/api/v1/stats",
	    perfMon.Middleware(handler),
	)

	// Get per-endpoint performance statistics (milliseconds)
	for _, s := range perfMon.GetStats() {
	    fmt.Printf("%s p50: %d, p95: %d, p99: %d\n",
	        s.Path, s.P50Duration, s.P95Duration, s.P99Duration)
	}

Usage Example - Request ID:

	// Request ID middleware
	http.HandleFunc("/api/v1/logs",
	    middleware.RequestID(handler),
	)

	// Access request ID in handler
	func handler(w http.ResponseWriter, r *http.Request) {
	    requestID := r.Context().Value(middleware.RequestIDKey).(string)
	    log.Printf("[%s] Processing request", requestID)
	}

Performance Characteristics:

  - Compression: 70-90% size reduction for JSON (text/json mime types)
  - Compression overhead: ~1-2ms for typical responses
  - Metrics overhead: <0.1ms per request
  - Request ID overhead: <0.01ms (UUID generation)
  - Performance monitor: bounded slice of recent samples behind a sync.RWMutex

Compression Details:

The compression middleware:
  - Compresses every response regardless of size; there is no threshold
  - Supports gzip encoding (Accept-Encoding: gzip)
  - Does not filter by content type
  - Automatically sets Content-Encoding header and drops Content-Length
  - Does not implement http.Flusher; compressed output is completed
    when the handler returns

Performance Monitor:

The performance monitor tracks:
  - Request count per endpoint (status codes are recorded; no error
    rate is computed)
  - Latency percentiles (p50, p95, p99)
  - Rolling window of the maxMetrics most recent requests
  - Thread-safe concurrent access with RWMutex

Thread Safety:

All middleware components are thread-safe:
  - Compression uses per-request gzip writers
  - Performance monitor uses sync.RWMutex
  - Request ID uses context.Context (immutable)
  - Prometheus metrics use atomic operations

See Also:

  - internal/api: HTTP handlers wrapped by middleware
  - internal/metrics: Prometheus metrics definitions
*/
package middleware
