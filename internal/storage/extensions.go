// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/watchtower/screenlog/internal/logging"
)

// preloadExtensions loads DuckDB extensions into an in-memory handle
// before either store opens its on-disk file. DuckDB caches loaded
// extensions per process, so this makes them available during WAL
// replay without depending on load order between the two stores.
//
// Only icu (timestamp/timezone functions used by DEFAULT clauses) and
// json (used to query the json-encoded evidence_frames/metadata/tags
// columns) are needed here; this store has no geospatial or
// full-text-search surface.
func preloadExtensions() {
	if os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" {
		return
	}

	conn, err := sql.Open("duckdb", ":memory:?autoinstall_known_extensions=false&autoload_known_extensions=false")
	if err != nil {
		logging.Debug().Err(err).Msg("storage: extension preload skipped, could not open in-memory handle")
		return
	}
	defer func() {
		conn.SetConnMaxLifetime(0)
		conn.SetMaxIdleConns(0)
		conn.SetMaxOpenConns(0)
		closeQuietly(conn)
	}()

	for _, ext := range []string{"icu", "json"} {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := conn.ExecContext(ctx, fmt.Sprintf("LOAD %s;", ext))
		cancel()
		if err != nil {
			logging.Debug().Str("extension", ext).Err(err).Msg("storage: extension preload failed, continuing without it")
		}
	}
}

// ensureContext returns ctx unchanged if it already carries a
// deadline, otherwise wraps it with a 30s timeout so no database
// operation can hang indefinitely.
func ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 30*time.Second)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, 30*time.Second)
	}
	return ctx, func() {}
}
