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
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/watchtower/screenlog/internal/logging"
)

// RowStoreConfig controls how the row store opens its DuckDB file.
type RowStoreConfig struct {
	Path    string
	Threads int
}

// RowStore holds spans and the schema_migrations ledger; it supports
// random-access update and secondary indexes, unlike the columnar
// store's append-only files.
type RowStore struct {
	conn *sql.DB
	path string
}

// OpenRowStore opens (creating if absent) the row store and runs its
// pending versioned migrations.
func OpenRowStore(cfg RowStoreConfig) (*RowStore, error) {
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("storage: create row store dir %s: %w", dir, err)
		}
	}

	preloadExtensions()

	connStr := fmt.Sprintf(
		"%s?access_mode=read_write&threads=%d&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, cfg.Threads,
	)
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("storage: open row store: %w", err)
	}
	conn.SetMaxOpenConns(1) // single-writer discipline

	rs := &RowStore{conn: conn, path: cfg.Path}

	if err := rs.createMigrationsTable(); err != nil {
		closeQuietly(conn)
		return nil, err
	}
	if err := rs.MigrateUp(context.Background()); err != nil {
		// Schema/migration failure aborts open of the store.
		closeQuietly(conn)
		return nil, fmt.Errorf("storage: row store migrations: %w", err)
	}
	if err := rs.Checkpoint(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("row store checkpoint after init failed")
	}
	return rs, nil
}

// Conn exposes the raw connection for the query package's builders.
func (rs *RowStore) Conn() *sql.DB { return rs.conn }

// Path returns the on-disk file path for retention/backup operations.
func (rs *RowStore) Path() string { return rs.path }

// Checkpoint forces a WAL checkpoint.
func (rs *RowStore) Checkpoint(ctx context.Context) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	if _, err := rs.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("storage: row store checkpoint: %w", err)
	}
	return nil
}

// Close flushes and closes the store.
func (rs *RowStore) Close() error {
	if rs.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rs.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("checkpoint before close failed")
	}
	return rs.conn.Close()
}
