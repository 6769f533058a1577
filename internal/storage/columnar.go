// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package storage implements the columnar and row stores for the
// capture pipeline's record kinds (frames, OCR rows, events, and
// spans), and the AEAD envelope and file vault that seal segment files
// at rest. The DuckDB files of the two stores are not encrypted.
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

	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/logging"
)

// ColumnarConfig controls how the columnar store opens its DuckDB file.
type ColumnarConfig struct {
	Path                   string
	Threads                int
	MaxMemory              string
	PreserveInsertionOrder bool
}

// Columnar is the append-only, single-writer-per-file store for
// frames, ocr rows, and events. Schema evolution is additive-only:
// new nullable columns, never dropped or renamed ones.
type Columnar struct {
	conn *sql.DB
	cfg  ColumnarConfig
}

// OpenColumnar opens (creating if absent) the columnar store and runs
// its additive migrations.
func OpenColumnar(cfg ColumnarConfig) (*Columnar, error) {
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}
	if cfg.MaxMemory == "" {
		cfg.MaxMemory = "2GB"
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("storage: create columnar dir %s: %w", dir, err)
		}
	}

	// Extensions are preloaded against an in-memory handle first so
	// WAL replay of an existing on-disk file doesn't fail looking up
	// extension-provided defaults (e.g. ICU timestamp functions).
	preloadExtensions()

	preserve := "false"
	if cfg.PreserveInsertionOrder {
		preserve = "true"
	}
	connStr := fmt.Sprintf(
		"%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, cfg.Threads, cfg.MaxMemory, preserve,
	)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("storage: open columnar store: %w", err)
	}
	conn.SetMaxOpenConns(1) // single writer per file

	c := &Columnar{conn: conn, cfg: cfg}
	if err := c.createTables(); err != nil {
		closeQuietly(conn)
		return nil, err
	}
	if err := c.createIndexes(); err != nil {
		closeQuietly(conn)
		return nil, err
	}
	if err := c.Checkpoint(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("columnar checkpoint after init failed")
	}
	return c, nil
}

// OpenColumnarFromAppConfig adapts the application config into a
// ColumnarConfig; kept separate so callers outside cmd/server can
// construct a Columnar store without importing the full config type.
func OpenColumnarFromAppConfig(cfg *config.StorageConfig) (*Columnar, error) {
	return OpenColumnar(ColumnarConfig{
		Path:                   filepath.Join(cfg.DataDir, "columnar.duckdb"),
		Threads:                cfg.Threads,
		MaxMemory:              cfg.ColumnarMaxMemory,
		PreserveInsertionOrder: cfg.PreserveInsertionOrder,
	})
}

func (c *Columnar) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS frames (
			id VARCHAR PRIMARY KEY,
			segment_id VARCHAR NOT NULL,
			t BIGINT NOT NULL,
			monitor_id VARCHAR NOT NULL,
			image_path VARCHAR NOT NULL,
			phash BIGINT NOT NULL,
			entropy FLOAT NOT NULL,
			app_bundle_id VARCHAR,
			win_title VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS ocr (
			frame_id VARCHAR NOT NULL,
			bbox_x FLOAT NOT NULL,
			bbox_y FLOAT NOT NULL,
			bbox_w FLOAT NOT NULL,
			bbox_h FLOAT NOT NULL,
			text VARCHAR NOT NULL,
			lang VARCHAR,
			confidence FLOAT NOT NULL,
			processor VARCHAR NOT NULL,
			processed_at BIGINT NOT NULL,
			masked BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id VARCHAR PRIMARY KEY,
			t BIGINT NOT NULL,
			type VARCHAR NOT NULL,
			target VARCHAR NOT NULL,
			value_from VARCHAR,
			value_to VARCHAR,
			confidence FLOAT NOT NULL,
			evidence_frames VARCHAR NOT NULL, -- json list<string>
			metadata VARCHAR -- json
		)`,
	}
	for _, s := range stmts {
		if _, err := c.conn.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("storage: create columnar table: %w", err)
		}
	}
	return nil
}

func (c *Columnar) createIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_frames_segment ON frames(segment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_t ON frames(t)`,
		`CREATE INDEX IF NOT EXISTS idx_ocr_frame ON ocr(frame_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_t ON events(t)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,
	}
	for _, s := range stmts {
		if _, err := c.conn.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("storage: create columnar index: %w", err)
		}
	}
	return nil
}

// Conn returns the underlying connection for packages that build
// their own queries (detection, summarizer evidence building).
func (c *Columnar) Conn() *sql.DB { return c.conn }

// Checkpoint forces a WAL checkpoint, used before backup/retention
// operations that need a consistent on-disk snapshot.
func (c *Columnar) Checkpoint(ctx context.Context) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	_, err := c.conn.ExecContext(ctx, "CHECKPOINT")
	if err != nil {
		return fmt.Errorf("storage: columnar checkpoint: %w", err)
	}
	return nil
}

// Path returns the on-disk file path, used by the retention sweep to
// resolve the file to verify/quarantine/delete.
func (c *Columnar) Path() string { return c.cfg.Path }

// Close flushes and closes the store.
func (c *Columnar) Close() error {
	if c.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("checkpoint before close failed")
	}
	return c.conn.Close()
}
