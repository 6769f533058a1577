// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package storage

import (
	"context"
	"fmt"
	"time"
)

// Migration is a single versioned schema change with forward and
// reverse SQL, applied in one transaction.
type Migration struct {
	Version     int
	Name        string
	Description string
	Up          string
	Down        string
	AppliedAt   time.Time
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// migrations is the append-only, ordered list of row-store schema
// changes. The initial schema is migration 1; add new ones starting
// from the next integer, never editing a prior entry.
func migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Name:        "initial_spans_schema",
			Description: "spans table and its secondary indexes",
			Up: `CREATE TABLE IF NOT EXISTS spans (
				span_id VARCHAR PRIMARY KEY,
				kind VARCHAR NOT NULL,
				t_start BIGINT NOT NULL,
				t_end BIGINT NOT NULL,
				title VARCHAR NOT NULL,
				summary_md VARCHAR,
				tags VARCHAR NOT NULL, -- json array
				created_at BIGINT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_spans_time ON spans(t_start, t_end);
			CREATE INDEX IF NOT EXISTS idx_spans_kind ON spans(kind);
			CREATE INDEX IF NOT EXISTS idx_spans_created ON spans(created_at);`,
			Down: `DROP TABLE IF EXISTS spans`,
		},
	}
}

func (rs *RowStore) createMigrationsTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := rs.conn.ExecContext(ctx, schemaMigrationsTable); err != nil {
		return fmt.Errorf("storage: create migrations table: %w", err)
	}
	return nil
}

func (rs *RowStore) appliedVersions(ctx context.Context) (map[int]Migration, error) {
	rows, err := rs.conn.QueryContext(ctx, `SELECT version, name, description, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("storage: query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]Migration)
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Version, &m.Name, &m.Description, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("storage: scan migration row: %w", err)
		}
		applied[m.Version] = m
	}
	return applied, rows.Err()
}

// MigrateUp applies every migration with version greater than the
// currently applied max, in ascending order. A failed migration rolls
// back its own transaction and aborts the remaining run.
func (rs *RowStore) MigrateUp(ctx context.Context) error {
	applied, err := rs.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations() {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		if err := rs.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("storage: migration v%d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (rs *RowStore) applyMigration(ctx context.Context, m Migration) error {
	tx, err := rs.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return fmt.Errorf("apply up: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, description) VALUES (?, ?, ?)`,
		m.Version, m.Name, m.Description); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

// MigrateDownTo reverses every applied migration with version greater
// than target, in descending order. Used by the round-trip test law
// (applying all ups then all downs returns the schema to initial) and
// by operators rolling back a bad release.
func (rs *RowStore) MigrateDownTo(ctx context.Context, target int) error {
	applied, err := rs.appliedVersions(ctx)
	if err != nil {
		return err
	}

	all := migrations()
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if m.Version <= target {
			continue
		}
		if _, ok := applied[m.Version]; !ok {
			continue
		}
		if err := rs.revertMigration(ctx, m); err != nil {
			return fmt.Errorf("storage: revert migration v%d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (rs *RowStore) revertMigration(ctx context.Context, m Migration) error {
	tx, err := rs.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if m.Down != "" {
		if _, err := tx.ExecContext(ctx, m.Down); err != nil {
			return fmt.Errorf("apply down: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, m.Version); err != nil {
		return fmt.Errorf("unrecord migration: %w", err)
	}
	return tx.Commit()
}

// CurrentSchemaVersion returns the highest applied migration version.
func (rs *RowStore) CurrentSchemaVersion(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var version int
	err := rs.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("storage: get schema version: %w", err)
	}
	return version, nil
}

// MigrationHistory returns all applied migrations in order.
func (rs *RowStore) MigrationHistory(ctx context.Context) ([]Migration, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rows, err := rs.conn.QueryContext(ctx,
		`SELECT version, name, description, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("storage: query migration history: %w", err)
	}
	defer rows.Close()

	var history []Migration
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Version, &m.Name, &m.Description, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("storage: scan migration: %w", err)
		}
		history = append(history, m)
	}
	return history, rows.Err()
}
