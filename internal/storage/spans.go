// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/watchtower/screenlog/internal/models"
	"github.com/watchtower/screenlog/internal/storage/query"
)

// ErrSpanNotFound is returned by SpanByID for an unknown span id.
var ErrSpanNotFound = errors.New("storage: span not found")

const spanColumns = `span_id, kind, t_start, t_end, title, summary_md, tags, created_at`

// UpsertSpan inserts or replaces a span row. Spans are the one record
// kind with an update path: regenerating a summary rewrites its span
// in place under the same id.
func (rs *RowStore) UpsertSpan(ctx context.Context, sp models.Span) error {
	if err := sp.Validate(); err != nil {
		return err
	}
	tags, err := json.Marshal([]string(sp.Tags))
	if err != nil {
		return fmt.Errorf("storage: encode span tags: %w", err)
	}
	tx, err := rs.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin span upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM spans WHERE span_id = ?`, sp.SpanID.String()); err != nil {
		return fmt.Errorf("storage: clear prior span: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO spans (`+spanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.SpanID.String(), string(sp.Kind), sp.TStart.UnixNano(), sp.TEnd.UnixNano(),
		sp.Title, sp.SummaryMD, string(tags), sp.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("storage: insert span %s: %w", sp.SpanID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit span upsert: %w", err)
	}
	return nil
}

// SpanByID fetches one span.
func (rs *RowStore) SpanByID(ctx context.Context, id uuid.UUID) (models.Span, error) {
	row := rs.conn.QueryRowContext(ctx,
		`SELECT `+spanColumns+` FROM spans WHERE span_id = ?`, id.String())
	sp, err := scanSpan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Span{}, ErrSpanNotFound
	}
	return sp, err
}

// DeleteSpan removes a span row. Missing rows are not an error; a
// second delete of the same span is a no-op.
func (rs *RowStore) DeleteSpan(ctx context.Context, id uuid.UUID) error {
	_, err := rs.conn.ExecContext(ctx, `DELETE FROM spans WHERE span_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("storage: delete span %s: %w", id, err)
	}
	return nil
}

// SpansInRange returns spans whose [t_start,t_end] interval overlaps
// [tStart,tEnd], ordered by start time. It satisfies the summarizer's
// SpanLookup interface, which carries no context; queries run under a
// short internal timeout instead.
func (rs *RowStore) SpansInRange(tStart, tEnd time.Time) ([]models.Span, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return rs.QuerySpans(ctx, SpanFilter{Start: &tStart, End: &tEnd})
}

// SpanFilter is the query surface the control API exposes over spans:
// time-range overlap, kind, tag membership, pagination.
type SpanFilter struct {
	Start  *time.Time
	End    *time.Time
	Kind   string
	Tags   []string
	Limit  int
	Offset int
}

// QuerySpans runs a filtered, paginated span query through the
// parameterized where-builder.
func (rs *RowStore) QuerySpans(ctx context.Context, f SpanFilter) ([]models.Span, error) {
	wb := query.NewWhereBuilder()
	wb.AddTimeRange(f.Start, f.End)
	wb.AddKind(f.Kind)
	wb.AddTags(f.Tags)

	where, args := wb.BuildWithPrefix()
	q := `SELECT ` + spanColumns + ` FROM spans` + where + ` ORDER BY t_start`
	q = query.Paginate(q, f.Limit, f.Offset)

	rows, err := rs.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query spans: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.Span
	for rows.Next() {
		sp, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// CountSpans returns the number of spans matching a filter, ignoring
// pagination. The API uses it to report total pages.
func (rs *RowStore) CountSpans(ctx context.Context, f SpanFilter) (int, error) {
	wb := query.NewWhereBuilder()
	wb.AddTimeRange(f.Start, f.End)
	wb.AddKind(f.Kind)
	wb.AddTags(f.Tags)
	where, args := wb.BuildWithPrefix()

	var n int
	err := rs.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM spans`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count spans: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSpan(row rowScanner) (models.Span, error) {
	var (
		sp               models.Span
		idStr, kind      string
		tStart, tEnd     int64
		summary          sql.NullString
		tags             string
		created          int64
	)
	if err := row.Scan(&idStr, &kind, &tStart, &tEnd, &sp.Title, &summary, &tags, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Span{}, err
		}
		return models.Span{}, fmt.Errorf("storage: scan span: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return models.Span{}, fmt.Errorf("storage: span id: %w", err)
	}
	var tagList []string
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &tagList); err != nil {
			return models.Span{}, fmt.Errorf("storage: decode span tags: %w", err)
		}
	}
	sp.SpanID = id
	sp.Kind = models.SpanKind(kind)
	sp.TStart = time.Unix(0, tStart)
	sp.TEnd = time.Unix(0, tEnd)
	sp.SummaryMD = summary.String
	sp.Tags = tagList
	sp.CreatedAt = time.Unix(0, created)
	return sp, nil
}
