// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/watchtower/screenlog/internal/models"
)

// InsertKeyframes appends keyframe rows in one transaction. Rows are
// append-only; there is no update path for frames.
func (c *Columnar) InsertKeyframes(ctx context.Context, frames []models.Keyframe) error {
	if len(frames) == 0 {
		return nil
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin frames insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO frames
		(id, segment_id, t, monitor_id, image_path, phash, entropy, app_bundle_id, win_title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage: prepare frames insert: %w", err)
	}
	defer closeQuietly(stmt)

	for _, f := range frames {
		_, err := stmt.ExecContext(ctx,
			f.ID.String(), f.SegmentID.String(), f.T.UnixNano(), f.MonitorID,
			f.ImagePath, int64(f.PHash64), f.Entropy, f.AppBundleID, f.WindowTitle)
		if err != nil {
			return fmt.Errorf("storage: insert frame %s: %w", f.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit frames insert: %w", err)
	}
	return nil
}

// InsertOCRRows appends recognized text regions for already-persisted
// frames. Every row must have passed the masking module first; the
// masked provenance flag is stored alongside the text.
func (c *Columnar) InsertOCRRows(ctx context.Context, rows []models.OCRRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin ocr insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ocr
		(frame_id, bbox_x, bbox_y, bbox_w, bbox_h, text, lang, confidence, processor, processed_at, masked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage: prepare ocr insert: %w", err)
	}
	defer closeQuietly(stmt)

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			r.FrameID.String(), r.BBox.X, r.BBox.Y, r.BBox.W, r.BBox.H,
			r.Text, r.Lang, r.Confidence, string(r.Processor), r.T.UnixNano(), r.Masked)
		if err != nil {
			return fmt.Errorf("storage: insert ocr row for frame %s: %w", r.FrameID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit ocr insert: %w", err)
	}
	return nil
}

// InsertEvents appends detected events. Each event is validated
// against the data-model invariants (non-empty evidence, type-specific
// required fields) before any row is written; a single invalid event
// rejects the whole batch so the caller can quarantine it.
func (c *Columnar) InsertEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("storage: reject event batch: %w", err)
		}
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin events insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events
		(event_id, t, type, target, value_from, value_to, confidence, evidence_frames, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage: prepare events insert: %w", err)
	}
	defer closeQuietly(stmt)

	for _, ev := range events {
		evidence, err := marshalFrameIDs(ev.EvidenceFrames)
		if err != nil {
			return fmt.Errorf("storage: encode evidence for event %s: %w", ev.ID, err)
		}
		var meta interface{}
		if len(ev.Metadata) > 0 {
			raw, err := json.Marshal(ev.Metadata)
			if err != nil {
				return fmt.Errorf("storage: encode metadata for event %s: %w", ev.ID, err)
			}
			meta = string(raw)
		}
		_, err = stmt.ExecContext(ctx,
			ev.ID.String(), ev.T.UnixNano(), string(ev.Type), ev.Target,
			ev.ValueFrom, ev.ValueTo, ev.Confidence, evidence, meta)
		if err != nil {
			return fmt.Errorf("storage: insert event %s: %w", ev.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit events insert: %w", err)
	}
	return nil
}

func marshalFrameIDs(ids []uuid.UUID) (string, error) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	raw, err := json.Marshal(strs)
	return string(raw), err
}

func unmarshalFrameIDs(raw string) ([]uuid.UUID, error) {
	var strs []string
	if err := json.Unmarshal([]byte(raw), &strs); err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(strs))
	for _, s := range strs {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FrameExists reports whether a frame row with the given id has been
// persisted. Used to verify event evidence references.
func (c *Columnar) FrameExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var n int
	err := c.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM frames WHERE id = ?`, id.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage: frame lookup: %w", err)
	}
	return n > 0, nil
}

// KeyframesBySegment returns a segment's keyframes in time order.
func (c *Columnar) KeyframesBySegment(ctx context.Context, segmentID uuid.UUID) ([]models.Keyframe, error) {
	rows, err := c.conn.QueryContext(ctx, `SELECT id, segment_id, t, monitor_id,
		image_path, phash, entropy, app_bundle_id, win_title
		FROM frames WHERE segment_id = ? ORDER BY t`, segmentID.String())
	if err != nil {
		return nil, fmt.Errorf("storage: keyframes by segment: %w", err)
	}
	defer closeQuietly(rows)
	return scanKeyframes(rows)
}

// KeyframesBetween returns keyframes whose timestamps fall in
// [from,to), in time order, across all monitors.
func (c *Columnar) KeyframesBetween(ctx context.Context, from, to time.Time) ([]models.Keyframe, error) {
	rows, err := c.conn.QueryContext(ctx, `SELECT id, segment_id, t, monitor_id,
		image_path, phash, entropy, app_bundle_id, win_title
		FROM frames WHERE t >= ? AND t < ? ORDER BY t`, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("storage: keyframes between: %w", err)
	}
	defer closeQuietly(rows)
	return scanKeyframes(rows)
}

func scanKeyframes(rows *sql.Rows) ([]models.Keyframe, error) {
	var out []models.Keyframe
	for rows.Next() {
		var (
			kf            models.Keyframe
			idStr, segStr string
			tNanos        int64
			phash         int64
			app, title    sql.NullString
		)
		if err := rows.Scan(&idStr, &segStr, &tNanos, &kf.MonitorID,
			&kf.ImagePath, &phash, &kf.Entropy, &app, &title); err != nil {
			return nil, fmt.Errorf("storage: scan keyframe: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("storage: keyframe id: %w", err)
		}
		segID, err := uuid.Parse(segStr)
		if err != nil {
			return nil, fmt.Errorf("storage: keyframe segment id: %w", err)
		}
		kf.ID = id
		kf.SegmentID = segID
		kf.T = time.Unix(0, tNanos)
		kf.PHash64 = uint64(phash)
		kf.AppBundleID = app.String
		kf.WindowTitle = title.String
		out = append(out, kf)
	}
	return out, rows.Err()
}

// OCRRowsForFrame returns the recognized regions for one frame.
func (c *Columnar) OCRRowsForFrame(ctx context.Context, frameID uuid.UUID) ([]models.OCRRow, error) {
	rows, err := c.conn.QueryContext(ctx, `SELECT frame_id, bbox_x, bbox_y, bbox_w, bbox_h,
		text, lang, confidence, processor, processed_at, masked
		FROM ocr WHERE frame_id = ? ORDER BY bbox_y, bbox_x`, frameID.String())
	if err != nil {
		return nil, fmt.Errorf("storage: ocr rows for frame: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.OCRRow
	for rows.Next() {
		var (
			r      models.OCRRow
			idStr  string
			lang   sql.NullString
			proc   string
			tNanos int64
		)
		if err := rows.Scan(&idStr, &r.BBox.X, &r.BBox.Y, &r.BBox.W, &r.BBox.H,
			&r.Text, &lang, &r.Confidence, &proc, &tNanos, &r.Masked); err != nil {
			return nil, fmt.Errorf("storage: scan ocr row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("storage: ocr frame id: %w", err)
		}
		r.FrameID = id
		r.Lang = lang.String
		r.Processor = models.OCRProcessor(proc)
		r.T = time.Unix(0, tNanos)
		out = append(out, r)
	}
	return out, rows.Err()
}

// EventsBetween returns events with t in [from,to), in time order.
func (c *Columnar) EventsBetween(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	rows, err := c.conn.QueryContext(ctx, `SELECT event_id, t, type, target,
		value_from, value_to, confidence, evidence_frames, metadata
		FROM events WHERE t >= ? AND t < ? ORDER BY t`, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("storage: events between: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.Event
	for rows.Next() {
		var (
			ev       models.Event
			idStr    string
			tNanos   int64
			evType   string
			from, to sql.NullString
			evidence string
			meta     sql.NullString
		)
		if err := rows.Scan(&idStr, &tNanos, &evType, &ev.Target,
			&from, &to, &ev.Confidence, &evidence, &meta); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("storage: event id: %w", err)
		}
		ev.ID = id
		ev.T = time.Unix(0, tNanos)
		ev.Type = models.EventType(evType)
		if from.Valid {
			v := from.String
			ev.ValueFrom = &v
		}
		if to.Valid {
			v := to.String
			ev.ValueTo = &v
		}
		ev.EvidenceFrames, err = unmarshalFrameIDs(evidence)
		if err != nil {
			return nil, fmt.Errorf("storage: decode evidence for event %s: %w", idStr, err)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("storage: decode metadata for event %s: %w", idStr, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// FrameStats pairs a keyframe with the mean OCR confidence of its
// regions, the shape the summarizer's evidence correlation consumes.
type FrameStats struct {
	Keyframe   models.Keyframe
	AvgOCRConf float64
	RegionRows int
}

// FrameStatsBetween returns keyframes in [from,to) joined with their
// per-frame mean OCR confidence. Frames with no OCR rows report a
// zero confidence and zero region count.
func (c *Columnar) FrameStatsBetween(ctx context.Context, from, to time.Time) ([]FrameStats, error) {
	rows, err := c.conn.QueryContext(ctx, `SELECT f.id, f.segment_id, f.t, f.monitor_id,
		f.image_path, f.phash, f.entropy, f.app_bundle_id, f.win_title,
		COALESCE(AVG(o.confidence), 0), COUNT(o.frame_id)
		FROM frames f LEFT JOIN ocr o ON o.frame_id = f.id
		WHERE f.t >= ? AND f.t < ?
		GROUP BY f.id, f.segment_id, f.t, f.monitor_id, f.image_path, f.phash, f.entropy, f.app_bundle_id, f.win_title
		ORDER BY f.t`, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("storage: frame stats between: %w", err)
	}
	defer closeQuietly(rows)

	var out []FrameStats
	for rows.Next() {
		var (
			fs            FrameStats
			idStr, segStr string
			tNanos        int64
			phash         int64
			app, title    sql.NullString
		)
		if err := rows.Scan(&idStr, &segStr, &tNanos, &fs.Keyframe.MonitorID,
			&fs.Keyframe.ImagePath, &phash, &fs.Keyframe.Entropy, &app, &title,
			&fs.AvgOCRConf, &fs.RegionRows); err != nil {
			return nil, fmt.Errorf("storage: scan frame stats: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("storage: frame stats id: %w", err)
		}
		segID, err := uuid.Parse(segStr)
		if err != nil {
			return nil, fmt.Errorf("storage: frame stats segment id: %w", err)
		}
		fs.Keyframe.ID = id
		fs.Keyframe.SegmentID = segID
		fs.Keyframe.T = time.Unix(0, tNanos)
		fs.Keyframe.PHash64 = uint64(phash)
		fs.Keyframe.AppBundleID = app.String
		fs.Keyframe.WindowTitle = title.String
		out = append(out, fs)
	}
	return out, rows.Err()
}
