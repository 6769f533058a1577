// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package retention runs the age-based sweep across every data kind:
// raw video segments on disk, and frames/ocr/events/spans rows in the
// columnar and row stores. The sweep cycle (list candidates, verify,
// batch-delete) runs independently per data kind, each with its own
// age cutoff and a shared safety margin.
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/logging"
	"github.com/watchtower/screenlog/internal/metrics"
)

// Result summarizes one sweep pass for observability and tests.
type Result struct {
	SegmentsDeleted     int
	SegmentsQuarantined int
	BytesFreed          int64
	FramesDeleted       int
	OCRRowsDeleted      int
	EventsDeleted       int
	SpansDeleted        int
	Errors              []error
}

// FileVerifier authenticates a sealed file's AEAD tag before the
// sweep is allowed to delete it; implemented by storage.FileVault. A
// nil verifier skips verification (verificationEnabled=false).
type FileVerifier interface {
	VerifyFile(path string) error
}

// SegmentLister enumerates sealed segment files older than cutoff,
// implemented by the capture package's segment registry.
type SegmentLister interface {
	SegmentsOlderThan(cutoff time.Time) ([]SegmentHandle, error)
	MarkDeleted(ctx context.Context, segmentID string) error
}

// SegmentHandle is the minimal segment identity the sweep needs to
// verify and delete a file.
type SegmentHandle struct {
	ID   string
	Path string
}

// Sweeper periodically ages out raw video, frame metadata, OCR rows,
// events, and spans per RetentionConfig, each on its own cutoff.
type Sweeper struct {
	cfg           config.RetentionConfig
	columnar      *sql.DB
	rowStore      *sql.DB
	segments      SegmentLister
	verifier      FileVerifier
	quarantineDir string
	framesDir     string
	shredPasses   int
}

// New builds a Sweeper. segments may be nil if segment sweeping is
// handled elsewhere (e.g. in a test that only exercises row data).
func New(cfg config.RetentionConfig, columnar, rowStore *sql.DB, segments SegmentLister, quarantineDir string) *Sweeper {
	return &Sweeper{
		cfg:           cfg,
		columnar:      columnar,
		rowStore:      rowStore,
		segments:      segments,
		quarantineDir: quarantineDir,
		shredPasses:   2,
	}
}

// SetVerifier installs the pre-delete integrity check. A candidate
// that fails verification is quarantined instead of deleted and the
// failure is reported in the pass Result.
func (s *Sweeper) SetVerifier(v FileVerifier) { s.verifier = v }

// SetFramesDir enables sweeping aged keyframe still images, which
// live on the frame-metadata retention window.
func (s *Sweeper) SetFramesDir(dir string) { s.framesDir = dir }

// Serve implements suture.Service so the sweeper can be registered
// directly on the supervisor tree's capture layer alongside the
// per-display CaptureSessions.
func (s *Sweeper) Serve(ctx context.Context) error {
	s.Run(ctx)
	return ctx.Err()
}

// Run executes sweep passes on cfg.SweepInterval until ctx is
// canceled. Each pass applies a small safety margin subtracted from
// every configured retention window, so a slow sweep cycle never
// deletes data before its nominal expiry.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := s.SweepOnce(ctx)
			if len(res.Errors) > 0 {
				logging.Warn().Int("error_count", len(res.Errors)).Msg("retention: sweep completed with errors")
			}
		}
	}
}

func (s *Sweeper) margin() time.Duration {
	return time.Duration(s.cfg.SafetyMarginDays) * 24 * time.Hour
}

// SweepOnce runs a single sweep pass across every data kind and
// returns the counts deleted. Errors from one kind do not prevent the
// others from running.
func (s *Sweeper) SweepOnce(ctx context.Context) Result {
	now := time.Now()
	var res Result

	if s.segments != nil && s.cfg.RawVideoDays > 0 {
		cutoff := now.AddDate(0, 0, -s.cfg.RawVideoDays).Add(-s.margin())
		s.sweepSegments(ctx, cutoff, &res)
	}

	if s.framesDir != "" && s.cfg.FrameMetadataDays > 0 {
		cutoff := now.AddDate(0, 0, -s.cfg.FrameMetadataDays).Add(-s.margin())
		s.sweepFrameImages(ctx, cutoff, &res)
	}

	if s.columnar != nil {
		if s.cfg.FrameMetadataDays > 0 {
			n, err := s.deleteOlderThan(ctx, s.columnar, "frames", "t", now.AddDate(0, 0, -s.cfg.FrameMetadataDays).Add(-s.margin()))
			res.FramesDeleted = n
			if err != nil {
				res.Errors = append(res.Errors, err)
			}
		}
		if s.cfg.OCRDataDays > 0 {
			n, err := s.deleteOlderThan(ctx, s.columnar, "ocr", "processed_at", now.AddDate(0, 0, -s.cfg.OCRDataDays).Add(-s.margin()))
			res.OCRRowsDeleted = n
			if err != nil {
				res.Errors = append(res.Errors, err)
			}
		}
		if s.cfg.EventsDays > 0 {
			n, err := s.deleteOlderThan(ctx, s.columnar, "events", "t", now.AddDate(0, 0, -s.cfg.EventsDays).Add(-s.margin()))
			res.EventsDeleted = n
			if err != nil {
				res.Errors = append(res.Errors, err)
			}
		}
	}

	if s.rowStore != nil && s.cfg.SpansDays > 0 {
		cutoff := now.AddDate(0, 0, -s.cfg.SpansDays).Add(-s.margin())
		n, err := s.sweepSpans(ctx, cutoff)
		res.SpansDeleted = n
		if err != nil {
			res.Errors = append(res.Errors, err)
		}
	}

	metrics.RecordRetention("rawVideo", res.SegmentsDeleted, res.BytesFreed, len(res.Errors))
	metrics.RecordRetention("frameMetadata", res.FramesDeleted, 0, 0)
	metrics.RecordRetention("ocrData", res.OCRRowsDeleted, 0, 0)
	metrics.RecordRetention("events", res.EventsDeleted, 0, 0)
	metrics.RecordRetention("spans", res.SpansDeleted, 0, 0)

	logging.Info().
		Int("segments_deleted", res.SegmentsDeleted).
		Int("segments_quarantined", res.SegmentsQuarantined).
		Int64("bytes_freed", res.BytesFreed).
		Int("frames_deleted", res.FramesDeleted).
		Int("ocr_rows_deleted", res.OCRRowsDeleted).
		Int("events_deleted", res.EventsDeleted).
		Int("spans_deleted", res.SpansDeleted).
		Msg("retention: sweep pass complete")

	return res
}

// deleteOlderThan removes rows from a columnar table whose timeCol
// (stored as a unix-nanosecond BIGINT) is before cutoff, in batches
// bounded by SweepBatchSize so a single sweep pass never holds a long
// transaction against the append-only store.
func (s *Sweeper) deleteOlderThan(ctx context.Context, db *sql.DB, table, timeCol string, cutoff time.Time) (int, error) {
	batch := s.cfg.SweepBatchSize
	if batch <= 0 || batch > 100 {
		batch = 100
	}
	var total int
	for {
		res, err := db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE rowid IN (SELECT rowid FROM %s WHERE %s < ? LIMIT ?)`, table, table, timeCol),
			cutoff.UnixNano(), batch,
		)
		if err != nil {
			return total, fmt.Errorf("retention: delete from %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
		if n == 0 || int(n) < batch {
			break
		}
	}
	return total, nil
}

// sweepSpans ages out expired spans in bounded batches, the same
// discipline as every other kind: no single pass holds a long
// transaction against the row store.
func (s *Sweeper) sweepSpans(ctx context.Context, cutoff time.Time) (int, error) {
	batch := s.cfg.SweepBatchSize
	if batch <= 0 || batch > 100 {
		batch = 100
	}
	var total int
	for {
		res, err := s.rowStore.ExecContext(ctx,
			`DELETE FROM spans WHERE span_id IN (SELECT span_id FROM spans WHERE t_end < ? LIMIT ?)`,
			cutoff.UnixNano(), batch,
		)
		if err != nil {
			return total, fmt.Errorf("retention: delete spans: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
		if n == 0 || int(n) < batch {
			break
		}
		select {
		case <-ctx.Done():
			return total, nil
		default:
		}
	}
	return total, nil
}

// sweepSegments ages out sealed segment files. Each candidate is
// integrity-verified before deletion; a verification failure
// quarantines the file and reports an error instead of deleting
// blindly. At most SweepBatchSize (default 100) files go in one pass
// so the sweep's I/O stays bounded; remaining candidates age out on
// the next pass.
func (s *Sweeper) sweepSegments(ctx context.Context, cutoff time.Time, res *Result) {
	candidates, err := s.segments.SegmentsOlderThan(cutoff)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("retention: list segments: %w", err))
		return
	}
	batch := s.cfg.SweepBatchSize
	if batch <= 0 || batch > 100 {
		batch = 100
	}
	if len(candidates) > batch {
		candidates = candidates[:batch]
	}

	for _, seg := range candidates {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.verifier != nil {
			if err := s.verifier.VerifyFile(seg.Path); err != nil {
				res.SegmentsQuarantined++
				res.Errors = append(res.Errors, fmt.Errorf("retention: segment %s failed verification: %w", seg.ID, err))
				if qErr := s.quarantine(seg); qErr != nil {
					logging.Warn().Err(qErr).Str("segment_id", seg.ID).Msg("retention: quarantine failed")
				}
				continue
			}
		}

		size := fileSize(seg.Path)
		if err := s.shredAndRemove(seg.Path); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("retention: delete segment %s: %w", seg.ID, err))
			continue
		}
		// Any stills the pipeline left beside the segment go with it.
		_ = os.RemoveAll(seg.Path + ".frames")
		if err := s.segments.MarkDeleted(ctx, seg.ID); err != nil {
			logging.Warn().Err(err).Str("segment_id", seg.ID).Msg("retention: mark-deleted failed after file removal")
			continue
		}
		res.SegmentsDeleted++
		res.BytesFreed += size
	}
}

// sweepFrameImages ages out keyframe stills by modification time,
// bounded to one deletion batch per pass like the segment sweep.
func (s *Sweeper) sweepFrameImages(ctx context.Context, cutoff time.Time, res *Result) {
	entries, err := os.ReadDir(s.framesDir)
	if err != nil {
		if !os.IsNotExist(err) {
			res.Errors = append(res.Errors, fmt.Errorf("retention: list frames dir: %w", err))
		}
		return
	}
	batch := s.cfg.SweepBatchSize
	if batch <= 0 || batch > 100 {
		batch = 100
	}
	var deleted int
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if deleted >= batch {
			break
		}
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.framesDir, e.Name())
		size := info.Size()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			res.Errors = append(res.Errors, fmt.Errorf("retention: delete frame image: %w", err))
			continue
		}
		res.BytesFreed += size
		deleted++
	}
	if deleted > 0 {
		res.FramesDeleted += deleted
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// shredAndRemove overwrites the file's bytes before unlinking. Raw
// video is the one kind whose deletion contract requires a multi-pass
// overwrite; columnar files unlink directly.
func (s *Sweeper) shredAndRemove(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	zeros := make([]byte, 64*1024)
	for pass := 0; pass < s.shredPasses; pass++ {
		if _, err := f.Seek(0, 0); err != nil {
			f.Close()
			return err
		}
		remaining := info.Size()
		for remaining > 0 {
			n := int64(len(zeros))
			if remaining < n {
				n = remaining
			}
			if _, err := f.Write(zeros[:n]); err != nil {
				f.Close()
				return err
			}
			remaining -= n
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// quarantine moves a corrupt candidate aside rather than deleting it.
func (s *Sweeper) quarantine(seg SegmentHandle) error {
	dir := s.quarantineDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(seg.Path), "quarantine")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}
	dest := filepath.Join(dir, seg.ID+".mp4")
	if err := os.Rename(seg.Path, dest); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("quarantine segment file: %w", err)
	}
	return nil
}
