// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package capture implements per-display screen capture, encoding,
// and segment finalization. Each display runs as a CaptureSession, a
// suture.Service under the supervisor tree
// (internal/supervisor/tree.go / mock_service.go): a missed heartbeat
// or a failed Serve return only restarts that display's session, the
// same per-service isolation the tree gives the rest of the
// pipeline.
package capture

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/watchtower/screenlog/internal/capture/mp4"
	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/logging"
	"github.com/watchtower/screenlog/internal/metrics"
	"github.com/watchtower/screenlog/internal/models"
)

// Frame is one captured image plus its capture timestamp and the
// bundle id of the application focused on the frame's display, as
// reported by the compositor callback.
type Frame struct {
	Image image.Image
	T     time.Time
	App   string
}

// FrameGate vetoes frames at capture ingress; implemented by the
// privacy gate. A nil gate admits everything.
type FrameGate interface {
	ShouldCapture(appBundleID, displayID string) bool
}

// SegmentSealer wraps a finalized segment file in the storage
// envelope, off the encode hot path; implemented by
// storage.FileVault. A nil sealer leaves segments plaintext
// (encrypt_at_rest=false).
type SegmentSealer interface {
	SealFile(path string) error
}

// Source is the platform screen-capture boundary: an external
// collaborator implements this against the host OS's capture API
// (ScreenCaptureKit, DXGI Desktop Duplication, PipeWire, ...). This
// repo only depends on the interface.
type Source interface {
	DisplayID() string
	NextFrame(ctx context.Context) (Frame, error)
	Close() error
}

// SegmentSink persists a finalized segment's metadata; implemented by
// the row/columnar store wiring in cmd/server.
type SegmentSink interface {
	RecordSegment(ctx context.Context, seg models.Segment) error
}

// CaptureSession owns one display's capture→encode→segment-finalize
// loop and reports itself unhealthy by returning from Serve when its
// heartbeat lapses, letting the parent supervisor restart it.
type CaptureSession struct {
	cfg     config.CaptureConfig
	source  Source
	encoder Encoder
	sink    SegmentSink
	gate    FrameGate
	stats   *Stats
	sealer  SegmentSealer

	stillInterval time.Duration
	lastStillAt   time.Time

	heartbeat     time.Duration
	lastFrameAt   time.Time
	failureWindow []time.Time
	maxFailures   int
}

// NewCaptureSession builds a session for one display. heartbeat
// defaults to 5s and the failure-escalation window to 3 failures in
// 60s.
func NewCaptureSession(cfg config.CaptureConfig, source Source, encoder Encoder, sink SegmentSink) *CaptureSession {
	return &CaptureSession{
		cfg:         cfg,
		source:      source,
		encoder:     encoder,
		sink:        sink,
		heartbeat:   5 * time.Second,
		maxFailures: 3,
	}
}

// SetPrivacyGate installs the ingress frame veto. The gate is
// re-evaluated per frame, so allowlist updates apply without a
// session restart.
func (s *CaptureSession) SetPrivacyGate(g FrameGate) { s.gate = g }

// SetStats installs the rolling metrics collector for this display.
func (s *CaptureSession) SetStats(st *Stats) { s.stats = st }

// SetSealer installs the at-rest envelope sealer applied after the
// fast-start rewrite.
func (s *CaptureSession) SetSealer(sealer SegmentSealer) { s.sealer = sealer }

// SetStillInterval controls how often a decoded still is dropped into
// the segment's .frames directory for the keyframe indexer. Zero
// keeps the default 500ms (2 fps), the top of the indexer's sampling
// range.
func (s *CaptureSession) SetStillInterval(d time.Duration) { s.stillInterval = d }

// Serve implements suture.Service. It runs one capture segment at a
// time: Idle -> Opening -> Writing -> Finalizing -> Finalized, then
// loops for the next segment until ctx is canceled. A heartbeat
// watchdog goroutine forces an error return (triggering a supervised
// restart of just this session) if no frame arrives within 2x the
// heartbeat interval.
func (s *CaptureSession) Serve(ctx context.Context) error {
	watchdogCtx, cancelWatchdog := context.WithCancel(ctx)
	defer cancelWatchdog()
	stalled := make(chan struct{}, 1)
	go s.watchdog(watchdogCtx, stalled)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stalled:
			return fmt.Errorf("capture: display %s missed heartbeat after %s", s.source.DisplayID(), 2*s.heartbeat)
		default:
		}

		if err := s.runSegment(ctx); err != nil {
			if s.recordFailureAndEscalate() {
				return fmt.Errorf("capture: display %s: %w", s.source.DisplayID(), err)
			}
			logging.Warn().Err(err).Str("display", s.source.DisplayID()).Msg("capture: segment failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (s *CaptureSession) watchdog(ctx context.Context, stalled chan<- struct{}) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := s.lastFrameAt
			if !last.IsZero() && time.Since(last) > 2*s.heartbeat {
				select {
				case stalled <- struct{}{}:
				default:
				}
				return
			}
		}
	}
}

// recordFailureAndEscalate tracks failures in a sliding 60s window
// and reports whether the session should escalate to its supervisor
// rather than retry locally.
func (s *CaptureSession) recordFailureAndEscalate() bool {
	now := time.Now()
	cutoff := now.Add(-60 * time.Second)
	kept := s.failureWindow[:0]
	for _, t := range s.failureWindow {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.failureWindow = append(kept, now)
	return len(s.failureWindow) >= s.maxFailures
}

// runSegment drives one Idle->Finalized(|Retained|Deleted) cycle.
func (s *CaptureSession) runSegment(ctx context.Context) error {
	seg := models.Segment{
		ID:        models.NewID(),
		DisplayID: s.source.DisplayID(),
		State:     models.SegmentIdle,
	}

	seg.State = models.SegmentOpening
	if err := os.MkdirAll(s.cfg.SegmentDir, 0o750); err != nil {
		return fmt.Errorf("open segment dir: %w", err)
	}

	seg.State = models.SegmentWriting
	seg.TStart = time.Now()
	// File name encodes {display_id}_{t_start_ns}.mp4 so the
	// retention sweep and the indexer can recover a segment's display
	// and start time from the path alone, without a database lookup.
	seg.Path = filepath.Join(s.cfg.SegmentDir, fmt.Sprintf("%s_%d.mp4", seg.DisplayID, seg.TStart.UnixNano()))

	first, err := s.nextAllowedFrame(ctx, seg.DisplayID)
	if err != nil {
		return fmt.Errorf("capture first frame: %w", err)
	}
	s.lastFrameAt = time.Now()
	if s.stats != nil {
		s.stats.SegmentOpened(seg.TStart)
		defer s.stats.SegmentClosed()
	}
	bounds := first.Image.Bounds()
	muxer := mp4.NewMuxer(bounds.Dx(), bounds.Dy(), 90000)

	if err := s.encodeAndAdd(muxer, &seg, first); err != nil {
		return err
	}
	if err := s.writeFrames(ctx, muxer, &seg); err != nil {
		return err
	}

	seg.State = models.SegmentFinalizing
	seg.TEnd = time.Now()
	if err := s.finalizeSegment(muxer, &seg); err != nil {
		// A failed fast-start rewrite quarantines the partial file and
		// opens a fresh segment rather than retrying in place.
		s.quarantine(seg.Path)
		return err
	}
	if s.sealer != nil {
		if err := s.sealer.SealFile(seg.Path); err != nil {
			s.quarantine(seg.Path)
			return fmt.Errorf("seal segment: %w", err)
		}
	}
	seg.State = models.SegmentFinalized
	metrics.RecordSegmentFinalized(seg.DisplayID)

	if s.sink != nil {
		if err := s.sink.RecordSegment(ctx, seg); err != nil {
			logging.Warn().Err(err).Str("segment_id", seg.ID.String()).Msg("capture: failed to record finalized segment")
		}
	}
	return nil
}

func (s *CaptureSession) writeFrames(ctx context.Context, muxer *mp4.Muxer, seg *models.Segment) error {
	deadline := time.Now().Add(s.cfg.SegmentDuration)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := s.nextAllowedFrame(ctx, seg.DisplayID)
		if err != nil {
			return fmt.Errorf("capture frame: %w", err)
		}
		s.lastFrameAt = time.Now()

		if err := s.encodeAndAdd(muxer, seg, frame); err != nil {
			return err
		}
	}
	return nil
}

// nextAllowedFrame pulls frames until one passes the privacy gate.
// Blocked frames are dropped before encode and counted; the gate is
// consulted per frame so config updates take effect immediately.
func (s *CaptureSession) nextAllowedFrame(ctx context.Context, displayID string) (Frame, error) {
	for {
		frame, err := s.source.NextFrame(ctx)
		if err != nil {
			return Frame{}, err
		}
		if s.gate == nil || s.gate.ShouldCapture(frame.App, displayID) {
			return frame, nil
		}
		s.lastFrameAt = time.Now()
		metrics.RecordPrivacyBlocked(displayID)
		if s.stats != nil {
			s.stats.FrameDropped("privacy")
		}
	}
}

func (s *CaptureSession) quarantine(path string) {
	metrics.RecordSegmentQuarantined()
	if err := os.Rename(path, path+".quarantined"); err != nil && !os.IsNotExist(err) {
		logging.Warn().Err(err).Str("path", path).Msg("capture: quarantine rename failed")
	}
}

func (s *CaptureSession) encodeAndAdd(muxer *mp4.Muxer, seg *models.Segment, frame Frame) error {
	fps := s.cfg.FPS
	if fps <= 0 {
		fps = 2
	}
	start := time.Now()
	data, keyframe, err := s.encoder.EncodeFrame(frame.Image)
	if err != nil {
		// One bad frame is skipped, not fatal to the segment.
		logging.Debug().Err(err).Str("display", seg.DisplayID).Msg("capture: frame encode failed, skipping")
		if s.stats != nil {
			s.stats.FrameDropped("encode_error")
		} else {
			metrics.RecordFrameDropped(seg.DisplayID, "encode_error")
		}
		return nil
	}
	if s.stats != nil {
		s.stats.FrameEncoded(time.Since(start), len(data))
	}
	muxer.AddSample(data, keyframe, time.Second/time.Duration(fps))
	seg.ByteSize += int64(len(data))

	s.maybeWriteStill(seg, frame)
	return nil
}

// maybeWriteStill subsamples decoded frames into the segment's
// .frames directory at the still interval; the keyframe indexer walks
// these after the segment finalizes. A failed still write is logged
// and skipped: losing one candidate frame costs at most one keyframe.
func (s *CaptureSession) maybeWriteStill(seg *models.Segment, frame Frame) {
	interval := s.stillInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if !s.lastStillAt.IsZero() && frame.T.Sub(s.lastStillAt) < interval {
		return
	}

	dir := seg.Path + ".frames"
	if err := os.MkdirAll(dir, 0o750); err != nil {
		logging.Warn().Err(err).Str("dir", dir).Msg("capture: create stills dir failed")
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.jpg", frame.T.UnixNano()))
	f, err := os.Create(path)
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("capture: still create failed")
		return
	}
	if err := jpeg.Encode(f, frame.Image, &jpeg.Options{Quality: 80}); err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("capture: still encode failed")
		f.Close()
		_ = os.Remove(path)
		return
	}
	if err := f.Close(); err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("capture: still close failed")
		return
	}
	s.lastStillAt = frame.T
}

func (s *CaptureSession) finalizeSegment(muxer *mp4.Muxer, seg *models.Segment) error {
	f, err := os.Create(seg.Path)
	if err != nil {
		return fmt.Errorf("create segment file: %w", err)
	}
	defer f.Close()

	if _, err := muxer.Finalize(f); err != nil {
		return fmt.Errorf("finalize segment: %w", err)
	}
	return nil
}
