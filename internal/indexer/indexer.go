// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package indexer

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"
	"time"

	"github.com/watchtower/screenlog/internal/cache"
	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/logging"
	"github.com/watchtower/screenlog/internal/metrics"
	"github.com/watchtower/screenlog/internal/models"
)

// FrameSource decodes the Nth candidate frame of a finalized segment
// at the configured extraction rate. Implementations wrap whatever
// demuxer the capture component's segment reader provides.
type FrameSource interface {
	// Frame returns the decoded image and wall-clock time for frame
	// index idx, or ok=false once the segment is exhausted.
	Frame(ctx context.Context, idx int) (img image.Image, t time.Time, imagePath string, ok bool, err error)
}

// Indexer walks finalized segments, keeps scene-change frames, and
// appends keyframe rows.
type Indexer struct {
	cfg   config.IndexerConfig
	focus FocusResolver

	// dedup tracks recently kept phashes across segment boundaries
	// (an LRUCache from internal/cache). It never
	// suppresses the anchor-frame invariant; it only flags exact
	// repeat phashes so operators can see how much of the kept stream
	// is redundant across segments (e.g. an idle display).
	dedup *cache.LRUCache
}

// New builds an Indexer. Dedup cache capacity scales with
// cfg.MaxFrameCacheMB; entries are tiny (a phash key and a
// timestamp), so this is a rough sizing knob, not a byte budget.
func New(cfg config.IndexerConfig, focus FocusResolver) *Indexer {
	capacity := cfg.MaxFrameCacheMB * 256
	if capacity <= 0 {
		capacity = 4096
	}
	return &Indexer{
		cfg:   cfg,
		focus: focus,
		dedup: cache.NewLRUCache(capacity, 10*time.Minute),
	}
}

// kept is the last frame retained for scene-change comparison.
type kept struct {
	img   image.Image
	phash uint64
}

// IndexSegment subsamples seg via src and returns the keyframe rows to
// persist, in time order. At least one keyframe (the anchor frame) is
// always retained even if no scene change is detected. A decode error
// on a single frame is logged and skipped; if every frame fails to
// decode the segment is reported as quarantine-worthy via the
// returned error.
func (ix *Indexer) IndexSegment(ctx context.Context, seg models.Segment, src FrameSource) ([]models.Keyframe, error) {
	var out []models.Keyframe
	var last *kept
	var decodeFailures, attempts int

	for idx := 0; ; idx++ {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		img, t, path, ok, err := src.Frame(ctx, idx)
		if !ok {
			break
		}
		attempts++
		metrics.RecordFrameSampled()
		if err != nil {
			decodeFailures++
			logging.Warn().Err(err).Str("segment", seg.ID.String()).Int("frame_idx", idx).Msg("indexer: frame decode failed, skipping")
			continue
		}

		ph := PHash64(img)
		entropy := ShannonEntropy(img)

		keepFrame := last == nil // anchor-frame invariant
		if last != nil {
			dist := HammingDistance64(ph, last.phash)
			ssim := SSIM(last.img, img)
			if dist >= ix.cfg.PHashThreshold || ssim < ix.cfg.SSIMThreshold {
				keepFrame = true
			}
		}
		if entropy < ix.cfg.MinEntropyBits && last != nil {
			// near-blank frame: never the anchor, but also never a
			// scene change on its own.
			keepFrame = false
		}

		if !keepFrame {
			continue
		}

		kf := models.Keyframe{
			ID:        models.NewID(),
			SegmentID: seg.ID,
			T:         t,
			MonitorID: seg.DisplayID,
			ImagePath: path,
			PHash64:   ph,
			Entropy:   float32(entropy),
		}
		if ix.focus != nil {
			if sample, found := ix.focus.Resolve(ctx, t); found {
				kf.AppBundleID = sample.AppBundleID
				kf.WindowTitle = sample.WindowTitle
			}
		}
		if ix.dedup.IsDuplicate(seg.DisplayID + ":" + strconv.FormatUint(ph, 16)) {
			logging.Debug().Str("segment", seg.ID.String()).Uint64("phash", ph).Msg("indexer: kept frame repeats a recently seen phash across segments")
		}

		reason := "scene_change"
		if last == nil {
			reason = "anchor"
		}
		metrics.RecordKeyframeKept(seg.DisplayID, reason)

		out = append(out, kf)
		last = &kept{img: img, phash: ph}
	}

	if attempts > 0 && decodeFailures == attempts {
		return out, fmt.Errorf("indexer: every frame in segment %s failed to decode, quarantine candidate", seg.ID)
	}
	return out, nil
}

// fileFrameSource decodes frames from individually-extracted image
// files named by the capture pipeline's frame-extraction step. It is
// the reference FrameSource used outside of tests.
type fileFrameSource struct {
	paths []string
	times []time.Time
}

// NewFileFrameSource builds a FrameSource over pre-extracted frame
// images with parallel timestamps.
func NewFileFrameSource(paths []string, times []time.Time) FrameSource {
	return &fileFrameSource{paths: paths, times: times}
}

func (f *fileFrameSource) Frame(_ context.Context, idx int) (image.Image, time.Time, string, bool, error) {
	if idx >= len(f.paths) {
		return nil, time.Time{}, "", false, nil
	}
	path := f.paths[idx]
	file, err := os.Open(path)
	if err != nil {
		return nil, f.times[idx], path, true, fmt.Errorf("indexer: open frame %s: %w", path, err)
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, f.times[idx], path, true, fmt.Errorf("indexer: decode frame %s: %w", path, err)
	}
	return img, f.times[idx], path, true, nil
}
