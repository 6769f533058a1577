// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package pipeline connects the capture output to the analytical
// stages: finalized segments flow through the keyframe indexer, the
// OCR pipeline, and the event detector, and the resulting rows land
// in the columnar store. Work on a single segment is sequential to
// preserve frame ordering; segments from different displays may
// interleave.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/watchtower/screenlog/internal/cache"
	"github.com/watchtower/screenlog/internal/detection"
	"github.com/watchtower/screenlog/internal/indexer"
	"github.com/watchtower/screenlog/internal/logging"
	"github.com/watchtower/screenlog/internal/metrics"
	"github.com/watchtower/screenlog/internal/models"
	"github.com/watchtower/screenlog/internal/perception"
	"github.com/watchtower/screenlog/internal/plugin"
	"github.com/watchtower/screenlog/internal/storage"
	"github.com/watchtower/screenlog/internal/wal"
)

// FrameExtractor turns a finalized segment into a frame source the
// indexer can walk. Decoding H.264 is a platform boundary; the
// reference extractor reads the still files the capture session
// drops alongside each segment.
type FrameExtractor interface {
	Extract(ctx context.Context, seg models.Segment) (indexer.FrameSource, error)
}

// Publisher pushes stage-boundary notifications onto the message bus;
// implemented by eventbus.Bus. Nil disables publishing.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Broadcaster pushes live events to websocket subscribers.
type Broadcaster interface {
	BroadcastEvent(event *models.Event)
}

// Topics the consumer publishes on. Downstream subscribers (the
// summarize loop, external tooling) bind durable consumers to these.
const (
	TopicKeyframesIndexed = "pipeline.keyframes_indexed"
	TopicEventsDetected   = "pipeline.events_detected"
)

// Consumer drives each finalized segment through the CPU-bound
// stages. It implements the supervisor services' RunWithContext
// contract so a crash restarts only this stage.
type Consumer struct {
	segments  <-chan models.Segment
	extractor FrameExtractor
	indexer   *indexer.Indexer
	ocr       *perception.Pipeline
	engine    *detection.Engine
	plugins   *plugin.Host
	store     *storage.Columnar
	stage     wal.WAL
	bus       Publisher
	hub       Broadcaster

	// seen dedups segment ids across redeliveries: the bus delivers
	// at-least-once, and a crash between index and confirm replays
	// the segment.
	seen *cache.BloomLRU

	// prevRows holds the last keyframe's OCR rows per monitor for the
	// plugin detect_events delta.
	prevRows map[string][]models.OCRRow

	// framesDir, when set, is where kept keyframe stills are moved so
	// they outlive their segment's shorter retention window.
	framesDir string
}

// NewConsumer wires the analytical stages together. plugins, stage,
// bus, and hub are optional.
func NewConsumer(segments <-chan models.Segment, extractor FrameExtractor, ix *indexer.Indexer,
	ocr *perception.Pipeline, engine *detection.Engine, store *storage.Columnar) *Consumer {
	return &Consumer{
		segments:  segments,
		extractor: extractor,
		indexer:   ix,
		ocr:       ocr,
		engine:    engine,
		store:     store,
		seen:      cache.NewBloomLRU(8192, time.Hour, 0.01),
		prevRows:  make(map[string][]models.OCRRow),
	}
}

// SetPlugins installs the enhance_ocr/detect_events plugin host.
func (c *Consumer) SetPlugins(h *plugin.Host) { c.plugins = h }

// SetFramesDir moves kept keyframe stills into dir after indexing, so
// frame images age on the frame-metadata retention window rather than
// dying with their segment.
func (c *Consumer) SetFramesDir(dir string) { c.framesDir = dir }

// SetStage installs the durable WAL staged ahead of event commits.
func (c *Consumer) SetStage(w wal.WAL) { c.stage = w }

// SetPublisher installs the stage-boundary bus publisher.
func (c *Consumer) SetPublisher(p Publisher) { c.bus = p }

// SetBroadcaster installs the live websocket event broadcaster.
func (c *Consumer) SetBroadcaster(b Broadcaster) { c.hub = b }

// RunWithContext consumes finalized segments until ctx is canceled.
// Cancellation is observed between keyframes: the keyframe in progress
// is finished, the rest of its segment is abandoned without being
// recorded as processed, and no new segment is started.
func (c *Consumer) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case seg, ok := <-c.segments:
			if !ok {
				return nil
			}
			if c.seen.IsDuplicate(seg.ID.String()) {
				logging.Debug().Str("segment_id", seg.ID.String()).Msg("pipeline: segment already processed, skipping redelivery")
				continue
			}
			if err := c.processSegment(ctx, seg); err != nil {
				// Stage-local failure: log, count, move to the next
				// segment. Only cancellation propagates.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logging.Warn().Err(err).Str("segment_id", seg.ID.String()).Msg("pipeline: segment processing failed")
			}
		}
	}
}

func (c *Consumer) processSegment(ctx context.Context, seg models.Segment) error {
	src, err := c.extractor.Extract(ctx, seg)
	if err != nil {
		return fmt.Errorf("pipeline: extract frames: %w", err)
	}

	keyframes, err := c.indexer.IndexSegment(ctx, seg, src)
	if err != nil && len(keyframes) == 0 {
		metrics.RecordSegmentQuarantined()
		return fmt.Errorf("pipeline: index segment: %w", err)
	}
	if err != nil {
		logging.Warn().Err(err).Str("segment_id", seg.ID.String()).Msg("pipeline: partial index result")
	}
	if len(keyframes) == 0 {
		return nil
	}

	c.relocateStills(keyframes)
	if err := c.store.InsertKeyframes(ctx, keyframes); err != nil {
		return fmt.Errorf("pipeline: persist keyframes: %w", err)
	}
	c.publishIDs(ctx, TopicKeyframesIndexed, keyframeIDs(keyframes))

	var detected []models.Event
	for _, kf := range keyframes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		events, err := c.processKeyframe(ctx, kf)
		if err != nil {
			logging.Warn().Err(err).Str("frame_id", kf.ID.String()).Msg("pipeline: keyframe processing failed, skipping")
			continue
		}
		detected = append(detected, events...)
	}

	if len(detected) > 0 {
		if err := c.commitEvents(ctx, detected); err != nil {
			return err
		}
	}

	c.seen.Record(seg.ID.String())

	// The segment's remaining candidate stills are no longer needed;
	// kept keyframes were moved out above.
	if c.framesDir != "" {
		if err := os.RemoveAll(seg.Path + ".frames"); err != nil {
			logging.Debug().Err(err).Str("segment_id", seg.ID.String()).Msg("pipeline: stills cleanup failed")
		}
	}
	return nil
}

// relocateStills moves each kept keyframe's image into the frames
// store, keyed by frame id, updating ImagePath in place. A failed
// move keeps the original path; the row still references a valid
// file until the segment ages out.
func (c *Consumer) relocateStills(keyframes []models.Keyframe) {
	if c.framesDir == "" {
		return
	}
	if err := os.MkdirAll(c.framesDir, 0o750); err != nil {
		logging.Warn().Err(err).Str("dir", c.framesDir).Msg("pipeline: create frames dir failed")
		return
	}
	for i := range keyframes {
		src := keyframes[i].ImagePath
		if src == "" {
			continue
		}
		dest := filepath.Join(c.framesDir, keyframes[i].ID.String()+".jpg")
		if err := os.Rename(src, dest); err != nil {
			logging.Debug().Err(err).Str("src", src).Msg("pipeline: still move failed, keeping original path")
			continue
		}
		keyframes[i].ImagePath = dest
	}
}

// processKeyframe runs OCR (with optional plugin enhancement) and the
// detector over one keyframe, returning the emitted events.
func (c *Consumer) processKeyframe(ctx context.Context, kf models.Keyframe) ([]models.Event, error) {
	start := time.Now()
	rows, err := c.ocr.Process(ctx, kf.ID, kf.ImagePath, nil)
	if err != nil {
		// A failed recognition degrades to an empty region set; the
		// app-switch and navigation detectors still see the keyframe.
		logging.Debug().Err(err).Str("frame_id", kf.ID.String()).Msg("pipeline: ocr produced no rows")
		rows = nil
	}
	metrics.RecordOCR(processorOf(rows), len(rows), time.Since(start))

	appCtx := detection.AppContext{AppBundleID: kf.AppBundleID, WindowTitle: kf.WindowTitle}
	pluginCtx := plugin.AppContext{AppBundleID: kf.AppBundleID, WindowTitle: kf.WindowTitle}

	if err := c.store.InsertOCRRows(ctx, rows); err != nil {
		return nil, fmt.Errorf("persist ocr rows: %w", err)
	}

	// Plugins may retag regions with app-specific semantics; the
	// detector sees the enhanced view, the store keeps the original.
	engineRows := rows
	if c.plugins != nil && len(rows) > 0 {
		if enhanced := c.plugins.EnhanceOCR(ctx, nil, rows, pluginCtx); len(enhanced) > 0 {
			engineRows = make([]models.OCRRow, len(enhanced))
			for i, er := range enhanced {
				engineRows[i] = er.Row
			}
		}
	}

	events := c.engine.Process(kf, engineRows, appCtx)

	if c.plugins != nil {
		pluginEvents := c.plugins.DetectEvents(ctx, plugin.OCRDelta{
			Previous: c.prevRows[kf.MonitorID],
			Current:  engineRows,
		}, pluginCtx)
		events = append(events, pluginEvents...)
	}
	c.prevRows[kf.MonitorID] = engineRows

	for i := range events {
		metrics.RecordEventEmitted(string(events[i].Type))
		if c.hub != nil {
			c.hub.BroadcastEvent(&events[i])
		}
	}
	return events, nil
}

// commitEvents stages events in the WAL, persists them, then confirms
// the WAL entries. A crash between Write and Confirm replays the
// batch on recovery; InsertEvents rejects events that fail validation
// so a replay cannot half-commit.
func (c *Consumer) commitEvents(ctx context.Context, events []models.Event) error {
	var entryIDs []string
	if c.stage != nil {
		for _, ev := range events {
			id, err := c.stage.Write(ctx, ev)
			if err != nil {
				return fmt.Errorf("pipeline: stage event: %w", err)
			}
			entryIDs = append(entryIDs, id)
		}
	}

	if err := c.store.InsertEvents(ctx, events); err != nil {
		return fmt.Errorf("pipeline: persist events: %w", err)
	}

	for _, id := range entryIDs {
		if err := c.stage.Confirm(ctx, id); err != nil {
			logging.Warn().Err(err).Str("wal_entry", id).Msg("pipeline: WAL confirm failed, entry will replay")
		}
	}

	c.publishIDs(ctx, TopicEventsDetected, eventIDs(events))
	return nil
}

func (c *Consumer) publishIDs(ctx context.Context, topic string, ids []string) {
	if c.bus == nil || len(ids) == 0 {
		return
	}
	payload, err := json.Marshal(ids)
	if err != nil {
		return
	}
	if err := c.bus.Publish(ctx, topic, payload); err != nil {
		logging.Debug().Err(err).Str("topic", topic).Msg("pipeline: publish failed (breaker open or broker down)")
	}
}

func keyframeIDs(frames []models.Keyframe) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.ID.String()
	}
	return out
}

func eventIDs(events []models.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID.String()
	}
	return out
}

func processorOf(rows []models.OCRRow) string {
	for _, r := range rows {
		return string(r.Processor)
	}
	return "none"
}

// StillsDirExtractor is the reference FrameExtractor: it walks the
// `<segment path>.frames/` directory of still images the capture
// session's subsample writer drops next to each segment, each file
// named `<unix nanoseconds>.jpg`.
type StillsDirExtractor struct{}

// Extract lists and time-orders the segment's stills.
func (StillsDirExtractor) Extract(_ context.Context, seg models.Segment) (indexer.FrameSource, error) {
	dir := seg.Path + ".frames"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read stills dir: %w", err)
	}

	type still struct {
		path string
		t    time.Time
	}
	stills := make([]still, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		base := strings.TrimSuffix(name, ".jpg")
		ns, err := strconv.ParseInt(base, 10, 64)
		if err != nil {
			continue
		}
		stills = append(stills, still{path: dir + "/" + name, t: time.Unix(0, ns)})
	}
	sort.Slice(stills, func(i, j int) bool { return stills[i].t.Before(stills[j].t) })

	paths := make([]string, len(stills))
	times := make([]time.Time, len(stills))
	for i, s := range stills {
		paths[i] = s.path
		times[i] = s.t
	}
	return indexer.NewFileFrameSource(paths, times), nil
}
