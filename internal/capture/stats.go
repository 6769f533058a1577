// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package capture

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/watchtower/screenlog/internal/cache"
	"github.com/watchtower/screenlog/internal/logging"
	"github.com/watchtower/screenlog/internal/metrics"
)

// Broadcaster pushes a rolling stats snapshot to live status
// subscribers; implemented by the websocket hub.
type Broadcaster interface {
	BroadcastJSON(messageType string, data interface{})
}

// StatsSnapshot is one rolling sample of the capture performance
// contract: CPU%, RSS, frames encoded/dropped, mean encode time,
// estimated bitrate, and the open segment's age.
type StatsSnapshot struct {
	DisplayID       string  `json:"display_id"`
	CPUPercent      float64 `json:"cpu_percent"`
	RSSBytes        uint64  `json:"rss_bytes"`
	FramesEncoded   int64   `json:"frames_encoded"`
	FramesDropped   int64   `json:"frames_dropped"`
	AvgEncodeMicros int64   `json:"avg_encode_us"`
	BitrateBps      float64 `json:"bitrate_bps"`
	SegmentSeconds  float64 `json:"segment_seconds"`
}

// Stats aggregates one display's rolling capture metrics over a
// sliding window and publishes them at a >=1 Hz cadence to both the
// Prometheus surface and the websocket hub.
type Stats struct {
	displayID string

	encoded    *cache.SlidingWindowCounter
	dropped    *cache.SlidingWindowCounter
	encodeTime *cache.SlidingWindowCounter // accumulated microseconds
	bytesOut   *cache.SlidingWindowCounter

	mu          sync.Mutex
	segmentOpen time.Time

	proc        *process.Process
	broadcaster Broadcaster
	interval    time.Duration
	window      time.Duration
}

// NewStats builds a rolling collector over a 10s window with 1s
// buckets. The process handle is best-effort; resource gauges stay at
// zero if the pid cannot be inspected.
func NewStats(displayID string, broadcaster Broadcaster) *Stats {
	const window = 10 * time.Second
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logging.Warn().Err(err).Msg("capture: process handle unavailable, resource gauges disabled")
		proc = nil
	}
	return &Stats{
		displayID:   displayID,
		encoded:     cache.NewSlidingWindowCounter(window, 10),
		dropped:     cache.NewSlidingWindowCounter(window, 10),
		encodeTime:  cache.NewSlidingWindowCounter(window, 10),
		bytesOut:    cache.NewSlidingWindowCounter(window, 10),
		proc:        proc,
		broadcaster: broadcaster,
		interval:    time.Second,
		window:      window,
	}
}

// FrameEncoded records one encoded frame's latency and output size.
func (st *Stats) FrameEncoded(d time.Duration, bytes int) {
	st.encoded.IncrementOne()
	st.encodeTime.Increment(d.Microseconds())
	st.bytesOut.Increment(int64(bytes))
	metrics.RecordFrameCaptured(st.displayID)
	metrics.RecordEncode(d)
}

// FrameDropped records one dropped frame with its reason.
func (st *Stats) FrameDropped(reason string) {
	st.dropped.IncrementOne()
	metrics.RecordFrameDropped(st.displayID, reason)
}

// SegmentOpened marks the open-segment age baseline.
func (st *Stats) SegmentOpened(at time.Time) {
	st.mu.Lock()
	st.segmentOpen = at
	st.mu.Unlock()
}

// SegmentClosed clears the open-segment age.
func (st *Stats) SegmentClosed() {
	st.mu.Lock()
	st.segmentOpen = time.Time{}
	st.mu.Unlock()
}

// Snapshot computes the current rolling sample.
func (st *Stats) Snapshot() StatsSnapshot {
	encoded := st.encoded.Count()
	snap := StatsSnapshot{
		DisplayID:     st.displayID,
		FramesEncoded: encoded,
		FramesDropped: st.dropped.Count(),
		BitrateBps:    float64(st.bytesOut.Count()*8) / st.window.Seconds(),
	}
	if encoded > 0 {
		snap.AvgEncodeMicros = st.encodeTime.Count() / encoded
	}

	st.mu.Lock()
	if !st.segmentOpen.IsZero() {
		snap.SegmentSeconds = time.Since(st.segmentOpen).Seconds()
	}
	st.mu.Unlock()

	if st.proc != nil {
		if cpu, err := st.proc.CPUPercent(); err == nil {
			snap.CPUPercent = cpu
		}
		if mem, err := st.proc.MemoryInfo(); err == nil && mem != nil {
			snap.RSSBytes = mem.RSS
		}
	}
	return snap
}

// Serve publishes snapshots every interval until ctx is canceled. It
// runs under the capture supervisor next to the session it observes.
func (st *Stats) Serve(ctx context.Context) error {
	ticker := time.NewTicker(st.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := st.Snapshot()
			metrics.UpdateCaptureResources(snap.CPUPercent, snap.RSSBytes)
			metrics.UpdateEncoderRates(st.displayID, snap.BitrateBps, time.Duration(snap.SegmentSeconds*float64(time.Second)))
			if st.broadcaster != nil {
				st.broadcaster.BroadcastJSON("capture_stats", snap)
			}
		}
	}
}
