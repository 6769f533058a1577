// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package capture

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/watchtower/screenlog/internal/config"
)

type gateFunc func(app, display string) bool

func (g gateFunc) ShouldCapture(app, display string) bool { return g(app, display) }

// limitedSource serves n frames then errors, bounding tests that
// would otherwise loop forever against a blocking gate.
type limitedSource struct {
	limit  int
	served int
}

func (l *limitedSource) DisplayID() string { return "display-1" }

func (l *limitedSource) NextFrame(_ context.Context) (Frame, error) {
	if l.served >= l.limit {
		return Frame{}, errors.New("source exhausted")
	}
	l.served++
	return Frame{Image: image.NewRGBA(image.Rect(0, 0, 4, 4)), T: time.Now(), App: "com.example.blocked"}, nil
}

func (l *limitedSource) Close() error { return nil }

func contextBackground() context.Context { return context.Background() }

func TestStats_SnapshotAggregatesWindow(t *testing.T) {
	st := NewStats("display-1", nil)

	for i := 0; i < 30; i++ {
		st.FrameEncoded(2*time.Millisecond, 1000)
	}
	st.FrameDropped("privacy")
	st.FrameDropped("encode_error")

	snap := st.Snapshot()
	assert.Equal(t, "display-1", snap.DisplayID)
	assert.Equal(t, int64(30), snap.FramesEncoded)
	assert.Equal(t, int64(2), snap.FramesDropped)
	assert.Equal(t, int64(2000), snap.AvgEncodeMicros)
	// 30 frames x 1000 bytes x 8 bits over the 10s window
	assert.InDelta(t, float64(30*1000*8)/10.0, snap.BitrateBps, 1.0)
}

func TestStats_SegmentAgeTracksOpenSegment(t *testing.T) {
	st := NewStats("display-1", nil)

	snap := st.Snapshot()
	assert.Zero(t, snap.SegmentSeconds)

	st.SegmentOpened(time.Now().Add(-3 * time.Second))
	snap = st.Snapshot()
	assert.InDelta(t, 3.0, snap.SegmentSeconds, 0.5)

	st.SegmentClosed()
	snap = st.Snapshot()
	assert.Zero(t, snap.SegmentSeconds)
}

func TestCaptureSession_PrivacyGateDropsBlockedFrames(t *testing.T) {
	blockAll := gateFunc(func(app, display string) bool { return false })
	allowAll := gateFunc(func(app, display string) bool { return true })

	src := &fakeSource{displayID: "display-1"}
	session := NewCaptureSession(config.CaptureConfig{FPS: 10}, src, NewReferenceEncoder(EncoderConfig{FPS: 10}), nil)

	session.SetPrivacyGate(allowAll)
	frame, err := session.nextAllowedFrame(contextBackground(), "display-1")
	assert.NoError(t, err)
	assert.NotNil(t, frame.Image)

	// A fully-blocking gate keeps pulling frames; bound the test with
	// a source that errors after a few frames.
	src2 := &limitedSource{limit: 5}
	session2 := NewCaptureSession(config.CaptureConfig{FPS: 10}, src2, NewReferenceEncoder(EncoderConfig{FPS: 10}), nil)
	session2.SetPrivacyGate(blockAll)
	_, err = session2.nextAllowedFrame(contextBackground(), "display-1")
	assert.Error(t, err, "every frame dropped until the source ran out")
	assert.Equal(t, 5, src2.served, "each blocked frame was pulled and dropped before encode")
}
