// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordFrameCounters(t *testing.T) {
	before := testutil.ToFloat64(framesCaptured.WithLabelValues("display-1"))
	RecordFrameCaptured("display-1")
	RecordFrameCaptured("display-1")
	assert.Equal(t, before+2, testutil.ToFloat64(framesCaptured.WithLabelValues("display-1")))

	droppedBefore := testutil.ToFloat64(framesDropped.WithLabelValues("display-1", "privacy"))
	RecordFrameDropped("display-1", "privacy")
	assert.Equal(t, droppedBefore+1, testutil.ToFloat64(framesDropped.WithLabelValues("display-1", "privacy")))
}

func TestRecordDBQuery(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		store     string
		err       error
	}{
		{name: "successful columnar insert", operation: "insert_events", store: "columnar"},
		{name: "successful span query", operation: "query_spans", store: "row"},
		{name: "failed query counts an error", operation: "insert_frames", store: "columnar", err: errors.New("disk full")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errBefore float64
			if tt.err != nil {
				errBefore = testutil.ToFloat64(dbQueryErrors.WithLabelValues(tt.operation, tt.store))
			}
			RecordDBQuery(tt.operation, tt.store, 5*time.Millisecond, tt.err)
			if tt.err != nil {
				assert.Equal(t, errBefore+1, testutil.ToFloat64(dbQueryErrors.WithLabelValues(tt.operation, tt.store)))
			}
		})
	}
}

func TestRecordRetention(t *testing.T) {
	deletedBefore := testutil.ToFloat64(retentionDeleted.WithLabelValues("rawVideo"))
	bytesBefore := testutil.ToFloat64(retentionBytesFreed)
	errorsBefore := testutil.ToFloat64(retentionErrors)

	RecordRetention("rawVideo", 3, 4096, 1)

	assert.Equal(t, deletedBefore+3, testutil.ToFloat64(retentionDeleted.WithLabelValues("rawVideo")))
	assert.Equal(t, bytesBefore+4096, testutil.ToFloat64(retentionBytesFreed))
	assert.Equal(t, errorsBefore+1, testutil.ToFloat64(retentionErrors))
}

func TestSetPaused(t *testing.T) {
	SetPaused(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(pausedState))
	SetPaused(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(pausedState))
}

func TestTrackActiveRequestLifecycle(t *testing.T) {
	base := testutil.ToFloat64(apiActiveRequests)
	TrackActiveRequest(true)
	TrackActiveRequest(true)
	assert.Equal(t, base+2, testutil.ToFloat64(apiActiveRequests))
	TrackActiveRequest(false)
	TrackActiveRequest(false)
	assert.Equal(t, base, testutil.ToFloat64(apiActiveRequests))
}

func TestUpdateCaptureResources(t *testing.T) {
	UpdateCaptureResources(6.5, 512*1024*1024)
	assert.Equal(t, 6.5, testutil.ToFloat64(captureCPUPercent))
	assert.Equal(t, float64(512*1024*1024), testutil.ToFloat64(captureRSSBytes))
}

func TestRecordEventEmittedPerType(t *testing.T) {
	before := testutil.ToFloat64(eventsEmitted.WithLabelValues("field_change"))
	RecordEventEmitted("field_change")
	assert.Equal(t, before+1, testutil.ToFloat64(eventsEmitted.WithLabelValues("field_change")))
}

// Concurrent recording must not race; run with -race to verify.
func TestConcurrentMetricRecording(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				RecordFrameCaptured("display-race")
				RecordEncode(time.Millisecond)
				RecordEventEmitted("navigation")
				RecordDBQuery("insert_frames", "columnar", time.Millisecond, nil)
			}
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, testutil.ToFloat64(framesCaptured.WithLabelValues("display-race")), 1000.0)
}
