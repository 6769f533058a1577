// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package indexer

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FocusSample is one observation of the focused window, as reported
// by the OS accessibility API at some wall-clock time.
type FocusSample struct {
	T           time.Time
	AppBundleID string
	WindowTitle string
	PID         int
}

// FocusResolver resolves the focused window at an arbitrary past
// timestamp. Implementations may query the OS live (recent times) or
// consult a precomputed focus-history cache (older times, replay).
type FocusResolver interface {
	Resolve(ctx context.Context, t time.Time) (FocusSample, bool)
}

// RingFocusCache is a bounded ring buffer of focus-change samples:
// append a new sample on each focus change, binary-search by
// timestamp on lookup. It satisfies FocusResolver by returning the
// latest sample at or before the requested time.
type RingFocusCache struct {
	mu      sync.RWMutex
	samples []FocusSample // kept sorted ascending by T
	cap     int
}

// NewRingFocusCache builds a cache retaining at most capacity samples.
func NewRingFocusCache(capacity int) *RingFocusCache {
	if capacity <= 0 {
		capacity = 4096
	}
	return &RingFocusCache{cap: capacity}
}

// Record appends a new focus-change observation. Callers should only
// call this on an actual focus change, not on every frame.
func (c *RingFocusCache) Record(s FocusSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
	if len(c.samples) > c.cap {
		c.samples = c.samples[len(c.samples)-c.cap:]
	}
}

// Resolve returns the most recent sample at or before t.
func (c *RingFocusCache) Resolve(_ context.Context, t time.Time) (FocusSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.samples) == 0 {
		return FocusSample{}, false
	}
	i := sort.Search(len(c.samples), func(i int) bool {
		return c.samples[i].T.After(t)
	})
	if i == 0 {
		return FocusSample{}, false
	}
	return c.samples[i-1], true
}
