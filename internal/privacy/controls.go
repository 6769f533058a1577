// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package privacy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/watchtower/screenlog/internal/logging"
)

// State is the current immediate-control state, read by the status
// surface and by capture ingress on every frame.
type State struct {
	Paused       bool
	PrivacyMode  bool
	EmergencyHit bool
	ChangedAt    time.Time
}

// Suspender is implemented by the capture supervisor: Controls calls
// it to suspend/resume capture and downstream processing without the
// hotkey handler itself blocking on pipeline shutdown.
type Suspender interface {
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
	FlushAndCloseSegments(ctx context.Context) error
}

// Controls implements toggle_pause / toggle_privacy_mode /
// emergency_stop with non-blocking hotkey handling: every public
// method enqueues work on a buffered channel and returns immediately,
// so a hotkey handler holding no pipeline locks never stalls waiting
// for the supervisor. A background loop drains the queue and performs
// the actual suspend/resume calls. This mirrors the priority-select
// discipline in internal/websocket/hub.go: control-path sends must
// never block behind broadcast traffic.
type Controls struct {
	mu           sync.Mutex
	state        State
	suspender    Suspender
	pauseTimeout time.Duration
	pauseTimer   *time.Timer
	cmds         chan command
	statusCh     chan State // best-effort fan-out to the status surface

	stopped atomic.Bool
}

type commandKind int

const (
	cmdTogglePause commandKind = iota
	cmdTogglePrivacyMode
	cmdEmergencyStop
)

type command struct {
	kind commandKind
	done chan struct{}
}

// NewControls constructs the controls with a status channel capacity
// large enough that a slow subscriber never backs up the command loop.
func NewControls(suspender Suspender, pauseTimeout time.Duration) *Controls {
	if pauseTimeout <= 0 {
		pauseTimeout = time.Hour
	}
	c := &Controls{
		suspender:    suspender,
		pauseTimeout: pauseTimeout,
		cmds:         make(chan command, 16),
		statusCh:     make(chan State, 64),
	}
	return c
}

// Run drains the command queue until ctx is cancelled. Call this from
// a dedicated goroutine owned by the supervisor tree.
func (c *Controls) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.cmds:
			c.handle(ctx, cmd)
			if cmd.done != nil {
				close(cmd.done)
			}
		}
	}
}

func (c *Controls) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdTogglePause:
		c.mu.Lock()
		c.state.Paused = !c.state.Paused
		paused := c.state.Paused
		c.state.ChangedAt = time.Now()
		if c.pauseTimer != nil {
			c.pauseTimer.Stop()
			c.pauseTimer = nil
		}
		if paused {
			c.pauseTimer = time.AfterFunc(c.pauseTimeout, c.autoResume)
		}
		c.mu.Unlock()
		c.apply(ctx, paused)
	case cmdTogglePrivacyMode:
		c.mu.Lock()
		c.state.PrivacyMode = !c.state.PrivacyMode
		privacyOn := c.state.PrivacyMode
		c.state.ChangedAt = time.Now()
		c.mu.Unlock()
		c.apply(ctx, privacyOn || c.Snapshot().Paused)
	case cmdEmergencyStop:
		c.mu.Lock()
		already := c.state.EmergencyHit
		if !already {
			c.state.Paused = true
			c.state.EmergencyHit = true
			c.state.ChangedAt = time.Now()
		}
		c.mu.Unlock()
		if c.suspender != nil && !already {
			if err := c.suspender.FlushAndCloseSegments(ctx); err != nil {
				logging.Error().Err(err).Msg("emergency stop: flush/close segments failed")
			}
			if err := c.suspender.Suspend(ctx); err != nil {
				logging.Error().Err(err).Msg("emergency stop: suspend failed")
			}
		}
	}
	c.publishStatus()
}

func (c *Controls) apply(ctx context.Context, suspend bool) {
	if c.suspender == nil {
		return
	}
	if !suspend {
		// Privacy mode and the emergency latch keep capture suspended
		// until they are cleared themselves.
		if s := c.Snapshot(); s.PrivacyMode || s.EmergencyHit {
			return
		}
	}
	var err error
	if suspend {
		err = c.suspender.Suspend(ctx)
	} else {
		err = c.suspender.Resume(ctx)
	}
	if err != nil {
		logging.Error().Err(err).Bool("suspend", suspend).Msg("privacy control apply failed")
	}
}

func (c *Controls) autoResume() {
	c.mu.Lock()
	if !c.state.Paused || c.state.EmergencyHit {
		c.mu.Unlock()
		return
	}
	c.state.Paused = false
	c.state.ChangedAt = time.Now()
	c.mu.Unlock()
	c.apply(context.Background(), false)
	c.publishStatus()
}

func (c *Controls) enqueue(kind commandKind) {
	if c.stopped.Load() {
		return
	}
	select {
	case c.cmds <- command{kind: kind}:
	default:
		// queue full: a hotkey handler must never block; the command
		// is dropped and logged rather than stalling the caller.
		logging.Warn().Msg("privacy control command dropped: queue full")
	}
}

// TogglePause toggles the paused state. Returns immediately; the
// actual suspend/resume happens on the background Run loop, keeping
// the 100ms hotkey-to-visible-status budget from blocking on I/O.
func (c *Controls) TogglePause() { c.enqueue(cmdTogglePause) }

// TogglePrivacyMode toggles privacy mode. While it is on, capture stays
// suspended whatever the manual pause state; OCR masking is unchanged.
func (c *Controls) TogglePrivacyMode() { c.enqueue(cmdTogglePrivacyMode) }

// EmergencyStop idempotently halts capture and flushes open segments.
// A second call while already stopped is a no-op beyond re-publishing
// status.
func (c *Controls) EmergencyStop() { c.enqueue(cmdEmergencyStop) }

// Reset clears the emergency-stop latch, allowing capture to resume.
// Idempotent: calling Reset when not emergency-stopped is a no-op.
func (c *Controls) Reset() {
	c.mu.Lock()
	if !c.state.EmergencyHit {
		c.mu.Unlock()
		return
	}
	c.state.EmergencyHit = false
	c.state.Paused = false
	c.state.ChangedAt = time.Now()
	c.mu.Unlock()
	c.apply(context.Background(), false)
	c.publishStatus()
}

// Snapshot returns the current state without blocking on the command
// queue.
func (c *Controls) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StatusCh returns a channel the local status surface can range over
// for visible-within-100ms state transitions.
func (c *Controls) StatusCh() <-chan State { return c.statusCh }

func (c *Controls) publishStatus() {
	snap := c.Snapshot()
	select {
	case c.statusCh <- snap:
	default:
		// best-effort: a slow subscriber misses an intermediate state
		// but will observe the next one.
	}
}

// Stop closes the command intake; Run should be cancelled via its
// context separately.
func (c *Controls) Stop() { c.stopped.Store(true) }
