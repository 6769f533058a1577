// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package supervisor provides Suture-based process supervision.
// This file implements the DisplaySupervisor for dynamic per-display
// capture session management.
//
// Architecture:
//   - DisplaySupervisor manages one CaptureSession per attached display
//   - Sessions can be added and removed at runtime as displays are
//     plugged in or unplugged, without restarting the other displays'
//     healthy sessions
//   - Each display gets its own Suture-supervised service for fault
//     isolation for everything else under supervision
//     for per-platform sync services, generalized here from
//     "one supervised service per upstream" to "one service per display"
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/logging"
)

// Errors for DisplaySupervisor.
var (
	ErrDisplayAlreadyExists = errors.New("display already registered with supervisor")
	ErrDisplayNotRunning    = errors.New("display is not currently captured")
	ErrNilSupervisorTree    = errors.New("supervisor tree cannot be nil")
)

// DisplayStatus reports the current state of a managed display's
// capture session.
type DisplayStatus struct {
	DisplayID string
	Running   bool
	StartedAt time.Time
}

// CaptureFactory builds the Source + Encoder + SegmentSink pieces a
// CaptureSession needs for one display, deferred until AddDisplay so
// the caller can plumb in the host OS's capture session lazily (the
// platform-specific source is an external collaborator
// §1 - this package only depends on the capture.Source interface).
type CaptureFactory func(displayID string) (svc suture.Service, err error)

type managedDisplay struct {
	token     suture.ServiceToken
	startedAt time.Time
}

// DisplaySupervisor manages CaptureSession services for every enabled
// display. It provides dynamic lifecycle management with Suture
// supervision, so a display add/remove event never disturbs the
// capture sessions already running on other displays.
//
// Thread Safety: all operations are protected by a read-write mutex;
// the displays map is safe for concurrent access.
type DisplaySupervisor struct {
	tree    *SupervisorTree
	factory CaptureFactory
	cfg     config.CaptureConfig

	mu           sync.RWMutex
	displays     map[string]*managedDisplay
	suspendedIDs []string
}

// NewDisplaySupervisor creates a supervisor for per-display capture
// sessions. factory is called once per AddDisplay to build the
// suture.Service (typically capture.NewCaptureSession wrapping the
// platform capture source for that display).
func NewDisplaySupervisor(tree *SupervisorTree, cfg config.CaptureConfig, factory CaptureFactory) (*DisplaySupervisor, error) {
	if tree == nil {
		return nil, ErrNilSupervisorTree
	}
	return &DisplaySupervisor{
		tree:     tree,
		factory:  factory,
		cfg:      cfg,
		displays: make(map[string]*managedDisplay),
	}, nil
}

// AddDisplay starts a capture session for a newly attached display.
// Returns ErrDisplayAlreadyExists if the display is already captured.
func (d *DisplaySupervisor) AddDisplay(_ context.Context, displayID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.displays[displayID]; exists {
		return ErrDisplayAlreadyExists
	}

	svc, err := d.factory(displayID)
	if err != nil {
		return fmt.Errorf("build capture session for display %s: %w", displayID, err)
	}

	token := d.tree.AddCaptureService(svc)
	d.displays[displayID] = &managedDisplay{token: token, startedAt: time.Now()}

	logging.Info().Str("display_id", displayID).Msg("capture session added to supervisor")
	return nil
}

// RemoveDisplay stops and removes the capture session for a display
// that has been unplugged. The other displays' sessions are
// untouched: suture.Remove only tears down the one service token.
func (d *DisplaySupervisor) RemoveDisplay(displayID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	managed, exists := d.displays[displayID]
	if !exists {
		return ErrDisplayNotRunning
	}

	if err := d.tree.RemoveCaptureService(managed.token); err != nil {
		return fmt.Errorf("remove capture service for display %s: %w", displayID, err)
	}
	delete(d.displays, displayID)

	logging.Info().Str("display_id", displayID).Msg("capture session removed from supervisor")
	return nil
}

// Status returns the current status of every managed display.
func (d *DisplaySupervisor) Status() []DisplayStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	statuses := make([]DisplayStatus, 0, len(d.displays))
	for id, managed := range d.displays {
		statuses = append(statuses, DisplayStatus{
			DisplayID: id,
			Running:   true,
			StartedAt: managed.startedAt,
		})
	}
	return statuses
}

// IsDisplayRunning reports whether a display currently has a
// supervised capture session.
func (d *DisplaySupervisor) IsDisplayRunning(displayID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, exists := d.displays[displayID]
	return exists
}

// StopAll removes every managed display's capture session. Used
// during emergency_stop, which must complete within 2s wall-clock.
func (d *DisplaySupervisor) StopAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	total := len(d.displays)
	for displayID, managed := range d.displays {
		if err := d.tree.RemoveCaptureService(managed.token); err != nil {
			logging.Warn().Str("display_id", displayID).Err(err).Msg("failed to stop capture session")
			errs = append(errs, err)
		}
	}
	d.displays = make(map[string]*managedDisplay)

	if len(errs) > 0 {
		return fmt.Errorf("failed to stop %d of %d capture sessions", len(errs), total)
	}
	return nil
}

// Suspend implements the privacy gate's Suspender contract: it stops
// every capture session and remembers which displays were running so
// Resume can restore exactly that set. Stopping a session cancels its
// context, which finalizes the open segment before the service exits.
func (d *DisplaySupervisor) Suspend(_ context.Context) error {
	d.mu.Lock()
	ids := make([]string, 0, len(d.displays))
	for id := range d.displays {
		ids = append(ids, id)
	}
	d.suspendedIDs = append(d.suspendedIDs, ids...)
	d.mu.Unlock()
	return d.StopAll()
}

// Resume restarts the capture sessions Suspend stopped.
func (d *DisplaySupervisor) Resume(ctx context.Context) error {
	d.mu.Lock()
	ids := d.suspendedIDs
	d.suspendedIDs = nil
	d.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := d.AddDisplay(ctx, id); err != nil && !errors.Is(err, ErrDisplayAlreadyExists) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to resume %d capture sessions", len(errs))
	}
	return nil
}

// FlushAndCloseSegments implements the emergency-stop path: every
// session is torn down, finalizing its open segment on the way out.
// Unlike Suspend this does not remember the display set; Reset after
// an emergency stop re-adds displays explicitly.
func (d *DisplaySupervisor) FlushAndCloseSegments(_ context.Context) error {
	d.mu.Lock()
	d.suspendedIDs = nil
	d.mu.Unlock()
	return d.StopAll()
}
