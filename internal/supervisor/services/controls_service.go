// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package services

import (
	"context"
)

// ControlsRunner interface matches the privacy controls' command
// loop.
//
// This interface allows the ControlsService to work with the controls
// without importing the privacy package, avoiding circular
// dependencies.
//
// Satisfied by *privacy.Controls from internal/privacy/controls.go.
type ControlsRunner interface {
	// Run drains the control command queue until the context is
	// canceled.
	Run(ctx context.Context)
}

// ControlsService wraps the privacy controls' command loop as a
// supervised service, so a panic in a suspend/resume call restarts
// the loop without losing the hotkey path.
type ControlsService struct {
	controls ControlsRunner
	name     string
}

// NewControlsService creates a new controls service wrapper.
func NewControlsService(controls ControlsRunner) *ControlsService {
	return &ControlsService{
		controls: controls,
		name:     "privacy-controls",
	}
}

// Serve implements suture.Service. Run only returns on context
// cancellation, so Serve reports ctx.Err() to signal a normal stop.
func (c *ControlsService) Serve(ctx context.Context) error {
	c.controls.Run(ctx)
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (c *ControlsService) String() string {
	return c.name
}
