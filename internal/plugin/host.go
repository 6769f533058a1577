// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package plugin hosts the per-application parser plugin contract
// consumed by C5 and C6: enhance_ocr and detect_events, sandboxed by
// a per-call timeout and panic recovery at the call boundary so a
// misbehaving plugin degrades the enclosing event rather than failing
// the pipeline. The panic-recovery-at-boundary idiom mirrors how the
// detection engine isolates a single detector's failure
// from the rest of the run.
package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/logging"
	"github.com/watchtower/screenlog/internal/models"
)

// Descriptor is the static metadata every plugin declares.
type Descriptor struct {
	Identifier           string
	Version              string
	SupportedApplications []string
	MaxMemoryBytes        int64
	MaxExecutionMS        time.Duration
}

// EnhancedRow is an OCR row as possibly reinterpreted by a plugin: the
// plugin may retag the semantic type of a region (e.g. "currency",
// "date") without altering its text/bbox.
type EnhancedRow struct {
	Row          models.OCRRow
	SemanticType string
}

// OCREnhancer is implemented by plugins that post-process OCR rows
// with application-specific knowledge.
type OCREnhancer interface {
	EnhanceOCR(ctx context.Context, frameBytes []byte, rows []models.OCRRow, appCtx AppContext) ([]EnhancedRow, error)
}

// EventDetector is implemented by plugins that contribute
// application-specific event detection atop the OCR delta.
type EventDetector interface {
	DetectEvents(ctx context.Context, delta OCRDelta, appCtx AppContext) ([]models.Event, error)
}

// AppContext is the focused-application context passed to plugins.
type AppContext struct {
	AppBundleID string
	WindowTitle string
}

// OCRDelta is the previous/current OCR row pair a plugin's
// DetectEvents reasons over.
type OCRDelta struct {
	Previous []models.OCRRow
	Current  []models.OCRRow
}

// Plugin bundles a descriptor with whichever capability interfaces it
// implements; a plugin instance is a value owned by the Host, never a
// package-level global.
type Plugin struct {
	Descriptor Descriptor
	Enhancer   OCREnhancer // nil if unsupported
	Detector   EventDetector
}

// Host runs registered plugins under a per-call timeout budget,
// recovering from panics at the call boundary and logging+skipping on
// any failure rather than propagating it to the pipeline.
type Host struct {
	cfg     config.PluginConfig
	plugins []Plugin
}

// NewHost builds a Host; plugins are added via Register.
func NewHost(cfg config.PluginConfig) *Host {
	return &Host{cfg: cfg}
}

// Register adds a plugin instance to the host.
func (h *Host) Register(p Plugin) {
	h.plugins = append(h.plugins, p)
}

// Plugins returns the registered set, for status reporting.
func (h *Host) Plugins() []Plugin { return h.plugins }

func (h *Host) budget(p Plugin) time.Duration {
	if p.Descriptor.MaxExecutionMS > 0 {
		return p.Descriptor.MaxExecutionMS
	}
	if h.cfg.MaxExecutionMS > 0 {
		return h.cfg.MaxExecutionMS
	}
	return 30 * time.Second
}

// EnhanceOCR runs every registered OCR-enhancing plugin applicable to
// appCtx.AppBundleID, merging their output. A timeout or panic in one
// plugin is logged and that plugin's contribution is skipped; it
// never fails the call for other plugins or for the caller.
func (h *Host) EnhanceOCR(ctx context.Context, frameBytes []byte, rows []models.OCRRow, appCtx AppContext) []EnhancedRow {
	var out []EnhancedRow
	for _, p := range h.plugins {
		if p.Enhancer == nil || !supports(p.Descriptor, appCtx.AppBundleID) {
			continue
		}
		enhanced, err := h.callEnhance(ctx, p, frameBytes, rows, appCtx)
		if err != nil {
			logging.Warn().Err(err).Str("plugin", p.Descriptor.Identifier).Msg("plugin: enhance_ocr failed, skipped")
			continue
		}
		out = append(out, enhanced...)
	}
	return out
}

// DetectEvents runs every registered event-detecting plugin
// applicable to appCtx.AppBundleID. A per-plugin overrun degrades
// confidence implicitly (its candidate is simply absent) rather than
// failing the enclosing detection pass.
func (h *Host) DetectEvents(ctx context.Context, delta OCRDelta, appCtx AppContext) []models.Event {
	var out []models.Event
	for _, p := range h.plugins {
		if p.Detector == nil || !supports(p.Descriptor, appCtx.AppBundleID) {
			continue
		}
		events, err := h.callDetect(ctx, p, delta, appCtx)
		if err != nil {
			logging.Warn().Err(err).Str("plugin", p.Descriptor.Identifier).Msg("plugin: detect_events failed, skipped")
			continue
		}
		out = append(out, events...)
	}
	return out
}

func supports(d Descriptor, appBundleID string) bool {
	if len(d.SupportedApplications) == 0 {
		return true
	}
	for _, a := range d.SupportedApplications {
		if a == appBundleID {
			return true
		}
	}
	return false
}

func (h *Host) callEnhance(ctx context.Context, p Plugin, frameBytes []byte, rows []models.OCRRow, appCtx AppContext) (result []EnhancedRow, err error) {
	ctx, cancel := context.WithTimeout(ctx, h.budget(p))
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("plugin %s panicked: %v", p.Descriptor.Identifier, r)
			}
			close(done)
		}()
		result, err = p.Enhancer.EnhanceOCR(ctx, frameBytes, rows, appCtx)
	}()

	select {
	case <-done:
		return result, err
	case <-ctx.Done():
		return nil, fmt.Errorf("plugin %s exceeded execution budget: %w", p.Descriptor.Identifier, ctx.Err())
	}
}

func (h *Host) callDetect(ctx context.Context, p Plugin, delta OCRDelta, appCtx AppContext) (result []models.Event, err error) {
	ctx, cancel := context.WithTimeout(ctx, h.budget(p))
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("plugin %s panicked: %v", p.Descriptor.Identifier, r)
			}
			close(done)
		}()
		result, err = p.Detector.DetectEvents(ctx, delta, appCtx)
	}()

	select {
	case <-done:
		return result, err
	case <-ctx.Done():
		return nil, fmt.Errorf("plugin %s exceeded execution budget: %w", p.Descriptor.Identifier, ctx.Err())
	}
}
