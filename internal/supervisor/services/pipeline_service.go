// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package services

import (
	"context"
)

// PipelineRunner interface matches the pipeline consumer's
// RunWithContext method.
//
// This interface allows the PipelineService to work with the stage
// consumer without importing the pipeline package, avoiding circular
// dependencies.
//
// Satisfied by *pipeline.Consumer from internal/pipeline/pipeline.go.
type PipelineRunner interface {
	// RunWithContext drains finalized segments through the
	// index/OCR/detect stages. It returns when the context is
	// canceled.
	RunWithContext(ctx context.Context) error
}

// PipelineService wraps the CPU-bound analytical stage consumer as a
// supervised service.
//
// The supervisor restarts just this stage on a crash; capture
// sessions and the API surface are unaffected, and the segment
// channel buffers work across the restart.
//
// Example usage:
//
//	consumer := pipeline.NewConsumer(sink.Segments(), extractor, ix, ocr, engine, store)
//	svc := services.NewPipelineService(consumer)
//	tree.AddPipelineService(svc)
type PipelineService struct {
	runner PipelineRunner
	name   string
}

// NewPipelineService creates a new pipeline stage service wrapper.
func NewPipelineService(runner PipelineRunner) *PipelineService {
	return &PipelineService{
		runner: runner,
		name:   "pipeline-consumer",
	}
}

// Serve implements suture.Service.
//
// This method delegates to runner.RunWithContext which:
//  1. Consumes finalized segments in arrival order
//  2. Indexes keyframes, runs OCR, detects events
//  3. Persists rows and publishes stage-boundary notifications
//  4. Returns when the context is canceled
//
// The method returns ctx.Err() on normal shutdown.
func (p *PipelineService) Serve(ctx context.Context) error {
	return p.runner.RunWithContext(ctx)
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (p *PipelineService) String() string {
	return p.name
}
