// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package perception runs OCR over keyframes and applies PII masking
// before persistence. The OCR engine itself is a pluggable interface:
// the host process supplies a platform text-recognition binding (a
// native vision API), the same external-collaborator boundary the
// capture source and hardware encoder sit behind.
package perception

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/logging"
	"github.com/watchtower/screenlog/internal/models"
)

// Region is one raw OCR hit before masking, as returned by an Engine.
type Region struct {
	BBox       models.BBox
	Text       string
	Lang       string
	Confidence float64
}

// Engine is implemented by a concrete OCR backend (native vision API,
// tesseract fallback, or a test double).
type Engine interface {
	Name() string
	Recognize(ctx context.Context, imagePath string, roi *models.BBox) ([]Region, error)
}

// Preprocessor optionally transforms a frame before OCR: binarization,
// deskew, ROI cropping. Implementations are best-effort; a nil
// Preprocessor skips this stage entirely.
type Preprocessor interface {
	Prepare(ctx context.Context, imagePath string) (preparedPath string, cleanup func(), err error)
}

// Pipeline runs preprocess -> primary OCR -> optional fallback ->
// masking, producing persistence-ready OCRRow values.
type Pipeline struct {
	primary      Engine
	fallback     Engine
	preprocess   Preprocessor
	masker       *Masker
	cfg          config.PerceptionConfig
}

// NewPipeline builds a perception pipeline. fallback and preprocess
// may be nil.
func NewPipeline(primary, fallback Engine, preprocess Preprocessor, masker *Masker, cfg config.PerceptionConfig) *Pipeline {
	return &Pipeline{primary: primary, fallback: fallback, preprocess: preprocess, masker: masker, cfg: cfg}
}

// Process runs the full pipeline for one keyframe and returns the
// masked, persistence-ready OCR rows.
func (p *Pipeline) Process(ctx context.Context, frameID uuid.UUID, imagePath string, roi *models.BBox) ([]models.OCRRow, error) {
	if p.primary == nil {
		return nil, fmt.Errorf("perception: no primary OCR engine configured")
	}

	path := imagePath
	if p.preprocess != nil && p.cfg.Preprocess {
		prepared, cleanup, err := p.preprocess.Prepare(ctx, imagePath)
		if err != nil {
			logging.Warn().Err(err).Str("frame", frameID.String()).Msg("preprocess failed, using original frame")
		} else {
			path = prepared
			if cleanup != nil {
				defer cleanup()
			}
		}
	}

	regions, procName, err := p.recognize(ctx, path, roi)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rows := make([]models.OCRRow, 0, len(regions))
	for _, r := range regions {
		if r.Confidence < p.cfg.MinConfidence {
			continue
		}
		text := r.Text
		ran := p.cfg.MaskPII && p.masker != nil
		if ran {
			text, _ = p.masker.Mask(text)
		}
		rows = append(rows, models.OCRRow{
			FrameID:    frameID,
			BBox:       r.BBox,
			Text:       text,
			Lang:       r.Lang,
			Confidence: float32(r.Confidence),
			Processor:  models.OCRProcessor(procName),
			T:          now,
			Masked:     ran, // provenance: the masking stage ran over this row, regardless of whether any pattern fired
		})
	}
	return rows, nil
}

// recognize runs the primary engine, falling back when confidence is
// low or the primary returns nothing.
func (p *Pipeline) recognize(ctx context.Context, path string, roi *models.BBox) ([]Region, string, error) {
	regions, err := p.primary.Recognize(ctx, path, roi)
	if err != nil {
		logging.Warn().Err(err).Msg("primary OCR engine failed")
		regions = nil
	}

	if p.fallback != nil && needsFallback(regions) {
		fbRegions, fbErr := p.fallback.Recognize(ctx, path, roi)
		if fbErr == nil && len(fbRegions) > 0 {
			return fbRegions, p.fallback.Name(), nil
		}
		if err != nil && fbErr != nil {
			return nil, "", fmt.Errorf("perception: both primary and fallback OCR failed: %w", err)
		}
	}
	if regions == nil && err != nil {
		return nil, "", err
	}
	return regions, p.primary.Name(), nil
}

func needsFallback(regions []Region) bool {
	if len(regions) == 0 {
		return true
	}
	var sum float64
	for _, r := range regions {
		sum += r.Confidence
	}
	return sum/float64(len(regions)) < 0.3
}
