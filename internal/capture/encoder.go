// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"
)

// Encoder turns successive captured frames into a compressed sample
// stream for one display. A platform hardware encoder is an
// external-collaborator boundary this repo does not implement; the
// reference encoder below exists so a CaptureSession is testable
// end-to-end without one.
type Encoder interface {
	// EncodeFrame compresses one frame, reporting whether it is a
	// keyframe (a sync sample other samples may be undecodable
	// without).
	EncodeFrame(img image.Image) (data []byte, keyframe bool, err error)
	// Close releases any encoder-held resources.
	Close() error
}

// EncoderConfig carries the encode parameters:
// 2-4 Mb/s target bitrate, a keyframe (IDR) every KeyframeInterval.
type EncoderConfig struct {
	BitrateKbps      int
	KeyframeInterval time.Duration
	FPS              int
}

// referenceEncoder is a software fallback: it does not produce a real
// H.264 bitstream (that requires a platform hardware encoder binding,
// out of scope here per the capture component's Non-goals), but it
// does produce one compressed, decodable-as-an-image sample per frame
// on a real cadence, tagging samples at the configured keyframe
// interval as sync samples. This keeps segment files structurally
// valid and testable end-to-end through the mp4 muxer.
type referenceEncoder struct {
	cfg          EncoderConfig
	framesSince  int
	keyframeEvery int
}

// NewReferenceEncoder builds the software fallback encoder.
func NewReferenceEncoder(cfg EncoderConfig) Encoder {
	fps := cfg.FPS
	if fps <= 0 {
		fps = 2
	}
	interval := cfg.KeyframeInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	every := int(interval.Seconds()) * fps
	if every <= 0 {
		every = 1
	}
	return &referenceEncoder{cfg: cfg, keyframeEvery: every}
}

func (e *referenceEncoder) EncodeFrame(img image.Image) ([]byte, bool, error) {
	keyframe := e.framesSince%e.keyframeEvery == 0
	e.framesSince++

	quality := bitrateToJPEGQuality(e.cfg.BitrateKbps)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, normalizeToNRGBA(img), &jpeg.Options{Quality: quality}); err != nil {
		return nil, false, fmt.Errorf("capture: reference encode: %w", err)
	}
	return buf.Bytes(), keyframe, nil
}

func (e *referenceEncoder) Close() error { return nil }

// bitrateToJPEGQuality maps a target Mb/s bitrate onto a JPEG quality
// setting roughly proportional to it, clamped to a sane range.
func bitrateToJPEGQuality(kbps int) int {
	switch {
	case kbps <= 0:
		return 75
	case kbps < 1500:
		return 55
	case kbps < 2500:
		return 70
	case kbps < 4000:
		return 85
	default:
		return 95
	}
}

// normalizeToNRGBA ensures the image satisfies image/jpeg's encoder,
// which requires a concrete image.Image whose At() returns color
// values jpeg.Encode can quantize; most capture backends already hand
// back *image.RGBA, so this is a cheap type-check in the common case.
func normalizeToNRGBA(img image.Image) image.Image {
	if _, ok := img.(*image.NRGBA); ok {
		return img
	}
	if _, ok := img.(*image.RGBA); ok {
		return img
	}
	if _, ok := img.(*image.YCbCr); ok {
		return img
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, color.NRGBAModel.Convert(img.At(x, y)))
		}
	}
	return out
}
