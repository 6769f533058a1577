// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package detection implements the OCR-delta event detector: a
// pluggable registry of Detectors evaluated over a sliding window of
// recent keyframe OCR, each producing typed, confidence-scored events
// linked to their evidence frames.
package detection
