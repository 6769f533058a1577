// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package detection

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/watchtower/screenlog/internal/cache"
	"github.com/watchtower/screenlog/internal/models"
)

// FieldChangeDetector matches regions across the two most recent
// frames by IoU and flags low-similarity matches as field_change
// candidates, settling through a TargetTracker so only a stabilized
// value change is emitted.
type FieldChangeDetector struct {
	minIoU            float64
	maxTextSimilarity float64
	tracker           *TargetTracker
}

// NewFieldChangeDetector builds a detector; tracker may be shared with
// other stateful detectors that key by the same target vocabulary.
func NewFieldChangeDetector(minIoU, maxTextSimilarity float64, tracker *TargetTracker) *FieldChangeDetector {
	return &FieldChangeDetector{minIoU: minIoU, maxTextSimilarity: maxTextSimilarity, tracker: tracker}
}

func (d *FieldChangeDetector) Name() string { return "field_change" }

func (d *FieldChangeDetector) Detect(window []Frame, _ AppContext) []Candidate {
	if len(window) < 2 {
		return nil
	}
	prev, curr := window[len(window)-2], window[len(window)-1]
	matches := MatchRegions(prev.Regions, curr.Regions, d.minIoU)

	var out []Candidate
	for _, m := range matches {
		pRow, cRow := prev.Regions[m.PrevIdx], curr.Regions[m.CurrIdx]
		target := fmt.Sprintf("region:%.0f,%.0f", cRow.BBox.X, cRow.BBox.Y)

		// Every matched observation feeds the tracker, unchanged ones
		// included, so a new value settles on its second consecutive match.
		if d.tracker.State(target) == StateAbsent {
			d.tracker.Observe(target, pRow.Text)
		}
		settledFrom, settledTo, settled := d.tracker.Observe(target, cRow.Text)
		if !settled {
			continue
		}
		sim := LevenshteinRatio(NormalizeText(settledFrom), NormalizeText(settledTo))
		if sim >= d.maxTextSimilarity {
			continue // unchanged
		}
		out = append(out, Candidate{
			Type:          models.EventFieldChange,
			Target:        target,
			ValueFrom:     strPtr(settledFrom),
			ValueTo:       strPtr(settledTo),
			OCRConfidence: meanConf(pRow.Confidence, cRow.Confidence),
			Spatial:       m.IoU,
			Textual:       1 - sim,
			EvidenceFrames: []models.Keyframe{prev.Keyframe, curr.Keyframe},
		})
	}
	return out
}

// DataEntryDetector flags unmatched regions in the current frame that
// look interactive: short label text near what heuristically looks
// like an editable box (wide, short, low text density relative to
// width).
type DataEntryDetector struct {
	minIoU float64
}

func NewDataEntryDetector(minIoU float64) *DataEntryDetector {
	return &DataEntryDetector{minIoU: minIoU}
}

func (d *DataEntryDetector) Name() string { return "data_entry" }

func (d *DataEntryDetector) Detect(window []Frame, _ AppContext) []Candidate {
	if len(window) < 2 {
		return nil
	}
	prev, curr := window[len(window)-2], window[len(window)-1]
	matches := MatchRegions(prev.Regions, curr.Regions, d.minIoU)
	matchedCurr := make(map[int]bool, len(matches))
	for _, m := range matches {
		matchedCurr[m.CurrIdx] = true
	}

	var out []Candidate
	for i, row := range curr.Regions {
		if matchedCurr[i] {
			continue
		}
		if !looksEditable(row.BBox) || !looksLikeLabel(row.Text) {
			continue
		}
		out = append(out, Candidate{
			Type:           models.EventDataEntry,
			Target:         "region:" + row.Text,
			OCRConfidence:  float64(row.Confidence),
			Spatial:        1.0,
			Textual:        0.5,
			EvidenceFrames: []models.Keyframe{curr.Keyframe},
		})
	}
	return out
}

func looksEditable(b models.BBox) bool {
	return b.W > 0 && b.H > 0 && b.W/b.H >= 2.5 && b.H < 60
}

func looksLikeLabel(text string) bool {
	words := strings.Fields(text)
	return len(words) > 0 && len(words) <= 4 && len(text) <= 40
}

// errorPatterns catalogs severity-tagged error-banner regexes,
// compiled once at package init.
var errorPatterns = []struct {
	re       *regexp.Regexp
	severity string
}{
	{regexp.MustCompile(`(?i)\bfatal\s+error\b`), "critical"},
	{regexp.MustCompile(`(?i)\bcould not connect\b`), "critical"},
	{regexp.MustCompile(`(?i)\berror\b`), "warning"},
	{regexp.MustCompile(`(?i)\bfailed to\b`), "warning"},
	{regexp.MustCompile(`(?i)\bexception\b`), "warning"},
}

// ErrorDisplayDetector flags regions matching the error-banner
// catalog in the current frame. An Aho-Corasick keyword prescan
// (internal/cache) rejects the overwhelming majority of ordinary UI
// text before any regex from the catalog runs.
type ErrorDisplayDetector struct {
	keywords *cache.ErrorKeywordDetector
}

func NewErrorDisplayDetector() *ErrorDisplayDetector {
	return &ErrorDisplayDetector{keywords: cache.NewErrorKeywordDetector()}
}

func (d *ErrorDisplayDetector) Name() string { return "error_display" }

func (d *ErrorDisplayDetector) Detect(window []Frame, _ AppContext) []Candidate {
	if len(window) == 0 {
		return nil
	}
	curr := window[len(window)-1]
	var out []Candidate
	for _, row := range curr.Regions {
		if !d.keywords.MightBeBanner(row.Text) {
			continue
		}
		for _, p := range errorPatterns {
			if !p.re.MatchString(row.Text) {
				continue
			}
			strength := 0.9
			if p.severity == "warning" {
				strength = 0.7
			}
			out = append(out, Candidate{
				Type:           models.EventErrorDisplay,
				Target:         "banner:" + p.severity,
				OCRConfidence:  float64(row.Confidence),
				Spatial:        1.0,
				Textual:        strength,
				EvidenceFrames: []models.Keyframe{curr.Keyframe},
				Metadata:       map[string]string{"severity": p.severity},
			})
			break
		}
	}
	return out
}

// modalActionWords are the action labels a dialog's button row
// typically contains.
var modalActionWords = []string{"ok", "cancel", "yes", "no", "confirm", "delete", "submit", "close"}

// ModalAppearanceDetector flags a centered group of regions, within
// size constraints, containing an action word.
type ModalAppearanceDetector struct {
	frameW, frameH float32
}

// NewModalAppearanceDetector takes the expected frame dimensions so
// "centered" can be evaluated; 0 disables the centering check.
func NewModalAppearanceDetector(frameW, frameH float32) *ModalAppearanceDetector {
	return &ModalAppearanceDetector{frameW: frameW, frameH: frameH}
}

func (d *ModalAppearanceDetector) Name() string { return "modal_appearance" }

func (d *ModalAppearanceDetector) Detect(window []Frame, _ AppContext) []Candidate {
	if len(window) == 0 {
		return nil
	}
	curr := window[len(window)-1]

	hasAction := false
	var group []models.OCRRow
	for _, row := range curr.Regions {
		lower := strings.ToLower(row.Text)
		for _, w := range modalActionWords {
			if strings.Contains(lower, w) {
				hasAction = true
			}
		}
		group = append(group, row)
	}
	if !hasAction || len(group) == 0 {
		return nil
	}

	minX, minY := group[0].BBox.X, group[0].BBox.Y
	maxX, maxY := group[0].BBox.X+group[0].BBox.W, group[0].BBox.Y+group[0].BBox.H
	var confSum float64
	var title string
	for _, r := range group {
		if r.BBox.X < minX {
			minX = r.BBox.X
		}
		if r.BBox.Y < minY {
			minY = r.BBox.Y
		}
		if r.BBox.X+r.BBox.W > maxX {
			maxX = r.BBox.X + r.BBox.W
		}
		if r.BBox.Y+r.BBox.H > maxY {
			maxY = r.BBox.Y + r.BBox.H
		}
		confSum += float64(r.Confidence)
		if title == "" {
			title = r.Text
		}
	}

	if d.frameW > 0 && d.frameH > 0 {
		cx, cy := (minX+maxX)/2, (minY+maxY)/2
		if cx < d.frameW*0.25 || cx > d.frameW*0.75 || cy < d.frameH*0.25 || cy > d.frameH*0.75 {
			return nil // not roughly centered
		}
	}

	return []Candidate{{
		Type:           models.EventModalAppearance,
		Target:         title,
		OCRConfidence:  confSum / float64(len(group)),
		Spatial:        1.0,
		Textual:        0.85,
		EvidenceFrames: []models.Keyframe{curr.Keyframe},
	}}
}

// AppSwitchDetector and NavigationDetector read cross-frame keyframe
// metadata (no OCR needed): an app_bundle_id change yields app_switch,
// a window_title change within the same app yields navigation.
type AppSwitchDetector struct{}

func NewAppSwitchDetector() *AppSwitchDetector { return &AppSwitchDetector{} }

func (d *AppSwitchDetector) Name() string { return "app_switch" }

func (d *AppSwitchDetector) Detect(window []Frame, _ AppContext) []Candidate {
	if len(window) < 2 {
		return nil
	}
	prev, curr := window[len(window)-2], window[len(window)-1]
	if prev.Keyframe.AppBundleID == "" || curr.Keyframe.AppBundleID == "" {
		return nil
	}
	if prev.Keyframe.AppBundleID == curr.Keyframe.AppBundleID {
		return nil
	}
	return []Candidate{{
		Type:           models.EventAppSwitch,
		Target:         curr.Keyframe.AppBundleID,
		ValueFrom:      strPtr(prev.Keyframe.AppBundleID),
		ValueTo:        strPtr(curr.Keyframe.AppBundleID),
		OCRConfidence:  1.0,
		Spatial:        1.0,
		Textual:        1.0,
		EvidenceFrames: []models.Keyframe{prev.Keyframe, curr.Keyframe},
	}}
}

type NavigationDetector struct{}

func NewNavigationDetector() *NavigationDetector { return &NavigationDetector{} }

func (d *NavigationDetector) Name() string { return "navigation" }

func (d *NavigationDetector) Detect(window []Frame, _ AppContext) []Candidate {
	if len(window) < 2 {
		return nil
	}
	prev, curr := window[len(window)-2], window[len(window)-1]
	if curr.Keyframe.AppBundleID == "" || prev.Keyframe.AppBundleID != curr.Keyframe.AppBundleID {
		return nil
	}
	if prev.Keyframe.WindowTitle == curr.Keyframe.WindowTitle {
		return nil
	}
	return []Candidate{{
		Type:           models.EventNavigation,
		Target:         curr.Keyframe.AppBundleID,
		ValueFrom:      strPtr(prev.Keyframe.WindowTitle),
		ValueTo:        strPtr(curr.Keyframe.WindowTitle),
		OCRConfidence:  1.0,
		Spatial:        1.0,
		Textual:        LevenshteinRatio(prev.Keyframe.WindowTitle, curr.Keyframe.WindowTitle),
		EvidenceFrames: []models.Keyframe{prev.Keyframe, curr.Keyframe},
	}}
}

// ClickDetector is optional and disabled by default (click
// detection in source is partial, inferred from cursor stability).
// This implementation infers a click from a cursor position holding
// steady within a small radius for a stability window, then moving;
// it requires the caller to supply cursor samples out of band since
// OCR rows carry no cursor position.
type ClickDetector struct {
	stabilityWindow int // number of consecutive stable samples required
	radius          float64
	samples         []cursorSample
}

type cursorSample struct {
	x, y float64
}

// NewClickDetector builds a click detector with a pixel radius and
// stability window (in samples) for declaring the cursor "settled".
func NewClickDetector(radius float64, stabilityWindow int) *ClickDetector {
	return &ClickDetector{radius: radius, stabilityWindow: stabilityWindow}
}

func (d *ClickDetector) Name() string { return "click" }

// ObserveCursor feeds one cursor sample; call this once per frame
// ahead of Detect when click detection is enabled.
func (d *ClickDetector) ObserveCursor(x, y float64) {
	d.samples = append(d.samples, cursorSample{x, y})
	if len(d.samples) > d.stabilityWindow+1 {
		d.samples = d.samples[len(d.samples)-(d.stabilityWindow+1):]
	}
}

func (d *ClickDetector) Detect(window []Frame, _ AppContext) []Candidate {
	if len(window) == 0 || len(d.samples) <= d.stabilityWindow {
		return nil
	}
	settle := d.samples[:d.stabilityWindow]
	anchor := settle[0]
	for _, s := range settle[1:] {
		dx, dy := s.x-anchor.x, s.y-anchor.y
		if dx*dx+dy*dy > d.radius*d.radius {
			return nil
		}
	}
	moved := d.samples[len(d.samples)-1]
	dx, dy := moved.x-anchor.x, moved.y-anchor.y
	if dx*dx+dy*dy <= d.radius*d.radius {
		return nil // never moved away from the settled position
	}
	curr := window[len(window)-1]
	return []Candidate{{
		Type:           models.EventClick,
		Target:         fmt.Sprintf("cursor:%.0f,%.0f", anchor.x, anchor.y),
		OCRConfidence:  0.5, // inferred, not OCR-backed
		Spatial:        1.0,
		Textual:        0.5,
		EvidenceFrames: []models.Keyframe{curr.Keyframe},
	}}
}

// submitActionWords are button labels that, appearing right after an
// observed data_entry region for the same target, are treated as a
// form submission rather than a generic click.
var submitActionWords = []string{"submit", "send", "save", "continue", "next", "confirm", "sign in", "log in"}

// FormSubmissionDetector fires when the current frame contains a
// submit-like action label and a data_entry candidate was recently
// seen for the same app context, i.e. the user had been filling a
// field and then hit a submit control.
type FormSubmissionDetector struct {
	recentDataEntry bool
}

func NewFormSubmissionDetector() *FormSubmissionDetector { return &FormSubmissionDetector{} }

func (d *FormSubmissionDetector) Name() string { return "form_submission" }

// NoteDataEntry records that a data_entry candidate fired on the
// current window; the Engine calls this once every detector has run
// on the window, so it arms FormSubmissionDetector for later frames.
func (d *FormSubmissionDetector) NoteDataEntry(seen bool) { d.recentDataEntry = d.recentDataEntry || seen }

func (d *FormSubmissionDetector) Detect(window []Frame, _ AppContext) []Candidate {
	if len(window) == 0 || !d.recentDataEntry {
		return nil
	}
	curr := window[len(window)-1]
	for _, row := range curr.Regions {
		lower := strings.ToLower(row.Text)
		for _, w := range submitActionWords {
			if !strings.Contains(lower, w) {
				continue
			}
			d.recentDataEntry = false
			return []Candidate{{
				Type:           models.EventFormSubmission,
				Target:         "submit:" + w,
				OCRConfidence:  float64(row.Confidence),
				Spatial:        1.0,
				Textual:        0.8,
				EvidenceFrames: []models.Keyframe{curr.Keyframe},
			}}
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }

func meanConf(vals ...float32) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float32
	for _, v := range vals {
		sum += v
	}
	return float64(sum) / float64(len(vals))
}
