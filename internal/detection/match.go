// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package detection

import (
	"sort"
	"strings"

	"github.com/watchtower/screenlog/internal/models"
)

// RegionMatch pairs a region in the previous frame with its best
// match in the current frame by IoU.
type RegionMatch struct {
	PrevIdx int
	CurrIdx int
	IoU     float64
}

// MatchRegions greedily matches curr regions against prev regions by
// highest IoU, requiring IoU >= minIoU. Ties are broken toward the
// earlier-indexed prev region (a stable sort over descending IoU,
// ascending prev index), giving the deterministic "IoU == threshold
// matches" tie-break. Each prev and curr region is
// used in at most one match.
func MatchRegions(prev, curr []models.OCRRow, minIoU float64) []RegionMatch {
	type pair struct {
		p, c int
		iou  float64
	}
	var pairs []pair
	for pi, p := range prev {
		for ci, c := range curr {
			iou := p.BBox.IoU(c.BBox)
			if iou >= minIoU {
				pairs = append(pairs, pair{pi, ci, iou})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].iou != pairs[j].iou {
			return pairs[i].iou > pairs[j].iou
		}
		return pairs[i].p < pairs[j].p
	})

	usedPrev := make(map[int]bool, len(prev))
	usedCurr := make(map[int]bool, len(curr))
	var matches []RegionMatch
	for _, pr := range pairs {
		if usedPrev[pr.p] || usedCurr[pr.c] {
			continue
		}
		usedPrev[pr.p] = true
		usedCurr[pr.c] = true
		matches = append(matches, RegionMatch{PrevIdx: pr.p, CurrIdx: pr.c, IoU: pr.iou})
	}
	return matches
}

// LevenshteinRatio returns a normalized similarity in [0,1]: 1 minus
// the edit distance divided by the longer string's length. Identical
// strings (including both empty) score 1.
func LevenshteinRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 && lb == 0 {
		return 1
	}
	dist := levenshteinDistance(a, b)
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}

func levenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = minInt(minInt(del, ins), sub)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// NormalizeText lowercases and trims text for comparison, so matching
// and similarity scoring are case/whitespace insensitive.
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
