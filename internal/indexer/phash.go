// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package indexer subsamples finalized capture segments into
// keyframes: it computes a perceptual hash and Shannon entropy per
// candidate frame, decides scene changes against the previously kept
// frame, and resolves the focused application/window at each kept
// frame's timestamp.
//
// The perceptual-hash and SSIM math is implemented directly against
// stdlib image/math; the primitives are small enough that a
// dependency would cost more than it saves.
package indexer

import (
	"image"
	"math"
	"math/bits"
)

// PHash64 computes a 64-bit DCT-free perceptual hash: the image is
// reduced to an 8x8 grayscale grid, and each cell is set to 1 if its
// luminance is above the grid mean. This average-hash variant is
// cheaper than a true DCT phash and is sufficient for the
// near-duplicate-frame detection this component needs; similarity
// ordering is what matters, not absolute hash quality.
func PHash64(img image.Image) uint64 {
	const n = 8
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	var grid [n * n]float64
	for gy := 0; gy < n; gy++ {
		for gx := 0; gx < n; gx++ {
			x0 := bounds.Min.X + gx*w/n
			x1 := bounds.Min.X + (gx+1)*w/n
			y0 := bounds.Min.Y + gy*h/n
			y1 := bounds.Min.Y + (gy+1)*h/n
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if y1 <= y0 {
				y1 = y0 + 1
			}
			var sum float64
			var count int
			for y := y0; y < y1 && y < bounds.Max.Y; y++ {
				for x := x0; x < x1 && x < bounds.Max.X; x++ {
					sum += luminance(img.At(x, y))
					count++
				}
			}
			if count > 0 {
				grid[gy*n+gx] = sum / float64(count)
			}
		}
	}

	var mean float64
	for _, v := range grid {
		mean += v
	}
	mean /= float64(len(grid))

	var hash uint64
	for i, v := range grid {
		if v >= mean {
			hash |= 1 << uint(i)
		}
	}
	return hash
}

func luminance(c interface{ RGBA() (r, g, b, a uint32) }) float64 {
	r, g, b, _ := c.RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}

// HammingDistance64 returns the number of differing bits between two
// 64-bit hashes.
func HammingDistance64(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// ShannonEntropy computes the Shannon entropy (in bits) of an image's
// grayscale histogram. A near-blank frame (solid color, idle screen)
// has entropy near zero.
func ShannonEntropy(img image.Image) float64 {
	bounds := img.Bounds()
	var hist [256]int
	total := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			l := int(luminance(img.At(x, y)))
			if l > 255 {
				l = 255
			}
			hist[l]++
			total++
		}
	}
	if total == 0 {
		return 0
	}
	var entropy float64
	for _, count := range hist {
		if count == 0 {
			continue
		}
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// SSIM computes a simplified single-channel structural similarity
// index between two equally-sized grayscale samples, using global
// luminance/contrast/structure terms (no sliding windows), adequate
// for a coarse "did the screen structurally change" gate alongside
// the phash Hamming-distance check.
func SSIM(a, b image.Image) float64 {
	const c1, c2 = 6.5025, 58.5225 // (0.01*255)^2, (0.03*255)^2

	boundsA := a.Bounds()
	var n int
	var sumA, sumB float64
	for y := boundsA.Min.Y; y < boundsA.Max.Y; y++ {
		for x := boundsA.Min.X; x < boundsA.Max.X; x++ {
			sumA += luminance(a.At(x, y))
			bx := b.Bounds().Min.X + (x - boundsA.Min.X)
			by := b.Bounds().Min.Y + (y - boundsA.Min.Y)
			sumB += luminance(b.At(bx, by))
			n++
		}
	}
	if n == 0 {
		return 1
	}
	meanA, meanB := sumA/float64(n), sumB/float64(n)

	var varA, varB, covar float64
	for y := boundsA.Min.Y; y < boundsA.Max.Y; y++ {
		for x := boundsA.Min.X; x < boundsA.Max.X; x++ {
			la := luminance(a.At(x, y)) - meanA
			bx := b.Bounds().Min.X + (x - boundsA.Min.X)
			by := b.Bounds().Min.Y + (y - boundsA.Min.Y)
			lb := luminance(b.At(bx, by)) - meanB
			varA += la * la
			varB += lb * lb
			covar += la * lb
		}
	}
	varA /= float64(n)
	varB /= float64(n)
	covar /= float64(n)

	num := (2*meanA*meanB + c1) * (2*covar + c2)
	den := (meanA*meanA + meanB*meanB + c1) * (varA + varB + c2)
	if den == 0 {
		return 1
	}
	return num / den
}
