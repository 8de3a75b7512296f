// Package onset implements the Onset Detector (C4 in spec.md §2): an
// adaptive sliding-median-plus-mean threshold over spectral flux, local
// maximum peak picking, and a minimum inter-onset gap (spec.md §4.3).
//
// The adaptive-threshold idiom (recent-window mean + k*stddev, minimum
// retrigger gap) follows rayboyd-phase4-server's BPMDetector.ProcessFlux;
// the peak-picker/threshold accessor shape follows schollz/goaubio-onset's
// NewPeakPicker/SetThreshold API.
package onset

import (
	"math"
	"sort"

	"github.com/sw6820/beat-parser-core-sub001/internal/model"
	"github.com/sw6820/beat-parser-core-sub001/internal/spectral"
)

// Options configures onset detection.
type Options struct {
	WindowFrames int     // W_onset: sliding median/mean window, default 10
	Pre          int     // local-maximum look-back, default 3
	Post         int      // local-maximum look-ahead, default 3
	Delta        float64 // additive constant δ, default 0
	Lambda       float64 // multiplicative factor λ on local mean, default 1.5
	MinGapMS     float64 // minimum gap between onsets, default 50ms
}

// Defaults returns the conventional onset-detection configuration.
func Defaults() Options {
	return Options{WindowFrames: 10, Pre: 3, Post: 3, Delta: 0, Lambda: 1.5, MinGapMS: 50}
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// Detect scans frames' spectral flux and returns onset events (spec.md
// §4.3). Onset times are taken from each frame's TimeSec.
func Detect(frames []spectral.Frame, opts Options) []model.OnsetEvent {
	if opts.WindowFrames <= 0 {
		opts = Defaults()
	}
	n := len(frames)
	if n == 0 {
		return nil
	}

	flux := make([]float64, n)
	var maxFlux float64
	for i, f := range frames {
		flux[i] = f.Flux
		if f.Flux > maxFlux {
			maxFlux = f.Flux
		}
	}
	if maxFlux == 0 {
		return nil
	}

	minGapSec := opts.MinGapMS / 1000.0
	var onsets []model.OnsetEvent
	var lastOnsetTime float64
	haveLast := false

	for i := 0; i < n; i++ {
		lo := i - opts.WindowFrames
		if lo < 0 {
			lo = 0
		}
		hi := i
		window := flux[lo:hi]
		threshold := median(window) + opts.Delta + opts.Lambda*mean(window)

		if flux[i] <= threshold {
			continue
		}

		// Local-maximum check within ±pre/post frames. Ties (equal flux)
		// break toward the earlier frame: a later equal value is not
		// treated as exceeding this one.
		isMax := true
		plo := i - opts.Pre
		if plo < 0 {
			plo = 0
		}
		phi := i + opts.Post
		if phi >= n {
			phi = n - 1
		}
		for j := plo; j <= phi; j++ {
			if j == i {
				continue
			}
			if flux[j] > flux[i] {
				isMax = false
				break
			}
		}
		if !isMax {
			continue
		}

		t := frames[i].TimeSec
		if haveLast && t-lastOnsetTime < minGapSec {
			continue
		}

		strength := (flux[i] - threshold) / maxFlux
		if strength < 0 {
			strength = 0
		}
		if strength > 1 {
			strength = 1
		}
		if math.IsNaN(strength) {
			strength = 0
		}

		onsets = append(onsets, model.OnsetEvent{Time: t, Strength: strength})
		lastOnsetTime = t
		haveLast = true
	}

	return onsets
}
