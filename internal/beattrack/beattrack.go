// Package beattrack implements the Beat Tracker (C6 in spec.md §2): a
// dynamic-programming alignment of onsets to the tempo grid, recovered via
// back-pointers, with graceful degradation to pure onset passthrough when
// no tempo is available.
//
// The "always degrade gracefully instead of failing" shape follows the
// teacher's internal/video/matcher.go tiered match-level fallback
// (MatchExact down to MatchRandom): here the only two tiers are
// "tempo-aligned" and "bare onset", but the principle — never refuse to
// produce beats, only downgrade confidence — is the same.
package beattrack

import (
	"math"

	"github.com/sw6820/beat-parser-core-sub001/internal/model"
)

// Options configures beat tracking.
type Options struct {
	StrengthWeight float64 // w_s, default 0.6
	TimingWeight   float64 // w_t, default 0.4
}

// Defaults returns the conventional beat-tracking configuration.
func Defaults() Options {
	return Options{StrengthWeight: 0.6, TimingWeight: 0.4}
}

// Track aligns onsets with the tempo grid via dynamic programming and
// returns beat candidates (spec.md §4.5). When tempo is nil, it degrades to
// pure onset passthrough with confidence = strength.
func Track(onsets []model.OnsetEvent, tempo *model.Tempo, opts Options) []model.BeatCandidate {
	if opts.StrengthWeight == 0 && opts.TimingWeight == 0 {
		opts = Defaults()
	}
	if len(onsets) == 0 {
		return nil
	}

	if !tempo.Valid() {
		out := make([]model.BeatCandidate, len(onsets))
		for i, o := range onsets {
			out[i] = model.BeatCandidate{
				Time:       o.Time,
				Strength:   o.Strength,
				Confidence: o.Strength,
				Origin:     model.OriginDetected,
			}
		}
		return out
	}

	idealInterval := 60.0 / tempo.BPM
	n := len(onsets)

	// cost[i] = best (lowest) cumulative cost of a path ending by choosing
	// onset i; back[i] = index of the predecessor onset on that path, or -1
	// if i is the path's first chosen onset.
	cost := make([]float64, n)
	back := make([]int, n)
	for i := range cost {
		// Base cost of starting the path here: reward strength, same sign
		// convention as the transition cost below (lower is better).
		cost[i] = -onsets[i].Strength
		back[i] = -1
	}

	for i := 1; i < n; i++ {
		for j := 0; j < i; j++ {
			interval := onsets[i].Time - onsets[j].Time
			if interval <= 0 {
				continue
			}
			deviation := interval - idealInterval
			transitionCost := deviation*deviation - onsets[i].Strength
			candidate := cost[j] + transitionCost
			if candidate < cost[i] {
				cost[i] = candidate
				back[i] = j
			}
		}
	}

	// The optimal path ends at whichever onset has the lowest cumulative
	// cost reachable from any start.
	best := 0
	for i := 1; i < n; i++ {
		if cost[i] < cost[best] {
			best = i
		}
	}

	var pathIdx []int
	for i := best; i != -1; i = back[i] {
		pathIdx = append(pathIdx, i)
	}
	// Reverse into chronological order.
	for l, r := 0, len(pathIdx)-1; l < r; l, r = l+1, r-1 {
		pathIdx[l], pathIdx[r] = pathIdx[r], pathIdx[l]
	}

	out := make([]model.BeatCandidate, 0, len(pathIdx))
	var prevTime float64
	havePrev := false
	for _, idx := range pathIdx {
		o := onsets[idx]
		var normDeviation float64
		if havePrev {
			interval := o.Time - prevTime
			normDeviation = math.Abs(interval-idealInterval) / idealInterval
			if normDeviation > 1 {
				normDeviation = 1
			}
		}
		confidence := opts.StrengthWeight*o.Strength + opts.TimingWeight*(1-normDeviation)
		confidence = clamp01(confidence)

		out = append(out, model.BeatCandidate{
			Time:       o.Time,
			Strength:   o.Strength,
			Confidence: confidence,
			Origin:     model.OriginDetected,
		})
		prevTime = o.Time
		havePrev = true
	}
	return out
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
