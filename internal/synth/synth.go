// Package synth implements the Synthetic Beat Generator (C8 in spec.md
// §2): invoked whenever the detected beat pool is smaller than the
// requested count, it preserves every detected beat and fills the
// remainder by farthest-point insertion on the tempo grid (or uniform
// placement when no valid tempo exists), subject to the minimum-spacing
// guard (spec.md §4.7).
package synth

import (
	"math"
	"sort"

	"github.com/sw6820/beat-parser-core-sub001/internal/model"
)

// Fill preserves every beat in detected and adds synthetic beats (tagged
// model.OriginSynthetic) until len(result) == min(n, ...) per spec.md §4.7.
// tempo may be nil or invalid (bpm <= 0 or > 600), in which case placement
// falls back to uniform spacing across [0, duration].
func Fill(detected []model.BeatCandidate, n int, tempo *model.Tempo, duration float64, minSpacingMS float64) []model.BeatCandidate {
	if n <= len(detected) {
		out := append([]model.BeatCandidate(nil), detected...)
		sortByTime(out)
		if n < len(out) {
			out = out[:n]
		}
		return out
	}

	needed := n - len(detected)
	minSpacingSec := minSpacingMS / 1000.0

	meanStrength, meanConfidence := meanOf(detected)
	synthStrength := meanStrength * 0.9
	synthConfidence := meanConfidence * 0.6

	existing := make([]float64, len(detected))
	for i, b := range detected {
		existing[i] = b.Time
	}

	var candidates []float64
	if tempo.Valid() {
		candidates = tempoGridPositions(tempo.BPM, duration)
	} else {
		candidates = uniformPositions(duration, n)
	}

	synthTimes := farthestPointInsert(existing, candidates, needed, minSpacingSec)

	out := append([]model.BeatCandidate(nil), detected...)
	for _, t := range synthTimes {
		out = append(out, model.BeatCandidate{
			Time:         t,
			Strength:     synthStrength,
			Confidence:   synthConfidence,
			Origin:       model.OriginSynthetic,
			Synthetic:    true,
			Interpolated: true,
		})
	}
	sortByTime(out)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func sortByTime(beats []model.BeatCandidate) {
	sort.SliceStable(beats, func(i, j int) bool { return beats[i].Time < beats[j].Time })
}

func meanOf(beats []model.BeatCandidate) (strength, confidence float64) {
	if len(beats) == 0 {
		return 0, 0
	}
	var s, c float64
	for _, b := range beats {
		s += b.Strength
		c += b.Confidence
	}
	n := float64(len(beats))
	return s / n, c / n
}

func tempoGridPositions(bpm, duration float64) []float64 {
	step := 60.0 / bpm
	var positions []float64
	for t := 0.0; t <= duration; t += step {
		positions = append(positions, t)
	}
	return positions
}

func uniformPositions(duration float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	positions := make([]float64, 0, n*2)
	// Oversample a uniform grid so farthest-point insertion still has
	// enough candidate slots to choose from after existing beats are
	// accounted for.
	count := n * 2
	if count < 8 {
		count = 8
	}
	step := duration / float64(count)
	for i := 0; i < count; i++ {
		positions = append(positions, (float64(i)+0.5)*step)
	}
	return positions
}

// farthestPointInsert greedily picks, from candidates, the position
// farthest from any already-chosen or pre-existing time, repeating until
// `needed` points are chosen or candidates are exhausted, skipping any
// candidate within minSpacingSec of an already-chosen point.
func farthestPointInsert(existing, candidates []float64, needed int, minSpacingSec float64) []float64 {
	chosen := append([]float64(nil), existing...)
	var result []float64

	available := append([]float64(nil), candidates...)

	for len(result) < needed && len(available) > 0 {
		bestIdx := -1
		bestDist := -1.0
		for i, c := range available {
			d := nearestDistance(c, chosen)
			if d < minSpacingSec {
				continue
			}
			if d > bestDist {
				bestDist = d
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		picked := available[bestIdx]
		result = append(result, picked)
		chosen = append(chosen, picked)
		available = append(available[:bestIdx], available[bestIdx+1:]...)
	}
	return result
}

func nearestDistance(t float64, points []float64) float64 {
	if len(points) == 0 {
		return math.Inf(1)
	}
	best := math.Inf(1)
	for _, p := range points {
		d := math.Abs(t - p)
		if d < best {
			best = d
		}
	}
	return best
}
