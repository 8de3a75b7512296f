// Package tempo implements the Tempo Estimator (C5 in spec.md §2):
// autocorrelation of the onset-strength envelope across a BPM range,
// octave-ambiguity resolution biased toward ~120 BPM, confidence scoring,
// and half-time/double-time folding into [min_tempo, max_tempo].
//
// This is a direct generalization of the teacher's internal/bpm/bpm.go
// detectBPM: that function autocorrelated a fixed-window RMS-flux envelope
// over a hardcoded 60..200 BPM range and folded octaves at the end; here
// the envelope is the onset-strength train from C4, the BPM range and the
// octave-bias target are configurable, and a confidence score plus
// lightweight time-signature inference are added per spec.md §4.4.
package tempo

import (
	"math"
	"sort"

	"github.com/sw6820/beat-parser-core-sub001/internal/model"
)

// Options configures tempo estimation.
type Options struct {
	MinBPM      float64 // default 60
	MaxBPM      float64 // default 200
	BiasBPM     float64 // octave-disambiguation target, default 120
	TempoFloor  float64 // minimum acceptable peak autocorrelation, default 0
	TopKPeaks   int     // peaks averaged for confidence denominator, default 5
}

// Defaults returns the conventional tempo-estimation configuration.
func Defaults() Options {
	return Options{MinBPM: 60, MaxBPM: 200, BiasBPM: 120, TempoFloor: 0, TopKPeaks: 5}
}

// buildEnvelope maps onset events onto a regular grid of step seconds,
// covering [0, duration]. Each cell holds the strength of any onset that
// falls within it (0 if none); a single onset never contributes to two
// cells, matching the teacher's one-sample-per-window flux envelope.
func buildEnvelope(onsets []model.OnsetEvent, step, duration float64) []float64 {
	if step <= 0 || duration <= 0 {
		return nil
	}
	n := int(duration/step) + 1
	if n < 1 {
		n = 1
	}
	env := make([]float64, n)
	for _, o := range onsets {
		idx := int(o.Time / step)
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		if o.Strength > env[idx] {
			env[idx] = o.Strength
		}
	}
	return env
}

// Estimate computes the Tempo from a set of onset events. step is the
// seconds-per-envelope-cell (hop_size/sample_rate); duration is the total
// audio duration in seconds. Returns nil when no usable tempo is
// found (spec.md §4.4: "downstream components must tolerate absent tempo").
func Estimate(onsets []model.OnsetEvent, step, duration float64, opts Options) *model.Tempo {
	if opts.MinBPM <= 0 {
		opts = Defaults()
	}
	if len(onsets) == 0 || step <= 0 || duration <= 0 {
		return nil
	}

	env := buildEnvelope(onsets, step, duration)
	n := len(env)
	if n < 4 {
		return nil
	}

	stepsPerSecond := 1.0 / step
	minLag := int(stepsPerSecond * 60.0 / opts.MaxBPM)
	maxLag := int(stepsPerSecond * 60.0 / opts.MinBPM)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= n/2 {
		maxLag = n/2 - 1
	}
	if minLag >= maxLag {
		return nil
	}

	type lagCorr struct {
		lag  int
		corr float64
	}
	corrs := make([]lagCorr, 0, maxLag-minLag+1)

	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		var count int
		for i := 0; i+lag < n; i++ {
			corr += env[i] * env[i+lag]
			count++
		}
		if count > 0 {
			corr /= float64(count)
		}
		// Bias toward the configured target BPM to break octave ambiguity,
		// same intent as the teacher's post-hoc fold-to-[60,200] step but
		// applied as a smooth weight instead of a hard fold first.
		bpm := stepsPerSecond * 60.0 / float64(lag)
		octaveDistance := math.Abs(math.Log2(bpm / opts.BiasBPM))
		weight := 1.0 / (1.0 + octaveDistance)
		corrs = append(corrs, lagCorr{lag: lag, corr: corr * weight})
	}

	sort.Slice(corrs, func(i, j int) bool { return corrs[i].corr > corrs[j].corr })
	if len(corrs) == 0 || corrs[0].corr <= opts.TempoFloor {
		return nil
	}

	bestLag := corrs[0].lag
	bpm := stepsPerSecond * 60.0 / float64(bestLag)

	// Fold octave errors into the requested range (teacher's detectBPM
	// normalization, generalized to the configured min/max instead of the
	// hardcoded 60/200).
	for bpm < opts.MinBPM && bpm > 0 {
		bpm *= 2
	}
	for bpm > opts.MaxBPM {
		bpm /= 2
	}
	bpm = math.Round(bpm*10) / 10

	k := opts.TopKPeaks
	if k <= 0 || k > len(corrs) {
		k = len(corrs)
	}
	var topSum float64
	for i := 0; i < k; i++ {
		topSum += corrs[i].corr
	}
	topMean := topSum / float64(k)
	confidence := 0.0
	if topMean > 0 {
		confidence = corrs[0].corr / topMean
	}
	confidence = clamp01(confidence)

	t := &model.Tempo{BPM: bpm, Confidence: confidence}
	t.TimeSignature = inferTimeSignature(onsets, bpm)
	return t
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

// inferTimeSignature snaps each onset to its nearest beat-grid index and,
// for measures of 4 and of 3 beats, scores the fraction of onsets landing on
// a measure's first beat that are at least median strength; it returns the
// better-fitting signature, or nil when neither fits convincingly
// (spec.md §9(b): time signature is opportunistic, never required).
func inferTimeSignature(onsets []model.OnsetEvent, bpm float64) *model.TimeSignature {
	if bpm <= 0 || len(onsets) < 8 {
		return nil
	}
	beatSec := 60.0 / bpm

	// Strong onsets are candidates for downbeats: top half by strength.
	strengths := make([]float64, len(onsets))
	for i, o := range onsets {
		strengths[i] = o.Strength
	}
	sorted := append([]float64(nil), strengths...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]

	score := func(beatsPerMeasure int) float64 {
		var hits, total int
		beatIdx := 0
		for _, o := range onsets {
			// Nearest beat-grid index from time zero.
			idx := int(math.Round(o.Time / beatSec))
			if idx%beatsPerMeasure == 0 {
				total++
				if o.Strength >= median {
					hits++
				}
			}
			beatIdx++
		}
		if total == 0 {
			return 0
		}
		return float64(hits) / float64(total)
	}

	s4 := score(4)
	s3 := score(3)
	const minFit = 0.55
	switch {
	case s4 >= minFit && s4 >= s3:
		return &model.TimeSignature{Numerator: 4, Denominator: 4}
	case s3 >= minFit:
		return &model.TimeSignature{Numerator: 3, Denominator: 4}
	default:
		return nil
	}
}
