// Package selector implements the Beat Selector (C7 in spec.md §2): the
// largest single component, it picks up to N beats from a candidate pool
// under one of four strategies, synthesizes additional beats through
// internal/synth when the pool is too small, enforces a minimum inter-beat
// spacing, and scores the result with a quality report (spec.md §4.6).
//
// The tagged-variant dispatch (one Strategy enum, one Select entry point,
// per-strategy private functions) generalizes the teacher's
// internal/video/matcher.go tiered match-level fallback: there the tiers
// were match confidence levels tried in sequence, here they are four
// independent ranking schemes chosen up front by the caller.
package selector

import (
	"math"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/sw6820/beat-parser-core-sub001/internal/model"
	"github.com/sw6820/beat-parser-core-sub001/internal/perr"
	"github.com/sw6820/beat-parser-core-sub001/internal/synth"
)

// Strategy names one of the four beat-selection schemes (spec.md §4.6).
type Strategy string

const (
	StrategyEnergy   Strategy = "energy"
	StrategyRegular  Strategy = "regular"
	StrategyMusical  Strategy = "musical"
	StrategyAdaptive Strategy = "adaptive"
)

func (s Strategy) valid() bool {
	switch s {
	case StrategyEnergy, StrategyRegular, StrategyMusical, StrategyAdaptive:
		return true
	}
	return false
}

// Weights blends the Adaptive strategy's component scores and the Musical
// strategy's scoring terms (spec.md §4.6). The
// three values must lie in [0,1] and sum to 1 within 1e-6.
type Weights struct {
	Energy     float64 `validate:"gte=0,lte=1"`
	Regularity float64 `validate:"gte=0,lte=1"`
	Musical    float64 `validate:"gte=0,lte=1"`
}

// DefaultWeights returns an even three-way split.
func DefaultWeights() Weights {
	return Weights{Energy: 1.0 / 3, Regularity: 1.0 / 3, Musical: 1.0 / 3}
}

var validate = validator.New()

func (w Weights) check() error {
	if err := validate.Struct(w); err != nil {
		return perr.Configuration("selection weights out of range", err)
	}
	sum := w.Energy + w.Regularity + w.Musical
	if math.Abs(sum-1.0) > 1e-6 {
		return perr.Configuration("selection weights must sum to 1", nil)
	}
	return nil
}

// Result is the outcome of Select: the chosen beats (sorted by time, length
// <= n) plus a quality report.
type Result struct {
	Beats   []model.BeatCandidate
	Quality model.QualityReport
}

// Select picks up to n beats from candidates using strategy, delegating to
// synth.Fill when fewer than n survive filtering, then applies the
// minimum-spacing guard and scores the result (spec.md §4.6/§4.7).
func Select(candidates []model.BeatCandidate, n int, strategy Strategy, tempo *model.Tempo, duration float64, weights Weights, minSpacingMS float64) (Result, error) {
	if n < 0 {
		return Result{}, perr.Configuration("requested beat count must be >= 0", nil)
	}
	if !strategy.valid() {
		return Result{}, perr.Configuration("unknown selection strategy", nil)
	}
	if strategy == StrategyMusical && !tempo.Valid() {
		return Result{}, perr.Configuration("musical strategy requires a valid tempo", nil)
	}
	if err := weights.check(); err != nil {
		return Result{}, err
	}
	if duration <= 0 {
		return Result{}, perr.Configuration("duration must be positive", nil)
	}

	if n == 0 {
		return Result{Beats: nil, Quality: model.QualityReport{}}, nil
	}

	filtered := filterFinite(candidates)
	filtered = dedup(filtered)

	var pool []model.BeatCandidate
	if len(filtered) < n {
		pool = synth.Fill(filtered, n, tempo, duration, minSpacingMS)
	} else {
		pool = filtered
	}

	var chosen []model.BeatCandidate
	switch strategy {
	case StrategyEnergy:
		chosen = selectEnergy(pool, n)
	case StrategyRegular:
		chosen = selectRegular(pool, n, duration)
	case StrategyMusical:
		chosen = selectMusical(pool, n, tempo, weights)
	case StrategyAdaptive:
		chosen = selectAdaptive(pool, n, tempo, duration, weights, minSpacingMS)
	}

	if strategy != StrategyAdaptive {
		chosen = enforceSpacing(chosen, minSpacingMS, pool)
	}

	sortByTime(chosen)
	quality := scoreQuality(chosen, duration)
	return Result{Beats: chosen, Quality: quality}, nil
}

func filterFinite(in []model.BeatCandidate) []model.BeatCandidate {
	out := make([]model.BeatCandidate, 0, len(in))
	for _, b := range in {
		if math.IsNaN(b.Time) || math.IsInf(b.Time, 0) {
			continue
		}
		if math.IsNaN(b.Strength) || math.IsInf(b.Strength, 0) {
			continue
		}
		if math.IsNaN(b.Confidence) || math.IsInf(b.Confidence, 0) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func dedup(in []model.BeatCandidate) []model.BeatCandidate {
	seen := make(map[float64]bool, len(in))
	out := make([]model.BeatCandidate, 0, len(in))
	for _, b := range in {
		if seen[b.Time] {
			continue
		}
		seen[b.Time] = true
		out = append(out, b)
	}
	return out
}

func sortByTime(beats []model.BeatCandidate) {
	sort.SliceStable(beats, func(i, j int) bool { return beats[i].Time < beats[j].Time })
}

// --- Energy strategy: rank by strength, tie-break by confidence then time.

func selectEnergy(pool []model.BeatCandidate, n int) []model.BeatCandidate {
	ranked := append([]model.BeatCandidate(nil), pool...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Strength != ranked[j].Strength {
			return ranked[i].Strength > ranked[j].Strength
		}
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].Time < ranked[j].Time
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := append([]model.BeatCandidate(nil), ranked...)
	sortByTime(out)
	return out
}

// --- Regular strategy: nearest candidate to each of N evenly spaced targets.

func selectRegular(pool []model.BeatCandidate, n int, duration float64) []model.BeatCandidate {
	used := make([]bool, len(pool))
	var out []model.BeatCandidate
	tolerance := duration / (2 * float64(n))

	for i := 0; i < n; i++ {
		target := (float64(i) + 0.5) * duration / float64(n)
		best := -1
		bestDist := math.Inf(1)
		for j, b := range pool {
			if used[j] {
				continue
			}
			d := math.Abs(b.Time - target)
			if d > tolerance {
				continue
			}
			if d < bestDist {
				bestDist = d
				best = j
			}
		}
		if best == -1 {
			continue
		}
		used[best] = true
		out = append(out, pool[best])
	}
	return out
}

// --- Musical strategy: score against the tempo grid, attach musical metadata.

func selectMusical(pool []model.BeatCandidate, n int, tempo *model.Tempo, w Weights) []model.BeatCandidate {
	beatSec := 60.0 / tempo.BPM
	halfBeat := beatSec / 2

	beatsPerMeasure := 4
	if tempo.TimeSignature != nil && tempo.TimeSignature.Numerator > 0 {
		beatsPerMeasure = tempo.TimeSignature.Numerator
	}

	type scored struct {
		beat  model.BeatCandidate
		score float64
	}
	scoredPool := make([]scored, len(pool))
	for i, b := range pool {
		gridIdx := math.Round(b.Time / beatSec)
		expected := gridIdx * beatSec
		deviation := math.Abs(b.Time - expected)
		if deviation > halfBeat {
			deviation = halfBeat
		}
		timingFit := 1 - deviation/halfBeat

		beatNum := int(gridIdx) % beatsPerMeasure
		if beatNum < 0 {
			beatNum += beatsPerMeasure
		}
		downbeatBonus := 0.0
		if beatNum == 0 {
			downbeatBonus = 1.0
		}

		score := w.Energy*b.Strength + w.Regularity*timingFit + w.Musical*downbeatBonus

		beat := b
		beat.ExpectedTime = f64ptr(expected)
		dev := b.Time - expected
		beat.TimingDeviation = f64ptr(dev)
		gi := int(gridIdx)
		beat.GridIndex = &gi
		bn := beatNum + 1
		beat.BeatNumber = &bn
		mn := int(gridIdx) / beatsPerMeasure
		beat.MeasureNumber = &mn
		beat.Type = classifyBeatType(beatNum, deviation, halfBeat)

		scoredPool[i] = scored{beat: beat, score: score}
	}

	sort.SliceStable(scoredPool, func(i, j int) bool { return scoredPool[i].score > scoredPool[j].score })
	if len(scoredPool) > n {
		scoredPool = scoredPool[:n]
	}
	out := make([]model.BeatCandidate, len(scoredPool))
	for i, s := range scoredPool {
		out[i] = s.beat
	}
	sortByTime(out)
	return out
}

func classifyBeatType(beatNum int, deviation, halfBeat float64) model.BeatType {
	if beatNum == 0 {
		return model.BeatTypeDownbeat
	}
	if deviation > halfBeat*0.5 {
		return model.BeatTypeSyncopated
	}
	if beatNum%2 == 1 {
		return model.BeatTypeOffbeat
	}
	return model.BeatTypeBeat
}

func f64ptr(v float64) *float64 { return &v }

// --- Adaptive strategy: weighted blend of energy rank, regularity fit, and
// (when tempo is available) musical grid fit, greedily selected with an
// inline minimum-spacing guard.

func selectAdaptive(pool []model.BeatCandidate, n int, tempo *model.Tempo, duration float64, w Weights, minSpacingMS float64) []model.BeatCandidate {
	if len(pool) == 0 {
		return nil
	}
	ranked := append([]model.BeatCandidate(nil), pool...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Strength > ranked[j].Strength })
	energyRank := make(map[float64]float64, len(ranked))
	for i, b := range ranked {
		percentile := 1.0
		if len(ranked) > 1 {
			percentile = 1 - float64(i)/float64(len(ranked)-1)
		}
		energyRank[b.Time] = percentile
	}

	var beatSec, halfBeat float64
	haveTempo := tempo.Valid()
	if haveTempo {
		beatSec = 60.0 / tempo.BPM
		halfBeat = beatSec / 2
	}

	type scored struct {
		beat  model.BeatCandidate
		score float64
	}
	scoredPool := make([]scored, 0, len(pool))
	n2 := n
	if n2 < 1 {
		n2 = 1
	}
	for _, b := range pool {
		energyScore := energyRank[b.Time]

		target := math.Round(b.Time/(duration/float64(n2)))*duration/float64(n2) + duration/(2*float64(n2))
		regFit := 1 - math.Min(math.Abs(b.Time-target)/(duration/float64(n2)), 1)

		musicalScore := 0.0
		if haveTempo {
			gridIdx := math.Round(b.Time / beatSec)
			expected := gridIdx * beatSec
			deviation := math.Abs(b.Time - expected)
			if deviation > halfBeat {
				deviation = halfBeat
			}
			musicalScore = 1 - deviation/halfBeat
		}

		score := w.Energy*energyScore + w.Regularity*regFit + w.Musical*musicalScore
		scoredPool = append(scoredPool, scored{beat: b, score: score})
	}

	sort.SliceStable(scoredPool, func(i, j int) bool { return scoredPool[i].score > scoredPool[j].score })

	minSpacingSec := minSpacingMS / 1000.0
	var out []model.BeatCandidate
	for _, s := range scoredPool {
		if len(out) >= n {
			break
		}
		tooClose := false
		for _, chosen := range out {
			if math.Abs(chosen.Time-s.beat.Time) < minSpacingSec {
				tooClose = true
				break
			}
		}
		if tooClose {
			continue
		}
		out = append(out, s.beat)
	}
	sortByTime(out)
	return out
}

// enforceSpacing drops the lower-score beat of any pair closer than
// minSpacingMS, then promotes the next-best unused candidate from pool to
// backfill, per spec.md §4.7 / Open Question (a): spacing is enforced last
// and the result may end up shorter than n.
func enforceSpacing(chosen []model.BeatCandidate, minSpacingMS float64, pool []model.BeatCandidate) []model.BeatCandidate {
	minSpacingSec := minSpacingMS / 1000.0
	if minSpacingSec <= 0 || len(chosen) < 2 {
		return chosen
	}

	sortByTime(chosen)
	kept := make([]model.BeatCandidate, 0, len(chosen))
	chosenSet := make(map[float64]bool, len(chosen))
	for _, b := range chosen {
		chosenSet[b.Time] = true
	}

	for _, b := range chosen {
		if len(kept) == 0 {
			kept = append(kept, b)
			continue
		}
		last := kept[len(kept)-1]
		if b.Time-last.Time >= minSpacingSec {
			kept = append(kept, b)
			continue
		}
		// Keep whichever of the two scores higher (confidence, then strength).
		if betterBeat(b, last) {
			kept[len(kept)-1] = b
		}
	}

	target := len(chosen)
	if len(kept) >= target {
		return kept
	}

	used := make(map[float64]bool, len(kept))
	for _, b := range kept {
		used[b.Time] = true
	}
	candidates := make([]model.BeatCandidate, 0, len(pool))
	for _, b := range pool {
		if used[b.Time] {
			continue
		}
		candidates = append(candidates, b)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].Strength > candidates[j].Strength
	})

	for _, c := range candidates {
		if len(kept) >= target {
			break
		}
		ok := true
		for _, k := range kept {
			if math.Abs(k.Time-c.Time) < minSpacingSec {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		kept = append(kept, c)
		sortByTime(kept)
	}
	return kept
}

func betterBeat(a, b model.BeatCandidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Strength > b.Strength
}

// scoreQuality computes the quality report. |chosen|==0 yields all-zero
// fields (the empty-selection convention); |chosen|==1 yields spacing=1 by
// convention (a single beat has no neighbor to violate spacing) with
// coverage and diversity at 0.
func scoreQuality(chosen []model.BeatCandidate, duration float64) model.QualityReport {
	if len(chosen) == 0 {
		return model.QualityReport{}
	}
	if len(chosen) == 1 {
		return model.QualityReport{Coverage: 0, Diversity: 0, Spacing: 1, Overall: (0 + 0 + 1) / 3}
	}

	first, last := chosen[0].Time, chosen[len(chosen)-1].Time
	coverage := 0.0
	if duration > 0 {
		coverage = (last - first) / duration
		coverage = clamp01(coverage)
	}

	strengths := make([]float64, len(chosen))
	for i, b := range chosen {
		strengths[i] = b.Strength
	}
	diversity := clamp01(stdDev(strengths) / 0.5)

	intervals := make([]float64, len(chosen)-1)
	for i := 1; i < len(chosen); i++ {
		intervals[i-1] = chosen[i].Time - chosen[i-1].Time
	}
	spacing := coefficientOfVariationSpacing(intervals)

	overall := (coverage + diversity + spacing) / 3
	return model.QualityReport{Coverage: coverage, Diversity: diversity, Spacing: spacing, Overall: overall}
}

// coefficientOfVariationSpacing turns inter-beat intervals into a spacing
// score: 1 - cv(intervals), where cv is the coefficient of variation
// (stddev/mean). A zero mean (every chosen beat shares a timestamp) has no
// defined cv and scores 0.
func coefficientOfVariationSpacing(intervals []float64) float64 {
	var mean float64
	for _, iv := range intervals {
		mean += iv
	}
	mean /= float64(len(intervals))
	if mean == 0 {
		return 0
	}
	cv := stdDev(intervals) / mean
	return clamp01(1 - cv)
}

func stdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return math.Sqrt(variance)
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
