package selector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sw6820/beat-parser-core-sub001/internal/model"
	"github.com/sw6820/beat-parser-core-sub001/internal/selector"
)

func candidates(n int, spacing float64) []model.BeatCandidate {
	out := make([]model.BeatCandidate, n)
	for i := range out {
		out[i] = model.BeatCandidate{
			Time:       float64(i) * spacing,
			Strength:   0.5 + 0.01*float64(i%5),
			Confidence: 0.6,
			Origin:     model.OriginDetected,
		}
	}
	return out
}

func TestSelectEmptyRequestReturnsEmptyResult(t *testing.T) {
	res, err := selector.Select(candidates(10, 0.5), 0, selector.StrategyEnergy, nil, 10, selector.DefaultWeights(), 100)
	require.NoError(t, err)
	assert.Empty(t, res.Beats)
	assert.Zero(t, res.Quality.Overall)
}

func TestSelectRejectsUnknownStrategy(t *testing.T) {
	_, err := selector.Select(candidates(10, 0.5), 5, selector.Strategy("bogus"), nil, 10, selector.DefaultWeights(), 100)
	require.Error(t, err)
}

func TestSelectMusicalRequiresValidTempo(t *testing.T) {
	_, err := selector.Select(candidates(10, 0.5), 5, selector.StrategyMusical, nil, 10, selector.DefaultWeights(), 100)
	require.Error(t, err)
}

func TestSelectEnergyPicksTopN(t *testing.T) {
	cands := candidates(20, 0.5)
	res, err := selector.Select(cands, 4, selector.StrategyEnergy, nil, 10, selector.DefaultWeights(), 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Beats), 4)
}

func TestSelectRegularSpreadsAcrossDuration(t *testing.T) {
	cands := candidates(40, 0.25)
	res, err := selector.Select(cands, 5, selector.StrategyRegular, nil, 10, selector.DefaultWeights(), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Beats)
}

func TestSelectMusicalAttachesMetadata(t *testing.T) {
	cands := candidates(30, 0.5)
	tp := &model.Tempo{BPM: 120}
	res, err := selector.Select(cands, 6, selector.StrategyMusical, tp, 10, selector.DefaultWeights(), 0)
	require.NoError(t, err)
	require.NotEmpty(t, res.Beats)
	for _, b := range res.Beats {
		assert.NotNil(t, b.GridIndex)
		assert.NotNil(t, b.ExpectedTime)
		assert.NotEmpty(t, b.Type)
	}
}

func TestSelectAdaptiveRespectsSpacing(t *testing.T) {
	cands := candidates(50, 0.1)
	res, err := selector.Select(cands, 10, selector.StrategyAdaptive, nil, 10, selector.DefaultWeights(), 300)
	require.NoError(t, err)
	for i := 1; i < len(res.Beats); i++ {
		assert.GreaterOrEqual(t, res.Beats[i].Time-res.Beats[i-1].Time, 0.3-1e-9)
	}
}

func TestSelectDelegatesToSynthWhenPoolTooSmall(t *testing.T) {
	cands := candidates(2, 1.0)
	res, err := selector.Select(cands, 8, selector.StrategyEnergy, &model.Tempo{BPM: 120}, 10, selector.DefaultWeights(), 50)
	require.NoError(t, err)
	assert.Len(t, res.Beats, 8)
}

func TestSelectFiltersDuplicateTimestamps(t *testing.T) {
	cands := []model.BeatCandidate{
		{Time: 1.0, Strength: 0.5, Confidence: 0.5},
		{Time: 1.0, Strength: 0.5, Confidence: 0.5}, // duplicate timestamp
	}
	res, err := selector.Select(cands, 1, selector.StrategyEnergy, nil, 10, selector.DefaultWeights(), 0)
	require.NoError(t, err)
	assert.Len(t, res.Beats, 1)
}

func TestSelectWeightsMustSumToOne(t *testing.T) {
	bad := selector.Weights{Energy: 0.5, Regularity: 0.5, Musical: 0.5}
	_, err := selector.Select(candidates(10, 0.5), 3, selector.StrategyEnergy, nil, 10, bad, 0)
	require.Error(t, err)
}

func TestSelectQualitySpacingIsPerfectForEvenIntervals(t *testing.T) {
	cands := candidates(10, 1.0)
	res, err := selector.Select(cands, 10, selector.StrategyEnergy, nil, 10, selector.DefaultWeights(), 0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Quality.Spacing, 1e-9)
}

func TestSelectQualitySpacingPenalizesUnevenIntervals(t *testing.T) {
	cands := []model.BeatCandidate{
		{Time: 0.0, Strength: 0.5, Confidence: 0.5},
		{Time: 0.1, Strength: 0.5, Confidence: 0.5},
		{Time: 5.0, Strength: 0.5, Confidence: 0.5},
		{Time: 5.1, Strength: 0.5, Confidence: 0.5},
	}
	res, err := selector.Select(cands, 4, selector.StrategyEnergy, nil, 10, selector.DefaultWeights(), 0)
	require.NoError(t, err)
	assert.Less(t, res.Quality.Spacing, 0.5)
}

func TestSelectQualityDiversityNormalizesByHalf(t *testing.T) {
	cands := []model.BeatCandidate{
		{Time: 0.0, Strength: 0.0, Confidence: 0.5},
		{Time: 1.0, Strength: 1.0, Confidence: 0.5},
	}
	res, err := selector.Select(cands, 2, selector.StrategyEnergy, nil, 10, selector.DefaultWeights(), 0)
	require.NoError(t, err)
	// stdDev([0,1]) == 0.5, so diversity should saturate at 1.0 once
	// divided by the 0.5 normalization constant.
	assert.InDelta(t, 1.0, res.Quality.Diversity, 1e-9)
}
