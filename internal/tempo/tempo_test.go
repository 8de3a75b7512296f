package tempo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sw6820/beat-parser-core-sub001/internal/model"
	"github.com/sw6820/beat-parser-core-sub001/internal/tempo"
)

// clickTrack synthesizes onset events at a fixed BPM over duration seconds.
func clickTrack(bpm, duration float64) []model.OnsetEvent {
	step := 60.0 / bpm
	var onsets []model.OnsetEvent
	for t := 0.0; t < duration; t += step {
		onsets = append(onsets, model.OnsetEvent{Time: t, Strength: 1.0})
	}
	return onsets
}

func TestEstimateRecoversKnownBPM(t *testing.T) {
	onsets := clickTrack(120, 20)
	step := 512.0 / 44100.0
	tp := tempo.Estimate(onsets, step, 20, tempo.Defaults())
	require.NotNil(t, tp)
	assert.InDelta(t, 120, tp.BPM, 2.0)
	assert.True(t, tp.Confidence > 0)
}

func TestEstimateReturnsNilForEmptyOnsets(t *testing.T) {
	assert.Nil(t, tempo.Estimate(nil, 0.01, 20, tempo.Defaults()))
}

func TestEstimateReturnsNilForTooShortAudio(t *testing.T) {
	onsets := clickTrack(120, 1)
	assert.Nil(t, tempo.Estimate(onsets, 0.01, 0, tempo.Defaults()))
}

func TestEstimateFoldsOctaveIntoRange(t *testing.T) {
	// A 240 BPM click track should fold down toward [60,200] given the
	// default bias of 120.
	onsets := clickTrack(240, 20)
	step := 512.0 / 44100.0
	tp := tempo.Estimate(onsets, step, 20, tempo.Defaults())
	require.NotNil(t, tp)
	assert.GreaterOrEqual(t, tp.BPM, 60.0)
	assert.LessOrEqual(t, tp.BPM, 200.0)
}

func TestTempoValid(t *testing.T) {
	assert.False(t, (*model.Tempo)(nil).Valid())
	assert.False(t, (&model.Tempo{BPM: 0}).Valid())
	assert.False(t, (&model.Tempo{BPM: 601}).Valid())
	assert.True(t, (&model.Tempo{BPM: 120}).Valid())
}
