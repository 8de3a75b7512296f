package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sw6820/beat-parser-core-sub001/internal/config"
	"github.com/sw6820/beat-parser-core-sub001/internal/selector"
)

func TestDefaultRuntimeValidates(t *testing.T) {
	require.NoError(t, config.DefaultRuntime().Validate())
}

func TestRuntimeValidateRejectsInvertedBPMRange(t *testing.T) {
	r := config.DefaultRuntime()
	r.MinBPM = 200
	r.MaxBPM = 60
	assert.Error(t, r.Validate())
}

func TestLoadFallsBackToDefaultsWhenFileMissing(t *testing.T) {
	r, err := config.Load("/nonexistent/path/to/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultRuntime(), r)
}

func TestParseOptionsValidateRequiresStrategy(t *testing.T) {
	opts := config.ParseOptions{BeatCount: 4, Weights: selector.DefaultWeights()}
	assert.Error(t, opts.Validate())
}

func TestStreamingOptionsValidateRejectsLowOverlap(t *testing.T) {
	opts := config.StreamingOptions{WindowSeconds: 5, OverlapRatio: 0.05}
	assert.Error(t, opts.Validate())
}

func TestDefaultStreamingOptionsValidates(t *testing.T) {
	assert.NoError(t, config.DefaultStreamingOptions().Validate())
}
