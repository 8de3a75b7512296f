package plugin_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sw6820/beat-parser-core-sub001/internal/model"
	"github.com/sw6820/beat-parser-core-sub001/internal/perr"
	"github.com/sw6820/beat-parser-core-sub001/internal/plugin"
)

func TestApplyBeforeParseStopsAtFirstError(t *testing.T) {
	r := plugin.NewRegistry()
	var calledSecond bool
	r.RegisterBeforeParse("first", func(samples []float32, sampleRate int) error {
		return errors.New("reject")
	})
	r.RegisterBeforeParse("second", func(samples []float32, sampleRate int) error {
		calledSecond = true
		return nil
	})

	err := r.Snapshot().ApplyBeforeParse(nil, 44100)
	require.Error(t, err)
	assert.False(t, calledSecond)
}

func TestApplyBeforeParseErrorIdentifiesPlugin(t *testing.T) {
	r := plugin.NewRegistry()
	r.RegisterBeforeParse("gatekeeper", func(samples []float32, sampleRate int) error {
		return errors.New("rejected")
	})

	err := r.Snapshot().ApplyBeforeParse(nil, 44100)
	require.Error(t, err)

	var pluginErr *perr.Error
	require.ErrorAs(t, err, &pluginErr)
	assert.Equal(t, perr.KindPluginError, pluginErr.Kind)
	assert.Equal(t, "gatekeeper", pluginErr.PluginName)
}

func TestApplyTransformSamplesChains(t *testing.T) {
	r := plugin.NewRegistry()
	r.RegisterTransformSamples("doubler", func(mono []float32, sampleRate int) []float32 {
		out := make([]float32, len(mono))
		for i, s := range mono {
			out[i] = s * 2
		}
		return out
	})

	out := r.Snapshot().ApplyTransformSamples([]float32{1, 2}, 44100)
	assert.Equal(t, []float32{2, 4}, out)
}

func TestApplyAfterParseCanRewriteResult(t *testing.T) {
	r := plugin.NewRegistry()
	r.RegisterAfterParse("tagger", func(result model.ParseResult) model.ParseResult {
		result.Metadata.Strategy = "tagged"
		return result
	})

	out := r.Snapshot().ApplyAfterParse(model.ParseResult{})
	assert.Equal(t, "tagged", out.Metadata.Strategy)
}

func TestApplyAfterParseChainsInOrder(t *testing.T) {
	r := plugin.NewRegistry()
	r.RegisterAfterParse("first", func(result model.ParseResult) model.ParseResult {
		result.Metadata.TotalCandidates++
		return result
	})
	r.RegisterAfterParse("second", func(result model.ParseResult) model.ParseResult {
		result.Metadata.TotalCandidates *= 10
		return result
	})

	out := r.Snapshot().ApplyAfterParse(model.ParseResult{})
	assert.Equal(t, 10, out.Metadata.TotalCandidates)
}

func TestSnapshotIsolatesLateRegistrations(t *testing.T) {
	r := plugin.NewRegistry()
	snap := r.Snapshot()

	var calledOnSnapshot bool
	r.RegisterAfterParse("late", func(result model.ParseResult) model.ParseResult {
		calledOnSnapshot = true
		return result
	})

	snap.ApplyAfterParse(model.ParseResult{})
	assert.False(t, calledOnSnapshot, "snapshot predates the registration and must not observe it")

	var calledOnFreshSnapshot bool
	r.RegisterAfterParse("later", func(result model.ParseResult) model.ParseResult {
		calledOnFreshSnapshot = true
		return result
	})
	r.Snapshot().ApplyAfterParse(model.ParseResult{})
	assert.True(t, calledOnFreshSnapshot)
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *plugin.Registry
	assert.NoError(t, r.ApplyBeforeParse(nil, 0))
	assert.Nil(t, r.ApplyTransformSamples(nil, 0))
	out := r.ApplyAfterParse(model.ParseResult{})
	assert.Equal(t, model.ParseResult{}, out)
}
