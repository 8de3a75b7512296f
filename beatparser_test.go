package beatparser_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	beatparser "github.com/sw6820/beat-parser-core-sub001"
)

// clickTrack synthesizes a mono sine-burst click track at the given BPM,
// sample rate, and duration.
func clickTrack(bpm float64, sampleRate, durationSec int) []float32 {
	n := sampleRate * durationSec
	out := make([]float32, n)
	step := 60.0 / bpm
	clickLen := sampleRate / 50 // 20ms burst

	for t := 0.0; t < float64(durationSec); t += step {
		start := int(t * float64(sampleRate))
		for i := 0; i < clickLen && start+i < n; i++ {
			out[start+i] = float32(0.8 * math.Sin(2*math.Pi*1000*float64(i)/float64(sampleRate)))
		}
	}
	return out
}

func newParser(t *testing.T) *beatparser.Parser {
	t.Helper()
	p := beatparser.New(beatparser.DefaultConfig())
	require.NoError(t, p.Initialize())
	t.Cleanup(p.Close)
	return p
}

func TestParseBufferReturnsExactlyNBeatsForClickTrack(t *testing.T) {
	p := newParser(t)
	samples := clickTrack(120, 44100, 10)

	opts := beatparser.DefaultParseOptions(16)
	result, err := p.ParseBuffer(context.Background(), samples, 1, 44100, opts)
	require.NoError(t, err)
	assert.Len(t, result.Beats, 16)
	assert.NotNil(t, result.Tempo)
	assert.InDelta(t, 120, result.Tempo.BPM, 5.0)
}

func TestParseBufferHandlesSilence(t *testing.T) {
	p := newParser(t)
	silence := make([]float32, 44100*5)

	opts := beatparser.DefaultParseOptions(8)
	result, err := p.ParseBuffer(context.Background(), silence, 1, 44100, opts)
	require.NoError(t, err)
	assert.True(t, result.Metadata.Quiet)
	assert.Empty(t, result.Beats)
	assert.Nil(t, result.Tempo)
}

func TestParseBufferReturnsNoBeatsForZeroRequested(t *testing.T) {
	p := newParser(t)
	samples := clickTrack(100, 44100, 3)

	opts := beatparser.DefaultParseOptions(0)
	result, err := p.ParseBuffer(context.Background(), samples, 1, 44100, opts)
	require.NoError(t, err)
	assert.Empty(t, result.Beats)
}

func TestParseBufferAppliesPluginHooks(t *testing.T) {
	p := beatparser.New(beatparser.DefaultConfig())
	require.NoError(t, p.Initialize())
	defer p.Close()

	var sawBeforeParse, sawAfterParse bool
	p.RegisterBeforeParse("test-before", func(samples []float32, sampleRate int) error {
		sawBeforeParse = true
		return nil
	})
	p.RegisterAfterParse("test-after", func(result beatparser.Result) beatparser.Result {
		sawAfterParse = true
		return result
	})

	samples := clickTrack(128, 44100, 5)
	opts := beatparser.DefaultParseOptions(4)
	_, err := p.ParseBuffer(context.Background(), samples, 1, 44100, opts)
	require.NoError(t, err)
	assert.True(t, sawBeforeParse)
	assert.True(t, sawAfterParse)
}

func TestAfterParseHookCanRewriteResult(t *testing.T) {
	p := beatparser.New(beatparser.DefaultConfig())
	require.NoError(t, p.Initialize())
	defer p.Close()

	p.RegisterAfterParse("tag-injector", func(result beatparser.Result) beatparser.Result {
		result.Metadata.Strategy = "overridden-by-hook"
		return result
	})

	samples := clickTrack(128, 44100, 5)
	opts := beatparser.DefaultParseOptions(4)
	result, err := p.ParseBuffer(context.Background(), samples, 1, 44100, opts)
	require.NoError(t, err)
	assert.Equal(t, "overridden-by-hook", result.Metadata.Strategy)
}

func TestBeforeParseRejectionReturnsPluginError(t *testing.T) {
	p := beatparser.New(beatparser.DefaultConfig())
	require.NoError(t, p.Initialize())
	defer p.Close()

	p.RegisterBeforeParse("gatekeeper", func(samples []float32, sampleRate int) error {
		return assert.AnError
	})

	samples := clickTrack(128, 44100, 5)
	opts := beatparser.DefaultParseOptions(4)
	_, err := p.ParseBuffer(context.Background(), samples, 1, 44100, opts)
	require.Error(t, err)

	var perr *beatparser.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, beatparser.ErrorKind("plugin_error"), perr.Kind)
	assert.Equal(t, "gatekeeper", perr.PluginName)
}

func TestParseBufferRespectsCancellation(t *testing.T) {
	p := newParser(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	samples := clickTrack(120, 44100, 5)
	opts := beatparser.DefaultParseOptions(4)
	_, err := p.ParseBuffer(ctx, samples, 1, 44100, opts)
	require.Error(t, err)
}

func TestParseStreamMatchesBufferBeatCount(t *testing.T) {
	p := newParser(t)
	samples := clickTrack(120, 44100, 20)

	opts := beatparser.DefaultParseOptions(4)
	streamOpts := beatparser.DefaultStreamingOptions()
	result, err := p.ParseStream(context.Background(), samples, 1, 44100, opts, streamOpts)
	require.NoError(t, err)
	assert.Len(t, result.Beats, 4)
	assert.NotNil(t, result.Tempo)
}

func TestParseStreamDedupsOverlappingDetections(t *testing.T) {
	p := newParser(t)
	samples := clickTrack(120, 44100, 20)

	bufOpts := beatparser.DefaultParseOptions(8)
	bufResult, err := p.ParseBuffer(context.Background(), samples, 1, 44100, bufOpts)
	require.NoError(t, err)

	streamOpts := beatparser.DefaultStreamingOptions()
	streamResult, err := p.ParseStream(context.Background(), samples, 1, 44100, bufOpts, streamOpts)
	require.NoError(t, err)

	assert.Equal(t, len(bufResult.Beats), len(streamResult.Beats))
}
