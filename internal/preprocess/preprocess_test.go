package preprocess_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sw6820/beat-parser-core-sub001/internal/preprocess"
)

func TestDownmixAveragesChannels(t *testing.T) {
	interleaved := []float32{1, -1, 0.5, -0.5}
	mono := preprocess.Downmix(interleaved, 2)
	require.Len(t, mono, 2)
	assert.InDelta(t, 0.0, mono[0], 1e-6)
	assert.InDelta(t, 0.0, mono[1], 1e-6)
}

func TestDownmixPassthroughMono(t *testing.T) {
	mono := preprocess.Downmix([]float32{0.1, 0.2, 0.3}, 1)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, mono)
}

func TestResampleSameRateIsNoop(t *testing.T) {
	in := []float32{1, 2, 3}
	out := preprocess.Resample(in, 44100, 44100)
	assert.Equal(t, in, out)
}

func TestResampleDownsamplesLength(t *testing.T) {
	in := make([]float32, 44100)
	out := preprocess.Resample(in, 44100, 22050)
	assert.InDelta(t, 22050, len(out), 2)
}

func TestRunDetectsQuietSignal(t *testing.T) {
	quiet := make([]float32, 4096)
	for i := range quiet {
		quiet[i] = 0.0001
	}
	buf, err := preprocess.Run(quiet, 1, 44100, preprocess.Defaults())
	require.NoError(t, err)
	assert.True(t, buf.Quiet)
}

func TestRunNormalizesPeak(t *testing.T) {
	loud := make([]float32, 4096)
	for i := range loud {
		loud[i] = 0.5
		if i%2 == 1 {
			loud[i] = -0.5
		}
	}
	buf, err := preprocess.Run(loud, 1, 44100, preprocess.Defaults())
	require.NoError(t, err)
	assert.False(t, buf.Quiet)

	var peak float32
	for _, s := range buf.Samples {
		if s > peak {
			peak = s
		}
	}
	assert.InDelta(t, 1.0, peak, 1e-3)
}

func TestRunRejectsTooShortAudio(t *testing.T) {
	opts := preprocess.Defaults()
	opts.FrameSize = 2048
	_, err := preprocess.Run(make([]float32, 10), 1, 44100, opts)
	require.Error(t, err)
}
