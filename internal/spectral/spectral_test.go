package spectral_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sw6820/beat-parser-core-sub001/internal/buffer"
	"github.com/sw6820/beat-parser-core-sub001/internal/spectral"
)

func sineBuffer(freq float64, sampleRate, n int) *buffer.Buffer {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate)))
	}
	buf, _ := buffer.New(samples, sampleRate)
	return buf
}

func TestAnalyzeRejectsNonPowerOfTwoFrameSize(t *testing.T) {
	buf := sineBuffer(440, 44100, 8192)
	_, err := spectral.Analyze(buf, spectral.Options{FrameSize: 1000, HopSize: 256})
	require.Error(t, err)
}

func TestAnalyzeRejectsHopNotLessThanFrame(t *testing.T) {
	buf := sineBuffer(440, 44100, 8192)
	_, err := spectral.Analyze(buf, spectral.Options{FrameSize: 1024, HopSize: 2048})
	require.Error(t, err)
}

func TestAnalyzeProducesCentroidNearFundamental(t *testing.T) {
	buf := sineBuffer(440, 44100, 44100)
	frames, err := spectral.Analyze(buf, spectral.Defaults())
	require.NoError(t, err)
	require.NotEmpty(t, frames)

	mid := frames[len(frames)/2]
	assert.InDelta(t, 440, mid.Centroid, 150)
}

func TestAnalyzeFirstFrameHasZeroFlux(t *testing.T) {
	buf := sineBuffer(440, 44100, 44100)
	frames, err := spectral.Analyze(buf, spectral.Defaults())
	require.NoError(t, err)
	require.NotEmpty(t, frames)
	assert.Zero(t, frames[0].Flux)
}
