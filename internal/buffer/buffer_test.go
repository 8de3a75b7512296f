package buffer_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sw6820/beat-parser-core-sub001/internal/buffer"
)

func TestNewRejectsEmpty(t *testing.T) {
	_, err := buffer.New(nil, 44100)
	require.Error(t, err)
}

func TestNewRejectsNonPositiveSampleRate(t *testing.T) {
	_, err := buffer.New([]float32{0.1, 0.2}, 0)
	require.Error(t, err)
}

func TestNewRejectsNonFiniteSample(t *testing.T) {
	_, err := buffer.New([]float32{0.1, float32(math.NaN())}, 44100)
	require.Error(t, err)
}

func TestDuration(t *testing.T) {
	buf, err := buffer.New(make([]float32, 44100), 44100)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, buf.Duration(), 1e-9)
}

func TestFramesZeroPadsFinalFrame(t *testing.T) {
	buf, err := buffer.New(make([]float32, 1500), 44100)
	require.NoError(t, err)

	frames := buf.Frames(1024, 512)
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Len(t, last.Data, 1024)
}

func TestRequireMinLength(t *testing.T) {
	buf, err := buffer.New(make([]float32, 100), 44100)
	require.NoError(t, err)
	assert.Error(t, buf.RequireMinLength(2048))
	assert.NoError(t, buf.RequireMinLength(50))
}
