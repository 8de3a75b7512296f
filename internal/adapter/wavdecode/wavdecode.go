// Package wavdecode decodes WAV/PCM containers into interleaved float32
// samples for the preprocessing stage, grounded on go-audio/wav's
// Decoder/PCMBuffer API as used by the corpus's onset-detection tooling.
package wavdecode

import (
	"io"

	"github.com/go-audio/wav"

	"github.com/sw6820/beat-parser-core-sub001/internal/perr"
)

// Decode reads a full WAV stream and returns interleaved float32 samples
// in [-1, 1], the channel count, and the sample rate.
func Decode(r io.ReadSeeker) (samples []float32, channels, sampleRate int, err error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, 0, perr.UnsupportedFormat("not a valid WAV file", nil)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, perr.Processing("failed to decode WAV PCM data", err)
	}

	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, 0, 0, perr.UnsupportedFormat("WAV file has no channel format", nil)
	}

	maxVal := float64(int64(1) << (uint(dec.BitDepth) - 1))
	if dec.BitDepth == 0 {
		maxVal = float64(int64(1) << 15)
	}

	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(float64(v) / maxVal)
	}

	return out, buf.Format.NumChannels, buf.Format.SampleRate, nil
}
