// Package buffer implements the canonical mono sample container (C1 in
// spec.md §2): a finite, non-empty sequence of float32 samples in
// [-1.0, 1.0] tagged with a sample rate, plus the integrity checks every
// downstream stage relies on instead of re-checking itself.
package buffer

import (
	"math"

	"github.com/sw6820/beat-parser-core-sub001/internal/perr"
)

// Buffer is the canonical mono PCM container (spec.md §3).
type Buffer struct {
	Samples    []float32
	SampleRate int
	Quiet      bool // below quiet_floor at ingest; left unscaled by C2
}

// New validates and wraps samples. It never mutates samples.
func New(samples []float32, sampleRate int) (*Buffer, error) {
	if len(samples) == 0 {
		return nil, perr.InvalidInput("empty sample buffer", nil)
	}
	if sampleRate <= 0 {
		return nil, perr.InvalidInput("sample rate must be positive", nil)
	}
	for i, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return nil, perr.InvalidInput("non-finite sample", nil)
		}
		_ = i
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

// Len returns the sample count.
func (b *Buffer) Len() int { return len(b.Samples) }

// Duration returns the buffer's length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// RequireMinLength validates the buffer is long enough for spectral
// processing with the given frame size (spec.md §4.1).
func (b *Buffer) RequireMinLength(frameSize int) error {
	if len(b.Samples) < frameSize {
		return perr.InvalidInput("audio shorter than frame size", nil)
	}
	return nil
}

// Frame is an immutable, hop-aligned window-sized view of a Buffer. It
// never outlives the buffer it slices (spec.md §3).
type Frame struct {
	Index  int
	Offset int
	Data   []float32 // len == frameSize; zero-padded past end of buffer
}

// Frames returns the sequence of hop-aligned frames k*hop, k = 0..floor((N-frame)/hop),
// per spec.md §4.2. The final partial frame (if any samples remain beyond
// the last full hop) is zero-padded rather than dropped, so short trailing
// audio still contributes one frame of spectral data.
func (b *Buffer) Frames(frameSize, hop int) []Frame {
	n := len(b.Samples)
	if frameSize <= 0 || hop <= 0 || n == 0 {
		return nil
	}
	var frames []Frame
	for offset, idx := 0, 0; offset < n; offset, idx = offset+hop, idx+1 {
		data := make([]float32, frameSize)
		end := offset + frameSize
		if end > n {
			end = n
		}
		copy(data, b.Samples[offset:end])
		frames = append(frames, Frame{Index: idx, Offset: offset, Data: data})
		if offset+frameSize >= n {
			break
		}
	}
	return frames
}
