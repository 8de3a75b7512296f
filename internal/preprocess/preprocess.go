// Package preprocess implements the Audio Preprocessor (C2 in spec.md §2):
// channel down-mix, resampling, DC-offset removal, peak normalization and
// the quiet-floor convention, and input validation (spec.md §4.1).
//
// The down-mix idiom (sum channels, divide by count) is lifted directly
// from the teacher's internal/bpm/bpm.go decodeAAC/decodeOpus loops; the
// mean-subtraction + peak-normalization pair follows the same "single pass
// over the mono buffer" style as farcloser-haustorium's readMonoMixed.
package preprocess

import (
	"math"

	"github.com/sw6820/beat-parser-core-sub001/internal/buffer"
	"github.com/sw6820/beat-parser-core-sub001/internal/perr"
)

// Options configures preprocessing. Zero values fall back to sane defaults
// via Defaults().
type Options struct {
	TargetSampleRate int
	QuietFloor       float32 // peak |x| at/under this is left unscaled (spec.md §4.1)
	FrameSize        int     // minimum final length requirement
}

// Defaults returns the conventional preprocessing configuration.
func Defaults() Options {
	return Options{TargetSampleRate: 44100, QuietFloor: 0.01, FrameSize: 2048}
}

// Downmix averages interleaved multi-channel samples to mono.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}
	n := len(interleaved) / channels
	mono := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += interleaved[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Resample converts mono samples from srcRate to dstRate by linear
// interpolation (spec.md §4.1 permits "polyphase/linear").
func Resample(mono []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || len(mono) == 0 {
		out := make([]float32, len(mono))
		copy(out, mono)
		return out
	}
	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(mono)) / ratio)
	if outLen < 1 {
		outLen = 1
	}
	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) * ratio
		i0 := int(srcPos)
		frac := srcPos - float64(i0)
		i1 := i0 + 1
		if i1 >= len(mono) {
			i1 = len(mono) - 1
		}
		if i0 >= len(mono) {
			i0 = len(mono) - 1
		}
		out[i] = mono[i0] + float32(frac)*(mono[i1]-mono[i0])
	}
	return out
}

// removeDCOffset subtracts the arithmetic mean in place.
func removeDCOffset(mono []float32) {
	if len(mono) == 0 {
		return
	}
	var sum float64
	for _, s := range mono {
		sum += float64(s)
	}
	mean := float32(sum / float64(len(mono)))
	for i := range mono {
		mono[i] -= mean
	}
}

// peakNormalize scales mono so the maximum |sample| is 1.0, unless the
// signal's peak is at or under quietFloor (spec.md §4.1: "leave unscaled
// and mark 'quiet' in metadata"). Returns whether the signal was quiet.
func peakNormalize(mono []float32, quietFloor float32) bool {
	var peak float32
	for _, s := range mono {
		a := s
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	if peak <= quietFloor {
		return true
	}
	if peak == 0 {
		return false
	}
	scale := float32(1.0) / peak
	for i := range mono {
		mono[i] *= scale
	}
	return false
}

// Run performs the full C2 pipeline over already-decoded mono-or-interleaved
// samples and returns the canonical Sample Buffer (spec.md §4.1).
func Run(samples []float32, channels, sampleRate int, opts Options) (*buffer.Buffer, error) {
	if len(samples) == 0 {
		return nil, perr.InvalidInput("empty decoded audio", nil)
	}
	for _, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return nil, perr.InvalidInput("non-finite decoded sample", nil)
		}
	}

	mono := Downmix(samples, channels)
	if opts.TargetSampleRate > 0 {
		mono = Resample(mono, sampleRate, opts.TargetSampleRate)
		sampleRate = opts.TargetSampleRate
	}

	removeDCOffset(mono)
	quiet := peakNormalize(mono, opts.QuietFloor)

	if opts.FrameSize > 0 && len(mono) < opts.FrameSize {
		return nil, perr.InvalidInput("preprocessed audio shorter than frame size", nil)
	}

	buf, err := buffer.New(mono, sampleRate)
	if err != nil {
		return nil, err
	}
	buf.Quiet = quiet
	return buf, nil
}
