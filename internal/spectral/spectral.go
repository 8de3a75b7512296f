// Package spectral implements the Spectral Front-End (C3 in spec.md §2):
// framing, a symmetric Hann window, a real FFT magnitude spectrum,
// half-wave-rectified spectral flux, and spectral centroid, emitted as a
// restartable, finite sequence of per-frame results (spec.md §4.2).
//
// The FFT plumbing (gonum's fourier.FFT over a Hann-windowed buffer) and
// the flux/centroid formulas mirror farcloser-haustorium's
// internal/audit/spectral/spectral.go and austinkregel-vscode-music-
// player's internal/analysis/features.go almost line for line.
package spectral

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/sw6820/beat-parser-core-sub001/internal/buffer"
	"github.com/sw6820/beat-parser-core-sub001/internal/perr"
)

// Options configures the spectral front-end.
type Options struct {
	FrameSize int // power of two, default 2048
	HopSize   int // < FrameSize, default 512
}

// Defaults returns the conventional spectral configuration.
func Defaults() Options {
	return Options{FrameSize: 2048, HopSize: 512}
}

// Frame is one analysed spectral frame: magnitude spectrum, flux relative
// to the previous frame, and spectral centroid (spec.md §3/§4.2).
type Frame struct {
	Index     int
	TimeSec   float64
	Magnitude []float64 // length FrameSize/2 + 1, non-negative
	Flux      float64   // 0 for the first frame (no predecessor)
	Centroid  float64   // Hz
}

// hannWindow returns symmetric Hann coefficients of the given size.
func hannWindow(size int) []float64 {
	w := make([]float64, size)
	if size == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return w
}

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

// Analyze frames buf according to opts and returns the full sequence of
// spectral frames. Analyze has no internal state across calls — each call
// is independent and restartable, as spec.md §4.2 requires.
func Analyze(buf *buffer.Buffer, opts Options) ([]Frame, error) {
	if opts.FrameSize <= 0 {
		opts = Defaults()
	}
	if !isPowerOfTwo(opts.FrameSize) {
		return nil, perr.Configuration("frame_size must be a power of two", nil)
	}
	if opts.HopSize <= 0 || opts.HopSize >= opts.FrameSize {
		return nil, perr.Configuration("hop_size must be positive and less than frame_size", nil)
	}
	if err := buf.RequireMinLength(opts.FrameSize); err != nil {
		return nil, err
	}

	window := hannWindow(opts.FrameSize)
	fft := fourier.NewFFT(opts.FrameSize)
	binCount := opts.FrameSize/2 + 1
	binHz := float64(buf.SampleRate) / float64(opts.FrameSize)

	rawFrames := buf.Frames(opts.FrameSize, opts.HopSize)
	frames := make([]Frame, 0, len(rawFrames))

	windowed := make([]float64, opts.FrameSize)
	var prevMag []float64

	for _, rf := range rawFrames {
		for i, s := range rf.Data {
			windowed[i] = float64(s) * window[i]
		}
		coeffs := fft.Coefficients(nil, windowed)
		if len(coeffs) != binCount {
			return nil, perr.Processing("unexpected FFT output length", nil)
		}

		mag := make([]float64, binCount)
		for i, c := range coeffs {
			m := math.Hypot(real(c), imag(c))
			if math.IsNaN(m) || math.IsInf(m, 0) {
				return nil, perr.Processing("non-finite spectral magnitude", nil)
			}
			mag[i] = m
		}

		var flux float64
		if prevMag != nil {
			for b := 0; b < binCount; b++ {
				d := mag[b] - prevMag[b]
				if d > 0 {
					flux += d
				}
			}
		}

		var weighted, total float64
		for b, m := range mag {
			freq := float64(b) * binHz
			weighted += freq * m
			total += m
		}
		var centroid float64
		if total > 0 {
			centroid = weighted / total
		}

		frames = append(frames, Frame{
			Index:     rf.Index,
			TimeSec:   float64(rf.Offset) / float64(buf.SampleRate),
			Magnitude: mag,
			Flux:      flux,
			Centroid:  centroid,
		})
		prevMag = mag
	}

	if len(frames) == 0 {
		return nil, perr.Processing("empty spectrogram", nil)
	}
	return frames, nil
}
