// Package mp3decode decodes MPEG audio layer 3 streams into interleaved
// float32 samples, grounded on tcolgate/mp3's frame-at-a-time Decoder API
// as used by the corpus's metadata/audio-feature extractors.
package mp3decode

import (
	"errors"
	"io"

	"github.com/tcolgate/mp3"

	"github.com/sw6820/beat-parser-core-sub001/internal/perr"
)

// Decode reads an entire MP3 stream and returns interleaved float32
// samples in [-1, 1], the channel count, and the sample rate. A frame whose
// payload cannot be read is skipped; any other decode error aborts the
// whole stream with a processing error.
func Decode(r io.Reader) (samples []float32, channels, sampleRate int, err error) {
	dec := mp3.NewDecoder(r)

	var pcm []float32
	var frame mp3.Frame
	skipped := 0
	framesDecoded := 0

	for {
		if decErr := dec.Decode(&frame, &skipped); decErr != nil {
			if errors.Is(decErr, io.EOF) {
				break
			}
			return nil, 0, 0, perr.Processing("failed to decode MP3 frame", decErr)
		}

		ch := frame.Header().Channels()
		if channels == 0 {
			channels = int(ch)
		}
		if sampleRate == 0 {
			sampleRate = frame.Header().SampleRate()
		}

		reader := frame.Reader()
		frameBytes, readErr := io.ReadAll(reader)
		if readErr != nil {
			continue
		}
		// tcolgate/mp3 emits signed 16-bit little-endian PCM per frame.
		for i := 0; i+1 < len(frameBytes); i += 2 {
			v := int16(uint16(frameBytes[i]) | uint16(frameBytes[i+1])<<8)
			pcm = append(pcm, float32(v)/32768.0)
		}
		framesDecoded++
	}

	if framesDecoded == 0 || len(pcm) == 0 {
		return nil, 0, 0, perr.UnsupportedFormat("no decodable MP3 frames found", nil)
	}
	if channels == 0 {
		channels = 2
	}
	if sampleRate == 0 {
		sampleRate = 44100
	}

	return pcm, channels, sampleRate, nil
}
