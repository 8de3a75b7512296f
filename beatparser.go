// Package beatparser is the public facade of the beat-parsing library: a
// Parser that decodes an audio source, runs it through preprocessing,
// spectral analysis, onset detection, tempo estimation, beat tracking and
// selection, and returns at most the requested number of beats.
package beatparser

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sw6820/beat-parser-core-sub001/internal/adapter/mp3decode"
	"github.com/sw6820/beat-parser-core-sub001/internal/adapter/mp4decode"
	"github.com/sw6820/beat-parser-core-sub001/internal/adapter/wavdecode"
	"github.com/sw6820/beat-parser-core-sub001/internal/config"
	"github.com/sw6820/beat-parser-core-sub001/internal/model"
	"github.com/sw6820/beat-parser-core-sub001/internal/perr"
	"github.com/sw6820/beat-parser-core-sub001/internal/pipeline"
	"github.com/sw6820/beat-parser-core-sub001/internal/plugin"
	"github.com/sw6820/beat-parser-core-sub001/internal/progress"
	"github.com/sw6820/beat-parser-core-sub001/internal/selector"
)

// Re-exported types so callers never need to import internal packages.
type (
	// Config is the process-wide runtime configuration.
	Config = config.Runtime
	// ParseOptions configures a single parse call.
	ParseOptions = config.ParseOptions
	// StreamingOptions configures a sliding-window streaming parse.
	StreamingOptions = config.StreamingOptions
	// Strategy names a beat-selection scheme.
	Strategy = selector.Strategy
	// Weights blends the Adaptive and Musical selection strategies.
	Weights = selector.Weights
	// Result is one parse call's output.
	Result = model.ParseResult
	// BeatCandidate is a single selected or synthesized beat.
	BeatCandidate = model.BeatCandidate
	// Tempo is the estimated global tempo.
	Tempo = model.Tempo
	// Error is the parser's typed error taxonomy.
	Error = perr.Error
	// ErrorKind tags the category of an Error.
	ErrorKind = perr.Kind
	// BeforeParse is a plugin hook run before preprocessing.
	BeforeParse = plugin.BeforeParse
	// TransformSamples is a plugin hook that may rewrite preprocessed samples.
	TransformSamples = plugin.TransformSamples
	// TransformBeats is a plugin hook that may rewrite the selected beats.
	TransformBeats = plugin.TransformBeats
	// AfterParse is a plugin hook that may rewrite the final result.
	AfterParse = plugin.AfterParse
	// ProgressUpdate is one progress notification.
	ProgressUpdate = progress.Update
	// ProgressSubscriber receives ProgressUpdates on a buffered channel.
	ProgressSubscriber = progress.Subscriber
)

const (
	StrategyEnergy   = selector.StrategyEnergy
	StrategyRegular  = selector.StrategyRegular
	StrategyMusical  = selector.StrategyMusical
	StrategyAdaptive = selector.StrategyAdaptive
)

// DefaultConfig returns the conventional runtime configuration.
func DefaultConfig() Config { return config.DefaultRuntime() }

// DefaultParseOptions returns the conventional per-call options requesting
// beatCount beats.
func DefaultParseOptions(beatCount int) ParseOptions { return config.DefaultParseOptions(beatCount) }

// DefaultStreamingOptions returns a 10-second, 20%-overlap streaming config.
func DefaultStreamingOptions() StreamingOptions { return config.DefaultStreamingOptions() }

// DefaultWeights returns an even three-way strategy weight split.
func DefaultWeights() Weights { return selector.DefaultWeights() }

// Parser is a configured beat-parsing pipeline instance. Create one with
// New, call Initialize once, then any number of Parse* calls, and Close
// when done.
type Parser struct {
	cfg      Config
	plugins  *plugin.Registry
	sink     *progress.Sink
	pipe     *pipeline.Pipeline
}

// New creates a Parser with the given runtime configuration. Call
// Initialize before parsing.
func New(cfg Config) *Parser {
	return &Parser{cfg: cfg, plugins: plugin.NewRegistry()}
}

// Initialize validates the configuration and starts the progress sink.
// Must be called once before any Parse* call.
func (p *Parser) Initialize() error {
	p.sink = progress.NewSink()
	go p.sink.Run()
	p.pipe = pipeline.New(p.cfg, p.plugins, p.sink)
	return p.pipe.Initialize()
}

// Close finalizes the parser, releasing its progress sink.
func (p *Parser) Close() {
	if p.pipe != nil {
		p.pipe.Finalize()
	}
}

// Subscribe returns a channel of progress updates for the life of the
// Parser (spec.md §5 progress callbacks).
func (p *Parser) Subscribe(bufferSize int) *ProgressSubscriber {
	return p.sink.Subscribe("caller", bufferSize)
}

// RegisterBeforeParse, RegisterTransformSamples, RegisterTransformBeats, and
// RegisterAfterParse attach named plugin hooks. name identifies the plugin
// in any error a before_parse hook returns.
func (p *Parser) RegisterBeforeParse(name string, h BeforeParse) {
	p.plugins.RegisterBeforeParse(name, h)
}
func (p *Parser) RegisterTransformSamples(name string, h TransformSamples) {
	p.plugins.RegisterTransformSamples(name, h)
}
func (p *Parser) RegisterTransformBeats(name string, h TransformBeats) {
	p.plugins.RegisterTransformBeats(name, h)
}
func (p *Parser) RegisterAfterParse(name string, h AfterParse) {
	p.plugins.RegisterAfterParse(name, h)
}

// ParseBuffer parses already-decoded interleaved PCM samples.
func (p *Parser) ParseBuffer(ctx context.Context, samples []float32, channels, sampleRate int, opts ParseOptions) (*Result, error) {
	return p.pipe.ParseBuffer(ctx, samples, channels, sampleRate, opts)
}

// ParseStream runs a sliding-window streaming parse over already-decoded
// interleaved PCM samples, merging the overlapping windows' detections onto
// one timeline before selecting the final beats. Equivalent to ParseBuffer
// over the same samples: same beat count, same deduplicated beat times.
func (p *Parser) ParseStream(ctx context.Context, samples []float32, channels, sampleRate int, opts ParseOptions, streamOpts StreamingOptions) (*Result, error) {
	return p.pipe.ParseStream(ctx, samples, channels, sampleRate, opts, streamOpts)
}

// ParseFile decodes path (WAV, MP3, or MP4/M4A, detected by extension) and
// parses it in one call.
func (p *Parser) ParseFile(ctx context.Context, path string, opts ParseOptions) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, perr.InvalidInput("failed to open audio file", err)
	}
	defer f.Close()

	samples, channels, sampleRate, err := decodeByExtension(f, path)
	if err != nil {
		return nil, err
	}
	return p.ParseBuffer(ctx, samples, channels, sampleRate, opts)
}

func decodeByExtension(f *os.File, path string) (samples []float32, channels, sampleRate int, err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return wavdecode.Decode(f)
	case ".mp3":
		return mp3decode.Decode(f)
	case ".mp4", ".m4a":
		return mp4decode.Decode(f)
	default:
		return nil, 0, 0, perr.UnsupportedFormat("unrecognized audio file extension: "+filepath.Ext(path), nil)
	}
}

// ParseReader decodes r as the named format ("wav", "mp3", "mp4") and
// parses it in one call. r's full contents are buffered to support the
// seeking the WAV and MP4 decoders require.
func (p *Parser) ParseReader(ctx context.Context, r io.Reader, format string, opts ParseOptions) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, perr.InvalidInput("failed to read audio stream", err)
	}
	rs := bytes.NewReader(data)

	var samples []float32
	var channels, sampleRate int
	switch strings.ToLower(format) {
	case "wav":
		samples, channels, sampleRate, err = wavdecode.Decode(rs)
	case "mp3":
		samples, channels, sampleRate, err = mp3decode.Decode(rs)
	case "mp4", "m4a":
		samples, channels, sampleRate, err = mp4decode.Decode(rs)
	default:
		return nil, perr.UnsupportedFormat("unrecognized audio format: "+format, nil)
	}
	if err != nil {
		return nil, err
	}
	return p.ParseBuffer(ctx, samples, channels, sampleRate, opts)
}
