// Package pipeline implements the parser orchestrator: a small lifecycle
// state machine wiring preprocessing through beat selection in sequence,
// with plugin hook application, context-based cancellation, progress
// reporting, and a sliding-window streaming mode.
package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sw6820/beat-parser-core-sub001/internal/beattrack"
	"github.com/sw6820/beat-parser-core-sub001/internal/buffer"
	"github.com/sw6820/beat-parser-core-sub001/internal/config"
	"github.com/sw6820/beat-parser-core-sub001/internal/model"
	"github.com/sw6820/beat-parser-core-sub001/internal/onset"
	"github.com/sw6820/beat-parser-core-sub001/internal/perr"
	"github.com/sw6820/beat-parser-core-sub001/internal/plugin"
	"github.com/sw6820/beat-parser-core-sub001/internal/preprocess"
	"github.com/sw6820/beat-parser-core-sub001/internal/progress"
	"github.com/sw6820/beat-parser-core-sub001/internal/selector"
	"github.com/sw6820/beat-parser-core-sub001/internal/spectral"
	"github.com/sw6820/beat-parser-core-sub001/internal/tempo"
)

// State is the pipeline's lifecycle stage.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized    State = "initialized"
	StateFinalized       State = "finalized"
)

// Pipeline orchestrates one parser instance's lifecycle and hook
// registrations. It is not safe for concurrent Parse* calls against the
// same instance once Initialize has run.
type Pipeline struct {
	runtime config.Runtime
	plugins *plugin.Registry
	sink    *progress.Sink
	state   State
}

// New creates a Pipeline in the Uninitialized state.
func New(runtime config.Runtime, plugins *plugin.Registry, sink *progress.Sink) *Pipeline {
	return &Pipeline{runtime: runtime, plugins: plugins, sink: sink, state: StateUninitialized}
}

// Initialize validates the runtime configuration and transitions to
// Initialized. It is idempotent.
func (p *Pipeline) Initialize() error {
	if p.state == StateFinalized {
		return perr.Lifecycle("pipeline already finalized", nil)
	}
	if err := p.runtime.Validate(); err != nil {
		return err
	}
	p.state = StateInitialized
	return nil
}

// Finalize transitions the pipeline to Finalized. Parse* calls after
// Finalize return a lifecycle error.
func (p *Pipeline) Finalize() {
	p.state = StateFinalized
	if p.sink != nil {
		p.sink.Close()
	}
}

func (p *Pipeline) requireInitialized() error {
	switch p.state {
	case StateUninitialized:
		return perr.Lifecycle("pipeline not initialized", nil)
	case StateFinalized:
		return perr.Lifecycle("pipeline already finalized", nil)
	}
	return nil
}

func (p *Pipeline) report(stage progress.Stage, current, total int) {
	if p.sink == nil {
		return
	}
	pct := 0.0
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}
	p.sink.Report(progress.Update{Stage: stage, Current: current, Total: total, Percentage: pct})
}

// chunkAnalysis holds the pre-selection detection results for one
// contiguous span of audio, with beat-candidate timestamps already placed
// on a caller-supplied global timeline.
type chunkAnalysis struct {
	buf             *buffer.Buffer
	candidates      []model.BeatCandidate
	tempo           *model.Tempo
	totalCandidates int
}

// analyzeChunk runs preprocessing through beat tracking over one span of
// interleaved samples. timeOffset is added to every resulting beat
// candidate's Time, so results from several chunks can be merged onto one
// timeline by ParseStream. reportProgress is false for streaming windows;
// ParseStream reports no progress updates of its own.
func (p *Pipeline) analyzeChunk(ctx context.Context, samples []float32, channels, sampleRate int, timeOffset float64, hooks *plugin.Registry, reportProgress bool) (chunkAnalysis, error) {
	preOpts := preprocess.Defaults()
	preOpts.TargetSampleRate = p.runtime.TargetSampleRate
	preOpts.QuietFloor = float32(p.runtime.QuietFloor)
	preOpts.FrameSize = p.runtime.FrameSize

	buf, err := preprocess.Run(samples, channels, sampleRate, preOpts)
	if err != nil {
		return chunkAnalysis{}, err
	}
	buf.Samples = hooks.ApplyTransformSamples(buf.Samples, buf.SampleRate)
	if reportProgress {
		p.report(progress.StagePreprocess, 1, 6)
	}
	if err := checkCancel(ctx); err != nil {
		return chunkAnalysis{}, err
	}
	if buf.Quiet {
		return chunkAnalysis{buf: buf}, nil
	}

	specOpts := spectral.Options{FrameSize: p.runtime.FrameSize, HopSize: p.runtime.HopSize}
	frames, err := spectral.Analyze(buf, specOpts)
	if err != nil {
		return chunkAnalysis{}, err
	}
	if reportProgress {
		p.report(progress.StageSpectral, 2, 6)
	}
	if err := checkCancel(ctx); err != nil {
		return chunkAnalysis{}, err
	}

	onsetOpts := onset.Defaults()
	onsetOpts.MinGapMS = p.runtime.MinOnsetGapMS
	onsets := onset.Detect(frames, onsetOpts)
	if reportProgress {
		p.report(progress.StageOnset, 3, 6)
	}
	if err := checkCancel(ctx); err != nil {
		return chunkAnalysis{}, err
	}

	step := float64(specOpts.HopSize) / float64(buf.SampleRate)
	tempoOpts := tempo.Defaults()
	tempoOpts.MinBPM = p.runtime.MinBPM
	tempoOpts.MaxBPM = p.runtime.MaxBPM
	tempoOpts.BiasBPM = p.runtime.BiasBPM
	estimatedTempo := tempo.Estimate(onsets, step, buf.Duration(), tempoOpts)
	if reportProgress {
		p.report(progress.StageTempo, 4, 6)
	}
	if err := checkCancel(ctx); err != nil {
		return chunkAnalysis{}, err
	}

	candidates := beattrack.Track(onsets, estimatedTempo, beattrack.Defaults())
	if reportProgress {
		p.report(progress.StageBeatTrack, 5, 6)
	}
	if err := checkCancel(ctx); err != nil {
		return chunkAnalysis{}, err
	}

	shifted := make([]model.BeatCandidate, len(candidates))
	for i, c := range candidates {
		c.Time += timeOffset
		shifted[i] = c
	}

	return chunkAnalysis{buf: buf, candidates: shifted, tempo: estimatedTempo, totalCandidates: len(candidates)}, nil
}

// ParseBuffer runs preprocessing through beat selection over already-decoded
// interleaved samples and returns the final ParseResult. ctx is checked for
// cancellation between each stage.
func (p *Pipeline) ParseBuffer(ctx context.Context, samples []float32, channels, sampleRate int, opts config.ParseOptions) (*model.ParseResult, error) {
	if err := p.requireInitialized(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	requestID := uuid.NewString()
	slog.Debug("parse started", "request_id", requestID, "samples", len(samples), "sample_rate", sampleRate)

	hooks := p.plugins.Snapshot()
	if err := hooks.ApplyBeforeParse(samples, sampleRate); err != nil {
		return nil, err
	}
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}

	chunk, err := p.analyzeChunk(ctx, samples, channels, sampleRate, 0, hooks, true)
	if err != nil {
		return nil, err
	}

	if chunk.buf.Quiet {
		return p.quietResult(chunk.buf, opts, start, requestID, hooks), nil
	}

	selResult, err := selector.Select(chunk.candidates, opts.BeatCount, opts.Strategy, chunk.tempo, chunk.buf.Duration(), opts.Weights, opts.MinSpacingMS)
	if err != nil {
		return nil, err
	}
	beats := hooks.ApplyTransformBeats(selResult.Beats)
	p.report(progress.StageSelect, 6, 6)

	result := &model.ParseResult{
		Beats:   beats,
		Tempo:   chunk.tempo,
		Quality: selResult.Quality,
		Metadata: model.Metadata{
			RequestID:        requestID,
			ProcessingTimeMS: time.Since(start).Milliseconds(),
			SampleCount:      chunk.buf.Len(),
			SampleRate:       chunk.buf.SampleRate,
			Strategy:         string(opts.Strategy),
			TotalCandidates:  chunk.totalCandidates,
			Quiet:            chunk.buf.Quiet,
		},
	}
	final := hooks.ApplyAfterParse(*result)
	slog.Debug("parse finished", "request_id", requestID, "beats", len(final.Beats))
	return &final, nil
}

// quietResult short-circuits the pipeline for below-quiet-floor audio: no
// selection or synthesis runs, so the result has no beats, no tempo, and an
// all-zero quality report.
func (p *Pipeline) quietResult(buf *buffer.Buffer, opts config.ParseOptions, start time.Time, requestID string, hooks *plugin.Registry) *model.ParseResult {
	beats := hooks.ApplyTransformBeats(nil)
	result := &model.ParseResult{
		Beats:   beats,
		Tempo:   nil,
		Quality: model.QualityReport{},
		Metadata: model.Metadata{
			RequestID:        requestID,
			ProcessingTimeMS: time.Since(start).Milliseconds(),
			SampleCount:      buf.Len(),
			SampleRate:       buf.SampleRate,
			Strategy:         string(opts.Strategy),
			TotalCandidates:  0,
			Quiet:            true,
		},
	}
	final := hooks.ApplyAfterParse(*result)
	return &final
}

func checkCancel(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return perr.Cancelled("parse cancelled: " + ctx.Err().Error())
	default:
		return nil
	}
}

// ParseStream runs beat detection independently over a sequence of
// overlapping windows, each sized streamOpts.WindowSeconds and advanced by
// (1-OverlapRatio) of that size, then merges the windowed detections onto a
// single timeline and runs one selection pass to opts.BeatCount. The result
// is equivalent to running ParseBuffer over the whole signal at once: same
// beat count, same (deduplicated) beat times.
func (p *Pipeline) ParseStream(ctx context.Context, samples []float32, channels, sampleRate int, opts config.ParseOptions, streamOpts config.StreamingOptions) (*model.ParseResult, error) {
	if err := p.requireInitialized(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := streamOpts.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	requestID := uuid.NewString()
	slog.Debug("stream parse started", "request_id", requestID, "samples", len(samples), "sample_rate", sampleRate)

	hooks := p.plugins.Snapshot()
	if err := hooks.ApplyBeforeParse(samples, sampleRate); err != nil {
		return nil, err
	}
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}

	windowSamples := int(streamOpts.WindowSeconds * float64(sampleRate) * float64(channels))
	if windowSamples <= 0 {
		return nil, perr.Configuration("streaming window too small", nil)
	}
	advance := int(float64(windowSamples) * (1 - streamOpts.OverlapRatio))
	if advance <= 0 {
		advance = 1
	}

	var allCandidates []model.BeatCandidate
	var tempos []*model.Tempo
	totalCandidates := 0
	anyLoud := false
	var lastBuf *buffer.Buffer
	total := len(samples)

	for winStart := 0; winStart < total; winStart += advance {
		winEnd := winStart + windowSamples
		if winEnd > total {
			winEnd = total
		}
		chunkSamples := samples[winStart:winEnd]
		if len(chunkSamples) == 0 {
			break
		}
		timeOffset := float64(winStart) / float64(channels) / float64(sampleRate)

		chunk, err := p.analyzeChunk(ctx, chunkSamples, channels, sampleRate, timeOffset, hooks, false)
		if err != nil {
			return nil, err
		}
		lastBuf = chunk.buf
		if !chunk.buf.Quiet {
			anyLoud = true
			allCandidates = append(allCandidates, chunk.candidates...)
			totalCandidates += chunk.totalCandidates
			if chunk.tempo.Valid() {
				tempos = append(tempos, chunk.tempo)
			}
		}
		if winEnd >= total {
			break
		}
	}

	minOnsetGapSec := p.runtime.MinOnsetGapMS / 1000.0
	merged := mergeOverlapping(allCandidates, minOnsetGapSec)
	mergedTempo := mergeTempo(tempos)
	streamDuration := float64(total) / float64(channels) / float64(sampleRate)

	if !anyLoud {
		return p.quietResult(lastBuf, opts, start, requestID, hooks), nil
	}

	selResult, err := selector.Select(merged, opts.BeatCount, opts.Strategy, mergedTempo, streamDuration, opts.Weights, opts.MinSpacingMS)
	if err != nil {
		return nil, err
	}
	beats := hooks.ApplyTransformBeats(selResult.Beats)

	result := &model.ParseResult{
		Beats:   beats,
		Tempo:   mergedTempo,
		Quality: selResult.Quality,
		Metadata: model.Metadata{
			RequestID:        requestID,
			ProcessingTimeMS: time.Since(start).Milliseconds(),
			SampleCount:      int(streamDuration * float64(sampleRate)),
			SampleRate:       sampleRate,
			Strategy:         string(opts.Strategy),
			TotalCandidates:  totalCandidates,
			Quiet:            false,
		},
	}
	final := hooks.ApplyAfterParse(*result)
	slog.Debug("stream parse finished", "request_id", requestID, "beats", len(final.Beats))
	return &final, nil
}

// mergeOverlapping collapses near-duplicate beat candidates produced by
// adjacent overlapping windows detecting the same underlying onset. Input
// need not be sorted. Candidates within epsilon seconds of the last kept
// candidate are folded into it, keeping whichever has higher confidence
// (then strength).
func mergeOverlapping(candidates []model.BeatCandidate, epsilon float64) []model.BeatCandidate {
	if len(candidates) == 0 {
		return nil
	}
	sorted := make([]model.BeatCandidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	out := make([]model.BeatCandidate, 0, len(sorted))
	out = append(out, sorted[0])
	for _, c := range sorted[1:] {
		last := &out[len(out)-1]
		if c.Time-last.Time <= epsilon {
			if c.Confidence > last.Confidence || (c.Confidence == last.Confidence && c.Strength > last.Strength) {
				*last = c
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

// mergeTempo combines the per-window tempo estimates of a streaming parse
// into one estimate: the mean BPM and confidence across windows that found
// a valid tempo, with the time signature taken from the most confident
// window. Returns nil if no window found a valid tempo.
func mergeTempo(tempos []*model.Tempo) *model.Tempo {
	if len(tempos) == 0 {
		return nil
	}
	var bpmSum, confSum float64
	best := tempos[0]
	for _, t := range tempos {
		bpmSum += t.BPM
		confSum += t.Confidence
		if t.Confidence > best.Confidence {
			best = t
		}
	}
	n := float64(len(tempos))
	return &model.Tempo{
		BPM:           bpmSum / n,
		Confidence:    confSum / n,
		TimeSignature: best.TimeSignature,
	}
}
