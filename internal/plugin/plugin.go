// Package plugin defines the parser's extension points: four named hook
// stages a caller may register functions against, applied in registration
// order by the pipeline.
package plugin

import (
	"github.com/sw6820/beat-parser-core-sub001/internal/model"
	"github.com/sw6820/beat-parser-core-sub001/internal/perr"
)

// BeforeParse runs once per parse call before preprocessing, and may
// reject the input by returning an error.
type BeforeParse func(samples []float32, sampleRate int) error

// TransformSamples runs after preprocessing and may return a modified
// buffer of mono samples to use in place of the preprocessed one.
type TransformSamples func(mono []float32, sampleRate int) []float32

// TransformBeats runs after selection and may return a modified beat list.
type TransformBeats func(beats []model.BeatCandidate) []model.BeatCandidate

// AfterParse runs once per parse call with the final result and returns the
// result to use in its place, letting observers annotate or rewrite it
// before it reaches the caller.
type AfterParse func(result model.ParseResult) model.ParseResult

type namedBeforeParse struct {
	name string
	fn   BeforeParse
}

type namedTransformSamples struct {
	name string
	fn   TransformSamples
}

type namedTransformBeats struct {
	name string
	fn   TransformBeats
}

type namedAfterParse struct {
	name string
	fn   AfterParse
}

// Registry holds ordered, named hook lists per stage. A nil Registry
// behaves as empty — every Apply* method is nil-receiver safe.
type Registry struct {
	beforeParse      []namedBeforeParse
	transformSamples []namedTransformSamples
	transformBeats   []namedTransformBeats
	afterParse       []namedAfterParse
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry { return &Registry{} }

// RegisterBeforeParse appends a named before_parse hook. name identifies the
// plugin in any error the hook returns.
func (r *Registry) RegisterBeforeParse(name string, h BeforeParse) {
	r.beforeParse = append(r.beforeParse, namedBeforeParse{name, h})
}

// RegisterTransformSamples appends a named transform_samples hook.
func (r *Registry) RegisterTransformSamples(name string, h TransformSamples) {
	r.transformSamples = append(r.transformSamples, namedTransformSamples{name, h})
}

// RegisterTransformBeats appends a named transform_beats hook.
func (r *Registry) RegisterTransformBeats(name string, h TransformBeats) {
	r.transformBeats = append(r.transformBeats, namedTransformBeats{name, h})
}

// RegisterAfterParse appends a named after_parse hook.
func (r *Registry) RegisterAfterParse(name string, h AfterParse) {
	r.afterParse = append(r.afterParse, namedAfterParse{name, h})
}

// Snapshot returns a shallow copy of the registry's hook lists, so a
// pipeline run is unaffected by registrations made after it starts.
func (r *Registry) Snapshot() *Registry {
	if r == nil {
		return &Registry{}
	}
	return &Registry{
		beforeParse:      append([]namedBeforeParse(nil), r.beforeParse...),
		transformSamples: append([]namedTransformSamples(nil), r.transformSamples...),
		transformBeats:   append([]namedTransformBeats(nil), r.transformBeats...),
		afterParse:       append([]namedAfterParse(nil), r.afterParse...),
	}
}

// ApplyBeforeParse runs every before_parse hook in order, stopping at the
// first error and wrapping it with the offending plugin's name.
func (r *Registry) ApplyBeforeParse(samples []float32, sampleRate int) error {
	if r == nil {
		return nil
	}
	for _, h := range r.beforeParse {
		if err := h.fn(samples, sampleRate); err != nil {
			return perr.Plugin(h.name, "before_parse rejected input", err)
		}
	}
	return nil
}

// ApplyTransformSamples threads mono through every transform_samples hook
// in order.
func (r *Registry) ApplyTransformSamples(mono []float32, sampleRate int) []float32 {
	if r == nil {
		return mono
	}
	for _, h := range r.transformSamples {
		if out := h.fn(mono, sampleRate); out != nil {
			mono = out
		}
	}
	return mono
}

// ApplyTransformBeats threads beats through every transform_beats hook in
// order.
func (r *Registry) ApplyTransformBeats(beats []model.BeatCandidate) []model.BeatCandidate {
	if r == nil {
		return beats
	}
	for _, h := range r.transformBeats {
		if out := h.fn(beats); out != nil {
			beats = out
		}
	}
	return beats
}

// ApplyAfterParse threads result through every after_parse hook in order,
// letting each rewrite it before the next sees it.
func (r *Registry) ApplyAfterParse(result model.ParseResult) model.ParseResult {
	if r == nil {
		return result
	}
	for _, h := range r.afterParse {
		result = h.fn(result)
	}
	return result
}
