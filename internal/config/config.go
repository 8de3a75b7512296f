// Package config holds the parser's runtime configuration and per-call
// option structs, loaded from YAML and validated with struct tags (spec.md
// §6 "External Interfaces").
//
// The teacher's internal/config.Config was a SQLite-backed key-value cache;
// there is no persistent store in this domain, so this package keeps the
// teacher's load-once/validate/expose shape but swaps the backing store for
// a YAML file (plus an optional .env file loaded into the process
// environment), per rayboyd-phase4-server's
// config-loading convention of yaml.v2 + godotenv + validator.
package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/sw6820/beat-parser-core-sub001/internal/perr"
	"github.com/sw6820/beat-parser-core-sub001/internal/selector"
)

// Runtime is the process-wide parser configuration (spec.md §6), copied into
// a Parser at construction and used unchanged by every parse call.
type Runtime struct {
	TargetSampleRate int     `yaml:"target_sample_rate" validate:"gt=0"`
	QuietFloor       float64 `yaml:"quiet_floor" validate:"gte=0,lt=1"`
	FrameSize        int     `yaml:"frame_size" validate:"gt=0"`
	HopSize          int     `yaml:"hop_size" validate:"gt=0,ltfield=FrameSize"`
	MinBPM           float64 `yaml:"min_bpm" validate:"gt=0"`
	MaxBPM           float64 `yaml:"max_bpm" validate:"gtfield=MinBPM"`
	BiasBPM          float64 `yaml:"bias_bpm" validate:"gt=0"`
	MinOnsetGapMS    float64 `yaml:"min_onset_gap_ms" validate:"gte=0"`
	LogLevel         string  `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultRuntime returns the conventional runtime configuration, matching
// the per-component Defaults() used when a caller supplies no Runtime.
func DefaultRuntime() Runtime {
	return Runtime{
		TargetSampleRate: 44100,
		QuietFloor:       0.01,
		FrameSize:        2048,
		HopSize:          512,
		MinBPM:           60,
		MaxBPM:           200,
		BiasBPM:          120,
		MinOnsetGapMS:    50,
		LogLevel:         "info",
	}
}

// ParseOptions configures a single parse call (spec.md §6).
type ParseOptions struct {
	BeatCount    int               `validate:"gte=0"`
	Strategy     selector.Strategy `validate:"required"`
	Weights      selector.Weights
	MinSpacingMS float64 `validate:"gte=0"`
}

// DefaultParseOptions returns the conventional per-call parse configuration
// for the given beat count.
func DefaultParseOptions(beatCount int) ParseOptions {
	return ParseOptions{
		BeatCount:    beatCount,
		Strategy:     selector.StrategyAdaptive,
		Weights:      selector.DefaultWeights(),
		MinSpacingMS: 100,
	}
}

// StreamingOptions configures sliding-window streaming parses (spec.md §6):
// WindowSeconds must be positive and OverlapRatio must leave at least a 10%
// and at most a 50% overlap between consecutive windows.
type StreamingOptions struct {
	WindowSeconds float64 `validate:"gt=0"`
	OverlapRatio  float64 `validate:"gte=0.1,lte=0.5"`
}

// DefaultStreamingOptions returns a 10-second window with 20% overlap.
func DefaultStreamingOptions() StreamingOptions {
	return StreamingOptions{WindowSeconds: 10, OverlapRatio: 0.2}
}

var validate = validator.New()

// Validate checks a Runtime against its struct tags and requires FrameSize
// to be a power of two.
func (r Runtime) Validate() error {
	if err := validate.Struct(r); err != nil {
		return perr.Configuration("invalid runtime configuration", err)
	}
	if r.FrameSize&(r.FrameSize-1) != 0 {
		return perr.Configuration("invalid runtime configuration: frame_size must be a power of two", nil)
	}
	return nil
}

// Validate checks ParseOptions against its struct tags.
func (p ParseOptions) Validate() error {
	if err := validate.Struct(p); err != nil {
		return perr.Configuration("invalid parse options", err)
	}
	return nil
}

// Validate checks StreamingOptions against its struct tags.
func (s StreamingOptions) Validate() error {
	if err := validate.Struct(s); err != nil {
		return perr.Configuration("invalid streaming options", err)
	}
	return nil
}

// Load reads a Runtime from a YAML file at path over DefaultRuntime, then
// validates the result. If a file named path+".env" exists, it is loaded
// into the process environment first; no Runtime field is read from the
// environment. A missing YAML file is not an error: Load falls back to
// DefaultRuntime.
func Load(path string) (Runtime, error) {
	r := DefaultRuntime()

	if envPath := path + ".env"; fileExists(envPath) {
		if err := godotenv.Overload(envPath); err != nil {
			return Runtime{}, perr.Configuration("failed to load .env overrides", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if verr := r.Validate(); verr != nil {
				return Runtime{}, verr
			}
			return r, nil
		}
		return Runtime{}, perr.Configuration("failed to read configuration file", err)
	}

	if err := yaml.Unmarshal(data, &r); err != nil {
		return Runtime{}, perr.Configuration("failed to parse configuration YAML", err)
	}

	if err := r.Validate(); err != nil {
		return Runtime{}, err
	}
	return r, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
