package schema

import (
	"github.com/aurelab/hibiki/internal/model"
)

// Paradigm names accepted in configuration documents.
const (
	ParadigmOddball     = "oddball"
	ParadigmLocalGlobal = "local_global"
	ParadigmForeperiod  = "foreperiod"
)

// Defaults applied during normalization.
const (
	DefaultChannels = 2
	DefaultMode     = model.SelectionBalancedShuffle
)

// SessionConfig is the raw decoded form of an experiment document. Exactly
// one paradigm section must be present, matching the Paradigm field.
type SessionConfig struct {
	SchemaVersion string `json:"schema_version,omitempty"`

	Paradigm string `json:"paradigm" validate:"required,oneof=oddball local_global foreperiod"`
	NTrials  int    `json:"n_trials" validate:"gt=0,lte=100000"`

	Selection SelectionConfig `json:"selection"`
	Timing    TimingConfig    `json:"timing"`
	Stimuli   StimuliConfig   `json:"stimuli"`

	Oddball     *OddballConfig     `json:"oddball,omitempty"`
	LocalGlobal *LocalGlobalConfig `json:"local_global,omitempty"`
	Foreperiod  *ForeperiodConfig  `json:"foreperiod,omitempty"`
}

// SelectionConfig controls trial ordering and reproducibility.
type SelectionConfig struct {
	Seed uint64 `json:"seed"`

	// Mode defaults to balanced_shuffle when empty.
	Mode model.SelectionMode `json:"mode,omitempty" validate:"omitempty,oneof=iid balanced_shuffle"`

	// BlockSize is the number of trials per block for per_block sampling
	// scope. Zero means one block for the whole session.
	BlockSize int `json:"block_size,omitempty" validate:"gte=0"`

	// MaxConsecutive caps runs of the same label, keyed by label.
	MaxConsecutive map[string]int `json:"max_consecutive,omitempty"`
}

// TimingConfig holds inter-trial timing. Both fields accept a bare number
// or a distribution object; distributions are restricted to per_session
// scope because the trial plan carries a single resolved value.
type TimingConfig struct {
	ITIMs        model.NumericField `json:"iti_ms" validate:"-"`
	RefractoryMs model.NumericField `json:"refractory_ms,omitempty" validate:"-"`
}

// StimuliConfig declares the stimulus library and the audio format.
type StimuliConfig struct {
	// Channels defaults to stereo when zero.
	Channels int `json:"channels,omitempty" validate:"gte=0,lte=32"`

	// SampleRateHz overrides the engine default when set.
	SampleRateHz int `json:"sample_rate_hz,omitempty" validate:"omitempty,gte=8000,lte=384000"`

	Library map[string]StimulusDefConfig `json:"library" validate:"required,min=1,dive"`
}

// StimulusDefConfig is one stimulus library entry.
type StimulusDefConfig struct {
	Generator  string             `json:"generator" validate:"required"`
	DurationMs float64            `json:"duration_ms" validate:"gt=0,lte=60000"`
	Params     map[string]float64 `json:"params,omitempty"`
	Channels   []int              `json:"channels,omitempty"`
	GainDB     float64            `json:"gain_db,omitempty" validate:"gte=-96,lte=24"`
}

// TokenConfig is one oddball token.
type TokenConfig struct {
	Label           string  `json:"label" validate:"required"`
	StimulusRef     string  `json:"stimulus_ref" validate:"required"`
	BaseProbability float64 `json:"base_probability" validate:"gte=0,lte=1"`
	Code            uint16  `json:"code,omitempty"`
	DurationMs      float64 `json:"duration_ms,omitempty" validate:"gte=0"`
}

// OddballConfig configures the oddball paradigm.
type OddballConfig struct {
	Tokens []TokenConfig `json:"tokens" validate:"required,min=1,dive"`
}

// SymbolConfig binds one pattern symbol to a stimulus.
type SymbolConfig struct {
	StimulusRef string  `json:"stimulus_ref" validate:"required"`
	Code        uint16  `json:"code,omitempty"`
	DurationMs  float64 `json:"duration_ms,omitempty" validate:"gte=0"`
}

// PatternConfig is one local-global pattern.
type PatternConfig struct {
	Label       string  `json:"label" validate:"required"`
	Sequence    string  `json:"sequence" validate:"required,max=64"`
	Probability float64 `json:"probability" validate:"gte=0,lte=1"`
}

// LocalGlobalConfig configures the local-global paradigm.
type LocalGlobalConfig struct {
	IOIMs    float64                 `json:"ioi_ms" validate:"gt=0"`
	Symbols  map[string]SymbolConfig `json:"symbols" validate:"required,min=1,dive"`
	Patterns []PatternConfig         `json:"patterns" validate:"required,min=1,dive"`
}

// CueConfig is the cue or outcome token of a foreperiod paradigm.
type CueConfig struct {
	Label       string  `json:"label" validate:"required"`
	StimulusRef string  `json:"stimulus_ref" validate:"required"`
	Code        uint16  `json:"code,omitempty"`
	DurationMs  float64 `json:"duration_ms,omitempty" validate:"gte=0"`
}

// ForeperiodConfig configures the foreperiod paradigm.
type ForeperiodConfig struct {
	Cue     CueConfig `json:"cue"`
	Outcome CueConfig `json:"outcome"`

	// ForeperiodMs is the cue-to-outcome interval, typically a per_trial
	// distribution.
	ForeperiodMs model.NumericField `json:"foreperiod_ms" validate:"-"`

	// OmissionProbability is the chance a trial drops its outcome.
	OmissionProbability float64 `json:"omission_probability,omitempty" validate:"gte=0,lte=1"`
}
