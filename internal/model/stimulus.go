package model

import (
	"errors"
	"fmt"
)

// Audio format limits enforced at validation time.
const (
	MinSampleRateHz = 8000
	MaxSampleRateHz = 384000
	MaxChannels     = 32
	MaxStimulusMs   = 60_000
)

// ErrStimulusNotFound is returned when a stimulus_ref does not resolve
// against the library.
var ErrStimulusNotFound = errors.New("model: stimulus not found")

// StimulusDef describes one entry in the stimulus library: which generator
// renders it, with what parameters, and how the rendered snippet is routed
// onto the output channels.
type StimulusDef struct {
	Name       string             `json:"-"`
	Generator  string             `json:"generator"`
	Params     map[string]float64 `json:"params,omitempty"`
	DurationMs float64            `json:"duration_ms"`

	// Channels lists the zero-based output channels the snippet is mixed
	// onto. Empty means all channels.
	Channels []int `json:"channels,omitempty"`

	// GainDB is applied to the snippet before mixing.
	GainDB float64 `json:"gain_db,omitempty"`
}

// Routing returns the output channels the snippet mixes onto: the explicit
// routing list, or every channel when none is set.
func (s StimulusDef) Routing(nChannels int) []int {
	if len(s.Channels) > 0 {
		return s.Channels
	}
	all := make([]int, nChannels)
	for i := range all {
		all[i] = i
	}
	return all
}

// Validate checks a stimulus definition against nChannels output channels.
func (s StimulusDef) Validate(nChannels int) error {
	if s.Generator == "" {
		return fmt.Errorf("generator is required")
	}
	if s.DurationMs <= 0 {
		return fmt.Errorf("duration_ms must be positive, got %g", s.DurationMs)
	}
	if s.DurationMs > MaxStimulusMs {
		return fmt.Errorf("duration_ms %g exceeds maximum %d", s.DurationMs, MaxStimulusMs)
	}
	for i, ch := range s.Channels {
		if ch < 0 || ch >= nChannels {
			return fmt.Errorf("channels[%d] = %d out of range [0, %d)", i, ch, nChannels)
		}
	}
	return nil
}

// StimulusLibrary maps stimulus_ref names to definitions and fixes the
// output channel count for the whole sequence.
type StimulusLibrary struct {
	Channels int                    `json:"channels"`
	Stimuli  map[string]StimulusDef `json:"stimuli"`
}

// Resolve looks up a stimulus_ref.
func (l *StimulusLibrary) Resolve(ref string) (StimulusDef, error) {
	def, ok := l.Stimuli[ref]
	if !ok {
		return StimulusDef{}, fmt.Errorf("%w: %q", ErrStimulusNotFound, ref)
	}
	return def, nil
}

// Validate checks the library as a whole.
func (l *StimulusLibrary) Validate() error {
	if l.Channels < 1 || l.Channels > MaxChannels {
		return fmt.Errorf("channels must be in [1, %d], got %d", MaxChannels, l.Channels)
	}
	if len(l.Stimuli) == 0 {
		return fmt.Errorf("stimulus library is empty")
	}
	for name, def := range l.Stimuli {
		if err := def.Validate(l.Channels); err != nil {
			return fmt.Errorf("stimulus %q: %w", name, err)
		}
	}
	return nil
}
