package model

import (
	"fmt"
)

// Session-scale limits enforced at validation time.
const (
	MaxTrials        = 100_000
	MaxPatternLength = 64
	MaxLabelLength   = 64
)

// Role tags an element's function within a trial.
type Role string

const (
	RoleCue     Role = "cue"
	RoleOutcome Role = "outcome"
)

// SelectionMode controls how trial labels are ordered across a session.
type SelectionMode string

const (
	SelectionIID             SelectionMode = "iid"
	SelectionBalancedShuffle SelectionMode = "balanced_shuffle"
)

// Valid reports whether m is a known selection mode.
func (m SelectionMode) Valid() bool {
	return m == SelectionIID || m == SelectionBalancedShuffle
}

// Token is a named reference to a stimulus with a target probability and
// a trigger identity.
type Token struct {
	Label           string  `json:"label"`
	StimulusRef     string  `json:"stimulus_ref"`
	BaseProbability float64 `json:"base_probability"`

	// Code is the TTL code written when this token fires. Zero means
	// unassigned; validation assigns codes 1..k in declaration order.
	Code uint16 `json:"code,omitempty"`

	// DurationMs overrides the stimulus definition's duration when set.
	DurationMs float64 `json:"duration_ms,omitempty"`
}

// Pattern is an ordered sequence of symbols, each bound to a Token via a
// symbol table, with a selection probability.
type Pattern struct {
	Label       string  `json:"label"`
	Sequence    string  `json:"sequence"`
	Probability float64 `json:"probability"`
}

// Element is one scheduled stimulus presentation inside a trial. Onset is
// relative to trial start; the pattern builder resolves absolute time.
type Element struct {
	StimulusRef      string  `json:"stimulus_ref"`
	ScheduledOnsetMs float64 `json:"scheduled_onset_ms"`
	DurationMs       float64 `json:"duration_ms"`
	Role             Role    `json:"role,omitempty"`
	Symbol           string  `json:"symbol,omitempty"`
	TTLCode          uint16  `json:"ttl_code"`
}

// Trial is a local timing window containing zero or more elements. A trial
// with zero elements is an omission trial.
type Trial struct {
	TrialIndex int       `json:"trial_index"`
	Label      string    `json:"label"`
	Elements   []Element `json:"elements"`
}

// TrialPlan is the ordered list of trials produced by a paradigm adapter.
// Timing intervals are resolved scalars by the time the plan exists.
// The plan is owned by the adapter that created it and consumed read-only
// downstream.
type TrialPlan struct {
	NTrials      int     `json:"n_trials"`
	ITIMs        float64 `json:"iti_ms"`
	RefractoryMs float64 `json:"refractory_ms,omitempty"`

	// BlockSize is the number of trials per block for per_block sampling
	// scope. Zero means the whole session is one block.
	BlockSize int `json:"block_size,omitempty"`

	Trials []Trial `json:"trials"`
}

// BlockIndex returns the block a trial belongs to under the plan's block
// size.
func (p *TrialPlan) BlockIndex(trialIndex int) int {
	if p.BlockSize <= 0 {
		return 0
	}
	return trialIndex / p.BlockSize
}

// ValidateLabel checks that a token or pattern label conforms to the
// allowed format. Labels must start with a letter and contain only
// letters, digits, hyphens, and underscores.
func ValidateLabel(label string) error {
	if len(label) == 0 {
		return fmt.Errorf("label must not be empty")
	}
	if len(label) > MaxLabelLength {
		return fmt.Errorf("label must be at most %d characters", MaxLabelLength)
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		if i == 0 {
			if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
				return fmt.Errorf("label must start with a letter, got %q", c)
			}
			continue
		}
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '-' && c != '_' {
			return fmt.Errorf("label contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
