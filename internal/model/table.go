package model

import (
	"fmt"
)

// ElementRow is one fully resolved element in the flattened sequence.
type ElementRow struct {
	TrialIndex      int     `json:"trial_index"`
	ElementIndex    int     `json:"element_index"`
	StimulusRef     string  `json:"stimulus_ref"`
	AbsoluteOnsetMs float64 `json:"absolute_onset_ms"`
	DurationMs      float64 `json:"duration_ms"`
	Label           string  `json:"label"`
	Role            Role    `json:"role,omitempty"`
	Symbol          string  `json:"symbol,omitempty"`
	TTLCode         uint16  `json:"ttl_code"`
}

// TrialRow summarizes one trial's window in absolute time. Omission trials
// appear here with zero duration and zero elements.
type TrialRow struct {
	TrialIndex int     `json:"trial_index"`
	Label      string  `json:"label"`
	OnsetMs    float64 `json:"onset_ms"`
	DurationMs float64 `json:"duration_ms"`
	NElements  int     `json:"n_elements"`
}

// ElementTable is the flat, absolute-time expansion of a TrialPlan. Rows
// are ordered by construction: non-decreasing absolute onset, element
// indices restarting at 0 per trial.
type ElementTable struct {
	Rows   []ElementRow `json:"rows"`
	Trials []TrialRow   `json:"trials"`

	// TotalDurationMs is the end of the last trial window including its
	// refractory and ITI padding.
	TotalDurationMs float64 `json:"total_duration_ms"`
}

// End returns the end time of the last scheduled element in milliseconds,
// zero for an empty table.
func (t *ElementTable) End() float64 {
	end := 0.0
	for _, r := range t.Rows {
		if e := r.AbsoluteOnsetMs + r.DurationMs; e > end {
			end = e
		}
	}
	return end
}

// CheckMonotonic verifies the ordering invariants: onsets non-decreasing
// in row order and element indices restarting at 0 within each trial.
func (t *ElementTable) CheckMonotonic() error {
	prevOnset := 0.0
	prevTrial := -1
	nextElement := 0
	for i, r := range t.Rows {
		if r.AbsoluteOnsetMs < prevOnset {
			return fmt.Errorf("row %d: onset %gms precedes previous onset %gms",
				i, r.AbsoluteOnsetMs, prevOnset)
		}
		if r.TrialIndex != prevTrial {
			if r.TrialIndex < prevTrial {
				return fmt.Errorf("row %d: trial index %d precedes trial %d",
					i, r.TrialIndex, prevTrial)
			}
			prevTrial = r.TrialIndex
			nextElement = 0
		}
		if r.ElementIndex != nextElement {
			return fmt.Errorf("row %d: element index %d in trial %d, want %d",
				i, r.ElementIndex, r.TrialIndex, nextElement)
		}
		nextElement++
		prevOnset = r.AbsoluteOnsetMs
	}
	return nil
}
