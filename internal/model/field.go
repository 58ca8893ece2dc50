package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// DistKind enumerates supported distribution kinds.
type DistKind string

const (
	DistUniform     DistKind = "uniform"
	DistNormal      DistKind = "normal"
	DistLogUniform  DistKind = "loguniform"
	DistCategorical DistKind = "categorical"
)

// Valid reports whether k is a known distribution kind.
func (k DistKind) Valid() bool {
	switch k {
	case DistUniform, DistNormal, DistLogUniform, DistCategorical:
		return true
	}
	return false
}

// Scope controls how often a distribution-valued field is re-sampled.
type Scope string

const (
	ScopePerTrial   Scope = "per_trial"
	ScopePerBlock   Scope = "per_block"
	ScopePerSession Scope = "per_session"
)

// Valid reports whether s is a known sampling scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopePerTrial, ScopePerBlock, ScopePerSession:
		return true
	}
	return false
}

// ProbabilitySumTolerance is the allowed deviation from 1.0 for a set of
// probabilities (token base probabilities, categorical weights).
const ProbabilitySumTolerance = 1e-3

// Distribution describes how a numeric parameter is drawn. Which parameter
// fields are meaningful depends on Kind.
type Distribution struct {
	Kind DistKind `json:"kind"`

	// Uniform and loguniform bounds.
	Min float64 `json:"min,omitempty"`
	Max float64 `json:"max,omitempty"`

	// Normal parameters.
	Mean float64 `json:"mean,omitempty"`
	Std  float64 `json:"std,omitempty"`

	// Categorical support and weights. Same length, weights sum to 1.
	Categories    []float64 `json:"categories,omitempty"`
	Probabilities []float64 `json:"probabilities,omitempty"`

	Scope Scope `json:"scope,omitempty"`
}

// Validate checks the per-kind invariants of a distribution.
func (d Distribution) Validate() error {
	if !d.Kind.Valid() {
		return fmt.Errorf("unknown distribution kind %q", d.Kind)
	}
	if d.Scope != "" && !d.Scope.Valid() {
		return fmt.Errorf("unknown scope %q", d.Scope)
	}
	switch d.Kind {
	case DistUniform:
		if d.Min >= d.Max {
			return fmt.Errorf("uniform requires min < max, got [%g, %g]", d.Min, d.Max)
		}
	case DistLogUniform:
		if d.Min <= 0 {
			return fmt.Errorf("loguniform requires min > 0, got %g", d.Min)
		}
		if d.Min >= d.Max {
			return fmt.Errorf("loguniform requires min < max, got [%g, %g]", d.Min, d.Max)
		}
	case DistNormal:
		if d.Std <= 0 {
			return fmt.Errorf("normal requires std > 0, got %g", d.Std)
		}
	case DistCategorical:
		if len(d.Categories) == 0 {
			return fmt.Errorf("categorical requires at least one category")
		}
		if len(d.Categories) != len(d.Probabilities) {
			return fmt.Errorf("categorical has %d categories but %d probabilities",
				len(d.Categories), len(d.Probabilities))
		}
		sum := 0.0
		for i, p := range d.Probabilities {
			if p < 0 {
				return fmt.Errorf("categorical probability %d is negative: %g", i, p)
			}
			sum += p
		}
		if math.Abs(sum-1.0) > ProbabilitySumTolerance {
			return fmt.Errorf("categorical probabilities sum to %g, want 1.0 ±%g",
				sum, ProbabilitySumTolerance)
		}
	}
	return nil
}

// EffectiveScope returns the declared scope, defaulting to per_trial.
func (d Distribution) EffectiveScope() Scope {
	if d.Scope == "" {
		return ScopePerTrial
	}
	return d.Scope
}

// NumericField is a parameter that is either a fixed scalar or a
// distribution sampled at a declared scope. The variant is resolved once
// when a configuration document is decoded and never re-inspected ad hoc
// downstream: callers branch on IsScalar exactly once.
//
// On the wire a scalar is a bare JSON number and a distribution is an
// object with a "kind" discriminator.
type NumericField struct {
	Scalar *float64      `json:"-"`
	Dist   *Distribution `json:"-"`
}

// NewScalar returns a fixed-value NumericField.
func NewScalar(v float64) NumericField {
	return NumericField{Scalar: &v}
}

// NewDistribution returns a distribution-valued NumericField.
func NewDistribution(d Distribution) NumericField {
	return NumericField{Dist: &d}
}

// IsZero reports whether the field was never set.
func (f NumericField) IsZero() bool {
	return f.Scalar == nil && f.Dist == nil
}

// IsScalar reports whether the field is the fixed-scalar variant.
func (f NumericField) IsScalar() bool {
	return f.Scalar != nil
}

// ScalarValue returns the fixed value of a scalar field and panics on the
// distribution variant. Callers must check IsScalar first.
func (f NumericField) ScalarValue() float64 {
	if f.Scalar == nil {
		panic("model: ScalarValue called on non-scalar NumericField")
	}
	return *f.Scalar
}

// Validate checks that exactly one variant is set and that the
// distribution variant, if present, is internally consistent.
func (f NumericField) Validate() error {
	switch {
	case f.Scalar == nil && f.Dist == nil:
		return fmt.Errorf("numeric field is empty")
	case f.Scalar != nil && f.Dist != nil:
		return fmt.Errorf("numeric field has both scalar and distribution variants")
	case f.Dist != nil:
		return f.Dist.Validate()
	}
	return nil
}

// UnmarshalJSON decodes a bare number as the scalar variant and an object
// as the distribution variant.
func (f *NumericField) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		f.Scalar = &v
		f.Dist = nil
		return nil
	}
	var d Distribution
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return fmt.Errorf("numeric field is neither a number nor a distribution object: %w", err)
	}
	f.Scalar = nil
	f.Dist = &d
	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON.
func (f NumericField) MarshalJSON() ([]byte, error) {
	if f.Scalar != nil {
		return json.Marshal(*f.Scalar)
	}
	if f.Dist != nil {
		return json.Marshal(*f.Dist)
	}
	return []byte("null"), nil
}
