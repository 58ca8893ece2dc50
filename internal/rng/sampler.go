package rng

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/aurelab/hibiki/internal/model"
)

// ScopeUnit identifies the sampling unit a draw belongs to: which trial
// and which block the caller is currently inside.
type ScopeUnit struct {
	Trial int
	Block int
}

type scopeKey struct {
	field string
	scope model.Scope
	unit  int
}

// Sampler draws concrete values from numeric fields. Repeated reads of
// the same field within the same scope unit return the same value, no
// matter how many call sites read it. Each draw uses a stream derived
// from the field identity and the scope unit, so values do not depend on
// the order fields are read in.
//
// A Sampler is owned by exactly one compile invocation and is not safe
// for concurrent use.
type Sampler struct {
	mgr   *Manager
	cache map[scopeKey]float64
}

// NewSampler returns a sampler drawing through mgr.
func NewSampler(mgr *Manager) *Sampler {
	return &Sampler{
		mgr:   mgr,
		cache: make(map[scopeKey]float64),
	}
}

// Sample resolves a numeric field to a concrete value. Scalar fields
// return their value directly. Distribution fields draw once per
// (field, scope unit) and cache the result.
func (s *Sampler) Sample(fieldID string, f model.NumericField, unit ScopeUnit) (float64, error) {
	if f.IsScalar() {
		return f.ScalarValue(), nil
	}
	if f.Dist == nil {
		return 0, fmt.Errorf("rng: sample %s: empty numeric field", fieldID)
	}
	d := *f.Dist
	if err := d.Validate(); err != nil {
		return 0, fmt.Errorf("rng: sample %s: %w", fieldID, err)
	}

	scope := d.EffectiveScope()
	unitID := 0
	switch scope {
	case model.ScopePerTrial:
		unitID = unit.Trial
	case model.ScopePerBlock:
		unitID = unit.Block
	case model.ScopePerSession:
		unitID = 0
	}

	key := scopeKey{field: fieldID, scope: scope, unit: unitID}
	if v, ok := s.cache[key]; ok {
		return v, nil
	}

	stream := s.mgr.Stream(fmt.Sprintf("field:%s:%s:%d", fieldID, scope, unitID))
	v := draw(d, stream)
	s.cache[key] = v
	return v, nil
}

// draw produces one value from a validated distribution.
func draw(d model.Distribution, stream *rand.Rand) float64 {
	switch d.Kind {
	case model.DistUniform:
		return d.Min + stream.Float64()*(d.Max-d.Min)
	case model.DistNormal:
		return d.Mean + d.Std*stream.NormFloat64()
	case model.DistLogUniform:
		lo, hi := math.Log(d.Min), math.Log(d.Max)
		return math.Exp(lo + stream.Float64()*(hi-lo))
	case model.DistCategorical:
		u := stream.Float64()
		cum := 0.0
		for i, p := range d.Probabilities {
			cum += p
			if u < cum {
				return d.Categories[i]
			}
		}
		// Floating point residue can leave u just past the final
		// cumulative sum.
		return d.Categories[len(d.Categories)-1]
	}
	return 0
}
