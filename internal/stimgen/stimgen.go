// Package stimgen generates stimulus waveforms. Generators are pure
// functions of their request, so compiled audio reproduces bit-for-bit
// from the seed. Built-ins cover tones, noise, click trains and silence;
// engine options may register additional generators or override the
// built-ins under the same contract.
package stimgen

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrUnknownGenerator is returned when a stimulus definition names a
// generator the registry does not carry.
var ErrUnknownGenerator = errors.New("stimgen: unknown generator")

// Request carries one snippet's generation inputs.
type Request struct {
	// SampleRateHz is the session sample rate.
	SampleRateHz int

	// DurationMs is the snippet length; Frames rounds it to samples.
	DurationMs float64

	// Seed drives any randomness the generator uses. Equal seeds must
	// reproduce equal output.
	Seed uint64

	// Params are the free parameters from the stimulus definition.
	Params map[string]float64
}

// Frames returns the snippet length in samples.
func (r Request) Frames() int {
	return int(math.Round(r.DurationMs * float64(r.SampleRateHz) / 1000))
}

// Param returns a parameter value, or fallback when the key is absent.
func (r Request) Param(key string, fallback float64) float64 {
	if v, ok := r.Params[key]; ok {
		return v
	}
	return fallback
}

// Generator produces one mono snippet. Gain and channel routing are the
// compiler's job, not the generator's.
type Generator interface {
	Generate(req Request) ([]float32, error)
}

// Func adapts a plain function to Generator.
type Func func(req Request) ([]float32, error)

// Generate implements Generator.
func (f Func) Generate(req Request) ([]float32, error) { return f(req) }

// Registry maps generator names to implementations.
type Registry struct {
	byName map[string]Generator
}

// NewRegistry returns a registry with the built-in generators installed.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Generator, 4)}
	r.Register(GenTone, Func(Tone))
	r.Register(GenNoise, Func(Noise))
	r.Register(GenClick, Func(Click))
	r.Register(GenSilence, Func(Silence))
	return r
}

// Register installs g under name, replacing any existing entry.
func (r *Registry) Register(name string, g Generator) {
	r.byName[name] = g
}

// Resolve returns the generator registered under name.
func (r *Registry) Resolve(name string) (Generator, error) {
	g, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGenerator, name)
	}
	return g, nil
}

// Names returns the registered generator names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
