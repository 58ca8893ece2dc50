package hibiki

import "math"

// GenContext carries the fixed inputs of one snippet generation. The
// seed is derived per element from the session's master seed; a
// generator that uses randomness must draw from it and nothing else.
type GenContext struct {
	SampleRateHz int
	DurationMs   float64
	Seed         uint64
}

// Frames returns the required snippet length for this context.
func (gc GenContext) Frames() int {
	return int(math.Round(gc.DurationMs * float64(gc.SampleRateHz) / 1000))
}

// Generator synthesizes one mono stimulus snippet.
// When registered via WithGenerator it is callable from documents by
// name, exactly like the built-in tone, noise, click, and silence
// generators. Generate must be a pure function of its arguments:
// equal inputs produce bit-identical output, on any platform.
//
// The snippet length must equal round(DurationMs * SampleRateHz / 1000)
// frames. The engine applies gain and channel routing afterwards.
// Generators run concurrently — implementations must not share state.
type Generator interface {
	Generate(gc GenContext, params map[string]float64) ([]float32, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(gc GenContext, params map[string]float64) ([]float32, error)

// Generate calls f.
func (f GeneratorFunc) Generate(gc GenContext, params map[string]float64) ([]float32, error) {
	return f(gc, params)
}
