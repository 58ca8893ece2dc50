package hibiki

import (
	"log/slog"
	"time"
)

// Option configures an Engine.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger                *slog.Logger
	generators            []namedGenerator
	workers               int
	elementTimeout        time.Duration
	pulseWidthMs          float64
	sampleRateHz          int
	maxConstraintAttempts int
	otelEndpoint          string
}

type namedGenerator struct {
	name string
	g    Generator
}

// WithLogger sets the structured logger for the Engine.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithGenerator registers a custom stimulus generator under the given
// name, making it callable from documents. Registering a built-in name
// (tone, noise, click, silence) replaces the built-in. Multiple
// generators may be registered; a repeated name keeps the last.
func WithGenerator(name string, g Generator) Option {
	return func(o *resolvedOptions) {
		o.generators = append(o.generators, namedGenerator{name: name, g: g})
	}
}

// WithWorkers overrides the generation pool size from config
// (HIBIKI_WORKERS env var). Zero means one worker per CPU.
func WithWorkers(n int) Option {
	return func(o *resolvedOptions) { o.workers = n }
}

// WithElementTimeout overrides the per-element generation budget from
// config (HIBIKI_ELEMENT_TIMEOUT env var).
func WithElementTimeout(d time.Duration) Option {
	return func(o *resolvedOptions) { o.elementTimeout = d }
}

// WithPulseWidth overrides the TTL pulse width from config
// (HIBIKI_PULSE_WIDTH_MS env var).
func WithPulseWidth(ms float64) Option {
	return func(o *resolvedOptions) { o.pulseWidthMs = ms }
}

// WithSampleRate overrides the default output sample rate from config
// (HIBIKI_SAMPLE_RATE_HZ env var). A document's own sample_rate_hz
// still takes precedence.
func WithSampleRate(hz int) Option {
	return func(o *resolvedOptions) { o.sampleRateHz = hz }
}

// WithMaxConstraintAttempts overrides the reshuffle bound for ordering
// constraints from config (HIBIKI_MAX_CONSTRAINT_ATTEMPTS env var).
func WithMaxConstraintAttempts(n int) Option {
	return func(o *resolvedOptions) { o.maxConstraintAttempts = n }
}

// WithOTELEndpoint overrides the OTLP endpoint from config
// (OTEL_EXPORTER_OTLP_ENDPOINT env var). Empty disables telemetry.
func WithOTELEndpoint(endpoint string) Option {
	return func(o *resolvedOptions) { o.otelEndpoint = endpoint }
}
