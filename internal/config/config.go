// Package config loads engine configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aurelab/hibiki/internal/model"
)

// Config holds the engine-level knobs: everything that tunes how sequences
// compile without being part of any experiment document.
type Config struct {
	// Compile settings.
	Workers               int           // generation pool size; 0 = GOMAXPROCS
	ElementTimeout        time.Duration // per-element generation budget
	PulseWidthMs          float64       // TTL pulse width
	DefaultSampleRateHz   int           // used when a document omits sample_rate_hz
	MaxConstraintAttempts int           // reshuffle bound for ordering constraints

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with defaults.
// Invalid values are collected and reported together.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	workers, err := envInt("HIBIKI_WORKERS", 0)
	collect(err)
	elementTimeout, err := envDuration("HIBIKI_ELEMENT_TIMEOUT", 5*time.Second)
	collect(err)
	pulseWidth, err := envFloat("HIBIKI_PULSE_WIDTH_MS", 5)
	collect(err)
	sampleRate, err := envInt("HIBIKI_SAMPLE_RATE_HZ", 48000)
	collect(err)
	maxAttempts, err := envInt("HIBIKI_MAX_CONSTRAINT_ATTEMPTS", 1000)
	collect(err)
	otelInsecure, err := envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	cfg := Config{
		Workers:               workers,
		ElementTimeout:        elementTimeout,
		PulseWidthMs:          pulseWidth,
		DefaultSampleRateHz:   sampleRate,
		MaxConstraintAttempts: maxAttempts,
		OTELEndpoint:          envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:          otelInsecure,
		ServiceName:           envStr("OTEL_SERVICE_NAME", "hibiki"),
		LogLevel:              envStr("HIBIKI_LOG_LEVEL", "info"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("config: HIBIKI_WORKERS must be non-negative")
	}
	if c.ElementTimeout <= 0 {
		return fmt.Errorf("config: HIBIKI_ELEMENT_TIMEOUT must be positive")
	}
	if c.PulseWidthMs <= 0 {
		return fmt.Errorf("config: HIBIKI_PULSE_WIDTH_MS must be positive")
	}
	if c.DefaultSampleRateHz < model.MinSampleRateHz || c.DefaultSampleRateHz > model.MaxSampleRateHz {
		return fmt.Errorf("config: HIBIKI_SAMPLE_RATE_HZ must be in [%d, %d]",
			model.MinSampleRateHz, model.MaxSampleRateHz)
	}
	if c.MaxConstraintAttempts <= 0 {
		return fmt.Errorf("config: HIBIKI_MAX_CONSTRAINT_ATTEMPTS must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
