package config

import (
	"strings"
	"testing"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "2.5")
	v, err := envFloat("TEST_FLOAT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2.5 {
		t.Fatalf("expected 2.5, got %g", v)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "wide")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-numeric value, got nil")
	}
	if got := err.Error(); got != `TEST_FLOAT_BAD="wide" is not a valid number` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "yep")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for invalid boolean, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="yep" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidWorkers(t *testing.T) {
	t.Setenv("HIBIKI_WORKERS", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid HIBIKI_WORKERS")
	}
	// Error should mention the variable name and value.
	if got := err.Error(); !strings.Contains(got, "HIBIKI_WORKERS") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention HIBIKI_WORKERS and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("HIBIKI_WORKERS", "abc")
	t.Setenv("HIBIKI_ELEMENT_TIMEOUT", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "HIBIKI_WORKERS") {
		t.Fatalf("error should mention HIBIKI_WORKERS, got: %s", got)
	}
	if !strings.Contains(got, "HIBIKI_ELEMENT_TIMEOUT") {
		t.Fatalf("error should mention HIBIKI_ELEMENT_TIMEOUT, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	t.Setenv("HIBIKI_WORKERS", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Workers != 0 {
		t.Fatalf("expected default workers 0, got %d", cfg.Workers)
	}
	if cfg.DefaultSampleRateHz != 48000 {
		t.Fatalf("expected default sample rate 48000, got %d", cfg.DefaultSampleRateHz)
	}
	if cfg.PulseWidthMs != 5 {
		t.Fatalf("expected default pulse width 5, got %g", cfg.PulseWidthMs)
	}
	if cfg.MaxConstraintAttempts != 1000 {
		t.Fatalf("expected default constraint bound 1000, got %d", cfg.MaxConstraintAttempts)
	}
}

func TestLoadValidatesRanges(t *testing.T) {
	t.Setenv("HIBIKI_SAMPLE_RATE_HZ", "100")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to reject out-of-range sample rate")
	}

	t.Setenv("HIBIKI_SAMPLE_RATE_HZ", "48000")
	t.Setenv("HIBIKI_PULSE_WIDTH_MS", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to reject negative pulse width")
	}
}
