// Package testutil provides shared test infrastructure: a logger that
// stays quiet unless tests run verbose, and scratch paths for artifact
// round-trips.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// Logger returns a logger for tests. Silent by default; -v streams debug
// output to stderr.
func Logger(t testing.TB) *slog.Logger {
	t.Helper()
	if testing.Verbose() {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TempArtifactPath returns a path for a scratch artifact container inside
// the test's temp dir.
func TempArtifactPath(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "sequence.hbk")
}
