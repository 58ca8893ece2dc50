package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aurelab/hibiki"
)

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("HIBIKI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// Logs go to stderr; stdout is reserved for -inspect output.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	out := flag.String("o", "", "output container path (default: document path with .hbk extension)")
	inspect := flag.Bool("inspect", false, "print the manifest of an existing container and exit")
	workers := flag.Int("workers", 0, "generation pool size (0 = one per CPU)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		return fmt.Errorf("expected exactly one input path")
	}
	input := flag.Arg(0)

	eng, err := hibiki.New(
		hibiki.WithLogger(logger),
		hibiki.WithWorkers(*workers),
	)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close(context.Background()) }()

	if *inspect {
		return inspectContainer(ctx, eng, input)
	}
	return compileDocument(ctx, eng, input, *out)
}

func compileDocument(ctx context.Context, eng *hibiki.Engine, docPath, outPath string) error {
	doc, err := os.ReadFile(docPath)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	res, err := eng.Compile(ctx, doc)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		slog.Warn("compile warning", "code", w.Code, "message", w.Message)
	}

	if outPath == "" {
		outPath = strings.TrimSuffix(docPath, filepath.Ext(docPath)) + ".hbk"
	}
	if err := eng.WriteArtifact(ctx, outPath, res.Artifact); err != nil {
		return err
	}

	m := res.Artifact.Manifest
	slog.Info("sequence compiled",
		"out", outPath,
		"paradigm", m.Paradigm,
		"trials", m.NTrials,
		"elements", m.NElements,
		"duration_ms", res.Artifact.Audio.DurationMs(),
		"warnings", len(res.Warnings))
	return nil
}

// containerReport is the -inspect output shape.
type containerReport struct {
	ArtifactID    string  `json:"artifact_id"`
	CreatedAt     string  `json:"created_at"`
	SchemaVersion string  `json:"schema_version"`
	EngineVersion string  `json:"engine_version"`
	Paradigm      string  `json:"paradigm"`
	MasterSeed    uint64  `json:"master_seed"`
	SampleRateHz  int     `json:"sample_rate_hz"`
	Channels      int     `json:"channels"`
	NTrials       int     `json:"n_trials"`
	NElements     int     `json:"n_elements"`
	NEvents       int     `json:"n_events"`
	DurationMs    float64 `json:"duration_ms"`
	PulseWidthMs  float64 `json:"pulse_width_ms"`
	AudioHash     string  `json:"audio_hash"`
	ConfigHash    string  `json:"config_hash"`
}

func inspectContainer(ctx context.Context, eng *hibiki.Engine, path string) error {
	art, err := eng.ReadArtifact(ctx, path)
	if err != nil {
		return err
	}

	m := art.Manifest
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(containerReport{
		ArtifactID:    m.ArtifactID.String(),
		CreatedAt:     m.CreatedAt.Format(time.RFC3339Nano),
		SchemaVersion: m.SchemaVersion,
		EngineVersion: m.EngineVersion,
		Paradigm:      m.Paradigm,
		MasterSeed:    m.MasterSeed,
		SampleRateHz:  m.SampleRateHz,
		Channels:      m.Channels,
		NTrials:       m.NTrials,
		NElements:     m.NElements,
		NEvents:       len(art.Events),
		DurationMs:    art.Audio.DurationMs(),
		PulseWidthMs:  m.PulseWidthMs,
		AudioHash:     m.AudioHash,
		ConfigHash:    m.ConfigHash,
	})
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: hibiki [flags] document.{yaml,json}
       hibiki -inspect container.hbk

Compiles a declarative session document into a rendered sequence container.

Flags:
`)
	flag.PrintDefaults()
}
