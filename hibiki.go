// Package hibiki is the public API for embedding the hibiki sequence
// compiler: declarative auditory experiment documents in, fully rendered
// and provenance-sealed stimulus sequences out.
//
// Lab tooling and acquisition hosts import this package to compile
// sessions without shelling out:
//
//	eng, err := hibiki.New(
//	    hibiki.WithLogger(logger),
//	    hibiki.WithGenerator("chirp", myChirp),
//	)
//	if err != nil { ... }
//	defer eng.Close(ctx)
//
//	res, err := eng.Compile(ctx, doc)
//	if err != nil { ... }
//	if err := eng.WriteArtifact(ctx, "session.hbk", res.Artifact); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: hibiki (root) imports
// internal/*, but internal/* never imports hibiki (root). Public types
// (Artifact, Manifest, etc.) are standalone structs with no internal
// imports; conversion helpers (toPublicArtifact, fromPublicArtifact) live
// here because this is the only file that sees both sides of the boundary.
package hibiki

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aurelab/hibiki/internal/artifact"
	"github.com/aurelab/hibiki/internal/compile"
	"github.com/aurelab/hibiki/internal/config"
	"github.com/aurelab/hibiki/internal/ctxutil"
	"github.com/aurelab/hibiki/internal/integrity"
	"github.com/aurelab/hibiki/internal/model"
	"github.com/aurelab/hibiki/internal/paradigm"
	"github.com/aurelab/hibiki/internal/pattern"
	"github.com/aurelab/hibiki/internal/rng"
	"github.com/aurelab/hibiki/internal/schema"
	"github.com/aurelab/hibiki/internal/stimgen"
	"github.com/aurelab/hibiki/internal/telemetry"
)

// Version identifies this engine build. Stamped into every artifact
// manifest; artifacts compiled by different versions are not assumed
// bit-identical even for equal seeds.
const Version = "0.5.0"

const instrumentationScope = "github.com/aurelab/hibiki"

// Engine is the sequence compiler lifecycle. Construct with New(),
// compile with Compile(). Engine has no public fields — use New()
// options to configure it. An Engine is safe for concurrent Compile
// calls.
type Engine struct {
	cfg          config.Config
	validator    *schema.Validator
	registry     *stimgen.Registry
	metrics      *telemetry.CompileMetrics
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
}

// New initialises the compiler engine. It loads configuration, wires
// telemetry, and registers the built-in and caller-provided stimulus
// generators. It starts no goroutines — each Compile call manages its
// own worker pool.
func New(opts ...Option) (*Engine, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.workers > 0 {
		cfg.Workers = o.workers
	}
	if o.elementTimeout > 0 {
		cfg.ElementTimeout = o.elementTimeout
	}
	if o.pulseWidthMs > 0 {
		cfg.PulseWidthMs = o.pulseWidthMs
	}
	if o.sampleRateHz > 0 {
		cfg.DefaultSampleRateHz = o.sampleRateHz
	}
	if o.maxConstraintAttempts > 0 {
		cfg.MaxConstraintAttempts = o.maxConstraintAttempts
	}
	if o.otelEndpoint != "" {
		cfg.OTELEndpoint = o.otelEndpoint
	}

	logger.Info("hibiki starting",
		"version", Version,
		"workers", cfg.Workers,
		"default_sample_rate_hz", cfg.DefaultSampleRateHz)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, Version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	metrics, err := telemetry.NewCompileMetrics(instrumentationScope)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Document validator.
	validator, err := schema.NewValidator()
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("schema: %w", err)
	}

	// Stimulus registry: built-ins first, then caller overrides.
	registry := stimgen.NewRegistry()
	for _, ng := range o.generators {
		registry.Register(ng.name, &generatorAdapter{g: ng.g})
	}
	if len(o.generators) > 0 {
		logger.Info("custom generators registered", "count", len(o.generators))
	}

	return &Engine{
		cfg:          cfg,
		validator:    validator,
		registry:     registry,
		metrics:      metrics,
		otelShutdown: otelShutdown,
		logger:       logger,
	}, nil
}

// Compile turns one session document (JSON or YAML) into a sealed
// sequence artifact. The compile is all-or-nothing: a nil error means
// the artifact is complete, hashed, and reproducible from the document
// alone. Warnings report non-fatal degradations such as an ordering
// constraint that could not be satisfied within the retry budget.
func (e *Engine) Compile(ctx context.Context, doc []byte) (*Result, error) {
	start := time.Now()
	runID := uuid.New()
	ctx = ctxutil.WithCompileID(ctx, runID)
	logger := e.logger.With("compile_id", runID)

	ctx, span := telemetry.Tracer(instrumentationScope).Start(ctx, "hibiki.compile")
	defer span.End()

	res, err := e.compileDocument(ctx, logger, doc)
	e.metrics.Duration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		e.metrics.Failures.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("compile failed", "error", err)
		return nil, err
	}

	e.metrics.Compiles.Add(ctx, 1)
	e.metrics.Elements.Add(ctx, int64(len(res.Artifact.Elements)))
	e.metrics.Warnings.Add(ctx, int64(len(res.Warnings)))
	span.SetAttributes(
		attribute.String("hibiki.paradigm", res.Artifact.Manifest.Paradigm),
		attribute.Int("hibiki.trials", res.Artifact.Manifest.NTrials),
		attribute.Int("hibiki.elements", res.Artifact.Manifest.NElements),
	)
	return res, nil
}

// compileDocument runs the pipeline: decode, validate, plan, schedule,
// render.
func (e *Engine) compileDocument(ctx context.Context, logger *slog.Logger, doc []byte) (*Result, error) {
	sess, err := schema.DecodeDocument(doc)
	if err != nil {
		return nil, publicErr(err)
	}
	norm, err := e.validator.Validate(sess)
	if err != nil {
		return nil, publicErr(err)
	}

	// The config hash covers the normalized document, so formatting
	// differences between equivalent documents do not change identity.
	configHash, err := integrity.ConfigHash(norm)
	if err != nil {
		return nil, fmt.Errorf("config hash: %w", err)
	}

	logger.Info("document accepted",
		"paradigm", norm.Paradigm,
		"n_trials", norm.NTrials,
		"seed", norm.Seed)

	mgr := rng.NewManager(norm.Seed)
	sampler := rng.NewSampler(mgr)

	adapter, err := paradigm.New(norm, mgr, sampler, paradigm.Options{
		Policy: paradigm.RetryPolicy{MaxAttempts: e.cfg.MaxConstraintAttempts},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	plan, warnings, err := adapter.Plan(norm.NTrials)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, pattern.CheckFeasibility(plan)...)

	table, err := pattern.NewBuilder(logger).Build(plan)
	if err != nil {
		return nil, err
	}

	rate := norm.SampleRateHz
	if rate == 0 {
		rate = e.cfg.DefaultSampleRateHz
	}

	art, err := compile.New(e.registry, mgr, logger).Render(ctx, table, norm.Library,
		compile.Provenance{
			Paradigm:      adapter.Name(),
			MasterSeed:    mgr.Seed(),
			SchemaVersion: schema.Version,
			EngineVersion: Version,
			ConfigHash:    configHash,
		},
		compile.Options{
			SampleRateHz:   rate,
			Workers:        e.cfg.Workers,
			ElementTimeout: e.cfg.ElementTimeout,
			PulseWidthMs:   e.cfg.PulseWidthMs,
		})
	if err != nil {
		return nil, err
	}

	return &Result{
		Artifact: toPublicArtifact(art),
		Warnings: toPublicWarnings(warnings),
	}, nil
}

// WriteArtifact persists an artifact as a single-file container at path.
// The write is atomic: a crash mid-write never leaves a partial file at
// the destination.
func (e *Engine) WriteArtifact(ctx context.Context, path string, art *Artifact) error {
	if art == nil {
		return fmt.Errorf("write artifact: nil artifact")
	}
	if err := artifact.Write(ctx, path, fromPublicArtifact(art)); err != nil {
		return err
	}
	e.logger.Info("artifact written",
		"path", path,
		"artifact_id", art.Manifest.ArtifactID,
		"frames", art.Audio.Frames())
	return nil
}

// ReadArtifact loads a container written by WriteArtifact, verifying the
// format version and the audio hash.
func (e *Engine) ReadArtifact(ctx context.Context, path string) (*Artifact, error) {
	art, err := artifact.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return toPublicArtifact(art), nil
}

// Close flushes telemetry and releases engine resources. The Engine must
// not be used after Close.
func (e *Engine) Close(ctx context.Context) error {
	e.logger.Info("hibiki stopped")
	return e.otelShutdown(ctx)
}

// generatorAdapter bridges the public Generator contract onto the
// internal generation request.
type generatorAdapter struct {
	g Generator
}

func (a *generatorAdapter) Generate(req stimgen.Request) ([]float32, error) {
	gc := GenContext{
		SampleRateHz: req.SampleRateHz,
		DurationMs:   req.DurationMs,
		Seed:         req.Seed,
	}
	return a.g.Generate(gc, req.Params)
}

// publicErr converts internal validation errors to their public
// counterparts; anything else passes through.
func publicErr(err error) error {
	var ice *schema.InvalidConfigError
	if !errors.As(err, &ice) {
		return err
	}
	pub := &InvalidConfigError{Issues: make([]Issue, len(ice.Issues))}
	for i, issue := range ice.Issues {
		pub.Issues[i] = Issue{
			Kind:    string(issue.Kind),
			Path:    issue.Path,
			Code:    issue.Code,
			Message: issue.Message,
		}
	}
	return pub
}

// ── Boundary conversions ──────────────────────────────────────────────

// toPublicArtifact shares the audio and TTL backing arrays; row tables
// are converted element-wise.
func toPublicArtifact(a *model.SequenceArtifact) *Artifact {
	out := &Artifact{
		Audio: AudioBuffer{
			Data:         a.Audio.Data,
			Channels:     a.Audio.Channels,
			SampleRateHz: a.Audio.SampleRateHz,
		},
		TTL:      a.TTL,
		Events:   make([]EventRow, len(a.Events)),
		Trials:   make([]TrialRow, len(a.Trials)),
		Elements: make([]ElementRow, len(a.Elements)),
		Manifest: toPublicManifest(a.Manifest),
	}
	for i, ev := range a.Events {
		out.Events[i] = EventRow{
			SampleIndex:  ev.SampleIndex,
			TimeMs:       ev.TimeMs,
			Code:         ev.Code,
			TrialIndex:   ev.TrialIndex,
			ElementIndex: ev.ElementIndex,
		}
	}
	for i, tr := range a.Trials {
		out.Trials[i] = TrialRow{
			TrialIndex: tr.TrialIndex,
			Label:      tr.Label,
			OnsetMs:    tr.OnsetMs,
			DurationMs: tr.DurationMs,
			NElements:  tr.NElements,
		}
	}
	for i, el := range a.Elements {
		out.Elements[i] = ElementRow{
			TrialIndex:      el.TrialIndex,
			ElementIndex:    el.ElementIndex,
			StimulusRef:     el.StimulusRef,
			AbsoluteOnsetMs: el.AbsoluteOnsetMs,
			DurationMs:      el.DurationMs,
			Label:           el.Label,
			Role:            Role(el.Role),
			Symbol:          el.Symbol,
			TTLCode:         el.TTLCode,
		}
	}
	return out
}

func fromPublicArtifact(a *Artifact) *model.SequenceArtifact {
	out := &model.SequenceArtifact{
		Audio: model.AudioBuffer{
			Data:         a.Audio.Data,
			Channels:     a.Audio.Channels,
			SampleRateHz: a.Audio.SampleRateHz,
		},
		TTL:      a.TTL,
		Events:   make([]model.EventRow, len(a.Events)),
		Trials:   make([]model.TrialRow, len(a.Trials)),
		Elements: make([]model.ElementRow, len(a.Elements)),
		Manifest: fromPublicManifest(a.Manifest),
	}
	for i, ev := range a.Events {
		out.Events[i] = model.EventRow{
			SampleIndex:  ev.SampleIndex,
			TimeMs:       ev.TimeMs,
			Code:         ev.Code,
			TrialIndex:   ev.TrialIndex,
			ElementIndex: ev.ElementIndex,
		}
	}
	for i, tr := range a.Trials {
		out.Trials[i] = model.TrialRow{
			TrialIndex: tr.TrialIndex,
			Label:      tr.Label,
			OnsetMs:    tr.OnsetMs,
			DurationMs: tr.DurationMs,
			NElements:  tr.NElements,
		}
	}
	for i, el := range a.Elements {
		out.Elements[i] = model.ElementRow{
			TrialIndex:      el.TrialIndex,
			ElementIndex:    el.ElementIndex,
			StimulusRef:     el.StimulusRef,
			AbsoluteOnsetMs: el.AbsoluteOnsetMs,
			DurationMs:      el.DurationMs,
			Label:           el.Label,
			Role:            model.Role(el.Role),
			Symbol:          el.Symbol,
			TTLCode:         el.TTLCode,
		}
	}
	return out
}

func toPublicManifest(m model.Manifest) Manifest {
	return Manifest{
		ArtifactID:    m.ArtifactID,
		CreatedAt:     m.CreatedAt,
		SchemaVersion: m.SchemaVersion,
		EngineVersion: m.EngineVersion,
		Paradigm:      m.Paradigm,
		MasterSeed:    m.MasterSeed,
		SampleRateHz:  m.SampleRateHz,
		Channels:      m.Channels,
		NTrials:       m.NTrials,
		NElements:     m.NElements,
		PulseWidthMs:  m.PulseWidthMs,
		AudioHash:     m.AudioHash,
		ConfigHash:    m.ConfigHash,
	}
}

func fromPublicManifest(m Manifest) model.Manifest {
	return model.Manifest{
		ArtifactID:    m.ArtifactID,
		CreatedAt:     m.CreatedAt,
		SchemaVersion: m.SchemaVersion,
		EngineVersion: m.EngineVersion,
		Paradigm:      m.Paradigm,
		MasterSeed:    m.MasterSeed,
		SampleRateHz:  m.SampleRateHz,
		Channels:      m.Channels,
		NTrials:       m.NTrials,
		NElements:     m.NElements,
		PulseWidthMs:  m.PulseWidthMs,
		AudioHash:     m.AudioHash,
		ConfigHash:    m.ConfigHash,
	}
}

func toPublicWarnings(ws []model.Warning) []Warning {
	if len(ws) == 0 {
		return nil
	}
	out := make([]Warning, len(ws))
	for i, w := range ws {
		out[i] = Warning{Code: w.Code, Message: w.Message}
	}
	return out
}
