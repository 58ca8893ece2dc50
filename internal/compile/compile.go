// Package compile renders element tables into sequence artifacts: seeded
// snippet generation on a bounded worker pool, deterministic serial mixing
// into the session buffer, the TTL trigger track, and the provenance
// manifest. A compile is all-or-nothing: any generator failure aborts with
// no partial artifact.
package compile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aurelab/hibiki/internal/ctxutil"
	"github.com/aurelab/hibiki/internal/integrity"
	"github.com/aurelab/hibiki/internal/model"
	"github.com/aurelab/hibiki/internal/rng"
	"github.com/aurelab/hibiki/internal/stimgen"
)

// ErrGeneration is wrapped by any error produced while generating stimulus
// snippets, including timeouts.
var ErrGeneration = errors.New("compile: generation failed")

// Defaults applied when Options fields are zero.
const (
	DefaultElementTimeout = 5 * time.Second
	DefaultPulseWidthMs   = 5.0
)

// Options are the per-render knobs. Zero values select defaults.
type Options struct {
	// SampleRateHz is the session sample rate.
	SampleRateHz int

	// Workers bounds the generation pool. Zero or negative uses GOMAXPROCS.
	Workers int

	// ElementTimeout is the per-snippet generation budget.
	ElementTimeout time.Duration

	// PulseWidthMs is the TTL pulse width written per event.
	PulseWidthMs float64
}

func (o Options) workers() int {
	if o.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return o.Workers
}

func (o Options) elementTimeout() time.Duration {
	if o.ElementTimeout <= 0 {
		return DefaultElementTimeout
	}
	return o.ElementTimeout
}

func (o Options) pulseWidthMs() float64 {
	if o.PulseWidthMs <= 0 {
		return DefaultPulseWidthMs
	}
	return o.PulseWidthMs
}

// Provenance carries the upstream identity fields sealed into the
// manifest alongside the computed hashes and counts.
type Provenance struct {
	Paradigm      string
	MasterSeed    uint64
	SchemaVersion string
	EngineVersion string
	ConfigHash    string
}

// Compiler renders element tables using a generator registry and the
// session's stream manager.
type Compiler struct {
	registry *stimgen.Registry
	mgr      *rng.Manager
	logger   *slog.Logger
}

// New returns a Compiler.
func New(registry *stimgen.Registry, mgr *rng.Manager, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{registry: registry, mgr: mgr, logger: logger}
}

// Render compiles a table against a stimulus library. Snippets generate in
// parallel, each from its own derived seed; mixing runs serially in table
// order so float accumulation is deterministic. The TTL track gets one
// pulse per element at the element's start sample, later rows overwriting
// earlier ones where pulses overlap.
func (c *Compiler) Render(ctx context.Context, table *model.ElementTable, lib *model.StimulusLibrary, prov Provenance, opts Options) (*model.SequenceArtifact, error) {
	if table == nil {
		return nil, fmt.Errorf("compile: nil element table")
	}
	if lib == nil {
		return nil, fmt.Errorf("compile: nil stimulus library")
	}
	rate := opts.SampleRateHz
	if rate < model.MinSampleRateHz || rate > model.MaxSampleRateHz {
		return nil, fmt.Errorf("compile: sample_rate_hz %d out of range [%d, %d]",
			rate, model.MinSampleRateHz, model.MaxSampleRateHz)
	}
	channels := lib.Channels
	if channels <= 0 || channels > model.MaxChannels {
		return nil, fmt.Errorf("compile: channel count %d out of range [1, %d]",
			channels, model.MaxChannels)
	}

	// Resolve every definition and generator before spawning workers, so
	// reference errors surface immediately and deterministically.
	defs := make([]model.StimulusDef, len(table.Rows))
	gens := make([]stimgen.Generator, len(table.Rows))
	for i, row := range table.Rows {
		def, err := lib.Resolve(row.StimulusRef)
		if err != nil {
			return nil, fmt.Errorf("compile: row %d: %w", i, err)
		}
		gen, err := c.registry.Resolve(def.Generator)
		if err != nil {
			return nil, fmt.Errorf("compile: stimulus %q: %w", row.StimulusRef, err)
		}
		defs[i] = def
		gens[i] = gen
	}

	start := time.Now()
	snippets := make([][]float32, len(table.Rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i, row := range table.Rows {
		g.Go(func() error {
			req := stimgen.Request{
				SampleRateHz: rate,
				DurationMs:   row.DurationMs,
				Seed:         c.mgr.DeriveSeed(fmt.Sprintf("gen:%d:%d", row.TrialIndex, row.ElementIndex)),
				Params:       defs[i].Params,
			}
			buf, err := generate(gctx, gens[i], req, opts.elementTimeout())
			if err != nil {
				return fmt.Errorf("%w: stimulus %q trial %d element %d: %v",
					ErrGeneration, row.StimulusRef, row.TrialIndex, row.ElementIndex, err)
			}
			if len(buf) != req.Frames() {
				return fmt.Errorf("%w: stimulus %q returned %d samples, want %d",
					ErrGeneration, row.StimulusRef, len(buf), req.Frames())
			}
			snippets[i] = buf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	frames := int(math.Ceil(table.End() * float64(rate) / 1000))
	audio := model.AudioBuffer{
		Data:         make([]float32, frames*channels),
		Channels:     channels,
		SampleRateHz: rate,
	}
	ttl := make([]uint16, frames)
	events := make([]model.EventRow, 0, len(table.Rows))
	pulseFrames := int(math.Round(opts.pulseWidthMs() * float64(rate) / 1000))
	if pulseFrames < 1 {
		pulseFrames = 1
	}

	for i, row := range table.Rows {
		at := int(math.Round(row.AbsoluteOnsetMs * float64(rate) / 1000))
		mix(&audio, snippets[i], at, defs[i].Routing(channels), gainScale(defs[i].GainDB))

		if row.TTLCode == 0 {
			continue
		}
		for j := at; j < at+pulseFrames && j < len(ttl); j++ {
			ttl[j] = row.TTLCode
		}
		if at < frames {
			events = append(events, model.EventRow{
				SampleIndex:  int64(at),
				TimeMs:       float64(at) * 1000 / float64(rate),
				Code:         row.TTLCode,
				TrialIndex:   row.TrialIndex,
				ElementIndex: row.ElementIndex,
			})
		}
	}

	// Reuse the run ID stamped by the engine so logs and the sealed
	// manifest name the same artifact.
	artifactID := ctxutil.CompileIDFromContext(ctx)
	if artifactID == uuid.Nil {
		artifactID = uuid.New()
	}

	artifact := &model.SequenceArtifact{
		Audio:    audio,
		TTL:      ttl,
		Events:   events,
		Trials:   append([]model.TrialRow(nil), table.Trials...),
		Elements: append([]model.ElementRow(nil), table.Rows...),
		Manifest: model.Manifest{
			ArtifactID:    artifactID,
			CreatedAt:     time.Now().UTC(),
			SchemaVersion: prov.SchemaVersion,
			EngineVersion: prov.EngineVersion,
			Paradigm:      prov.Paradigm,
			MasterSeed:    prov.MasterSeed,
			SampleRateHz:  rate,
			Channels:      channels,
			NTrials:       len(table.Trials),
			NElements:     len(table.Rows),
			PulseWidthMs:  opts.pulseWidthMs(),
			AudioHash:     integrity.AudioHash(&audio),
			ConfigHash:    prov.ConfigHash,
		},
	}
	if err := artifact.Manifest.Validate(); err != nil {
		return nil, fmt.Errorf("compile: manifest: %w", err)
	}

	c.logger.Info("compile: artifact rendered",
		"artifact_id", artifact.Manifest.ArtifactID,
		"frames", frames,
		"elements", len(table.Rows),
		"events", len(events),
		"duration_ms", audio.DurationMs(),
		"elapsed", time.Since(start))
	return artifact, nil
}

// generate runs one generator under the element budget. Generators are
// plain functions without cancellation; one that overruns its budget keeps
// its goroutine until it returns, and the buffered channel lets that
// goroutine exit.
func generate(ctx context.Context, g stimgen.Generator, req stimgen.Request, timeout time.Duration) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type result struct {
		buf []float32
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf, err := g.Generate(req)
		done <- result{buf, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.buf, r.err
	case <-timer.C:
		return nil, fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// mix adds a mono snippet into the interleaved session buffer at frame
// `at` on the given channels, clipping at the buffer end.
func mix(audio *model.AudioBuffer, snippet []float32, at int, routing []int, scale float32) {
	frames := audio.Frames()
	for i, v := range snippet {
		f := at + i
		if f >= frames {
			break
		}
		s := v * scale
		for _, ch := range routing {
			audio.Data[f*audio.Channels+ch] += s
		}
	}
}

// gainScale converts decibels to a linear factor.
func gainScale(db float64) float32 {
	if db == 0 {
		return 1
	}
	return float32(math.Pow(10, db/20))
}
