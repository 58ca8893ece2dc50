package compile_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelab/hibiki/internal/compile"
	"github.com/aurelab/hibiki/internal/ctxutil"
	"github.com/aurelab/hibiki/internal/model"
	"github.com/aurelab/hibiki/internal/rng"
	"github.com/aurelab/hibiki/internal/stimgen"
	"github.com/aurelab/hibiki/internal/testutil"
)

const testRate = 8000

func constGenerator() stimgen.Generator {
	return stimgen.Func(func(req stimgen.Request) ([]float32, error) {
		buf := make([]float32, req.Frames())
		for i := range buf {
			buf[i] = 1
		}
		return buf, nil
	})
}

func newCompiler(t *testing.T, seed uint64) *compile.Compiler {
	t.Helper()
	reg := stimgen.NewRegistry()
	reg.Register("const", constGenerator())
	return compile.New(reg, rng.NewManager(seed), testutil.Logger(t))
}

func stereoLibrary(defs map[string]model.StimulusDef) *model.StimulusLibrary {
	return &model.StimulusLibrary{Channels: 2, Stimuli: defs}
}

func row(trial, element int, ref string, onsetMs, durationMs float64, code uint16) model.ElementRow {
	return model.ElementRow{
		TrialIndex:      trial,
		ElementIndex:    element,
		StimulusRef:     ref,
		AbsoluteOnsetMs: onsetMs,
		DurationMs:      durationMs,
		Label:           ref,
		TTLCode:         code,
	}
}

func table(rows ...model.ElementRow) *model.ElementTable {
	trials := []model.TrialRow{}
	seen := map[int]bool{}
	for _, r := range rows {
		if !seen[r.TrialIndex] {
			seen[r.TrialIndex] = true
			trials = append(trials, model.TrialRow{TrialIndex: r.TrialIndex, Label: r.Label, OnsetMs: r.AbsoluteOnsetMs})
		}
	}
	return &model.ElementTable{Rows: rows, Trials: trials}
}

func TestRender_MixesAtSamplePositions(t *testing.T) {
	lib := stereoLibrary(map[string]model.StimulusDef{
		"blip": {Name: "blip", Generator: "const", DurationMs: 4},
	})
	tbl := table(
		row(0, 0, "blip", 0, 4, 1),
		row(1, 0, "blip", 100, 4, 2),
	)

	art, err := newCompiler(t, 1).Render(context.Background(), tbl, lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.NoError(t, err)

	// 104 ms at 8 kHz: 832 frames, stereo interleaved.
	assert.Equal(t, 832, art.Audio.Frames())
	assert.Equal(t, 2, art.Audio.Channels)

	// First blip covers frames [0, 32), second [800, 832), both channels.
	assert.Equal(t, float32(1), art.Audio.Data[0])
	assert.Equal(t, float32(1), art.Audio.Data[31*2+1])
	assert.Equal(t, float32(0), art.Audio.Data[32*2])
	assert.Equal(t, float32(1), art.Audio.Data[800*2])
	assert.Equal(t, float32(1), art.Audio.Data[831*2+1])
}

func TestRender_OverlappingSnippetsAdd(t *testing.T) {
	lib := stereoLibrary(map[string]model.StimulusDef{
		"blip": {Name: "blip", Generator: "const", DurationMs: 10},
	})
	tbl := table(
		row(0, 0, "blip", 0, 10, 1),
		row(0, 1, "blip", 5, 10, 2),
	)

	art, err := newCompiler(t, 1).Render(context.Background(), tbl, lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.NoError(t, err)

	// Overlap region [40, 80) sums both snippets.
	assert.Equal(t, float32(1), art.Audio.Data[0])
	assert.Equal(t, float32(2), art.Audio.Data[40*2])
	assert.Equal(t, float32(1), art.Audio.Data[80*2])
}

func TestRender_ClipsAtBufferEnd(t *testing.T) {
	lib := stereoLibrary(map[string]model.StimulusDef{
		"blip": {Name: "blip", Generator: "const", DurationMs: 5},
		"tick": {Name: "tick", Generator: "const", DurationMs: 0.775},
	})
	// The tick's onset rounds up to frame 77 while its 6.2-frame duration
	// ceils to a 7-frame snippet, reaching past the 83-frame buffer; the
	// default 5 ms pulse runs past the end too.
	tbl := table(
		row(0, 0, "blip", 0, 5, 3),
		row(1, 0, "tick", 9.5625, 0.775, 4),
	)

	art, err := newCompiler(t, 1).Render(context.Background(), tbl, lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.NoError(t, err)

	require.Equal(t, 83, art.Audio.Frames())
	assert.Equal(t, float32(1), art.Audio.Data[77*2])
	assert.Equal(t, float32(1), art.Audio.Data[82*2+1], "clipped snippet keeps its in-range frames")
	assert.Equal(t, float32(0), art.Audio.Data[76*2])

	require.Len(t, art.TTL, 83)
	assert.Equal(t, uint16(3), art.TTL[39])
	assert.Equal(t, uint16(0), art.TTL[40])
	assert.Equal(t, uint16(4), art.TTL[77])
	assert.Equal(t, uint16(4), art.TTL[82], "pulse truncates at the buffer end")

	require.Len(t, art.Events, 2)
	assert.Equal(t, int64(77), art.Events[1].SampleIndex)
}

func TestRender_GainAndRouting(t *testing.T) {
	lib := stereoLibrary(map[string]model.StimulusDef{
		"right": {Name: "right", Generator: "const", DurationMs: 10, Channels: []int{1}, GainDB: -6.0205999},
	})
	tbl := table(row(0, 0, "right", 0, 10, 1))

	art, err := newCompiler(t, 1).Render(context.Background(), tbl, lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.NoError(t, err)

	assert.Equal(t, float32(0), art.Audio.Data[0], "left channel untouched")
	assert.InDelta(t, 0.5, float64(art.Audio.Data[1]), 1e-4, "-6.02 dB halves the amplitude")
}

func TestRender_TTLPulsesAndEvents(t *testing.T) {
	lib := stereoLibrary(map[string]model.StimulusDef{
		"blip": {Name: "blip", Generator: "const", DurationMs: 10},
	})
	tbl := table(
		row(0, 0, "blip", 0, 10, 3),
		row(1, 0, "blip", 1, 10, 4), // pulse starts inside the previous pulse
	)

	art, err := newCompiler(t, 1).Render(context.Background(), tbl, lib,
		compile.Provenance{SchemaVersion: "1"},
		compile.Options{SampleRateHz: testRate, PulseWidthMs: 2})
	require.NoError(t, err)

	// 2 ms pulses are 16 frames. Second pulse starts at frame 8 and
	// overwrites the first from there.
	for i := 0; i < 8; i++ {
		assert.Equal(t, uint16(3), art.TTL[i], "frame %d", i)
	}
	for i := 8; i < 24; i++ {
		assert.Equal(t, uint16(4), art.TTL[i], "frame %d", i)
	}
	assert.Equal(t, uint16(0), art.TTL[24])

	require.Len(t, art.Events, 2)
	assert.Equal(t, int64(0), art.Events[0].SampleIndex)
	assert.Equal(t, uint16(3), art.Events[0].Code)
	assert.Equal(t, int64(8), art.Events[1].SampleIndex)
	assert.Equal(t, uint16(4), art.Events[1].Code)
	assert.InDelta(t, 1.0, art.Events[1].TimeMs, 1e-9)
}

func TestRender_DeterministicForSeed(t *testing.T) {
	lib := stereoLibrary(map[string]model.StimulusDef{
		"hiss": {Name: "hiss", Generator: "noise", DurationMs: 50},
	})
	tbl := table(
		row(0, 0, "hiss", 0, 50, 1),
		row(1, 0, "hiss", 200, 50, 1),
	)

	a1, err := newCompiler(t, 42).Render(context.Background(), tbl, lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.NoError(t, err)
	a2, err := newCompiler(t, 42).Render(context.Background(), tbl, lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.NoError(t, err)

	assert.Equal(t, a1.Audio.Data, a2.Audio.Data)
	assert.Equal(t, a1.Manifest.AudioHash, a2.Manifest.AudioHash)

	a3, err := newCompiler(t, 43).Render(context.Background(), tbl, lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.NoError(t, err)
	assert.NotEqual(t, a1.Manifest.AudioHash, a3.Manifest.AudioHash,
		"noise must differ across master seeds")

	// The two hiss elements use distinct derived seeds.
	left := a1.Audio.Data[:400*2]
	right := a1.Audio.Data[1600*2 : 2000*2]
	assert.NotEqual(t, left, right)
}

func TestRender_ManifestSealed(t *testing.T) {
	lib := stereoLibrary(map[string]model.StimulusDef{
		"blip": {Name: "blip", Generator: "const", DurationMs: 4},
	})
	tbl := table(
		row(0, 0, "blip", 0, 4, 1),
		row(1, 0, "blip", 50, 4, 2),
	)

	prov := compile.Provenance{
		Paradigm:      "oddball",
		MasterSeed:    42,
		SchemaVersion: "1",
		EngineVersion: "0.3.0",
		ConfigHash:    "v1:deadbeef",
	}
	art, err := newCompiler(t, 42).Render(context.Background(), tbl, lib, prov,
		compile.Options{SampleRateHz: testRate})
	require.NoError(t, err)

	m := art.Manifest
	assert.NotEqual(t, "", m.ArtifactID.String())
	assert.Equal(t, "oddball", m.Paradigm)
	assert.Equal(t, uint64(42), m.MasterSeed)
	assert.Equal(t, "1", m.SchemaVersion)
	assert.Equal(t, "0.3.0", m.EngineVersion)
	assert.Equal(t, "v1:deadbeef", m.ConfigHash)
	assert.Equal(t, testRate, m.SampleRateHz)
	assert.Equal(t, 2, m.Channels)
	assert.Equal(t, 2, m.NTrials)
	assert.Equal(t, 2, m.NElements)
	assert.Equal(t, compile.DefaultPulseWidthMs, m.PulseWidthMs)
	assert.True(t, strings.HasPrefix(m.AudioHash, "v1:"))
	assert.False(t, m.CreatedAt.IsZero())
}

func TestRender_UsesStampedCompileID(t *testing.T) {
	lib := stereoLibrary(map[string]model.StimulusDef{
		"blip": {Name: "blip", Generator: "const", DurationMs: 4},
	})
	tbl := table(row(0, 0, "blip", 0, 4, 1))

	id := uuid.New()
	ctx := ctxutil.WithCompileID(context.Background(), id)
	art, err := newCompiler(t, 1).Render(ctx, tbl, lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.NoError(t, err)
	assert.Equal(t, id, art.Manifest.ArtifactID)

	// Without a stamp the compiler mints its own.
	art2, err := newCompiler(t, 1).Render(context.Background(), tbl, lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, art2.Manifest.ArtifactID)
}

func TestRender_GeneratorFailureAborts(t *testing.T) {
	reg := stimgen.NewRegistry()
	reg.Register("boom", stimgen.Func(func(req stimgen.Request) ([]float32, error) {
		return nil, assert.AnError
	}))
	c := compile.New(reg, rng.NewManager(1), testutil.Logger(t))

	lib := stereoLibrary(map[string]model.StimulusDef{
		"bad": {Name: "bad", Generator: "boom", DurationMs: 10},
	})
	art, err := c.Render(context.Background(), table(row(0, 0, "bad", 0, 10, 1)), lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.ErrorIs(t, err, compile.ErrGeneration)
	assert.Nil(t, art)
}

func TestRender_GeneratorTimeout(t *testing.T) {
	reg := stimgen.NewRegistry()
	reg.Register("slow", stimgen.Func(func(req stimgen.Request) ([]float32, error) {
		time.Sleep(200 * time.Millisecond)
		return make([]float32, req.Frames()), nil
	}))
	c := compile.New(reg, rng.NewManager(1), testutil.Logger(t))

	lib := stereoLibrary(map[string]model.StimulusDef{
		"lag": {Name: "lag", Generator: "slow", DurationMs: 10},
	})
	_, err := c.Render(context.Background(), table(row(0, 0, "lag", 0, 10, 1)), lib,
		compile.Provenance{SchemaVersion: "1"},
		compile.Options{SampleRateHz: testRate, ElementTimeout: 10 * time.Millisecond})
	require.ErrorIs(t, err, compile.ErrGeneration)
	assert.Contains(t, err.Error(), "timed out")
}

func TestRender_WrongSnippetLength(t *testing.T) {
	reg := stimgen.NewRegistry()
	reg.Register("short", stimgen.Func(func(req stimgen.Request) ([]float32, error) {
		return make([]float32, 3), nil
	}))
	c := compile.New(reg, rng.NewManager(1), testutil.Logger(t))

	lib := stereoLibrary(map[string]model.StimulusDef{
		"odd": {Name: "odd", Generator: "short", DurationMs: 10},
	})
	_, err := c.Render(context.Background(), table(row(0, 0, "odd", 0, 10, 1)), lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.ErrorIs(t, err, compile.ErrGeneration)
	assert.Contains(t, err.Error(), "want 80")
}

func TestRender_UnresolvedReferences(t *testing.T) {
	c := newCompiler(t, 1)
	lib := stereoLibrary(map[string]model.StimulusDef{
		"blip": {Name: "blip", Generator: "warble", DurationMs: 10},
	})

	_, err := c.Render(context.Background(), table(row(0, 0, "ghost", 0, 10, 1)), lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.ErrorIs(t, err, model.ErrStimulusNotFound)

	_, err = c.Render(context.Background(), table(row(0, 0, "blip", 0, 10, 1)), lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.ErrorIs(t, err, stimgen.ErrUnknownGenerator)
}

func TestRender_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lib := stereoLibrary(map[string]model.StimulusDef{
		"blip": {Name: "blip", Generator: "const", DurationMs: 10},
	})
	_, err := newCompiler(t, 1).Render(ctx, table(row(0, 0, "blip", 0, 10, 1)), lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRender_InvalidInputs(t *testing.T) {
	c := newCompiler(t, 1)
	lib := stereoLibrary(map[string]model.StimulusDef{
		"blip": {Name: "blip", Generator: "const", DurationMs: 10},
	})

	_, err := c.Render(context.Background(), nil, lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.Error(t, err)

	_, err = c.Render(context.Background(), table(), nil,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: testRate})
	require.Error(t, err)

	_, err = c.Render(context.Background(), table(), lib,
		compile.Provenance{SchemaVersion: "1"}, compile.Options{SampleRateHz: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample_rate_hz")
}
