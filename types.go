package hibiki

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role tags an element's function within its trial. Empty for plain
// stimulus elements.
type Role string

const (
	RoleCue     Role = "cue"
	RoleOutcome Role = "outcome"
)

// Issue is one validation finding with enough context to act on.
type Issue struct {
	// Kind is "schema" for document-shape problems and "config" for
	// cross-field rule violations.
	Kind    string
	Path    string
	Code    string
	Message string
}

// InvalidConfigError carries every issue found while validating a
// document. Compile returns it for malformed or inconsistent documents;
// one call reports all findings, not just the first.
type InvalidConfigError struct {
	Issues []Issue
}

func (e *InvalidConfigError) Error() string {
	switch len(e.Issues) {
	case 0:
		return "configuration invalid"
	case 1:
		return fmt.Sprintf("configuration invalid: %s: %s", e.Issues[0].Path, e.Issues[0].Message)
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "configuration invalid: %d issues:", len(e.Issues))
		for _, issue := range e.Issues {
			fmt.Fprintf(&b, "\n  %s: %s", issue.Path, issue.Message)
		}
		return b.String()
	}
}

// Warning reports a non-fatal degradation detected during compilation,
// such as an ordering constraint that could not be satisfied within the
// retry budget. Warnings never abort a compile.
type Warning struct {
	Code    string
	Message string
}

// Warning codes.
const (
	WarnConstraintUnsatisfied = "constraint_unsatisfied"
	WarnTimingInfeasible      = "timing_infeasible"
)

// AudioBuffer is the rendered session audio: interleaved float32 frames.
// It is a curated view of the internal buffer for use outside the module.
// No internal package imports — safe to use from outside the module.
type AudioBuffer struct {
	// Data holds Channels samples per frame, interleaved.
	Data         []float32
	Channels     int
	SampleRateHz int
}

// Frames returns the number of audio frames in the buffer.
func (b *AudioBuffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Data) / b.Channels
}

// DurationMs returns the buffer length in milliseconds.
func (b *AudioBuffer) DurationMs() float64 {
	if b.SampleRateHz == 0 {
		return 0
	}
	return float64(b.Frames()) * 1000 / float64(b.SampleRateHz)
}

// TrialRow summarizes one trial in the compiled sequence.
type TrialRow struct {
	TrialIndex int
	Label      string
	OnsetMs    float64
	DurationMs float64
	NElements  int
}

// ElementRow is one scheduled stimulus element with absolute timing.
type ElementRow struct {
	TrialIndex      int
	ElementIndex    int
	StimulusRef     string
	AbsoluteOnsetMs float64
	DurationMs      float64
	Label           string
	Role            Role
	Symbol          string
	TTLCode         uint16
}

// EventRow marks a TTL trigger onset at sample resolution.
type EventRow struct {
	SampleIndex  int64
	TimeMs       float64
	Code         uint16
	TrialIndex   int
	ElementIndex int
}

// Manifest is the provenance record sealed into every artifact. Two
// artifacts with equal config hashes and equal engine versions are
// bit-identical.
type Manifest struct {
	ArtifactID    uuid.UUID
	CreatedAt     time.Time
	SchemaVersion string
	EngineVersion string

	Paradigm     string
	MasterSeed   uint64
	SampleRateHz int
	Channels     int
	NTrials      int
	NElements    int
	PulseWidthMs float64

	// AudioHash covers the rendered samples; ConfigHash covers the
	// normalized configuration that produced them.
	AudioHash  string
	ConfigHash string
}

// Artifact is a fully rendered stimulus sequence: audio, the TTL trigger
// track, and the event, trial, and element tables, sealed with a
// provenance manifest.
//
// The audio and TTL slices share backing arrays with the engine's
// internal buffers — treat a returned artifact as immutable.
type Artifact struct {
	Audio    AudioBuffer
	TTL      []uint16
	Events   []EventRow
	Trials   []TrialRow
	Elements []ElementRow
	Manifest Manifest
}

// Result is the outcome of one compile: the sealed artifact plus any
// non-fatal warnings raised along the way.
type Result struct {
	Artifact *Artifact
	Warnings []Warning
}
