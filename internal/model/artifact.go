package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AudioBuffer is a continuous interleaved float32 audio signal.
type AudioBuffer struct {
	// Data holds frames interleaved: frame f, channel c at Data[f*Channels+c].
	Data         []float32 `json:"-"`
	Channels     int       `json:"channels"`
	SampleRateHz int       `json:"sample_rate_hz"`
}

// Frames returns the number of sample frames in the buffer.
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

// EventRow records one trigger event at sample resolution.
type EventRow struct {
	SampleIndex  int64   `json:"sample_index"`
	TimeMs       float64 `json:"time_ms"`
	Code         uint16  `json:"code"`
	TrialIndex   int     `json:"trial_index"`
	ElementIndex int     `json:"element_index"`
}

// Manifest is the provenance record embedded in every compiled artifact.
// The audio hash together with the master seed and schema version is the
// reproducibility contract: same config + seed must reproduce the same
// hash byte for byte.
type Manifest struct {
	ArtifactID    uuid.UUID `json:"artifact_id"`
	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion string    `json:"schema_version"`
	EngineVersion string    `json:"engine_version,omitempty"`

	Paradigm     string  `json:"paradigm"`
	MasterSeed   uint64  `json:"master_seed"`
	SampleRateHz int     `json:"sample_rate_hz"`
	Channels     int     `json:"channels"`
	NTrials      int     `json:"n_trials"`
	NElements    int     `json:"n_elements"`
	PulseWidthMs float64 `json:"pulse_width_ms"`

	// AudioHash is a BLAKE2b-256 digest over the raw audio buffer bytes.
	AudioHash string `json:"audio_hash"`

	// ConfigHash is a SHA-256 digest over the canonical encoding of the
	// source configuration document.
	ConfigHash string `json:"config_hash"`
}

// Validate checks manifest completeness before an artifact is sealed.
func (m Manifest) Validate() error {
	if m.ArtifactID == uuid.Nil {
		return fmt.Errorf("artifact_id is required")
	}
	if m.SchemaVersion == "" {
		return fmt.Errorf("schema_version is required")
	}
	if m.SampleRateHz < MinSampleRateHz || m.SampleRateHz > MaxSampleRateHz {
		return fmt.Errorf("sample_rate_hz %d out of range [%d, %d]",
			m.SampleRateHz, MinSampleRateHz, MaxSampleRateHz)
	}
	if m.AudioHash == "" {
		return fmt.Errorf("audio_hash is required")
	}
	return nil
}

// SequenceArtifact is the terminal compiler output: rendered audio, the
// trigger track, the event and trial tables, and provenance. Immutable
// once created; ownership passes entirely to the caller.
type SequenceArtifact struct {
	Audio    AudioBuffer  `json:"audio"`
	TTL      []uint16     `json:"-"`
	Events   []EventRow   `json:"events"`
	Trials   []TrialRow   `json:"trials"`
	Elements []ElementRow `json:"elements"`
	Manifest Manifest     `json:"manifest"`
}
