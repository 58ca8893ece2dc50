// Package artifact reads and writes compiled sequences as single-file
// SQLite containers: audio, the TTL track, the event and trial tables,
// and the manifest, in one portable file. Writes go to a temp file that
// is renamed into place, so a crash never leaves a partial container at
// the destination.
package artifact

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	_ "modernc.org/sqlite"

	"github.com/aurelab/hibiki/internal/integrity"
	"github.com/aurelab/hibiki/internal/model"
)

// FormatVersion identifies the container layout. Readers reject any other
// version.
const FormatVersion = "1"

// chunkFrames is the audio chunk granularity: 64k frames per blob row
// keeps individual blobs around half a megabyte for stereo.
const chunkFrames = 1 << 16

const schema = `
CREATE TABLE container_info (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE manifest (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	json TEXT NOT NULL
);

CREATE TABLE audio (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	channels       INTEGER NOT NULL,
	sample_rate_hz INTEGER NOT NULL,
	frames         INTEGER NOT NULL
);

CREATE TABLE audio_chunks (
	seq     INTEGER PRIMARY KEY,
	samples BLOB NOT NULL
);

CREATE TABLE ttl (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	codes BLOB NOT NULL
);

CREATE TABLE events (
	seq           INTEGER PRIMARY KEY,
	sample_index  INTEGER NOT NULL,
	time_ms       REAL NOT NULL,
	code          INTEGER NOT NULL,
	trial_index   INTEGER NOT NULL,
	element_index INTEGER NOT NULL
);

CREATE TABLE trials (
	trial_index INTEGER PRIMARY KEY,
	label       TEXT NOT NULL,
	onset_ms    REAL NOT NULL,
	duration_ms REAL NOT NULL,
	n_elements  INTEGER NOT NULL
);

CREATE TABLE elements (
	seq               INTEGER PRIMARY KEY,
	trial_index       INTEGER NOT NULL,
	element_index     INTEGER NOT NULL,
	stimulus_ref      TEXT NOT NULL,
	absolute_onset_ms REAL NOT NULL,
	duration_ms       REAL NOT NULL,
	label             TEXT NOT NULL,
	role              TEXT NOT NULL DEFAULT '',
	symbol            TEXT NOT NULL DEFAULT '',
	ttl_code          INTEGER NOT NULL
);
`

// Write stores an artifact at path. The container is built in a temp file
// next to the destination and renamed into place on success.
func Write(ctx context.Context, path string, art *model.SequenceArtifact) error {
	if art == nil {
		return fmt.Errorf("artifact: nil artifact")
	}
	if err := art.Manifest.Validate(); err != nil {
		return fmt.Errorf("artifact: manifest: %w", err)
	}

	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	db, err := sql.Open("sqlite", tmp)
	if err != nil {
		return fmt.Errorf("artifact: open container: %w", err)
	}
	if err := writeAll(ctx, db, art); err != nil {
		db.Close()
		os.Remove(tmp)
		return err
	}
	if err := db.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("artifact: close container: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("artifact: publish container: %w", err)
	}
	return nil
}

func writeAll(ctx context.Context, db *sql.DB, art *model.SequenceArtifact) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("artifact: create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("artifact: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO container_info (key, value) VALUES ('format_version', ?)`,
		FormatVersion); err != nil {
		return fmt.Errorf("artifact: write container info: %w", err)
	}

	manifestJSON, err := json.Marshal(art.Manifest)
	if err != nil {
		return fmt.Errorf("artifact: encode manifest: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO manifest (id, json) VALUES (1, ?)`, string(manifestJSON)); err != nil {
		return fmt.Errorf("artifact: write manifest: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audio (id, channels, sample_rate_hz, frames) VALUES (1, ?, ?, ?)`,
		art.Audio.Channels, art.Audio.SampleRateHz, art.Audio.Frames()); err != nil {
		return fmt.Errorf("artifact: write audio format: %w", err)
	}

	chunkStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO audio_chunks (seq, samples) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("artifact: prepare chunk insert: %w", err)
	}
	defer chunkStmt.Close()
	chunkSamples := chunkFrames * art.Audio.Channels
	for seq, off := 0, 0; off < len(art.Audio.Data); seq, off = seq+1, off+chunkSamples {
		end := off + chunkSamples
		if end > len(art.Audio.Data) {
			end = len(art.Audio.Data)
		}
		if _, err := chunkStmt.ExecContext(ctx, seq, encodeSamples(art.Audio.Data[off:end])); err != nil {
			return fmt.Errorf("artifact: write audio chunk %d: %w", seq, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ttl (id, codes) VALUES (1, ?)`, encodeCodes(art.TTL)); err != nil {
		return fmt.Errorf("artifact: write ttl track: %w", err)
	}

	eventStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (seq, sample_index, time_ms, code, trial_index, element_index)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("artifact: prepare event insert: %w", err)
	}
	defer eventStmt.Close()
	for i, ev := range art.Events {
		if _, err := eventStmt.ExecContext(ctx, i,
			ev.SampleIndex, ev.TimeMs, ev.Code, ev.TrialIndex, ev.ElementIndex); err != nil {
			return fmt.Errorf("artifact: write event %d: %w", i, err)
		}
	}

	trialStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trials (trial_index, label, onset_ms, duration_ms, n_elements)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("artifact: prepare trial insert: %w", err)
	}
	defer trialStmt.Close()
	for _, tr := range art.Trials {
		if _, err := trialStmt.ExecContext(ctx,
			tr.TrialIndex, tr.Label, tr.OnsetMs, tr.DurationMs, tr.NElements); err != nil {
			return fmt.Errorf("artifact: write trial %d: %w", tr.TrialIndex, err)
		}
	}

	elementStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO elements (seq, trial_index, element_index, stimulus_ref,
		 absolute_onset_ms, duration_ms, label, role, symbol, ttl_code)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("artifact: prepare element insert: %w", err)
	}
	defer elementStmt.Close()
	for i, el := range art.Elements {
		if _, err := elementStmt.ExecContext(ctx, i,
			el.TrialIndex, el.ElementIndex, el.StimulusRef, el.AbsoluteOnsetMs,
			el.DurationMs, el.Label, string(el.Role), el.Symbol, el.TTLCode); err != nil {
			return fmt.Errorf("artifact: write element %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("artifact: commit: %w", err)
	}
	return nil
}

// Read loads an artifact container and verifies the audio against the
// manifest hash, so silent corruption surfaces as a read error.
func Read(ctx context.Context, path string) (*model.SequenceArtifact, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("artifact: open %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("artifact: open container: %w", err)
	}
	defer db.Close()

	var version string
	err = db.QueryRowContext(ctx,
		`SELECT value FROM container_info WHERE key = 'format_version'`).Scan(&version)
	if err != nil {
		return nil, fmt.Errorf("artifact: read container version: %w", err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("artifact: unsupported container version %q, want %q",
			version, FormatVersion)
	}

	art := &model.SequenceArtifact{}

	var manifestJSON string
	if err := db.QueryRowContext(ctx,
		`SELECT json FROM manifest WHERE id = 1`).Scan(&manifestJSON); err != nil {
		return nil, fmt.Errorf("artifact: read manifest: %w", err)
	}
	if err := json.Unmarshal([]byte(manifestJSON), &art.Manifest); err != nil {
		return nil, fmt.Errorf("artifact: decode manifest: %w", err)
	}

	var frames int
	if err := db.QueryRowContext(ctx,
		`SELECT channels, sample_rate_hz, frames FROM audio WHERE id = 1`).
		Scan(&art.Audio.Channels, &art.Audio.SampleRateHz, &frames); err != nil {
		return nil, fmt.Errorf("artifact: read audio format: %w", err)
	}

	if art.Audio.Data, err = readAudioChunks(ctx, db, frames*art.Audio.Channels); err != nil {
		return nil, err
	}

	var codes []byte
	if err := db.QueryRowContext(ctx,
		`SELECT codes FROM ttl WHERE id = 1`).Scan(&codes); err != nil {
		return nil, fmt.Errorf("artifact: read ttl track: %w", err)
	}
	art.TTL = decodeCodes(codes)

	if art.Events, err = readEvents(ctx, db); err != nil {
		return nil, err
	}
	if art.Trials, err = readTrials(ctx, db); err != nil {
		return nil, err
	}
	if art.Elements, err = readElements(ctx, db); err != nil {
		return nil, err
	}

	if !integrity.VerifyAudioHash(art.Manifest.AudioHash, &art.Audio) {
		return nil, fmt.Errorf("artifact: audio hash mismatch, container corrupted")
	}
	return art, nil
}

func readAudioChunks(ctx context.Context, db *sql.DB, wantSamples int) ([]float32, error) {
	rows, err := db.QueryContext(ctx, `SELECT samples FROM audio_chunks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("artifact: read audio chunks: %w", err)
	}
	defer rows.Close()

	data := make([]float32, 0, wantSamples)
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("artifact: scan audio chunk: %w", err)
		}
		data = append(data, decodeSamples(blob)...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("artifact: read audio chunks: %w", err)
	}
	if len(data) != wantSamples {
		return nil, fmt.Errorf("artifact: audio truncated: %d samples, want %d",
			len(data), wantSamples)
	}
	return data, nil
}

func readEvents(ctx context.Context, db *sql.DB) ([]model.EventRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT sample_index, time_ms, code, trial_index, element_index
		 FROM events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("artifact: read events: %w", err)
	}
	defer rows.Close()

	events := make([]model.EventRow, 0)
	for rows.Next() {
		var ev model.EventRow
		if err := rows.Scan(&ev.SampleIndex, &ev.TimeMs, &ev.Code,
			&ev.TrialIndex, &ev.ElementIndex); err != nil {
			return nil, fmt.Errorf("artifact: scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func readTrials(ctx context.Context, db *sql.DB) ([]model.TrialRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT trial_index, label, onset_ms, duration_ms, n_elements
		 FROM trials ORDER BY trial_index`)
	if err != nil {
		return nil, fmt.Errorf("artifact: read trials: %w", err)
	}
	defer rows.Close()

	trials := make([]model.TrialRow, 0)
	for rows.Next() {
		var tr model.TrialRow
		if err := rows.Scan(&tr.TrialIndex, &tr.Label, &tr.OnsetMs,
			&tr.DurationMs, &tr.NElements); err != nil {
			return nil, fmt.Errorf("artifact: scan trial: %w", err)
		}
		trials = append(trials, tr)
	}
	return trials, rows.Err()
}

func readElements(ctx context.Context, db *sql.DB) ([]model.ElementRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT trial_index, element_index, stimulus_ref, absolute_onset_ms,
		 duration_ms, label, role, symbol, ttl_code
		 FROM elements ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("artifact: read elements: %w", err)
	}
	defer rows.Close()

	elements := make([]model.ElementRow, 0)
	for rows.Next() {
		var el model.ElementRow
		var role string
		if err := rows.Scan(&el.TrialIndex, &el.ElementIndex, &el.StimulusRef,
			&el.AbsoluteOnsetMs, &el.DurationMs, &el.Label, &role, &el.Symbol,
			&el.TTLCode); err != nil {
			return nil, fmt.Errorf("artifact: scan element: %w", err)
		}
		el.Role = model.Role(role)
		elements = append(elements, el)
	}
	return elements, rows.Err()
}

func encodeSamples(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeSamples(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func encodeCodes(v []uint16) []byte {
	buf := make([]byte, len(v)*2)
	for i, c := range v {
		binary.LittleEndian.PutUint16(buf[i*2:], c)
	}
	return buf
}

func decodeCodes(b []byte) []uint16 {
	v := make([]uint16, len(b)/2)
	for i := range v {
		v[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return v
}
