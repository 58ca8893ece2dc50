// Package integrity computes the content hashes sealed into artifact
// manifests. All functions are pure and deterministic: the audio hash is
// the reproducibility contract between two compiles of the same document
// and seed.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"math"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/aurelab/hibiki/internal/model"
)

// Hash version prefixes. A version bump means the canonical encoding
// changed and hashes cannot be compared across versions.
const (
	configHashPrefix = "v1:"
	audioHashPrefix  = "v1:"
)

// ConfigHash produces a versioned SHA-256 hex digest over the canonical
// JSON encoding of a normalized configuration. Hashing happens after
// normalization, so semantically equal documents (YAML vs JSON, implicit
// vs explicit defaults) hash identically.
func ConfigHash(v any) (string, error) {
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("integrity: encode config: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return configHashPrefix + hex.EncodeToString(sum[:]), nil
}

// VerifyConfigHash reports whether a stored hash matches the recomputed
// hash of v.
func VerifyConfigHash(stored string, v any) bool {
	computed, err := ConfigHash(v)
	return err == nil && computed == stored
}

// AudioHash produces a versioned BLAKE2b-256 hex digest over an audio
// buffer: the channel count and sample rate as length-prefixed fields,
// then the samples as little-endian float32 bit patterns. Raw bits are
// hashed rather than any textual form, so the digest changes iff the
// rendered signal changes.
func AudioHash(buf *model.AudioBuffer) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		// New256 errors only when a key is supplied.
		panic(err)
	}
	writeField(h, strconv.Itoa(buf.Channels))
	writeField(h, strconv.Itoa(buf.SampleRateHz))
	writeSamples(h, buf.Data)
	return audioHashPrefix + hex.EncodeToString(h.Sum(nil))
}

// VerifyAudioHash reports whether a stored hash matches the buffer.
func VerifyAudioHash(stored string, buf *model.AudioBuffer) bool {
	return stored == AudioHash(buf)
}

// writeField writes a 4-byte big-endian length prefix followed by the
// field bytes, so adjacent fields can never collide regardless of content.
func writeField(h hash.Hash, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	h.Write(lenBuf[:])
	h.Write([]byte(s))
}

// writeSamples streams sample bit patterns through the hash in fixed
// chunks without materializing the full byte slice.
func writeSamples(h hash.Hash, data []float32) {
	var chunk [4 * 4096]byte
	for len(data) > 0 {
		n := len(data)
		if n > 4096 {
			n = 4096
		}
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(chunk[i*4:], math.Float32bits(data[i]))
		}
		h.Write(chunk[:n*4])
		data = data[n:]
	}
}
