package stimgen

import (
	"fmt"
	"math"

	"github.com/aurelab/hibiki/internal/rng"
)

// Built-in generator names.
const (
	GenTone    = "tone"
	GenNoise   = "noise"
	GenClick   = "click"
	GenSilence = "silence"
)

// Tone synthesizes a full-scale sine at params["freq_hz"], with optional
// raised-cosine on/off ramps of params["ramp_ms"].
func Tone(req Request) ([]float32, error) {
	freq := req.Param("freq_hz", 0)
	if freq <= 0 {
		return nil, fmt.Errorf("stimgen: tone: freq_hz must be positive, got %g", freq)
	}
	if nyquist := float64(req.SampleRateHz) / 2; freq >= nyquist {
		return nil, fmt.Errorf("stimgen: tone: freq_hz %g at or above nyquist %g", freq, nyquist)
	}

	buf := make([]float32, req.Frames())
	step := 2 * math.Pi * freq / float64(req.SampleRateHz)
	for i := range buf {
		buf[i] = float32(math.Sin(step * float64(i)))
	}
	if err := applyRamps(buf, req); err != nil {
		return nil, fmt.Errorf("stimgen: tone: %w", err)
	}
	return buf, nil
}

// Noise synthesizes seeded white noise, uniform in [-1, 1), with optional
// ramps. The same seed reproduces the same noise.
func Noise(req Request) ([]float32, error) {
	buf := make([]float32, req.Frames())
	stream := rng.NewStream(req.Seed)
	for i := range buf {
		buf[i] = float32(2*stream.Float64() - 1)
	}
	if err := applyRamps(buf, req); err != nil {
		return nil, fmt.Errorf("stimgen: noise: %w", err)
	}
	return buf, nil
}

// Click synthesizes a unipolar click train: rectangular clicks of
// params["click_ms"] repeating at params["rate_hz"]. A rate of zero
// produces a single click at onset.
func Click(req Request) ([]float32, error) {
	clickMs := req.Param("click_ms", 1)
	if clickMs <= 0 {
		return nil, fmt.Errorf("stimgen: click: click_ms must be positive, got %g", clickMs)
	}
	rateHz := req.Param("rate_hz", 0)
	if rateHz < 0 {
		return nil, fmt.Errorf("stimgen: click: rate_hz must be non-negative, got %g", rateHz)
	}

	buf := make([]float32, req.Frames())
	clickFrames := int(math.Round(clickMs * float64(req.SampleRateHz) / 1000))
	if clickFrames < 1 {
		clickFrames = 1
	}

	if rateHz == 0 {
		fill(buf, 0, clickFrames)
		return buf, nil
	}
	period := float64(req.SampleRateHz) / rateHz
	if period < 1 {
		return nil, fmt.Errorf("stimgen: click: rate_hz %g too high for sample rate %d",
			rateHz, req.SampleRateHz)
	}
	for start := 0.0; int(math.Round(start)) < len(buf); start += period {
		fill(buf, int(math.Round(start)), clickFrames)
	}
	return buf, nil
}

// Silence emits zeros. Useful as a placeholder that keeps an element's TTL
// code without any audio.
func Silence(req Request) ([]float32, error) {
	return make([]float32, req.Frames()), nil
}

func fill(buf []float32, start, n int) {
	for i := start; i < start+n && i < len(buf); i++ {
		buf[i] = 1
	}
}

// applyRamps applies raised-cosine on/off ramps of params["ramp_ms"] to
// both snippet ends. Ramps longer than half the snippet shorten to fit.
func applyRamps(buf []float32, req Request) error {
	rampMs := req.Param("ramp_ms", 0)
	if rampMs < 0 {
		return fmt.Errorf("ramp_ms must be non-negative, got %g", rampMs)
	}
	if rampMs == 0 || len(buf) == 0 {
		return nil
	}
	n := int(math.Round(rampMs * float64(req.SampleRateHz) / 1000))
	if n > len(buf)/2 {
		n = len(buf) / 2
	}
	for i := 0; i < n; i++ {
		w := float32(0.5 * (1 - math.Cos(math.Pi*float64(i)/float64(n))))
		buf[i] *= w
		buf[len(buf)-1-i] *= w
	}
	return nil
}
