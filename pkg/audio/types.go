// Package audio defines the in-memory waveform type shared by the synthesis
// engines, the adaptation transform and the voice store, together with the
// codecs that move waveforms in and out of WAV files.
//
// A Waveform is always mono. Multi-channel input is downmixed on decode so the
// DSP code never has to reason about channel layout.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors returned by [Waveform.Validate].
var (
	// ErrEmpty is returned for a waveform without samples.
	ErrEmpty = errors.New("audio: waveform has no samples")

	// ErrInvalidRate is returned for a non-positive sample rate.
	ErrInvalidRate = errors.New("audio: sample rate must be positive")

	// ErrNonFinite is returned when a sample is NaN or ±Inf.
	ErrNonFinite = errors.New("audio: waveform contains non-finite samples")
)

// Waveform is an ordered sequence of mono floating-point samples at a fixed
// sample rate. Samples are nominally in [-1, 1].
type Waveform struct {
	// Samples holds the PCM samples.
	Samples []float64

	// SampleRate in Hz (e.g., 24000 for Bark output, 16000 for speaker encoders).
	SampleRate int
}

// New returns a Waveform over samples at rate. The slice is not copied.
func New(samples []float64, rate int) Waveform {
	return Waveform{Samples: samples, SampleRate: rate}
}

// Validate reports whether w is non-empty, has a positive rate and only
// finite samples.
func (w Waveform) Validate() error {
	if w.SampleRate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRate, w.SampleRate)
	}
	if len(w.Samples) == 0 {
		return ErrEmpty
	}
	if i := FirstNonFinite(w.Samples); i >= 0 {
		return fmt.Errorf("%w: index %d", ErrNonFinite, i)
	}
	return nil
}

// Len returns the number of samples.
func (w Waveform) Len() int { return len(w.Samples) }

// Duration returns the playback length of w.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(w.Samples)) / float64(w.SampleRate) * float64(time.Second))
}

// Clone returns a deep copy of w.
func (w Waveform) Clone() Waveform {
	out := make([]float64, len(w.Samples))
	copy(out, w.Samples)
	return Waveform{Samples: out, SampleRate: w.SampleRate}
}

// Peak returns the largest absolute sample value.
func (w Waveform) Peak() float64 {
	return Peak(w.Samples)
}

// Peak returns the largest absolute value in samples.
func Peak(samples []float64) float64 {
	var p float64
	for _, v := range samples {
		if a := math.Abs(v); a > p {
			p = a
		}
	}
	return p
}

// FirstNonFinite returns the index of the first NaN or ±Inf sample, or -1.
func FirstNonFinite(samples []float64) int {
	for i, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}

// FitLength returns samples trimmed or zero-padded to exactly n samples.
// The input is returned as is when it already has length n.
func FitLength(samples []float64, n int) []float64 {
	if n < 0 {
		n = 0
	}
	if len(samples) == n {
		return samples
	}
	if len(samples) > n {
		return samples[:n]
	}
	out := make([]float64, n)
	copy(out, samples)
	return out
}
