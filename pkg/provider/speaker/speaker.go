// Package speaker defines the Extractor interface for speaker embedding
// backends.
//
// An extractor maps a short mono recording at [SampleRate] to a dense float32
// vector that characterises the speaker. The vectors are stored with each user
// voice and used for identity bookkeeping (similar-voice lookup); the
// adaptation transform itself works on the reference waveform, not on the
// embedding.
//
// Implementations must be safe for concurrent use.
package speaker

import (
	"context"
	"errors"
	"math"

	"github.com/MrWong99/voicemimic/pkg/audio"
)

// SampleRate is the rate every extractor expects its input at.
const SampleRate = 16000

var (
	// ErrTooShort is returned for recordings shorter than one analysis window.
	ErrTooShort = errors.New("speaker: recording too short")

	// ErrSampleRate is returned for input that is not at [SampleRate].
	ErrSampleRate = errors.New("speaker: input must be 16 kHz mono")
)

// Extractor is the abstraction over any speaker-embedding backend.
//
// All vectors returned by one Extractor share the length reported by
// Dimensions. Vectors from different extractors must not be compared.
type Extractor interface {
	// Embed computes the speaker embedding of w, which must be mono at
	// SampleRate. Returns a vector of length Dimensions().
	Embed(ctx context.Context, w audio.Waveform) ([]float32, error)

	// Dimensions returns the fixed length of every embedding vector.
	Dimensions() int

	// ModelID identifies the model or feature pipeline, for logging and for
	// refusing to compare embeddings of different origins.
	ModelID() string
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// their lengths differ or either is all zeros.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

// Normalize scales v in place to unit L2 norm. All-zero vectors are left
// unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
