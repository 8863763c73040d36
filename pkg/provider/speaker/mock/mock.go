// Package mock provides a test double for the speaker.Extractor interface.
//
// Example:
//
//	e := &mock.Extractor{EmbedResult: []float32{1, 0, 0}, DimensionsValue: 3}
//	vec, _ := e.Embed(ctx, w)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/provider/speaker"
)

var _ speaker.Extractor = (*Extractor)(nil)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	Ctx      context.Context
	Waveform audio.Waveform
}

// Extractor is a mock implementation of speaker.Extractor.
type Extractor struct {
	mu sync.Mutex

	// EmbedResult is returned by Embed (as a copy).
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedFunc, if set, overrides EmbedResult and EmbedErr.
	EmbedFunc func(ctx context.Context, w audio.Waveform) ([]float32, error)

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedCalls records every call to Embed.
	EmbedCalls []EmbedCall
}

// Embed records the call and returns the configured result.
func (e *Extractor) Embed(ctx context.Context, w audio.Waveform) ([]float32, error) {
	e.mu.Lock()
	e.EmbedCalls = append(e.EmbedCalls, EmbedCall{Ctx: ctx, Waveform: w})
	fn, res, err := e.EmbedFunc, slices.Clone(e.EmbedResult), e.EmbedErr
	e.mu.Unlock()
	if fn != nil {
		return fn(ctx, w)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Dimensions returns DimensionsValue.
func (e *Extractor) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.DimensionsValue
}

// ModelID returns ModelIDValue.
func (e *Extractor) ModelID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ModelIDValue
}

// CallCount returns the number of Embed calls so far.
func (e *Extractor) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.EmbedCalls)
}

// Reset clears the recorded calls.
func (e *Extractor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EmbedCalls = nil
}
