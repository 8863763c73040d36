// Package tts defines the Provider interface for text-to-speech engines.
//
// A TTS provider wraps a speech synthesis service (a Coqui/Bark server, the
// OpenAI speech API, ElevenLabs) and presents a uniform batch interface: one
// call renders a whole utterance into a mono [audio.Waveform] at the engine's
// native sample rate. Voice adaptation runs on the result afterwards, so
// providers never need to know about user voices.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/voicemimic/pkg/audio"
)

// ErrEmptyText is returned by providers when asked to synthesise nothing.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel.
type Provider interface {
	// Synthesize renders text with the given voice and returns the complete
	// utterance. The waveform is mono at the provider's native sample rate.
	//
	// Returns an error if the engine cannot be reached, rejects the voice, or
	// returns audio that cannot be decoded. Cancelling ctx aborts in-flight
	// requests.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (audio.Waveform, error)

	// ListVoices returns all voice profiles available from this provider.
	//
	// Returns an error if the provider cannot be reached or if ctx is cancelled
	// before the list is retrieved.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
