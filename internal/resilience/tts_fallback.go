package resilience

import (
	"context"

	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/provider/tts"
	"github.com/MrWong99/voicemimic/pkg/provider/tts/tone"
)

// ToneName is the entry name of the tone generator appended by
// [NewTTSFallback].
const ToneName = "tone"

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker, and the tone
// generator is always the final entry so synthesis never fails for lack of an
// engine.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NamedProvider is one engine in the chain.
type NamedProvider struct {
	Name     string
	Provider tts.Provider
}

// NewTTSFallback creates a [TTSFallback] over engines in order, followed by a
// tone generator. With no engines the tone generator is the only entry.
func NewTTSFallback(cfg FallbackConfig, engines ...NamedProvider) *TTSFallback {
	var group *FallbackGroup[tts.Provider]
	for _, e := range engines {
		if group == nil {
			group = NewFallbackGroup(e.Provider, e.Name, cfg)
			continue
		}
		group.AddFallback(e.Name, e.Provider)
	}
	toneProvider := tone.New()
	if group == nil {
		group = NewFallbackGroup[tts.Provider](toneProvider, ToneName, cfg)
	} else {
		group.AddFallback(ToneName, toneProvider)
	}
	return &TTSFallback{group: group}
}

// Synthesize renders text with the first healthy engine.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Waveform, error) {
	w, _, err := f.SynthesizeNamed(ctx, text, voice)
	return w, err
}

// SynthesizeNamed is Synthesize that also reports which engine served the
// request.
func (f *TTSFallback) SynthesizeNamed(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Waveform, string, error) {
	return ExecuteNamed(f.group, func(p tts.Provider) (audio.Waveform, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// PrimaryStatus describes the preferred engine of the chain.
type PrimaryStatus struct {
	Name  string
	State State

	// Available is true when the preferred engine is a real synthesis engine
	// whose breaker is not open.
	Available bool
}

// Primary reports on the first engine in the chain. When only the tone
// generator is configured, Available is false.
func (f *TTSFallback) Primary() PrimaryStatus {
	first := f.group.States()[0]
	return PrimaryStatus{
		Name:      first.Name,
		State:     first.State,
		Available: first.Name != ToneName && first.State != StateOpen,
	}
}

// States returns the breaker state of every engine, tone generator last.
func (f *TTSFallback) States() []EntryState {
	return f.group.States()
}
