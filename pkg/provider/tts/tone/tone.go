// Package tone provides a deterministic tone generator that implements
// tts.Provider. It is the last entry of every fallback chain so that a
// request always produces audible output even when no speech engine is
// reachable.
//
// The tone depends only on the text: its length sets the duration (0.1 s per
// character, at most 10 s) and the sum of its code points modulates the
// frequency of a 220 Hz fundamental and its first overtone.
package tone

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/provider/tts"
)

// Ensure Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

const (
	// SampleRate of every generated waveform.
	SampleRate = 22050

	baseHz          = 220.0
	secondsPerRune  = 0.1
	maxDurationSecs = 10.0
)

// Provider is the tone generator. The zero value is ready to use.
type Provider struct{}

// New returns a tone Provider.
func New() *Provider { return &Provider{} }

// Synthesize implements tts.Provider. The voice is ignored.
func (*Provider) Synthesize(ctx context.Context, text string, _ tts.VoiceProfile) (audio.Waveform, error) {
	if strings.TrimSpace(text) == "" {
		return audio.Waveform{}, tts.ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return audio.Waveform{}, err
	}
	return Generate(text), nil
}

// ListVoices implements tts.Provider.
func (*Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	return []tts.VoiceProfile{{ID: "tone", Name: "Tone Generator", Provider: "tone"}}, nil
}

// Generate renders the fallback tone for text:
//
//	s(t) = (0.5 sin(2π·220·t·m) + 0.3 sin(4π·220·t·m)) · exp(-0.5 t/d)
//
// where d = min(0.1·len(text), 10) and m = 1 + (Σ code points mod 10)/10.
func Generate(text string) audio.Waveform {
	duration := math.Min(float64(utf8.RuneCountInString(text))*secondsPerRune, maxDurationSecs)
	var sum int
	for _, r := range text {
		sum += int(r)
	}
	mod := 1 + float64(sum%10)/10

	n := int(SampleRate * duration)
	samples := make([]float64, n)
	for i := range samples {
		t := duration * float64(i) / float64(n)
		samples[i] = (0.5*math.Sin(2*math.Pi*baseHz*t*mod) + 0.3*math.Sin(4*math.Pi*baseHz*t*mod)) *
			math.Exp(-0.5*t/duration)
	}
	return audio.New(samples, SampleRate)
}

// Sine returns a sine of freq Hz lasting seconds at rate with peak amp.
func Sine(freq, seconds float64, rate int, amp float64) audio.Waveform {
	n := int(float64(rate) * seconds)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return audio.New(samples, rate)
}
