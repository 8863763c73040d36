package tone

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/voicemimic/pkg/provider/tts"
)

func TestGenerate_Duration(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{text: "hello", want: int(SampleRate * 0.5)},
		{text: "a", want: int(SampleRate * 0.1)},
		{text: string(make([]rune, 500)), want: SampleRate * 10},
		{text: "héllo", want: int(SampleRate * 0.5)},
	}
	for _, tt := range tests {
		w := Generate(tt.text)
		if w.SampleRate != SampleRate {
			t.Errorf("Generate(%q) rate = %d, want %d", tt.text, w.SampleRate, SampleRate)
		}
		if w.Len() != tt.want {
			t.Errorf("Generate(%q) len = %d, want %d", tt.text, w.Len(), tt.want)
		}
	}
}

func TestGenerate_NonSilentAndBounded(t *testing.T) {
	w := Generate("Hello world")
	if err := w.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	p := w.Peak()
	if p == 0 {
		t.Fatal("tone is silent")
	}
	if p > 0.8 {
		t.Errorf("peak = %v, want <= 0.8", p)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a, b := Generate("same text"), Generate("same text")
	for i := range a.Samples {
		if a.Samples[i] != b.Samples[i] {
			t.Fatalf("sample %d differs", i)
		}
	}
	c := Generate("same texu")
	same := true
	for i := range a.Samples {
		if a.Samples[i] != c.Samples[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different code point sums should change the tone")
	}
}

func TestGenerate_FirstSamples(t *testing.T) {
	// "ab": duration 0.2 s, code point sum 195 -> mod 1.5.
	w := Generate("ab")
	const duration, mod = 0.2, 1.5
	for _, i := range []int{1, 100, 2000} {
		tt := duration * float64(i) / float64(w.Len())
		want := (0.5*math.Sin(2*math.Pi*220*tt*mod) + 0.3*math.Sin(4*math.Pi*220*tt*mod)) * math.Exp(-0.5*tt/duration)
		if math.Abs(w.Samples[i]-want) > 1e-12 {
			t.Errorf("sample %d = %v, want %v", i, w.Samples[i], want)
		}
	}
}

func TestSynthesize(t *testing.T) {
	p := New()
	if _, err := p.Synthesize(context.Background(), " ", tts.VoiceProfile{}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Synthesize(ctx, "hi", tts.VoiceProfile{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	w, err := p.Synthesize(context.Background(), "hi", tts.ResolvePreset("male_1"))
	if err != nil || w.Len() == 0 {
		t.Errorf("Synthesize = %d samples, %v", w.Len(), err)
	}
}

func TestSine(t *testing.T) {
	w := Sine(440, 2, 44100, 1)
	if w.Len() != 88200 || w.SampleRate != 44100 {
		t.Fatalf("Sine = %d samples @ %d", w.Len(), w.SampleRate)
	}
	if p := w.Peak(); p < 0.999 || p > 1 {
		t.Errorf("peak = %v, want ~1", p)
	}
}
