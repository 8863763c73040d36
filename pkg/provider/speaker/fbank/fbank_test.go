package fbank

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/provider/speaker"
)

// voice builds a crude voiced signal: a fundamental plus decaying harmonics.
func voice(f0 float64, seconds float64) audio.Waveform {
	n := int(seconds * speaker.SampleRate)
	s := make([]float64, n)
	for i := range s {
		t := float64(i) / speaker.SampleRate
		for h := 1; h <= 6; h++ {
			s[i] += math.Sin(2*math.Pi*f0*float64(h)*t) / float64(h)
		}
		s[i] *= 0.2
	}
	return audio.New(s, speaker.SampleRate)
}

func TestComputeShape(t *testing.T) {
	t.Parallel()
	e := New(Config{})
	// 1 s at 16 kHz with 400/160 framing: (16000-400)/160+1 = 98 frames.
	frames := e.Compute(voice(150, 1).Samples)
	if len(frames) != 98 {
		t.Fatalf("frames = %d, want 98", len(frames))
	}
	for i, f := range frames {
		if len(f) != 80 {
			t.Fatalf("frame %d has %d mels, want 80", i, len(f))
		}
		for m, v := range f {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("frame %d mel %d is %v", i, m, v)
			}
		}
	}
	if got := e.Compute(make([]float64, 100)); got != nil {
		t.Errorf("short input: got %d frames, want nil", len(got))
	}
}

func TestComputeSilenceHitsFloor(t *testing.T) {
	t.Parallel()
	e := New(Config{})
	frames := e.Compute(make([]float64, 1600))
	floor := math.Log(1e-10)
	for _, f := range frames {
		for _, v := range f {
			if v != floor {
				t.Fatalf("silence energy = %v, want floor %v", v, floor)
			}
		}
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()
	e := New(Config{})
	if e.Dimensions() != 160 {
		t.Errorf("Dimensions = %d, want 160", e.Dimensions())
	}
	if e.ModelID() != "fbank-stats-80" {
		t.Errorf("ModelID = %q", e.ModelID())
	}

	vec, err := e.Embed(context.Background(), voice(150, 1))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != e.Dimensions() {
		t.Fatalf("len = %d, want %d", len(vec), e.Dimensions())
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-4 {
		t.Errorf("squared norm = %v, want 1", norm)
	}
}

func TestEmbedDeterministicAndDiscriminative(t *testing.T) {
	t.Parallel()
	e := New(Config{})
	ctx := context.Background()

	a1, _ := e.Embed(ctx, voice(120, 1))
	a2, _ := e.Embed(ctx, voice(120, 1))
	b, _ := e.Embed(ctx, voice(300, 1))

	if s := speaker.CosineSimilarity(a1, a2); s < 0.9999 {
		t.Errorf("same input similarity = %v, want 1", s)
	}
	same := speaker.CosineSimilarity(a1, a2)
	diff := speaker.CosineSimilarity(a1, b)
	if diff >= same {
		t.Errorf("different voices similarity %v >= identical %v", diff, same)
	}
}

func TestEmbedErrors(t *testing.T) {
	t.Parallel()
	e := New(Config{})
	ctx := context.Background()

	if _, err := e.Embed(ctx, audio.New(make([]float64, 16000), 44100)); !errors.Is(err, speaker.ErrSampleRate) {
		t.Errorf("wrong rate: err = %v, want ErrSampleRate", err)
	}
	if _, err := e.Embed(ctx, audio.New(make([]float64, 10), speaker.SampleRate)); !errors.Is(err, speaker.ErrTooShort) {
		t.Errorf("short: err = %v, want ErrTooShort", err)
	}
	bad := voice(150, 0.1)
	bad.Samples[5] = math.NaN()
	if _, err := e.Embed(ctx, bad); !errors.Is(err, audio.ErrNonFinite) {
		t.Errorf("NaN: err = %v, want ErrNonFinite", err)
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := e.Embed(cctx, voice(150, 0.1)); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v, want context.Canceled", err)
	}
}

func TestMelFilterbank(t *testing.T) {
	t.Parallel()
	fb := melFilterbank(80, 512, 16000)
	if len(fb) != 80 {
		t.Fatalf("filters = %d, want 80", len(fb))
	}
	for m, f := range fb {
		if len(f) != 257 {
			t.Fatalf("filter %d has %d bins, want 257", m, len(f))
		}
		for _, w := range f {
			if w < 0 || w > 1 {
				t.Fatalf("filter %d weight %v out of [0,1]", m, w)
			}
		}
	}
	if d := melToHz(hzToMel(1000)) - 1000; math.Abs(d) > 1e-9 {
		t.Errorf("mel round trip off by %v", d)
	}
}
