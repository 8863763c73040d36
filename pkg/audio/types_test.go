package audio_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voicemimic/pkg/audio"
)

func TestWaveformValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		w       audio.Waveform
		wantErr error
	}{
		{name: "valid", w: audio.New([]float64{0, 0.5}, 16000)},
		{name: "empty", w: audio.New(nil, 16000), wantErr: audio.ErrEmpty},
		{name: "zero rate", w: audio.New([]float64{0}, 0), wantErr: audio.ErrInvalidRate},
		{name: "nan", w: audio.New([]float64{0, math.NaN()}, 16000), wantErr: audio.ErrNonFinite},
		{name: "inf", w: audio.New([]float64{math.Inf(-1)}, 16000), wantErr: audio.ErrNonFinite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.w.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWaveformDurationAndPeak(t *testing.T) {
	t.Parallel()
	w := audio.New(make([]float64, 24000), 24000)
	w.Samples[10] = -0.7
	if w.Duration() != time.Second {
		t.Errorf("Duration: got %v, want 1s", w.Duration())
	}
	if w.Peak() != 0.7 {
		t.Errorf("Peak: got %v, want 0.7", w.Peak())
	}
}

func TestWaveformClone(t *testing.T) {
	t.Parallel()
	w := audio.New([]float64{1, 2, 3}, 8000)
	c := w.Clone()
	c.Samples[0] = 99
	if w.Samples[0] != 1 {
		t.Error("Clone shares the sample buffer")
	}
}

func TestFitLength(t *testing.T) {
	t.Parallel()
	in := []float64{1, 2, 3}
	if got := audio.FitLength(in, 2); len(got) != 2 || got[1] != 2 {
		t.Errorf("trim: got %v", got)
	}
	got := audio.FitLength(in, 5)
	if len(got) != 5 || got[2] != 3 || got[4] != 0 {
		t.Errorf("pad: got %v", got)
	}
}

func TestTrimSilence(t *testing.T) {
	t.Parallel()

	const rate = 16000
	samples := make([]float64, 3*rate)
	// One second of tone between two seconds of silence.
	copy(samples[rate:2*rate], sine(200, rate, rate, 0.5))

	got := audio.TrimSilence(audio.New(samples, rate), 20)
	if got.SampleRate != rate {
		t.Fatalf("SampleRate: got %d", got.SampleRate)
	}
	// Trimmed length should be within a couple of frames of the tone length.
	if diff := got.Len() - rate; diff < 0 || diff > 4096 {
		t.Errorf("trimmed length %d, want about %d", got.Len(), rate)
	}
}

func TestTrimSilence_AllSilent(t *testing.T) {
	t.Parallel()
	got := audio.TrimSilence(audio.New(make([]float64, 8000), 16000), 20)
	if got.Len() != 0 {
		t.Errorf("expected empty waveform, got %d samples", got.Len())
	}
}
