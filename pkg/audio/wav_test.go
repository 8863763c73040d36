package audio_test

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/voicemimic/pkg/audio"
)

func sine(freq float64, n, rate int, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func TestEncodeDecodeWAV(t *testing.T) {
	t.Parallel()

	in := audio.New(sine(440, 2400, 24000, 0.5), 24000)
	data, err := audio.EncodeWAVBytes(in)
	if err != nil {
		t.Fatalf("EncodeWAVBytes: %v", err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header: %q", data[:12])
	}

	out, err := audio.DecodeWAVBytes(data)
	if err != nil {
		t.Fatalf("DecodeWAVBytes: %v", err)
	}
	if out.SampleRate != 24000 {
		t.Errorf("SampleRate: got %d, want 24000", out.SampleRate)
	}
	if out.Len() != in.Len() {
		t.Fatalf("Len: got %d, want %d", out.Len(), in.Len())
	}
	for i := range in.Samples {
		if math.Abs(out.Samples[i]-in.Samples[i]) > 1.0/16384 {
			t.Fatalf("sample %d: got %v, want %v", i, out.Samples[i], in.Samples[i])
		}
	}
}

func TestDecodeWAV_StereoDownmix(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, 16000, 16, 2, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: 16000},
		Data:           []int{16384, 0, -16384, 0},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	w, err := audio.ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	if w.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", w.Len())
	}
	if w.Samples[0] != 0.25 || w.Samples[1] != -0.25 {
		t.Errorf("downmix: got %v, want [0.25 -0.25]", w.Samples)
	}
}

func TestDecodeWAV_NotWAV(t *testing.T) {
	t.Parallel()
	_, err := audio.DecodeWAV(bytes.NewReader([]byte("definitely not a wav file at all")))
	if !errors.Is(err, audio.ErrNotWAV) {
		t.Fatalf("expected ErrNotWAV, got %v", err)
	}
}

func TestWriteWAVFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.wav")
	if err := audio.WriteWAVFile(path, audio.New(sine(220, 1000, 22050, 0.3), 22050)); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	// 44-byte canonical header plus 2 bytes per sample.
	if st.Size() != 44+2000 {
		t.Errorf("file size: got %d, want %d", st.Size(), 44+2000)
	}
}

func TestEncodeWAV_InvalidRate(t *testing.T) {
	t.Parallel()
	if _, err := audio.EncodeWAVBytes(audio.New([]float64{0}, 0)); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}
