package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
)

var (
	ffmpegOnce sync.Once
	ffmpegPath string
)

// FFmpegAvailable reports whether an ffmpeg binary is on PATH. The lookup is
// performed once per process.
func FFmpegAvailable() bool {
	ffmpegOnce.Do(func() {
		if p, err := exec.LookPath("ffmpeg"); err == nil {
			ffmpegPath = p
		}
	})
	return ffmpegPath != ""
}

// TranscodeToWAV converts the audio file at src into a mono 16-bit PCM WAV at
// dst using ffmpeg. When rate is positive the output is resampled to it,
// otherwise the source rate is kept.
func TranscodeToWAV(ctx context.Context, src, dst string, rate int) error {
	if !FFmpegAvailable() {
		return fmt.Errorf("audio: ffmpeg not found on PATH")
	}
	args := []string{"-y", "-i", src, "-vn", "-ac", "1", "-acodec", "pcm_s16le"}
	if rate > 0 {
		args = append(args, "-ar", strconv.Itoa(rate))
	}
	args = append(args, dst)

	// Constrained to the ffmpeg binary with an empty environment.
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	cmd.Env = []string{}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("audio: ffmpeg: %w out: %s", err, out)
	}
	return nil
}

// DecodeFile decodes any audio file at path. WAV files are read directly;
// everything else is transcoded through ffmpeg into a temporary WAV first.
func DecodeFile(ctx context.Context, path string) (Waveform, error) {
	w, err := ReadWAVFile(path)
	if err == nil {
		return w, nil
	}

	tmp, err := os.CreateTemp("", "voicemimic-*.wav")
	if err != nil {
		return Waveform{}, fmt.Errorf("audio: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := TranscodeToWAV(ctx, filepath.Clean(path), tmpPath, 0); err != nil {
		return Waveform{}, err
	}
	return ReadWAVFile(tmpPath)
}
