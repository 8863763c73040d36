package voice

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voicemimic/internal/voicestore"
	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/provider/tts"
	"github.com/MrWong99/voicemimic/pkg/provider/tts/tone"
)

// Test tone parameters.
const (
	TestToneFile = "test_tone.wav"
	testToneHz   = 440
	testToneSecs = 2
	testToneRate = 44100
)

// VoiceEntry is one item of the voice list.
type VoiceEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsUserVoice bool   `json:"is_user_voice"`
}

// Voices lists the enrolled user voices first, then the presets.
func (s *Service) Voices(ctx context.Context) ([]VoiceEntry, error) {
	stored, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("voice: list voices: %w", err)
	}
	presets := tts.Presets()
	out := make([]VoiceEntry, 0, len(stored)+len(presets))
	for _, v := range stored {
		if !v.Usable() || len(v.Embedding) == 0 {
			continue
		}
		out = append(out, VoiceEntry{ID: UserVoicePrefix + v.UserID, Name: "Your Uploaded Voice", IsUserVoice: true})
	}
	for _, p := range presets {
		out = append(out, VoiceEntry{ID: p.Key, Name: p.DisplayName()})
	}
	return out, nil
}

// Status describes the enrolled voice of one user.
type Status struct {
	HasVoice        bool
	Message         string
	FFmpegAvailable bool
	Failure         *voicestore.Failure
}

// Status reports whether userID has a processed voice.
func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	if userID == "" {
		return Status{}, ErrMissingUserID
	}
	st := Status{
		Message:         "No voice sample found for this user",
		FFmpegAvailable: s.ffmpeg(),
	}
	v, err := s.store.Get(ctx, userID)
	switch {
	case errors.Is(err, voicestore.ErrNotFound):
		return st, nil
	case err != nil:
		return Status{}, fmt.Errorf("voice: get voice: %w", err)
	}
	st.Failure = v.Failure
	if v.Usable() && len(v.Embedding) > 0 {
		st.HasVoice = true
		st.Message = "Voice sample found and processed"
	}
	return st, nil
}

// Delete removes the enrolled voice of userID.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	if err := s.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("voice: delete voice: %w", err)
	}
	return nil
}

// Match returns up to k other enrolled voices most similar to userID's.
func (s *Service) Match(ctx context.Context, userID string, k int) ([]voicestore.Match, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	v, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(v.Embedding) == 0 {
		return nil, ErrNoEmbedding
	}
	matches, err := s.store.Nearest(ctx, v.Embedding, k+1)
	if err != nil {
		return nil, fmt.Errorf("voice: nearest voices: %w", err)
	}
	out := make([]voicestore.Match, 0, k)
	for _, m := range matches {
		if m.UserID == userID || len(out) == k {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// TestTone writes a full-scale 440 Hz sine of two seconds at 44.1 kHz to
// [TestToneFile] in the output directory.
func (s *Service) TestTone(context.Context) (string, error) {
	w := tone.Sine(testToneHz, testToneSecs, testToneRate, 1)
	path, err := s.OutputPath(TestToneFile)
	if err != nil {
		return "", err
	}
	if err := audio.WriteWAVFile(path, w); err != nil {
		return "", fmt.Errorf("voice: write test tone: %w", err)
	}
	return TestToneFile, nil
}

// Sweep removes expired voices and reports how many were removed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.Sweep(ctx)
	if err != nil {
		return 0, fmt.Errorf("voice: sweep: %w", err)
	}
	if n > 0 {
		s.metrics.SweptVoices.Add(ctx, int64(n))
	}
	if live, err := s.store.List(ctx); err == nil {
		s.metrics.StoredVoices.Record(ctx, int64(len(live)))
	}
	return n, nil
}
