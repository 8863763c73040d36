package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicemimic/internal/observe"
	"github.com/MrWong99/voicemimic/internal/voicestore"
	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/provider/speaker"
)

// TrimTopDB is the silence threshold applied to the 16 kHz copy before
// embedding.
const TrimTopDB = 20

// Failures recorded on enrolled voices.
var (
	failureMissingFFmpeg = voicestore.Failure{
		Type:     voicestore.FailureMissingDependency,
		Message:  "FFmpeg not found. Voice adaptation requires FFmpeg to be installed.",
		Solution: "Install FFmpeg with: brew install ffmpeg (macOS) or apt-get install ffmpeg (Linux)",
	}
	failureEncoderNotLoaded = voicestore.Failure{
		Type:     voicestore.FailureEncoderNotLoaded,
		Message:  "Voice encoder not available",
		Solution: "Check server logs for errors with the voice encoder.",
	}
	failureNoVoiceSample = voicestore.Failure{
		Type:     voicestore.FailureNoVoiceSample,
		Message:  "No processed voice sample available",
		Solution: "Record your voice in the 'Learn Your Voice' tab first.",
	}
)

func processingFailure(err error) *voicestore.Failure {
	msg := "Unknown error during voice processing"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &voicestore.Failure{
		Type:     voicestore.FailureProcessing,
		Message:  msg,
		Solution: "Try recording again with clearer audio or check system audio settings.",
	}
}

// EnrollResult is the outcome of [Service.Enroll].
type EnrollResult struct {
	UserID    string
	Processed bool
	Message   string

	// Failure is set when the upload could not be used for adaptation.
	Failure *voicestore.Failure

	// Similar is the closest other enrolled voice, if any.
	Similar *voicestore.Match
}

// Enroll stores r as the reference voice of userID. WAV uploads are decoded
// directly; other formats go through ffmpeg. The reference keeps its native
// rate while a trimmed 16 kHz copy feeds the speaker extractor.
//
// Processing problems do not produce an error: the voice is stored with a
// [voicestore.Failure] and the result says why. The returned error is
// reserved for reading the upload and storage failures.
func (s *Service) Enroll(ctx context.Context, userID, filename string, r io.Reader) (EnrollResult, error) {
	if userID == "" {
		return EnrollResult{}, ErrMissingUserID
	}
	ctx, span := observe.StartSpan(ctx, "voice.Enroll")
	defer span.End()
	start := time.Now()
	log := observe.Logger(ctx).With("user_id", userID)

	data, err := io.ReadAll(r)
	if err != nil {
		return EnrollResult{}, fmt.Errorf("voice: read upload: %w", err)
	}

	var v voicestore.Voice
	g, gctx := errgroup.WithContext(ctx)
	if s.uploadDir != "" {
		g.Go(func() error {
			path := filepath.Join(s.uploadDir, uploadFileName(userID, filename))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("voice: archive upload: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		v = s.process(gctx, userID, filename, data)
		return nil
	})
	if err := g.Wait(); err != nil {
		return EnrollResult{}, err
	}

	if err := s.store.Put(ctx, v); err != nil {
		span.RecordError(err)
		return EnrollResult{}, fmt.Errorf("voice: store voice: %w", err)
	}

	res := EnrollResult{UserID: userID, Processed: v.Failure == nil, Failure: v.Failure}
	status := "ok"
	switch {
	case v.Failure == nil:
		res.Message = "Voice sample received and processed!"
		res.Similar = s.closest(ctx, v)
		log.Info("voice enrolled", "model", v.ModelID, "duration", v.Reference.Duration())
	case v.Failure.Type == voicestore.FailureMissingDependency:
		status = v.Failure.Type
		res.Message = "Voice sample received but cannot be processed: " + v.Failure.Message
	case v.Failure.Type == voicestore.FailureProcessing:
		status = v.Failure.Type
		res.Message = "Voice sample received but could not be processed: " + v.Failure.Message
	default:
		status = v.Failure.Type
		res.Message = "Voice sample received but could not be processed for adaptation. Using preset voices."
	}
	if v.Failure != nil {
		log.Warn("voice upload not usable", "error_type", v.Failure.Type, "message", v.Failure.Message)
	}
	s.metrics.RecordEnrollment(ctx, status, time.Since(start).Seconds())
	return res, nil
}

// process decodes and embeds one upload. It never fails; problems end up in
// the returned voice's Failure.
func (s *Service) process(ctx context.Context, userID, filename string, data []byte) voicestore.Voice {
	v := voicestore.Voice{UserID: userID, SourceName: filename}

	ref, err := s.decode(ctx, data)
	if err != nil {
		if errors.Is(err, errNeedFFmpeg) {
			f := failureMissingFFmpeg
			v.Failure = &f
		} else {
			v.Failure = processingFailure(err)
		}
		return v
	}
	if err := ref.Validate(); err != nil {
		v.Failure = processingFailure(err)
		return v
	}
	v.Reference = ref

	if s.extractor == nil {
		f := failureEncoderNotLoaded
		v.Failure = &f
		return v
	}

	emb, err := s.embed(ctx, ref)
	if err != nil {
		v.Failure = processingFailure(err)
		return v
	}
	v.Embedding = emb
	v.ModelID = s.extractor.ModelID()
	return v
}

var errNeedFFmpeg = errors.New("voice: ffmpeg required to decode upload")

// decode reads a WAV upload natively and transcodes anything else.
func (s *Service) decode(ctx context.Context, data []byte) (audio.Waveform, error) {
	w, err := audio.DecodeWAV(bytes.NewReader(data))
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, audio.ErrNotWAV) {
		return audio.Waveform{}, err
	}
	if !s.ffmpeg() {
		return audio.Waveform{}, errNeedFFmpeg
	}

	tmp, err := os.CreateTemp("", "voicemimic-upload-*")
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("voice: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return audio.Waveform{}, fmt.Errorf("voice: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return audio.Waveform{}, fmt.Errorf("voice: write temp file: %w", err)
	}
	return audio.DecodeFile(ctx, tmp.Name())
}

// embed resamples ref to the extractor rate, trims silence and embeds it.
func (s *Service) embed(ctx context.Context, ref audio.Waveform) ([]float32, error) {
	start := time.Now()
	samples := ref.Samples
	if ref.SampleRate != speaker.SampleRate {
		var err error
		samples, err = s.resampler.Resample(ref.Samples, ref.SampleRate, speaker.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("resample to %d Hz: %w", speaker.SampleRate, err)
		}
	}
	trimmed := audio.TrimSilence(audio.New(samples, speaker.SampleRate), TrimTopDB)
	if trimmed.Len() == 0 {
		return nil, errors.New("recording contains only silence")
	}
	emb, err := s.extractor.Embed(ctx, trimmed)
	if err != nil {
		s.metrics.RecordProviderError(ctx, s.extractor.ModelID(), "speaker")
		return nil, err
	}
	s.metrics.RecordEmbed(ctx, s.extractor.ModelID(), time.Since(start).Seconds())
	s.metrics.RecordProviderRequest(ctx, s.extractor.ModelID(), "speaker", "ok")
	return emb, nil
}

// closest returns the most similar other enrolled voice.
func (s *Service) closest(ctx context.Context, v voicestore.Voice) *voicestore.Match {
	if len(v.Embedding) == 0 {
		return nil
	}
	matches, err := s.store.Nearest(ctx, v.Embedding, 2)
	if err != nil {
		observe.Logger(ctx).Warn("nearest voice lookup failed", "err", err)
		return nil
	}
	for _, m := range matches {
		if m.UserID != v.UserID {
			return &m
		}
	}
	return nil
}
