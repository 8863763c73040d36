package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/voicemimic/internal/adapt"
	"github.com/MrWong99/voicemimic/internal/observe"
	"github.com/MrWong99/voicemimic/internal/voicestore"
	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/provider/tts"
)

// UserVoicePrefix marks voice ids that name an enrolled user rather than a
// preset, e.g. "user_42".
const UserVoicePrefix = "user_"

// Request is the input of [Service.Synthesize].
type Request struct {
	Text   string
	UserID string

	// Voice is a preset key; empty selects [tts.DefaultPreset]. A voice of
	// the form "user_<id>" requests adaptation towards that user's voice.
	Voice string

	// UseUserVoice requests adaptation towards UserID's enrolled voice.
	UseUserVoice bool
}

// SynthesisResult is the outcome of [Service.Synthesize].
type SynthesisResult struct {
	// FileName is the WAV file written into the output directory.
	FileName string
	FileSize int64

	// Engine names the synthesis engine that served the request.
	Engine string

	// UserVoiceApplied is true when adaptation was requested and a usable
	// voice was enrolled. It stays true when the transform skips; see
	// AdaptationSkipped.
	UserVoiceApplied bool

	// AdaptationFailure explains why a requested adaptation was impossible.
	AdaptationFailure *voicestore.Failure

	// AdaptationSkipped is set when the transform ran but fell back to the
	// unmodified synthesis.
	AdaptationSkipped adapt.SkipReason

	// Params are the adaptation parameters, when adaptation ran.
	Params *adapt.Params
}

// Synthesize renders req.Text, optionally adapts it towards the enrolled
// voice and writes the result as "<userId>_<unix>.wav" into the output
// directory. Adaptation problems never fail the request.
func (s *Service) Synthesize(ctx context.Context, req Request) (SynthesisResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return SynthesisResult{}, tts.ErrEmptyText
	}
	if s.synthesisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.synthesisTimeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "voice.Synthesize")
	defer span.End()

	presetKey, targetUser, useUser := req.Voice, req.UserID, req.UseUserVoice
	if id, ok := strings.CutPrefix(req.Voice, UserVoicePrefix); ok && id != "" {
		presetKey, targetUser, useUser = "", id, true
	}
	log := observe.Logger(ctx).With("user_id", req.UserID, "voice", req.Voice)

	var res SynthesisResult
	var ref audio.Waveform
	if useUser {
		v, failure := s.referenceFor(ctx, targetUser)
		if failure != nil {
			res.AdaptationFailure = failure
		} else {
			ref = v.Reference
			res.UserVoiceApplied = true
		}
	}

	profile := tts.ResolvePreset(presetKey)
	start := time.Now()
	w, engine, err := s.engine.SynthesizeNamed(ctx, req.Text, profile)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordProviderError(ctx, "chain", "tts")
		return SynthesisResult{}, fmt.Errorf("voice: synthesize: %w", err)
	}
	res.Engine = engine
	s.metrics.RecordSynthesis(ctx, engine, time.Since(start).Seconds())
	s.metrics.RecordProviderRequest(ctx, engine, "tts", "ok")
	span.SetAttributes(attribute.String("voice.engine", engine), attribute.String("voice.preset", profile.ID))

	if res.UserVoiceApplied {
		start := time.Now()
		ar := s.adapter.Adapt(w, ref)
		outcome := "adapted"
		if !ar.Adapted {
			outcome = string(ar.Skip)
			res.AdaptationSkipped = ar.Skip
			log.Warn("voice adaptation skipped", "reason", ar.Skip, "err", ar.Err)
		}
		s.metrics.RecordAdaptOutcome(ctx, outcome, time.Since(start).Seconds())
		params := ar.Params
		res.Params = &params
		w = ar.Waveform
	}

	name, size, err := s.writeOutput(req.UserID, w)
	if err != nil {
		span.RecordError(err)
		return SynthesisResult{}, err
	}
	res.FileName, res.FileSize = name, size
	log.Info("audio synthesized", "engine", engine, "file", name, "bytes", size,
		"user_voice_applied", res.UserVoiceApplied)
	return res, nil
}

// referenceFor returns the usable voice of userID or the failure explaining
// why there is none.
func (s *Service) referenceFor(ctx context.Context, userID string) (voicestore.Voice, *voicestore.Failure) {
	if userID == "" {
		f := failureNoVoiceSample
		return voicestore.Voice{}, &f
	}
	v, err := s.store.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, voicestore.ErrNotFound) {
			observe.Logger(ctx).Warn("voice lookup failed", "user_id", userID, "err", err)
		}
		f := failureNoVoiceSample
		return voicestore.Voice{}, &f
	}
	if v.Failure != nil {
		return voicestore.Voice{}, v.Failure
	}
	if !v.Usable() {
		f := failureNoVoiceSample
		return voicestore.Voice{}, &f
	}
	return v, nil
}

// writeOutput encodes w and writes it under a fresh name. A second file for
// the same user within one second gets a random suffix instead of replacing
// the first.
func (s *Service) writeOutput(userID string, w audio.Waveform) (string, int64, error) {
	data, err := audio.EncodeWAVBytes(w)
	if err != nil {
		return "", 0, fmt.Errorf("voice: encode output: %w", err)
	}
	if len(data) == 0 {
		return "", 0, errors.New("voice: failed to generate audio file - file is empty")
	}
	base := safeName(userID) + "_" + strconv.FormatInt(s.now().Unix(), 10)
	name := base + ".wav"
	for range 3 {
		f, err := os.OpenFile(filepath.Join(s.outputDir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			name = base + "_" + uuid.NewString()[:8] + ".wav"
			continue
		}
		if err != nil {
			return "", 0, fmt.Errorf("voice: create output: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", 0, fmt.Errorf("voice: write output: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", 0, fmt.Errorf("voice: write output: %w", err)
		}
		return name, int64(len(data)), nil
	}
	return "", 0, fmt.Errorf("voice: no free output name for %q", base)
}

// OutputPath resolves a file name served under /synthesized/ to its path.
func (s *Service) OutputPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", ErrInvalidFileName
	}
	return filepath.Join(s.outputDir, name), nil
}
