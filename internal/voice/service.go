// Package voice implements the voice mimicking service: enrolling a user's
// reference recording, synthesizing speech through the engine chain and
// adapting the result towards the enrolled voice.
//
// The HTTP layer in internal/server is a thin translation of the [Service]
// methods; all decisions about failures, messages and file names live here.
package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MrWong99/voicemimic/internal/adapt"
	"github.com/MrWong99/voicemimic/internal/observe"
	"github.com/MrWong99/voicemimic/internal/resilience"
	"github.com/MrWong99/voicemimic/internal/voicestore"
	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/dsp/resample"
	"github.com/MrWong99/voicemimic/pkg/provider/speaker"
	"github.com/MrWong99/voicemimic/pkg/provider/tts"
)

// Sentinel errors returned by the service.
var (
	// ErrMissingUserID is returned when an operation needs a user id.
	ErrMissingUserID = errors.New("voice: no user id provided")

	// ErrNoEmbedding is returned by Match when the user has no embedding.
	ErrNoEmbedding = errors.New("voice: user voice has no embedding")

	// ErrInvalidFileName is returned by OutputPath for names that would leave
	// the output directory.
	ErrInvalidFileName = errors.New("voice: invalid file name")
)

// Engine synthesizes speech and reports which engine served the request.
// [resilience.TTSFallback] is the production implementation.
type Engine interface {
	SynthesizeNamed(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Waveform, string, error)
	Primary() resilience.PrimaryStatus
}

// Adapter moves a synthesized waveform towards a reference voice.
// [adapt.Transform] is the production implementation.
type Adapter interface {
	Adapt(synth, ref audio.Waveform) adapt.Result
}

// Service ties the synthesis engine, speaker extractor, voice store and
// adaptation transform together. It is safe for concurrent use.
type Service struct {
	engine    Engine
	store     voicestore.Store
	extractor speaker.Extractor
	adapter   Adapter
	resampler resample.Resampler
	metrics   *observe.Metrics

	outputDir        string
	uploadDir        string
	synthesisTimeout time.Duration
	now              func() time.Time
	ffmpeg           func() bool
}

// Option configures a [Service].
type Option func(*Service)

// WithExtractor sets the speaker embedding extractor. Without one, uploads are
// stored with an "encoder_not_loaded" failure.
func WithExtractor(e speaker.Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

// WithAdapter replaces the adaptation transform. Default: [adapt.New].
func WithAdapter(a Adapter) Option {
	return func(s *Service) { s.adapter = a }
}

// WithResampler sets the resampler used to derive the 16 kHz copy fed to the
// extractor. Default: soxr at balanced quality.
func WithResampler(r resample.Resampler) Option {
	return func(s *Service) { s.resampler = r }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithOutputDir sets where synthesized files are written. Default:
// "synthesized".
func WithOutputDir(dir string) Option {
	return func(s *Service) { s.outputDir = dir }
}

// WithUploadDir enables archiving raw uploads as "<userId>_<filename>".
func WithUploadDir(dir string) Option {
	return func(s *Service) { s.uploadDir = dir }
}

// WithSynthesisTimeout bounds synthesis plus adaptation. Zero disables the
// bound.
func WithSynthesisTimeout(d time.Duration) Option {
	return func(s *Service) { s.synthesisTimeout = d }
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithFFmpegCheck replaces the ffmpeg availability probe. Intended for tests.
func WithFFmpegCheck(available func() bool) Option {
	return func(s *Service) { s.ffmpeg = available }
}

// New creates a Service over engine and store and makes sure the output and
// upload directories exist.
func New(engine Engine, store voicestore.Store, opts ...Option) (*Service, error) {
	if engine == nil {
		return nil, errors.New("voice: engine must not be nil")
	}
	if store == nil {
		return nil, errors.New("voice: store must not be nil")
	}
	s := &Service{
		engine:    engine,
		store:     store,
		outputDir: "synthesized",
		now:       time.Now,
		ffmpeg:    audio.FFmpegAvailable,
	}
	for _, o := range opts {
		o(s)
	}
	if s.adapter == nil {
		s.adapter = adapt.New()
	}
	if s.resampler == nil {
		s.resampler = resample.NewSoxr(resample.QualityBalanced)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	for _, dir := range []string{s.outputDir, s.uploadDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("voice: create directory %q: %w", dir, err)
		}
	}
	return s, nil
}

// OutputDir returns the directory synthesized files are written to.
func (s *Service) OutputDir() string { return s.outputDir }

// Health summarises the availability of the service's dependencies.
type Health struct {
	// Status is "ok" when a neural synthesis engine is reachable and
	// "limited" when only the tone generator can serve requests.
	Status                string `json:"status"`
	BarkLoaded            bool   `json:"bark_loaded"`
	VoiceAdaptationLoaded bool   `json:"voice_adaptation_loaded"`
	FFmpegAvailable       bool   `json:"ffmpeg_available"`
	Device                string `json:"device"`

	// Engine names the preferred synthesis engine.
	Engine string `json:"engine"`
}

// Health reports the current dependency status.
func (s *Service) Health() Health {
	p := s.engine.Primary()
	h := Health{
		Status:                "ok",
		BarkLoaded:            p.Available,
		VoiceAdaptationLoaded: s.extractor != nil,
		FFmpegAvailable:       s.ffmpeg(),
		// DSP runs on the CPU; there is no accelerator path.
		Device: "CPU",
		Engine: p.Name,
	}
	if !p.Available {
		h.Status = "limited"
	}
	return h
}

// Dependency is one entry of [Service.Dependencies].
type Dependency struct {
	Available    bool              `json:"available"`
	Installation map[string]string `json:"installation,omitempty"`
}

// Dependencies reports each external dependency with installation hints
// where the operator can install it.
func (s *Service) Dependencies() map[string]Dependency {
	h := s.Health()
	return map[string]Dependency{
		"ffmpeg": {
			Available: h.FFmpegAvailable,
			Installation: map[string]string{
				"macos":   "brew install ffmpeg",
				"linux":   "apt-get install ffmpeg",
				"windows": "Download from https://ffmpeg.org/download.html",
			},
		},
		"voice_encoder": {Available: h.VoiceAdaptationLoaded},
		"bark":          {Available: h.BarkLoaded},
	}
}

// CheckOutputDir verifies the output directory is writable. It backs the
// readiness probe.
func (s *Service) CheckOutputDir(context.Context) error {
	f, err := os.CreateTemp(s.outputDir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// CheckEngine fails when no neural synthesis engine is reachable. It backs
// an optional readiness check.
func (s *Service) CheckEngine(context.Context) error {
	p := s.engine.Primary()
	if !p.Available {
		return fmt.Errorf("primary engine %q is %s", p.Name, p.State)
	}
	return nil
}

// CheckFFmpeg fails when ffmpeg is not on PATH.
func (s *Service) CheckFFmpeg(context.Context) error {
	if !s.ffmpeg() {
		return errors.New("ffmpeg not found on PATH")
	}
	return nil
}
