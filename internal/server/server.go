// Package server exposes the voice service over HTTP.
//
// Routes and response bodies follow the browser client of the service:
//
//	POST   /upload                   multipart "audio" + "userId"
//	POST   /synthesize               JSON {text, userId, voice, use_user_voice}
//	GET    /synthesized/{filename}   WAV stream, ?download=true for attachment
//	GET    /health                   dependency summary
//	GET    /dependencies             dependency details with install hints
//	GET    /voices                   enrolled voices and presets
//	GET    /user-voice-status        ?userId=
//	DELETE /user-voice               ?userId=
//	GET    /user-voice-match         ?userId=&k=
//	GET    /test-audio               playback test page
//
// /healthz, /readyz and /metrics are mounted when configured.
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/MrWong99/voicemimic/internal/health"
	"github.com/MrWong99/voicemimic/internal/observe"
	"github.com/MrWong99/voicemimic/internal/voice"
	"github.com/MrWong99/voicemimic/internal/voicestore"
)

// DefaultMaxUploadBytes caps request bodies when no limit is configured.
const DefaultMaxUploadBytes = 32 << 20

// VoiceService is the subset of [voice.Service] the handlers use.
type VoiceService interface {
	Enroll(ctx context.Context, userID, filename string, r io.Reader) (voice.EnrollResult, error)
	Synthesize(ctx context.Context, req voice.Request) (voice.SynthesisResult, error)
	Voices(ctx context.Context) ([]voice.VoiceEntry, error)
	Status(ctx context.Context, userID string) (voice.Status, error)
	Delete(ctx context.Context, userID string) error
	Match(ctx context.Context, userID string, k int) ([]voicestore.Match, error)
	TestTone(ctx context.Context) (string, error)
	OutputPath(name string) (string, error)
	Health() voice.Health
	Dependencies() map[string]voice.Dependency
}

var _ VoiceService = (*voice.Service)(nil)

// Server routes HTTP requests to a [VoiceService].
type Server struct {
	svc            VoiceService
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	maxUploadBytes int64
	newID          func() string
}

// Option configures a Server.
type Option func(*Server)

// WithHealth mounts /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the instruments used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMaxUploadBytes limits the size of request bodies.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUploadBytes = n }
}

// WithIDGenerator replaces the generator for user ids of anonymous uploads.
func WithIDGenerator(f func() string) Option {
	return func(s *Server) { s.newID = f }
}

// New creates a Server for svc.
func New(svc VoiceService, opts ...Option) *Server {
	s := &Server{
		svc:            svc,
		maxUploadBytes: DefaultMaxUploadBytes,
		newID:          uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed handler wrapped in recovery, body limits and
// request telemetry.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /synthesize", s.handleSynthesize)
	mux.HandleFunc("GET /synthesized/{filename}", s.handleSynthesized)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /dependencies", s.handleDependencies)
	mux.HandleFunc("GET /voices", s.handleVoices)
	mux.HandleFunc("GET /user-voice-status", s.handleUserVoiceStatus)
	mux.HandleFunc("DELETE /user-voice", s.handleDeleteUserVoice)
	mux.HandleFunc("GET /user-voice-match", s.handleUserVoiceMatch)
	mux.HandleFunc("GET /test-audio", s.handleTestAudio)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	var h http.Handler = mux
	h = s.limitBody(h)
	h = recoverPanics(h)
	return observe.Middleware(s.metrics)(h)
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	if s.maxUploadBytes <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		next.ServeHTTP(w, r)
	})
}

// recoverPanics turns a handler panic into a 500 response.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			observe.Logger(r.Context()).LogAttrs(r.Context(), slog.LevelError, "handler panic",
				slog.Any("panic", rec),
				slog.String("path", r.URL.Path),
			)
			writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
		}()
		next.ServeHTTP(w, r)
	})
}
