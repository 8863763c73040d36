// Package app wires all voicemimic subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and sweeps expired voices, and Shutdown tears
// everything down in order.
//
// For testing, inject implementations via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/voicemimic/internal/adapt"
	"github.com/MrWong99/voicemimic/internal/config"
	"github.com/MrWong99/voicemimic/internal/health"
	"github.com/MrWong99/voicemimic/internal/observe"
	"github.com/MrWong99/voicemimic/internal/resilience"
	"github.com/MrWong99/voicemimic/internal/server"
	"github.com/MrWong99/voicemimic/internal/voice"
	"github.com/MrWong99/voicemimic/internal/voicestore"
	"github.com/MrWong99/voicemimic/pkg/dsp/pitch"
	"github.com/MrWong99/voicemimic/pkg/dsp/resample"
	"github.com/MrWong99/voicemimic/pkg/provider/speaker"
)

// Providers holds the provider instances built by main.go via the config
// registry.
type Providers struct {
	// TTS lists synthesis engines in fallback order. The tone generator is
	// appended automatically.
	TTS []resilience.NamedProvider

	// Speaker embeds enrolled voices. Nil disables voice processing; uploads
	// are then stored with an encoder_not_loaded failure.
	Speaker speaker.Extractor
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics   *observe.Metrics
	store     voicestore.Store
	resampler resample.Resampler
	transform *adapt.Transform
	engine    *resilience.TTSFallback
	service   *voice.Service
	health    *health.Handler
	handler   http.Handler
	srv       *http.Server

	mu   sync.Mutex
	addr net.Addr

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a voice store instead of creating one from config. The
// app does not close an injected store.
func WithStore(s voicestore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metric instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Voice store ───────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Adaptation transform ──────────────────────────────────────────
	if err := a.initTransform(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init transform: %w", err)
	}

	// ── 3. Synthesis chain ───────────────────────────────────────────────
	a.initEngine(ctx)

	// ── 4. Voice service ─────────────────────────────────────────────────
	svc, err := voice.New(a.engine, a.store,
		voice.WithExtractor(providers.Speaker),
		voice.WithAdapter(a.transform),
		voice.WithResampler(a.resampler),
		voice.WithMetrics(a.metrics),
		voice.WithOutputDir(cfg.Server.OutputDir),
		voice.WithUploadDir(cfg.Server.UploadDir),
		voice.WithSynthesisTimeout(cfg.Server.SynthesisTimeout),
	)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init voice service: %w", err)
	}
	a.service = svc

	// ── 5. Health checks + HTTP ──────────────────────────────────────────
	a.health = health.New(
		health.Checker{Name: "voice_store", Check: a.checkStore},
		health.Checker{Name: "output_dir", Check: svc.CheckOutputDir},
		health.Checker{Name: "synthesis", Check: svc.CheckEngine, Optional: true},
		health.Checker{Name: "ffmpeg", Check: svc.CheckFFmpeg, Optional: true},
	)
	a.handler = server.New(svc,
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics),
		server.WithMetricsHandler(observe.Handler()),
		server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
	).Handler()
	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured voice store or keeps the injected one.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.cfg.Store
	storeOpts := []voicestore.Option{voicestore.WithTTL(sc.TTL)}

	switch sc.Backend {
	case config.StoreBadger:
		st, err := voicestore.NewBadger(voicestore.BadgerOptions{Dir: sc.Dir}, storeOpts...)
		if err != nil {
			return err
		}
		a.store = st
		slog.Info("voice store opened", "backend", sc.Backend, "dir", sc.Dir)

	case config.StorePostgres:
		dims := sc.EmbeddingDimensions
		if dims == 0 && a.providers.Speaker != nil {
			dims = a.providers.Speaker.Dimensions()
		}
		if dims <= 0 {
			return errors.New("store.embedding_dimensions is required when no speaker extractor reports one")
		}
		st, err := voicestore.NewPostgres(ctx, sc.PostgresDSN, dims, storeOpts...)
		if err != nil {
			return err
		}
		a.store = st
		slog.Info("voice store opened", "backend", sc.Backend, "dimensions", dims)

	default:
		if sc.MaxEntries > 0 {
			storeOpts = append(storeOpts, voicestore.WithMaxEntries(sc.MaxEntries))
		}
		a.store = voicestore.NewMemory(storeOpts...)
		slog.Info("voice store opened", "backend", config.StoreMemory, "max_entries", sc.MaxEntries)
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

// initTransform builds the resampler, pitch estimator and shifter of the
// adaptation transform.
func (a *App) initTransform() error {
	ac := a.cfg.Adapt
	r, err := resample.New(ac.Resampler, ac.Quality)
	if err != nil {
		return err
	}
	a.resampler = r

	est := pitch.NewAutocorrelation()
	if ac.MinPitchHz > 0 {
		est.MinHz = ac.MinPitchHz
	}
	if ac.MaxPitchHz > 0 {
		est.MaxHz = ac.MaxPitchHz
	}

	var shifter pitch.Shifter
	switch ac.Shifter {
	case config.ShifterVocoder:
		shifter = pitch.NewVocoder(r)
	default:
		shifter = pitch.NewWSOLA()
	}

	a.transform = adapt.New(
		adapt.WithResampler(r),
		adapt.WithEstimator(est),
		adapt.WithShifter(shifter),
	)
	slog.Info("adaptation transform ready",
		"resampler", ac.Resampler, "quality", ac.Quality, "shifter", ac.Shifter,
		"min_pitch_hz", est.MinHz, "max_pitch_hz", est.MaxHz)
	return nil
}

// initEngine builds the fallback chain and reports breaker transitions as
// metrics.
func (a *App) initEngine(ctx context.Context) {
	metrics := a.metrics
	cfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				metrics.RecordCircuitState(ctx, name, int(to))
			},
		},
	}
	a.engine = resilience.NewTTSFallback(cfg, a.providers.TTS...)
	for _, st := range a.engine.States() {
		metrics.RecordCircuitState(ctx, st.Name, int(st.State))
	}
	if len(a.providers.TTS) == 0 {
		slog.Warn("no synthesis engine configured, serving test tones only")
	}
}

// checkStore probes the voice store for the readiness endpoint.
func (a *App) checkStore(ctx context.Context) error {
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	_, err := a.store.List(ctx)
	return err
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Service returns the voice service.
func (a *App) Service() *voice.Service { return a.service }

// Addr returns the address the server listens on, or nil before Run has
// bound it.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// SetStoreTTL changes the lifetime of voices enrolled from now on.
func (a *App) SetStoreTTL(ttl time.Duration) {
	a.store.SetTTL(ttl)
	slog.Info("voice store ttl updated", "ttl", ttl)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and sweeps expired voices until ctx is cancelled. It
// returns ctx.Err() on cancellation or the listener error if serving fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %q: %w", a.cfg.Server.ListenAddr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sweepLoop(ctx)
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		wg.Wait()
		return ctx.Err()
	case err := <-serveErr:
		wg.Wait()
		if err == nil {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// sweepLoop removes expired voices every SweepInterval.
func (a *App) sweepLoop(ctx context.Context) {
	interval := a.cfg.Store.SweepInterval
	if interval <= 0 {
		interval = config.DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.service.Sweep(ctx)
			if err != nil {
				slog.Warn("voice sweep failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("expired voices removed", "count", n)
			}
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server and closes all subsystems in reverse-init
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.srv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far. It is used when New fails
// half-way.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
