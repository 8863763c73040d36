// Command voicemimic is the entry point of the voice synthesis and adaptation
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/voicemimic/internal/app"
	"github.com/MrWong99/voicemimic/internal/config"
	"github.com/MrWong99/voicemimic/internal/observe"
	"github.com/MrWong99/voicemimic/internal/resilience"
	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/provider/speaker"
	"github.com/MrWong99/voicemimic/pkg/provider/speaker/fbank"
	"github.com/MrWong99/voicemimic/pkg/provider/speaker/remote"
	"github.com/MrWong99/voicemimic/pkg/provider/tts"
	"github.com/MrWong99/voicemimic/pkg/provider/tts/coqui"
	"github.com/MrWong99/voicemimic/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/voicemimic/pkg/provider/tts/openai"
	"github.com/MrWong99/voicemimic/pkg/provider/tts/tone"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload log level and store ttl when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicemimic: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicemimic: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(&level))

	slog.Info("voicemimic starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, providers)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		watcher, err := config.NewWatcher(*configPath, &liveSettings{level: &level, store: application})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go watcher.Run(ctx)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// liveSettings applies reloaded config values to the running process.
type liveSettings struct {
	level *slog.LevelVar
	store interface{ SetStoreTTL(time.Duration) }
}

var _ config.LiveSettings = (*liveSettings)(nil)

func (l *liveSettings) SetLogLevel(level config.LogLevel) { l.level.Set(slogLevel(level)) }

func (l *liveSettings) SetStoreTTL(d time.Duration) { l.store.SetStoreTTL(d) }

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{coqui.WithHTTPClient(tracedClient(entry.Timeout))}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(entry.Timeout))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if m := optStringMap(entry.Options, "voice_map"); len(m) > 0 {
			opts = append(opts, openai.WithVoiceMap(m))
		}
		if v := optString(entry.Options, "default_voice"); v != "" {
			opts = append(opts, openai.WithDefaultVoice(v))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if m := optStringMap(entry.Options, "voice_map"); len(m) > 0 {
			opts = append(opts, elevenlabs.WithVoiceMap(m))
		}
		if v := optString(entry.Options, "default_voice"); v != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("tone", func(config.ProviderEntry) (tts.Provider, error) {
		return tone.New(), nil
	})

	// ── Speaker ───────────────────────────────────────────────────────────────

	reg.RegisterSpeaker("fbank", func(config.ProviderEntry) (speaker.Extractor, error) {
		return fbank.New(fbank.DefaultConfig()), nil
	})

	reg.RegisterSpeaker("remote", func(entry config.ProviderEntry) (speaker.Extractor, error) {
		var opts []remote.Option
		if entry.Timeout > 0 {
			opts = append(opts, remote.WithTimeout(entry.Timeout))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, remote.WithDimensions(dims))
		}
		return remote.New(entry.BaseURL, entry.Model, opts...)
	})

	for _, kind := range []string{"tts", "speaker"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// tracedClient returns an HTTP client whose requests carry trace context and
// produce client spans.
func tracedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	for _, entry := range cfg.Providers.TTS {
		if entry.Name == resilience.ToneName {
			// The chain always ends with the tone generator.
			continue
		}
		p, err := reg.CreateTTS(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider, skipping", "kind", "tts", "name", entry.Name)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		ps.TTS = append(ps.TTS, resilience.NamedProvider{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
	}

	if name := cfg.Providers.Speaker.Name; name != "" {
		p, err := reg.CreateSpeaker(cfg.Providers.Speaker)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider, voice processing disabled", "kind", "speaker", "name", name)
		} else if err != nil {
			// Uploads still work without an extractor; they are stored with
			// an encoder_not_loaded failure.
			slog.Error("speaker extractor unavailable, voice processing disabled", "name", name, "err", err)
		} else {
			ps.Speaker = p
			slog.Info("provider created", "kind", "speaker", "name", name, "model", p.ModelID())
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *app.Providers) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voicemimic — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	if len(ps.TTS) == 0 {
		printRow("TTS", "(tone only)")
	}
	for i, e := range ps.TTS {
		printRow(fmt.Sprintf("TTS #%d", i+1), e.Name)
	}
	speakerName := "(disabled)"
	if ps.Speaker != nil {
		speakerName = ps.Speaker.ModelID()
	}
	printRow("Speaker", speakerName)
	printRow("Store", string(cfg.Store.Backend))
	ttl := "never"
	if cfg.Store.TTL > 0 {
		ttl = cfg.Store.TTL.String()
	}
	printRow("Voice TTL", ttl)
	printRow("Shifter", string(cfg.Adapt.Shifter))
	printRow("Resampler", string(cfg.Adapt.Resampler)+" / "+string(cfg.Adapt.Quality))
	ffmpeg := "not found"
	if audio.FFmpegAvailable() {
		ffmpeg = "available"
	}
	printRow("FFmpeg", ffmpeg)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optInt extracts an integer value. YAML decodes small numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// optStringMap extracts a map of strings such as a voice map. Non-string
// values are skipped.
func optStringMap(opts map[string]any, key string) map[string]string {
	raw, ok := opts[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
