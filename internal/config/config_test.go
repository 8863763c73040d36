package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voicemimic/internal/config"
	"github.com/MrWong99/voicemimic/pkg/dsp/resample"
	"github.com/MrWong99/voicemimic/pkg/provider/speaker"
	speakermock "github.com/MrWong99/voicemimic/pkg/provider/speaker/mock"
	"github.com/MrWong99/voicemimic/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voicemimic/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info
  output_dir: /var/lib/voicemimic/synthesized
  upload_dir: /var/lib/voicemimic/uploads
  max_upload_bytes: 10485760
  synthesis_timeout: 90s

providers:
  tts:
    - name: coqui
      base_url: http://localhost:5002
      timeout: 2m
      options:
        api_mode: xtts
        language: en
    - name: openai
      api_key: sk-test
      model: tts-1
  speaker:
    name: remote
    base_url: http://localhost:8010
    model: resemblyzer

store:
  backend: badger
  dir: /var/lib/voicemimic/voices
  ttl: 24h
  sweep_interval: 5m

adapt:
  resampler: polyphase
  quality: best
  shifter: vocoder
  min_pitch_hz: 60
  max_pitch_hz: 500
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.MaxUploadBytes != 10<<20 {
		t.Errorf("server.max_upload_bytes: got %d, want %d", cfg.Server.MaxUploadBytes, 10<<20)
	}
	if cfg.Server.SynthesisTimeout != 90*time.Second {
		t.Errorf("server.synthesis_timeout: got %s, want 90s", cfg.Server.SynthesisTimeout)
	}
	if len(cfg.Providers.TTS) != 2 {
		t.Fatalf("providers.tts: got %d entries, want 2", len(cfg.Providers.TTS))
	}
	coqui := cfg.Providers.TTS[0]
	if coqui.Name != "coqui" || coqui.Timeout != 2*time.Minute {
		t.Errorf("providers.tts[0]: got %+v", coqui)
	}
	if coqui.Options["api_mode"] != "xtts" {
		t.Errorf("providers.tts[0].options.api_mode: got %v", coqui.Options["api_mode"])
	}
	if cfg.Providers.Speaker.Model != "resemblyzer" {
		t.Errorf("providers.speaker.model: got %q", cfg.Providers.Speaker.Model)
	}
	if cfg.Store.Backend != config.StoreBadger || cfg.Store.TTL != 24*time.Hour {
		t.Errorf("store: got %+v", cfg.Store)
	}
	if cfg.Store.SweepInterval != 5*time.Minute {
		t.Errorf("store.sweep_interval: got %s, want 5m", cfg.Store.SweepInterval)
	}
	if cfg.Adapt.Resampler != resample.KindPolyphase || cfg.Adapt.Quality != resample.QualityBest {
		t.Errorf("adapt resampler: got %q/%q", cfg.Adapt.Resampler, cfg.Adapt.Quality)
	}
	if cfg.Adapt.Shifter != config.ShifterVocoder {
		t.Errorf("adapt.shifter: got %q", cfg.Adapt.Shifter)
	}
}

func TestLoadFromReader_EmptyAppliesDefaults(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", doc, err)
		}
		if cfg.Server.ListenAddr != config.DefaultListenAddr {
			t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
		}
		if cfg.Server.LogLevel != config.LogInfo {
			t.Errorf("log_level: got %q, want info", cfg.Server.LogLevel)
		}
		if cfg.Server.OutputDir != config.DefaultOutputDir {
			t.Errorf("output_dir: got %q", cfg.Server.OutputDir)
		}
		if cfg.Server.MaxUploadBytes != config.DefaultMaxUploadBytes {
			t.Errorf("max_upload_bytes: got %d", cfg.Server.MaxUploadBytes)
		}
		if cfg.Providers.Speaker.Name != config.DefaultSpeaker {
			t.Errorf("speaker: got %q", cfg.Providers.Speaker.Name)
		}
		if cfg.Store.Backend != config.StoreMemory {
			t.Errorf("store.backend: got %q", cfg.Store.Backend)
		}
		if cfg.Store.TTL != 0 {
			t.Errorf("store.ttl: got %s, want 0", cfg.Store.TTL)
		}
		if cfg.Adapt.Shifter != config.ShifterWSOLA || cfg.Adapt.Resampler != resample.KindSoxr {
			t.Errorf("adapt: got %+v", cfg.Adapt)
		}
	}
}

func TestApplyDefaults_BadgerDir(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Store: config.StoreConfig{Backend: config.StoreBadger}}
	config.ApplyDefaults(cfg)
	if cfg.Store.Dir != config.DefaultBadgerDir {
		t.Errorf("store.dir: got %q, want %q", cfg.Store.Dir, config.DefaultBadgerDir)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_port: 5000\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("store:\n  ttl: forever\n"))
	if err == nil {
		t.Fatal("expected error for unparsable duration, got nil")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("tts: expected ErrProviderNotRegistered, got %v", err)
	}
	if _, err := reg.CreateSpeaker(config.ProviderEntry{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("speaker: expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisteredTTS(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &ttsmock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterTTS("stub", func(e config.ProviderEntry) (tts.Provider, error) {
		gotEntry = e
		return want, nil
	})
	got, err := reg.CreateTTS(config.ProviderEntry{Name: "stub", Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory received %+v", gotEntry)
	}
}

func TestRegistry_RegisteredSpeaker(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &speakermock.Extractor{}
	reg.RegisterSpeaker("stub", func(config.ProviderEntry) (speaker.Extractor, error) {
		return want, nil
	})
	got, err := reg.CreateSpeaker(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned extractor is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterTTS("broken", func(config.ProviderEntry) (tts.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateTTS(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	for _, n := range []string{"openai", "coqui", "tone"} {
		reg.RegisterTTS(n, func(config.ProviderEntry) (tts.Provider, error) { return nil, nil })
	}
	reg.RegisterSpeaker("fbank", func(config.ProviderEntry) (speaker.Extractor, error) { return nil, nil })

	if got, want := reg.Names("tts"), []string{"coqui", "openai", "tone"}; !slices.Equal(got, want) {
		t.Errorf("Names(tts) = %v, want %v", got, want)
	}
	if got := reg.Names("speaker"); !slices.Equal(got, []string{"fbank"}) {
		t.Errorf("Names(speaker) = %v", got)
	}
	if got := reg.Names("llm"); len(got) != 0 {
		t.Errorf("Names(llm) = %v, want empty", got)
	}
}
