package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"tts":     {"coqui", "openai", "elevenlabs", "tone"},
	"speaker": {"fbank", "remote"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates it and applies
// defaults. Useful in tests where configs are constructed from string literals.
// An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	s := cfg.Server
	if s.LogLevel != "" && !s.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", s.LogLevel))
	}
	if s.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", s.MaxUploadBytes))
	}
	if s.SynthesisTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.synthesis_timeout %s must not be negative", s.SynthesisTimeout))
	}
	if s.TLS != nil && (s.TLS.CertFile == "" || s.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if s.UploadDir != "" && s.UploadDir == s.OutputDir {
		errs = append(errs, fmt.Errorf("server.upload_dir %q must differ from server.output_dir", s.UploadDir))
	}

	// Synthesis chain
	seen := make(map[string]int, len(cfg.Providers.TTS))
	for i, e := range cfg.Providers.TTS {
		prefix := fmt.Sprintf("providers.tts[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.tts[%d]", prefix, e.Name, prev))
		}
		seen[e.Name] = i
		if e.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout %s must not be negative", prefix, e.Timeout))
		}
		validateProviderName("tts", e.Name)
	}
	if len(cfg.Providers.TTS) == 0 {
		slog.Warn("providers.tts is empty; only the built-in tone generator will synthesize audio")
	}
	validateProviderName("speaker", cfg.Providers.Speaker.Name)

	// Store
	st := cfg.Store
	if st.Backend != "" && !st.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, badger, postgres", st.Backend))
	}
	if st.TTL < 0 {
		errs = append(errs, fmt.Errorf("store.ttl %s must not be negative", st.TTL))
	}
	if st.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("store.max_entries %d must not be negative", st.MaxEntries))
	}
	if st.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions %d must not be negative", st.EmbeddingDimensions))
	}
	if st.Backend == StorePostgres && st.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	}
	if st.MaxEntries > 0 && st.Backend != "" && st.Backend != StoreMemory {
		slog.Warn("store.max_entries only applies to the memory backend", "backend", st.Backend)
	}

	// Adaptation
	a := cfg.Adapt
	if a.Resampler != "" && !a.Resampler.IsValid() {
		errs = append(errs, fmt.Errorf("adapt.resampler %q is invalid; valid values: soxr, polyphase", a.Resampler))
	}
	if a.Quality != "" && !a.Quality.IsValid() {
		errs = append(errs, fmt.Errorf("adapt.quality %q is invalid; valid values: fast, balanced, best", a.Quality))
	}
	if a.Shifter != "" && !a.Shifter.IsValid() {
		errs = append(errs, fmt.Errorf("adapt.shifter %q is invalid; valid values: wsola, vocoder", a.Shifter))
	}
	if a.MinPitchHz < 0 || a.MaxPitchHz < 0 {
		errs = append(errs, errors.New("adapt pitch bounds must not be negative"))
	}
	if a.MinPitchHz > 0 && a.MaxPitchHz > 0 && a.MinPitchHz >= a.MaxPitchHz {
		errs = append(errs, fmt.Errorf("adapt.min_pitch_hz %.1f must be below adapt.max_pitch_hz %.1f", a.MinPitchHz, a.MaxPitchHz))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
