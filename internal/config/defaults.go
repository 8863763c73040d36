package config

import (
	"time"

	"github.com/MrWong99/voicemimic/pkg/dsp/resample"
)

// Default values filled in by [ApplyDefaults].
const (
	DefaultListenAddr       = ":5000"
	DefaultOutputDir        = "synthesized"
	DefaultMaxUploadBytes   = 32 << 20
	DefaultSynthesisTimeout = 5 * time.Minute
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultSweepInterval    = time.Minute
	DefaultBadgerDir        = "data/voices"
	DefaultSpeaker          = "fbank"
)

// ApplyDefaults fills zero values in cfg with their defaults. The store TTL
// is left alone: zero means voices never expire.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.OutputDir == "" {
		s.OutputDir = DefaultOutputDir
	}
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if s.SynthesisTimeout <= 0 {
		s.SynthesisTimeout = DefaultSynthesisTimeout
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Providers.Speaker.Name == "" {
		cfg.Providers.Speaker.Name = DefaultSpeaker
	}

	st := &cfg.Store
	if st.Backend == "" {
		st.Backend = StoreMemory
	}
	if st.SweepInterval <= 0 {
		st.SweepInterval = DefaultSweepInterval
	}
	if st.Backend == StoreBadger && st.Dir == "" {
		st.Dir = DefaultBadgerDir
	}

	a := &cfg.Adapt
	if a.Resampler == "" {
		a.Resampler = resample.KindSoxr
	}
	if a.Quality == "" {
		a.Quality = resample.QualityBalanced
	}
	if a.Shifter == "" {
		a.Shifter = ShifterWSOLA
	}
}
