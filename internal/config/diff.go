package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs.
// LogLevel and store TTL changes are applied live; every other change is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	StoreTTLChanged bool
	NewStoreTTL     time.Duration

	// RestartRequired names the sections whose changes only take effect
	// after a restart, e.g. "providers.tts" or "store.backend".
	RestartRequired []string
}

// Changed reports whether any difference was found.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.StoreTTLChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Store.TTL != new.Store.TTL {
		d.StoreTTLChanged = true
		d.NewStoreTTL = new.Store.TTL
	}

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}

	srvOld, srvNew := old.Server, new.Server
	restart("server.listen_addr", srvOld.ListenAddr != srvNew.ListenAddr)
	restart("server.tls", !reflect.DeepEqual(srvOld.TLS, srvNew.TLS))
	restart("server.output_dir", srvOld.OutputDir != srvNew.OutputDir)
	restart("server.upload_dir", srvOld.UploadDir != srvNew.UploadDir)
	restart("server.max_upload_bytes", srvOld.MaxUploadBytes != srvNew.MaxUploadBytes)
	restart("server.synthesis_timeout", srvOld.SynthesisTimeout != srvNew.SynthesisTimeout)
	restart("providers.tts", !reflect.DeepEqual(old.Providers.TTS, new.Providers.TTS))
	restart("providers.speaker", !reflect.DeepEqual(old.Providers.Speaker, new.Providers.Speaker))

	ost, nst := old.Store, new.Store
	restart("store.backend", ost.Backend != nst.Backend)
	restart("store.dir", ost.Dir != nst.Dir)
	restart("store.postgres_dsn", ost.PostgresDSN != nst.PostgresDSN)
	restart("store.embedding_dimensions", ost.EmbeddingDimensions != nst.EmbeddingDimensions)
	restart("store.max_entries", ost.MaxEntries != nst.MaxEntries)
	restart("store.sweep_interval", ost.SweepInterval != nst.SweepInterval)
	restart("adapt", old.Adapt != new.Adapt)

	return d
}
