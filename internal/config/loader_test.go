package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voicemimic/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantErr: "server.log_level",
		},
		{
			name:    "negative upload limit",
			yaml:    "server:\n  max_upload_bytes: -1\n",
			wantErr: "server.max_upload_bytes",
		},
		{
			name:    "tls without key",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\n",
			wantErr: "server.tls",
		},
		{
			name:    "upload dir equals output dir",
			yaml:    "server:\n  output_dir: out\n  upload_dir: out\n",
			wantErr: "server.upload_dir",
		},
		{
			name:    "engine without name",
			yaml:    "providers:\n  tts:\n    - base_url: http://localhost:5002\n",
			wantErr: "providers.tts[0].name is required",
		},
		{
			name:    "duplicate engine",
			yaml:    "providers:\n  tts:\n    - name: coqui\n    - name: coqui\n",
			wantErr: "duplicate",
		},
		{
			name:    "unknown store backend",
			yaml:    "store:\n  backend: redis\n",
			wantErr: "store.backend",
		},
		{
			name:    "postgres without dsn",
			yaml:    "store:\n  backend: postgres\n",
			wantErr: "store.postgres_dsn",
		},
		{
			name:    "negative ttl",
			yaml:    "store:\n  ttl: -1h\n",
			wantErr: "store.ttl",
		},
		{
			name:    "unknown resampler",
			yaml:    "adapt:\n  resampler: linear\n",
			wantErr: "adapt.resampler",
		},
		{
			name:    "unknown quality",
			yaml:    "adapt:\n  quality: ultra\n",
			wantErr: "adapt.quality",
		},
		{
			name:    "unknown shifter",
			yaml:    "adapt:\n  shifter: psola\n",
			wantErr: "adapt.shifter",
		},
		{
			name:    "inverted pitch range",
			yaml:    "adapt:\n  min_pitch_hz: 500\n  max_pitch_hz: 100\n",
			wantErr: "adapt.min_pitch_hz",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
store:
  backend: postgres
adapt:
  shifter: psola
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "store.postgres_dsn", "adapt.shifter"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderNameIsWarningOnly(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  tts:
    - name: my-custom-engine
  speaker:
    name: my-custom-encoder
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names should only warn, got: %v", err)
	}
}
