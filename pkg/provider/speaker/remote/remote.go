// Package remote provides a speaker Extractor that delegates to an HTTP
// embedding service, such as a Resemblyzer or ECAPA-TDNN sidecar.
//
// The service receives POST {baseURL}/embed with a JSON body
//
//	{"model": "...", "sample_rate": 16000, "audio": "<base64 WAV>"}
//
// and answers {"embedding": [...]}.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/provider/speaker"
)

// DefaultBaseURL is the default address of a locally running sidecar.
const DefaultBaseURL = "http://localhost:8010"

var _ speaker.Extractor = (*Extractor)(nil)

// Extractor implements speaker.Extractor over HTTP.
//
// When no dimension is configured, the first Dimensions call embeds one second
// of silence and caches the vector length. Safe for concurrent use.
type Extractor struct {
	baseURL    string
	model      string
	httpClient *http.Client

	dimensions int
	detectOnce sync.Once
}

type config struct {
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for Extractor.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions pre-sets the embedding length and skips the probe request.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// New constructs an Extractor. An empty baseURL selects DefaultBaseURL; model
// must not be empty.
func New(baseURL, model string, opts ...Option) (*Extractor, error) {
	if model == "" {
		return nil, errors.New("remote speaker: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	client := &http.Client{}
	if cfg.timeout > 0 {
		client.Timeout = cfg.timeout
	}
	dims := cfg.dimensions
	if dims == 0 {
		dims = knownDimensions(model)
	}
	return &Extractor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: client,
		dimensions: dims,
	}, nil
}

type embedRequest struct {
	Model      string `json:"model"`
	SampleRate int    `json:"sample_rate"`
	Audio      string `json:"audio"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed sends w to the service and returns its embedding.
func (e *Extractor) Embed(ctx context.Context, w audio.Waveform) ([]float32, error) {
	if w.SampleRate != speaker.SampleRate {
		return nil, fmt.Errorf("remote speaker: %w (got %d Hz)", speaker.ErrSampleRate, w.SampleRate)
	}
	if w.Len() == 0 {
		return nil, speaker.ErrTooShort
	}
	vec, err := e.call(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("remote speaker: embed: %w", err)
	}
	return vec, nil
}

// Dimensions returns the embedding length, probing the service once if it is
// not known. Returns 0 when the probe fails.
func (e *Extractor) Dimensions() int {
	e.detectOnce.Do(func() {
		if e.dimensions != 0 {
			return
		}
		probe := audio.New(make([]float64, speaker.SampleRate), speaker.SampleRate)
		if vec, err := e.call(context.Background(), probe); err == nil {
			e.dimensions = len(vec)
		}
	})
	return e.dimensions
}

// ModelID returns the model name supplied at construction time.
func (e *Extractor) ModelID() string { return e.model }

func (e *Extractor) call(ctx context.Context, w audio.Waveform) ([]float32, error) {
	wav, err := audio.EncodeWAVBytes(w)
	if err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	body, err := json.Marshal(embedRequest{
		Model:      e.model,
		SampleRate: w.SampleRate,
		Audio:      base64.StdEncoding.EncodeToString(wav),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	var result embedResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode != http.StatusOK {
		if result.Error != "" {
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, result.Error)
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	if len(result.Embedding) == 0 {
		return nil, errors.New("empty embedding in response")
	}
	return result.Embedding, nil
}

// knownDimensions returns the output length of recognised speaker models, or
// 0 for unknown ones.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "resemblyzer"):
		return 256
	case strings.Contains(lower, "ecapa"):
		return 192
	case strings.Contains(lower, "xvector"):
		return 512
	default:
		return 0
	}
}
