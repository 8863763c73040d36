// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Audio is requested as raw 16-bit PCM at 24 kHz, which is what the speech
// endpoint emits for the "pcm" response format, so no container parsing is
// needed. Preset voices are mapped to OpenAI voice names; see [DefaultVoiceMap].
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/provider/tts"
)

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

const (
	// DefaultModel is the default OpenAI speech model.
	DefaultModel = "gpt-4o-mini-tts"

	// SampleRate is the rate of the "pcm" response format.
	SampleRate = 24000

	providerName   = "openai"
	responseFormat = "pcm"
	maxPCMBytes    = 64 << 20
)

// DefaultVoiceMap maps preset keys to OpenAI voices.
var DefaultVoiceMap = map[string]string{
	"male_1":          "onyx",
	"male_2":          "echo",
	"male_3":          "fable",
	"female_1":        "nova",
	"female_2":        "shimmer",
	"female_3":        "alloy",
	"male_excited":    "ash",
	"female_excited":  "coral",
	"male_american":   "verse",
	"female_american": "sage",
}

// builtinVoices is the voice catalogue reported by ListVoices.
var builtinVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer", "verse"}

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client       oai.Client
	model        string
	voiceMap     map[string]string
	defaultVoice string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
	voiceMap     map[string]string
	defaultVoice string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries failed requests.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithVoiceMap replaces [DefaultVoiceMap].
func WithVoiceMap(m map[string]string) Option {
	return func(c *config) {
		c.voiceMap = maps.Clone(m)
	}
}

// WithDefaultVoice sets the voice for presets missing from the voice map.
// Defaults to "alloy".
func WithDefaultVoice(v string) Option {
	return func(c *config) {
		c.defaultVoice = v
	}
}

// New constructs a new OpenAI speech Provider.
// If model is empty, DefaultModel is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: 2, voiceMap: DefaultVoiceMap, defaultVoice: "alloy"}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		voiceMap:     cfg.voiceMap,
		defaultVoice: cfg.defaultVoice,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Waveform, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Waveform{}, tts.ErrEmptyText
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(p.resolveVoice(voice)),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(responseFormat),
	})
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(io.LimitReader(resp.Body, maxPCMBytes))
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(pcm) < 2 {
		return audio.Waveform{}, errors.New("openai tts: empty audio response")
	}
	return audio.New(audio.PCM16ToFloat(pcm), SampleRate), nil
}

// ListVoices implements tts.Provider. The speech API has no catalogue
// endpoint, so the built-in voices are returned.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, 0, len(builtinVoices))
	for _, v := range builtinVoices {
		out = append(out, tts.VoiceProfile{ID: v, Name: v, Provider: providerName})
	}
	return out, nil
}

// ModelID returns the configured speech model.
func (p *Provider) ModelID() string {
	return p.model
}

func (p *Provider) resolveVoice(v tts.VoiceProfile) string {
	if v.Provider == providerName {
		return v.ID
	}
	if name, ok := p.voiceMap[v.ID]; ok {
		return name
	}
	return p.defaultVoice
}
