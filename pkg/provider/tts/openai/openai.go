// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Audio is requested as WAV so clips can be played and resampled without a
// decoder. Compatible self-hosted servers work through WithBaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

const (
	// DefaultModel is the speech model used when none is configured.
	DefaultModel = "tts-1"

	// DefaultVoice is the voice used when none is configured.
	DefaultVoice = "alloy"
)

// Provider implements tts.Provider using the OpenAI audio API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
	speed  float64
}

var _ tts.Provider = (*Provider)(nil)

type config struct {
	baseURL string
	voice   string
	speed   float64
	timeout time.Duration
	retries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithVoice selects the voice (e.g. "alloy", "nova", "onyx").
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithSpeed sets the playback speed between 0.25 and 4.0.
func WithSpeed(speed float64) Option {
	return func(c *config) { c.speed = speed }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries failed requests. Negative
// values keep the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.retries = n }
}

// New constructs an OpenAI TTS Provider. apiKey may be empty only when a
// custom base URL is configured. An empty model selects DefaultModel.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	cfg := &config{voice: DefaultVoice, retries: -1}
	for _, o := range opts {
		o(cfg)
	}
	if apiKey == "" && cfg.baseURL == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if cfg.speed != 0 && (cfg.speed < 0.25 || cfg.speed > 4) {
		return nil, fmt.Errorf("openai: speed %.2f out of range [0.25, 4]", cfg.speed)
	}
	if model == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.retries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.retries))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		voice:  cfg.voice,
		speed:  cfg.speed,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Clip{}, tts.ErrEmptyText
	}

	resp, err := p.client.Audio.Speech.New(ctx, p.buildParams(text))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("openai: speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("openai: read speech: %w", err)
	}
	pcm, f, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("openai: %w", err)
	}
	if len(pcm) == 0 {
		return audio.Clip{}, errors.New("openai: speech response contained no audio")
	}
	return audio.Clip{Data: data, Encoding: audio.EncodingWAV, Format: f}, nil
}

// buildParams converts text into OpenAI SDK params.
func (p *Provider) buildParams(text string) oai.AudioSpeechNewParams {
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
	}
	if p.speed != 0 {
		params.Speed = oai.Float(p.speed)
	}
	return params
}
