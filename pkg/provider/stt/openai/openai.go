// Package openai provides an STT provider backed by the OpenAI audio
// transcription API.
//
// Any server that implements the same endpoint works as well; point
// WithBaseURL at a self-hosted faster-whisper-server, for example:
//
//	p, err := openai.New("", "Systran/faster-distil-whisper-large-v3",
//	    openai.WithBaseURL("http://localhost:8000/v1/"),
//	)
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// DefaultModel is the hosted OpenAI transcription model.
const DefaultModel = "whisper-1"

// Provider implements stt.Provider using the OpenAI audio API.
type Provider struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

var _ stt.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL  string
	language string
	prompt   string
	timeout  time.Duration
	retries  int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithLanguage sets the ISO-639-1 input language hint (e.g. "en").
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithPrompt sets an optional text that guides the transcription style or
// continues a previous segment.
func WithPrompt(prompt string) Option {
	return func(c *config) {
		c.prompt = prompt
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the SDK retries failed requests. Negative
// values keep the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.retries = n
	}
}

// New constructs a new OpenAI STT Provider. apiKey may be empty only when a
// custom base URL is configured, since self-hosted servers usually run
// without authentication. An empty model selects DefaultModel.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	cfg := &config{retries: -1}
	for _, o := range opts {
		o(cfg)
	}
	if apiKey == "" && cfg.baseURL == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.retries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.retries))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Transcribe implements stt.Provider. PCM clips are wrapped as WAV before
// upload; encoded clips are sent unchanged.
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip) (stt.Transcript, error) {
	if clip.Empty() {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	if clip.Encoding == audio.EncodingPCM {
		var err error
		if clip, err = clip.WAV(); err != nil {
			return stt.Transcript{}, fmt.Errorf("openai: %w", err)
		}
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, p.buildParams(clip))
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai: transcription: %w", err)
	}
	return stt.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: p.language,
		Duration: clip.Duration(),
	}, nil
}

// buildParams converts a clip into OpenAI SDK params.
func (p *Provider) buildParams(clip audio.Clip) oai.AudioTranscriptionNewParams {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(clip.Data), "audio"+clip.Encoding.Ext(), clip.Encoding.ContentType()),
		Model: oai.AudioModel(p.model),
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}
	if p.prompt != "" {
		params.Prompt = oai.String(p.prompt)
	}
	return params
}
