// Package melo provides a TTS provider for a MeloTTS HTTP server.
//
// The server accepts POST /convert/tts with a JSON body and answers with a
// WAV file:
//
//	{"text": "Hello.", "language": "EN", "speaker_id": "EN-US"}
package melo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	convertEndpoint = "/convert/tts"

	// DefaultLanguage is the MeloTTS language code used when none is set.
	DefaultLanguage = "EN"

	// DefaultSpeaker is the MeloTTS speaker used when none is set.
	DefaultSpeaker = "EN-US"
)

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the MeloTTS language code (e.g. "EN", "ES", "ZH").
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSpeaker sets the MeloTTS speaker id (e.g. "EN-US", "EN-BR").
func WithSpeaker(id string) Option {
	return func(p *Provider) { p.speaker = id }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider for MeloTTS.
type Provider struct {
	serverURL  string
	language   string
	speaker    string
	httpClient *http.Client
}

// New returns a Provider targeting the MeloTTS server at serverURL
// (e.g. "http://localhost:8888").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("melo: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   DefaultLanguage,
		speaker:    DefaultSpeaker,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type convertRequest struct {
	Text      string `json:"text"`
	Language  string `json:"language"`
	SpeakerID string `json:"speaker_id"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Clip{}, tts.ErrEmptyText
	}

	body, err := json.Marshal(convertRequest{Text: text, Language: p.language, SpeakerID: p.speaker})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("melo: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+convertEndpoint, bytes.NewReader(body))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("melo: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("melo: convert: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("melo: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return audio.Clip{}, fmt.Errorf("melo: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	pcm, f, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("melo: %w", err)
	}
	if len(pcm) == 0 {
		return audio.Clip{}, errors.New("melo: server returned no audio")
	}
	return audio.Clip{Data: data, Encoding: audio.EncodingWAV, Format: f}, nil
}
