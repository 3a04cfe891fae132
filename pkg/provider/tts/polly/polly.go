// Package polly provides a TTS provider backed by Amazon Polly.
//
// Credentials and region come from the default AWS configuration chain
// (environment, shared config, instance role). Audio is requested as raw
// 16 kHz PCM so clips need no decoding before playback.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	DefaultRegion = "us-east-1"
	DefaultVoice  = "Joanna"
	DefaultEngine = "neural"
)

var (
	// ErrThrottled is wrapped into errors caused by Polly rate limiting.
	ErrThrottled = errors.New("polly: throttled")

	// ErrRejected is wrapped into errors caused by input Polly refuses to
	// synthesise. Retrying the same text will not help.
	ErrRejected = errors.New("polly: request rejected")
)

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Config holds the Polly voice settings.
type Config struct {
	Region string
	Voice  string
	// Engine is "neural" or "standard".
	Engine string
}

// Provider implements tts.Provider with Amazon Polly.
type Provider struct {
	mu     sync.Mutex
	client synthClient
	cfg    Config
}

// New returns a Provider. The AWS client is created lazily on first use.
func New(cfg Config) *Provider {
	return newWithClient(cfg, nil)
}

func newWithClient(cfg Config, client synthClient) *Provider {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = DefaultRegion
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = DefaultVoice
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = DefaultEngine
	}
	return &Provider{client: client, cfg: cfg}
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Clip{}, tts.ErrEmptyText
	}
	client, err := p.resolveClient(ctx)
	if err != nil {
		return audio.Clip{}, err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(p.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}
	rate := strconv.Itoa(audio.SpeechFormat.SampleRate)

	out, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatPcm,
		SampleRate:   &rate,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(p.cfg.Voice),
	})
	if err != nil {
		return audio.Clip{}, classify(err)
	}
	if out == nil || out.AudioStream == nil {
		return audio.Clip{}, errors.New("polly: empty audio stream")
	}
	defer out.AudioStream.Close()

	pcm, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("polly: read audio stream: %w", err)
	}
	if len(pcm) == 0 {
		return audio.Clip{}, errors.New("polly: empty audio stream")
	}
	return audio.Clip{Data: pcm, Encoding: audio.EncodingPCM, Format: audio.SpeechFormat}, nil
}

// classify wraps Polly API errors with ErrThrottled or ErrRejected where the
// error code allows it. Context errors pass through unchanged.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ThrottlingException":
			return fmt.Errorf("%w: %w", ErrThrottled, err)
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
			"MarksNotSupportedForFormatException", "InvalidSampleRateException", "EngineNotSupportedException":
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}
	return fmt.Errorf("polly: synthesize: %w", err)
}

func (p *Provider) resolveClient(ctx context.Context) (synthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("polly: load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}
