// Package polly speaks text-only webhook replies with Amazon Polly.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/tiger/mari-voice/api/voice"
	"github.com/tiger/mari-voice/providers/common/httpadapter"
)

const (
	defaultRegion = "us-east-1"
	defaultVoice  = "Camila"
	// Polly rejects plain-text requests longer than this many characters.
	maxTextChars = 3000
)

var ErrEmptyText = errors.New("polly: nothing to synthesize")

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type Config struct {
	Region  string
	VoiceID string
	Engine  string
	Timeout time.Duration
	Logger  *zap.Logger
}

// SynthesisError carries the normalized outcome of a failed call.
type SynthesisError struct {
	Outcome httpadapter.Outcome
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("polly synthesize (%s): %v", e.Outcome.Reason, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Synthesizer turns reply text into MP3 audio.
type Synthesizer struct {
	mu     sync.Mutex
	client synthClient
	cfg    Config
}

func New(cfg Config) *Synthesizer {
	return newWithClient(cfg, nil)
}

func newWithClient(cfg Config, client synthClient) *Synthesizer {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = defaultRegion
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = defaultVoice
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = string(pollytypes.EngineStandard)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Synthesizer{client: client, cfg: cfg}
}

// Synthesize returns text spoken as a playable MP3 result.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (voice.Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return voice.Result{}, ErrEmptyText
	}
	if utf8.RuneCountInString(text) > maxTextChars {
		text = string([]rune(text)[:maxTextChars])
	}
	client, err := s.resolveClient(ctx)
	if err != nil {
		return voice.Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       pollytypes.Engine(strings.ToLower(s.cfg.Engine)),
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(s.cfg.VoiceID),
	})
	if err != nil {
		return voice.Result{}, &SynthesisError{Outcome: normalizePollyError(err), Err: err}
	}
	if output == nil || output.AudioStream == nil {
		return voice.Result{}, &SynthesisError{
			Outcome: httpadapter.Outcome{Class: httpadapter.OutcomeServerError, Retryable: true, Reason: "provider_empty_audio"},
			Err:     errors.New("empty audio stream"),
		}
	}
	defer output.AudioStream.Close()
	audio, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return voice.Result{}, &SynthesisError{Outcome: httpadapter.NormalizeNetworkError(err), Err: err}
	}
	if len(audio) == 0 {
		return voice.Result{}, &SynthesisError{
			Outcome: httpadapter.Outcome{Class: httpadapter.OutcomeServerError, Retryable: true, Reason: "provider_empty_audio"},
			Err:     errors.New("empty audio stream"),
		}
	}
	mediaType := voice.MediaTypeMP3
	if output.ContentType != nil && strings.HasPrefix(*output.ContentType, "audio/") {
		mediaType = *output.ContentType
	}
	s.cfg.Logger.Debug("polly synthesized reply",
		zap.String("voice", s.cfg.VoiceID),
		zap.Int("chars", utf8.RuneCountInString(text)),
		zap.Int("bytes", len(audio)),
	)
	return voice.PlayableBytes(audio, mediaType), nil
}

// Speak upgrades a text-only result to playable audio and keeps the text.
// Other results are returned unchanged.
func (s *Synthesizer) Speak(ctx context.Context, result voice.Result) (voice.Result, error) {
	if result.Kind != voice.ResultTextOnly {
		return result, nil
	}
	spoken, err := s.Synthesize(ctx, result.Text)
	if err != nil {
		return result, err
	}
	spoken.Text = result.Text
	return spoken, nil
}

func normalizePollyError(err error) httpadapter.Outcome {
	if errors.Is(err, context.Canceled) {
		return httpadapter.Outcome{Class: httpadapter.OutcomeCancelled, Reason: "provider_cancelled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return httpadapter.Outcome{Class: httpadapter.OutcomeTimeout, Retryable: true, Reason: "provider_timeout"}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return httpadapter.Outcome{Class: httpadapter.OutcomeOverload, Retryable: true, Reason: "provider_overload", BackoffMS: 500}
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
			"MarksNotSupportedForFormatException", "InvalidSampleRateException", "EngineNotSupportedException",
			"ValidationException":
			return httpadapter.Outcome{Class: httpadapter.OutcomeBlocked, Reason: "provider_client_error"}
		case "UnrecognizedClientException", "AccessDeniedException", "InvalidSignatureException":
			return httpadapter.Outcome{Class: httpadapter.OutcomeBlocked, Reason: "provider_auth_error"}
		default:
			return httpadapter.Outcome{Class: httpadapter.OutcomeServerError, Retryable: true, Reason: "provider_server_error"}
		}
	}

	return httpadapter.Outcome{Class: httpadapter.OutcomeTransportError, Retryable: true, Reason: "provider_transport_error"}
}

func (s *Synthesizer) resolveClient(ctx context.Context) (synthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s.client = polly.NewFromConfig(awsCfg)
	return s.client, nil
}
