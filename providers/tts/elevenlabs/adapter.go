// Package elevenlabs speaks text-only webhook replies with the ElevenLabs
// text-to-speech API.
package elevenlabs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/tiger/mari-voice/api/voice"
	"github.com/tiger/mari-voice/providers/common/httpadapter"
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io"
	defaultVoice   = "EXAVITQu4vr4xnSDxMaL"
	defaultModel   = "eleven_multilingual_v2"
)

var (
	ErrEmptyText = errors.New("elevenlabs: nothing to synthesize")
	ErrNoAPIKey  = errors.New("elevenlabs: api key is required")
)

type Config struct {
	APIKey     string
	BaseURL    string
	VoiceID    string
	ModelID    string
	Timeout    time.Duration
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// SynthesisError carries the normalized outcome of a failed call.
type SynthesisError struct {
	Outcome httpadapter.Outcome
	Body    string
	Err     error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("elevenlabs synthesize (%s): %v", e.Outcome.Reason, e.Err)
	}
	return fmt.Sprintf("elevenlabs synthesize (%s): status %d", e.Outcome.Reason, e.Outcome.StatusCode)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Synthesizer turns reply text into MP3 audio.
type Synthesizer struct {
	cfg  Config
	http *resty.Client
}

func New(cfg Config) (*Synthesizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = defaultVoice
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client := httpadapter.NewClient(httpadapter.ClientConfig{
		Name:    "elevenlabs",
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		StaticHeaders: map[string]string{
			"xi-api-key": cfg.APIKey,
			"Accept":     voice.MediaTypeMP3,
		},
		Logger:     cfg.Logger,
		HTTPClient: cfg.HTTPClient,
	})
	return &Synthesizer{cfg: cfg, http: client}, nil
}

// Synthesize returns text spoken as a playable MP3 result.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (voice.Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return voice.Result{}, ErrEmptyText
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"model_id": s.cfg.ModelID, "text": text}).
		Post("/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID))
	if err != nil {
		return voice.Result{}, &SynthesisError{Outcome: httpadapter.NormalizeNetworkError(err), Err: err}
	}
	outcome := httpadapter.NormalizeStatus(resp.StatusCode(), resp.Header().Get("Retry-After"))
	if outcome.Class != httpadapter.OutcomeSuccess {
		body, _ := httpadapter.CapturePayload(resp.Body(), false)
		return voice.Result{}, &SynthesisError{Outcome: outcome, Body: body}
	}
	audio := resp.Body()
	if len(audio) == 0 {
		return voice.Result{}, &SynthesisError{
			Outcome: httpadapter.Outcome{Class: httpadapter.OutcomeServerError, Retryable: true, Reason: "provider_empty_audio", StatusCode: resp.StatusCode()},
			Err:     errors.New("empty audio body"),
		}
	}
	mediaType := httpadapter.MediaType(resp.Header().Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "audio/") {
		mediaType = voice.MediaTypeMP3
	}
	s.cfg.Logger.Debug("elevenlabs synthesized reply",
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
