// Package submission sends finalized recordings to the webhook and
// normalizes whatever comes back into a voice.Result.
package submission

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/tiger/mari-voice/api/voice"
	"github.com/tiger/mari-voice/internal/observability/telemetry"
	"github.com/tiger/mari-voice/providers/common/httpadapter"
)

// DefaultWebhookURL is the production n8n audio webhook.
const DefaultWebhookURL = "https://juninhodiazszsz.app.n8n.cloud/webhook/mariAI"

// Config configures a Pipeline.
type Config struct {
	Endpoint string
	// Timeout bounds each attempt; the fallback gets its own budget.
	Timeout time.Duration
	// FallbackEnabled allows one JSON+base64 resubmission after a transport failure.
	FallbackEnabled  bool
	DefaultReply     string
	DefaultAudioType string
	Client           *resty.Client
	Clock            clockwork.Clock
	SurfaceID        string
	Emitter          telemetry.Emitter
	Logger           *zap.Logger
}

// Pipeline submits audio payloads. It is safe for concurrent use.
type Pipeline struct {
	cfg        Config
	client     *resty.Client
	schema     *jsonschema.Schema
	strategies []Strategy
}

// New validates cfg and builds a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DefaultReply == "" {
		cfg.DefaultReply = DefaultReply
	}
	if cfg.DefaultAudioType == "" {
		cfg.DefaultAudioType = voice.MediaTypeMP3
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Emitter = telemetry.OrNoop(cfg.Emitter)
	client := cfg.Client
	if client == nil {
		client = httpadapter.NewClient(httpadapter.ClientConfig{
			Name:    "webhook",
			Timeout: cfg.Timeout,
			Logger:  cfg.Logger,
		})
	}
	schema, err := compileReplySchema()
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:        cfg,
		client:     client,
		schema:     schema,
		strategies: ReplyStrategies(cfg.DefaultReply, cfg.DefaultAudioType),
	}, nil
}

// Submit posts payload as multipart form data and interprets the reply.
// The returned error is nil only for PlayableAudio and TextOnly results.
func (p *Pipeline) Submit(ctx context.Context, payload voice.AudioPayload) (voice.Result, error) {
	if err := payload.Validate(); err != nil {
		return voice.Failure(voice.ErrorClassInvalidPayload, err.Error(), 0), fmt.Errorf("submit: %w", err)
	}
	start := p.cfg.Clock.Now()
	userJSON, err := json.Marshal(payload.User.WithDefaults())
	if err != nil {
		return voice.Failure(voice.ErrorClassInvalidPayload, err.Error(), 0), fmt.Errorf("encode user metadata: %w", err)
	}

	result, err := p.exchange(ctx, func(req *resty.Request) *resty.Request {
		return req.
			SetMultipartFormData(map[string]string{"user": string(userJSON)}).
			SetMultipartField("audio", payload.FileName(), payload.MediaType, bytes.NewReader(payload.Data))
	})

	var transportErr *TransportError
	if errors.As(err, &transportErr) && p.shouldFallback(ctx, transportErr) {
		p.cfg.Logger.Warn("multipart submission failed, retrying as json",
			zap.String("session_id", payload.SessionID),
			zap.String("reason", transportErr.Outcome.Reason),
		)
		p.cfg.Emitter.EmitLog(telemetry.EventSubmissionFallback, "warn", "retrying submission as json",
			map[string]string{"reason": transportErr.Outcome.Reason}, p.correlation(payload.SessionID, payload.User.ID))
		result, err = p.exchange(ctx, func(req *resty.Request) *resty.Request {
			return req.
				SetHeader("Content-Type", "application/json").
				SetBody(fallbackBody{
					AudioBase64: base64.StdEncoding.EncodeToString(payload.Data),
					MimeType:    payload.MediaType,
					FileName:    payload.FileName(),
					User:        payload.User.WithDefaults(),
				})
		})
	}

	p.finish(start, "audio", result, p.correlation(payload.SessionID, payload.User.ID))
	return result, err
}

// ErrEmptyMessage rejects blank text submissions.
var ErrEmptyMessage = errors.New("message is empty")

type textBody struct {
	Message   string             `json:"message"`
	Timestamp string             `json:"timestamp"`
	User      voice.UserMetadata `json:"user"`
}

// SendText posts a typed message as JSON and interprets the reply the
// same way as an audio reply. Text messages have no fallback.
func (p *Pipeline) SendText(ctx context.Context, sessionID, message string, user voice.UserMetadata) (voice.Result, error) {
	if strings.TrimSpace(message) == "" {
		return voice.Failure(voice.ErrorClassInvalidPayload, ErrEmptyMessage.Error(), 0), fmt.Errorf("send text: %w", ErrEmptyMessage)
	}
	start := p.cfg.Clock.Now()
	user = user.WithDefaults()
	result, err := p.exchange(ctx, func(req *resty.Request) *resty.Request {
		return req.
			SetHeader("Content-Type", "application/json").
			SetBody(textBody{
				Message:   message,
				Timestamp: start.UTC().Format(time.RFC3339Nano),
				User:      user,
			})
	})
	p.finish(start, "text", result, p.correlation(sessionID, user.ID))
	return result, err
}

func (p *Pipeline) finish(start time.Time, mode string, result voice.Result, corr telemetry.Correlation) {
	rtt := p.cfg.Clock.Since(start)
	attrs := map[string]string{
		"mode":   mode,
		"kind":   string(result.Kind),
		"status": strconv.Itoa(result.StatusCode),
		"rtt_ms": strconv.FormatInt(rtt.Milliseconds(), 10),
	}
	if result.Class != voice.ErrorClassNone {
		attrs["class"] = string(result.Class)
	}
	p.cfg.Emitter.EmitLog(telemetry.EventSubmissionCompleted, "info", "webhook submission finished", attrs, corr)
	p.cfg.Emitter.EmitMetric(telemetry.MetricSubmissionRTTMS, float64(rtt.Milliseconds()), "ms", attrs, corr)
	p.cfg.Emitter.EmitSpan(telemetry.SpanWebhookSubmission, mode, start.UnixMilli(), start.Add(rtt).UnixMilli(), attrs, corr)
}

type fallbackBody struct {
	AudioBase64 string             `json:"audioBase64"`
	MimeType    string             `json:"mimeType"`
	FileName    string             `json:"fileName"`
	User        voice.UserMetadata `json:"user"`
}

func (p *Pipeline) shouldFallback(ctx context.Context, err *TransportError) bool {
	if !p.cfg.FallbackEnabled || ctx.Err() != nil {
		return false
	}
	return err.Outcome.Class != httpadapter.OutcomeCancelled
}

func (p *Pipeline) exchange(ctx context.Context, build func(*resty.Request) *resty.Request) (voice.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := build(p.client.R().SetContext(attemptCtx)).Post(p.cfg.Endpoint)
	if err != nil {
		outcome := httpadapter.NormalizeNetworkError(err)
		return voice.Failure(voice.ErrorClassTransport, outcome.Reason, 0), &TransportError{Outcome: outcome, Err: err}
	}
	return p.Interpret(resp.StatusCode(), resp.Header().Get("Content-Type"), resp.Header().Get("Retry-After"), resp.Body())
}

// Interpret maps one webhook response to a Result.
func (p *Pipeline) Interpret(status int, contentType, retryAfter string, body []byte) (voice.Result, error) {
	outcome := httpadapter.NormalizeStatus(status, retryAfter)
	if outcome.Class != httpadapter.OutcomeSuccess {
		captured, _ := httpadapter.CapturePayload(body, false)
		return voice.Failure(voice.ErrorClassHTTPStatus, outcome.Reason, status), &StatusError{Outcome: outcome, Body: captured}
	}

	mediaType := httpadapter.MediaType(contentType)
	switch {
	case strings.HasPrefix(mediaType, "audio/"):
		if len(body) == 0 {
			return p.formatFailure(status, &ResponseFormatError{ContentType: mediaType, Reason: "empty audio body"})
		}
		return voice.PlayableBytes(body, mediaType), nil
	case isJSON(mediaType), mediaType == "" && json.Valid(body):
		doc, err := decodeReply(body)
		if err != nil {
			return p.formatFailure(status, &ResponseFormatError{ContentType: mediaType, Reason: "invalid json reply", Err: err})
		}
		if mismatch := replyShapeMismatch(p.schema, doc); mismatch != nil {
			p.cfg.Logger.Debug("webhook reply has an undocumented shape", zap.Error(mismatch))
		}
		result, strategy, err := ApplyStrategies(doc, p.strategies)
		if err != nil {
			return p.formatFailure(status, &ResponseFormatError{ContentType: mediaType, Reason: strategy, Err: err})
		}
		p.cfg.Logger.Debug("webhook reply interpreted", zap.String("strategy", strategy), zap.String("kind", string(result.Kind)))
		return result, nil
	default:
		return p.formatFailure(status, &ResponseFormatError{ContentType: mediaType, Reason: "unsupported format"})
	}
}

func (p *Pipeline) formatFailure(status int, err *ResponseFormatError) (voice.Result, error) {
	return voice.Failure(voice.ErrorClassResponseFormat, err.Reason, status), err
}

func (p *Pipeline) correlation(sessionID, userID string) telemetry.Correlation {
	return telemetry.Correlation{
		SessionID:            sessionID,
		SurfaceID:            p.cfg.SurfaceID,
		UserID:               userID,
		Component:            "submission",
		WallClockTimestampMS: p.cfg.Clock.Now().UnixMilli(),
	}
}

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
