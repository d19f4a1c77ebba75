// Package httpadapter holds the HTTP plumbing shared by the webhook and
// auth clients: a configured resty client, status and network-error
// normalization, and redacted payload capture for logs.
package httpadapter

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// OutcomeClass is the normalized result of one HTTP attempt.
type OutcomeClass string

const (
	OutcomeSuccess        OutcomeClass = "success"
	OutcomeTimeout        OutcomeClass = "timeout"
	OutcomeCancelled      OutcomeClass = "cancelled"
	OutcomeOverload       OutcomeClass = "overload"
	OutcomeBlocked        OutcomeClass = "blocked"
	OutcomeServerError    OutcomeClass = "server_error"
	OutcomeTransportError OutcomeClass = "transport_error"
)

// Outcome describes one attempt without the response body.
type Outcome struct {
	Class      OutcomeClass
	Retryable  bool
	Reason     string
	StatusCode int
	BackoffMS  int64
}

// Transport reports whether the attempt failed before any HTTP status arrived.
func (o Outcome) Transport() bool {
	switch o.Class {
	case OutcomeTimeout, OutcomeCancelled, OutcomeTransportError:
		return o.StatusCode == 0
	default:
		return false
	}
}

type captureMode string

const (
	captureModeRedacted captureMode = "redacted"
	captureModeFull     captureMode = "full"
	captureModeHash     captureMode = "hash"

	envCaptureMode     = "MARI_HTTP_CAPTURE_MODE"
	envCaptureMaxBytes = "MARI_HTTP_CAPTURE_MAX_BYTES"

	defaultCaptureMode     = captureModeRedacted
	defaultCaptureMaxBytes = 8192
	minCaptureMaxBytes     = 256
)

// ClientConfig configures a shared resty client.
type ClientConfig struct {
	Name          string
	BaseURL       string
	Timeout       time.Duration
	StaticHeaders map[string]string
	Logger        *zap.Logger
	HTTPClient    *http.Client
}

// NewClient returns a resty client with timeout, headers and debug
// logging of redacted request/response payloads.
func NewClient(cfg ClientConfig) *resty.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	var client *resty.Client
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	} else {
		client = resty.New()
	}
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", "mari-voice/1")
	if cfg.BaseURL != "" {
		client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	}
	for key, value := range cfg.StaticHeaders {
		client.SetHeader(key, value)
	}

	logger := cfg.Logger.Named(cfg.Name)
	client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		if ce := logger.Check(zap.DebugLevel, "http response"); ce != nil {
			body, truncated := CapturePayload(resp.Body(), false)
			ce.Write(
				zap.String("method", resp.Request.Method),
				zap.String("url", resp.Request.URL),
				zap.Int("status", resp.StatusCode()),
				zap.Duration("rtt", resp.Time()),
				zap.String("body", body),
				zap.Bool("truncated", truncated),
			)
		}
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		logger.Debug("http request failed", zap.String("method", req.Method), zap.String("url", req.URL), zap.Error(err))
	})
	return client
}

// MediaType returns the lowercased base media type of a Content-Type header.
func MediaType(contentType string) string {
	if strings.TrimSpace(contentType) == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return parsed
}

func normalizeNetworkError(err error) Outcome {
	if errors.Is(err, context.Canceled) {
		return Outcome{Class: OutcomeCancelled, Retryable: false, Reason: "request_cancelled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Class: OutcomeTimeout, Retryable: true, Reason: "request_timeout"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Outcome{Class: OutcomeTimeout, Retryable: true, Reason: "request_timeout"}
	}
	return Outcome{Class: OutcomeTransportError, Retryable: true, Reason: "network_error"}
}

func normalizeStatus(status int, retryAfter string) Outcome {
	outcome := Outcome{StatusCode: status}
	switch {
	case status >= 200 && status <= 299:
		outcome.Class = OutcomeSuccess
		return outcome
	case status == http.StatusTooManyRequests:
		outcome.Class = OutcomeOverload
		outcome.Retryable = true
		outcome.Reason = "rate_limited"
		outcome.BackoffMS = retryAfterToMS(retryAfter)
		return outcome
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		outcome.Class = OutcomeTimeout
		outcome.Retryable = true
		outcome.Reason = "upstream_timeout"
		return outcome
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		outcome.Class = OutcomeBlocked
		outcome.Reason = "unauthorized"
		return outcome
	case status >= 400 && status <= 499:
		outcome.Class = OutcomeBlocked
		outcome.Reason = "client_error"
		return outcome
	default:
		outcome.Class = OutcomeServerError
		outcome.Retryable = true
		outcome.Reason = "server_error"
		return outcome
	}
}

func retryAfterToMS(retryAfter string) int64 {
	if strings.TrimSpace(retryAfter) == "" {
		return 500
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter))
	if err != nil || seconds < 1 {
		return 500
	}
	return int64(seconds) * 1000
}

func resolveCaptureMode() captureMode {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(envCaptureMode)))
	switch captureMode(raw) {
	case captureModeFull, captureModeHash, captureModeRedacted:
		return captureMode(raw)
	default:
		return defaultCaptureMode
	}
}

func resolveCaptureMaxBytes() int {
	raw := strings.TrimSpace(os.Getenv(envCaptureMaxBytes))
	if raw == "" {
		return defaultCaptureMaxBytes
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < minCaptureMaxBytes {
		return defaultCaptureMaxBytes
	}
	return value
}

func capturePayload(raw []byte, mode captureMode, maxBytes int, preTruncated bool) (string, bool) {
	if maxBytes < 1 {
		maxBytes = defaultCaptureMaxBytes
	}
	truncated := preTruncated
	sample := raw
	if len(sample) > maxBytes {
		sample = sample[:maxBytes]
		truncated = true
	}
	switch mode {
	case captureModeFull:
		if len(sample) == 0 {
			return "", truncated
		}
		if utf8.Valid(sample) {
			return string(sample), truncated
		}
		return "base64:" + base64.StdEncoding.EncodeToString(sample), truncated
	case captureModeHash:
		return fmt.Sprintf("sha256=%s bytes=%d", hashBytes(sample), len(sample)), truncated
	default:
		return fmt.Sprintf("redacted sha256=%s bytes=%d", hashBytes(sample), len(sample)), truncated
	}
}

func hashBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// NormalizeNetworkError maps transport-level errors to normalized outcomes.
func NormalizeNetworkError(err error) Outcome {
	return normalizeNetworkError(err)
}

// NormalizeStatus maps HTTP status and retry-after headers to normalized outcomes.
func NormalizeStatus(status int, retryAfter string) Outcome {
	return normalizeStatus(status, retryAfter)
}

// CapturePayload captures payload bytes using env-based capture settings.
func CapturePayload(raw []byte, preTruncated bool) (string, bool) {
	return capturePayload(raw, resolveCaptureMode(), resolveCaptureMaxBytes(), preTruncated)
}

// CapturePayloadWithMode captures payload bytes using explicit mode/limit settings.
func CapturePayloadWithMode(raw []byte, mode string, maxBytes int, preTruncated bool) (string, bool) {
	normalized := captureMode(strings.ToLower(strings.TrimSpace(mode)))
	switch normalized {
	case captureModeFull, captureModeHash, captureModeRedacted:
	default:
		normalized = defaultCaptureMode
	}
	if maxBytes < minCaptureMaxBytes {
		maxBytes = defaultCaptureMaxBytes
	}
	return capturePayload(raw, normalized, maxBytes, preTruncated)
}
