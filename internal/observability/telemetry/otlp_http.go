package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// OTLPHTTPSinkConfig points the sink at a collector. Events are posted as
// JSON to <Endpoint>/v1/{metrics,traces,logs}.
type OTLPHTTPSinkConfig struct {
	Endpoint    string
	ServiceName string
	Timeout     time.Duration
	Client      *resty.Client
}

// OTLPHTTPSink forwards events to a collector over HTTP.
type OTLPHTTPSink struct {
	client  *resty.Client
	service string
}

func NewOTLPHTTPSink(cfg OTLPHTTPSinkConfig) (*OTLPHTTPSink, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("otlp endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse otlp endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("otlp endpoint %q needs a scheme and host", endpoint)
	}

	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "mari-voice"
	}
	client := cfg.Client
	if client == nil {
		client = resty.New()
	}
	client.SetBaseURL(strings.TrimRight(u.String(), "/")).
		SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &OTLPHTTPSink{client: client, service: service}, nil
}

type otlpEnvelope struct {
	ServiceName string `json:"service_name"`
	Event       Event  `json:"event"`
}

func (s *OTLPHTTPSink) Export(ctx context.Context, event Event) error {
	route := "/v1/logs"
	switch event.Kind {
	case EventKindMetric:
		route = "/v1/metrics"
	case EventKindSpan:
		route = "/v1/traces"
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(otlpEnvelope{ServiceName: s.service, Event: event}).
		Post(route)
	if err != nil {
		return fmt.Errorf("otlp export %s: %w", route, err)
	}
	if resp.IsError() || resp.StatusCode() >= 300 {
		return fmt.Errorf("otlp export %s: status %d", route, resp.StatusCode())
	}
	return nil
}
