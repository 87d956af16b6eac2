package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	otelpkg "github.com/basket/panelbridge/internal/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	messagingURLFormat = "https://apis.roblox.com/messaging-service/v1/universes/%s/topics/%s"

	defaultPublishTimeout = 5 * time.Second
	maxErrorBodyBytes     = 4096
)

// Envelope is one outbound command message. Immutable once published;
// the JSON field names are the wire contract with the in-game plugin.
type Envelope struct {
	Secret    string   `json:"secret"`
	Command   string   `json:"command"`
	Args      []string `json:"args"`
	Caller    string   `json:"caller"`
	RequestID string   `json:"requestId"`
	Timestamp int64    `json:"timestamp"`
}

// TransportError reports a failure to hand the envelope to the
// messaging service. It is distinct from a remote-side failure, which
// arrives as a normal Outcome via the webhook.
type TransportError struct {
	Status int // HTTP status, 0 on network error
	Detail string
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return "messaging publish: " + e.Detail
	}
	return fmt.Sprintf("messaging publish: status %d: %s", e.Status, e.Detail)
}

// MessagePublisher hands a command envelope to the outbound channel.
type MessagePublisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// PublisherConfig holds the Open Cloud messaging settings.
type PublisherConfig struct {
	UniverseID string
	Topic      string
	APIKey     string

	// Endpoint overrides the derived Open Cloud URL (tests).
	Endpoint string

	// Timeout bounds one publish attempt. Zero uses a 5s default.
	Timeout time.Duration

	// Client overrides the HTTP client (tests). Nil builds one from
	// Timeout.
	Client *http.Client

	// Tracer records one client span per publish attempt. Optional.
	Tracer trace.Tracer
}

// Publisher posts command envelopes to a Roblox Open Cloud
// MessagingService topic. One attempt per publish; retries are policy
// the caller has not asked for.
type Publisher struct {
	url    string
	apiKey string
	client *http.Client
	tracer trace.Tracer
}

// NewPublisher creates a Publisher from cfg.
func NewPublisher(cfg PublisherConfig) *Publisher {
	url := cfg.Endpoint
	if url == "" {
		url = fmt.Sprintf(messagingURLFormat, cfg.UniverseID, cfg.Topic)
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultPublishTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("panelbridge")
	}
	return &Publisher{url: url, apiKey: cfg.APIKey, client: client, tracer: tracer}
}

// Publish submits the envelope. The messaging service expects the
// envelope JSON-encoded as a string under "message". A network error or
// non-2xx response yields a *TransportError carrying the upstream
// detail.
func (p *Publisher) Publish(ctx context.Context, env Envelope) error {
	ctx, span := otelpkg.StartClientSpan(ctx, p.tracer, "open_cloud.publish",
		otelpkg.AttrCommand.String(env.Command),
		otelpkg.AttrCorrelationID.String(env.RequestID),
	)
	defer span.End()

	message, err := json.Marshal(env)
	if err != nil {
		return &TransportError{Detail: fmt.Sprintf("encode envelope: %s", err)}
	}
	body, err := json.Marshal(map[string]string{"message": string(message)})
	if err != nil {
		return &TransportError{Detail: fmt.Sprintf("encode message body: %s", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Detail: err.Error()}
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &TransportError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &TransportError{Status: resp.StatusCode, Detail: upstreamDetail(resp.Body, resp.Status)}
}

// upstreamDetail extracts the service's error message from the response
// body, falling back to the HTTP status line.
func upstreamDetail(body io.Reader, fallback string) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	if err != nil || len(data) == 0 {
		return fallback
	}
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return fallback
}
