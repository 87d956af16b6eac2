package bridge

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/basket/panelbridge/internal/audit"
	"github.com/basket/panelbridge/internal/bus"
	otelpkg "github.com/basket/panelbridge/internal/otel"
	"github.com/basket/panelbridge/internal/state"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// callbackSchema types the untrusted webhook body. It is deliberately
// permissive about which fields appear (a single post may be a command
// answer, a log push, a presence update, or any mix) but strict about
// their types.
const callbackSchema = `{
	"type": "object",
	"required": ["secret"],
	"properties": {
		"secret":        {"type": "string"},
		"requestId":     {"type": "string"},
		"correlationId": {"type": "string"},
		"success":       {"type": "boolean"},
		"result":        {"type": "string"},
		"type":          {"type": "string"},
		"logs":          {"type": "array", "items": {"type": "object"}},
		"players":       {"type": "array", "items": {"type": "object"}},
		"gameJobId":     {"type": "string"}
	}
}`

// CallbackPayload is everything the game server can report in one
// webhook post.
type CallbackPayload struct {
	Secret        string           `json:"secret"`
	RequestID     string           `json:"requestId"`
	CorrelationID string           `json:"correlationId"`
	Success       bool             `json:"success"`
	Result        string           `json:"result"`
	Type          string           `json:"type"`
	Logs          []state.LogEntry `json:"logs"`
	Players       *[]state.Player  `json:"players"` // nil = absent, empty = server is empty
	GameJobID     string           `json:"gameJobId"`
}

// correlation returns the answer's correlation id under either accepted
// field name, preferring requestId.
func (p CallbackPayload) correlation() string {
	if p.RequestID != "" {
		return p.RequestID
	}
	return p.CorrelationID
}

// RouterConfig holds the router's collaborators.
type RouterConfig struct {
	Registry *Registry
	Logs     *state.LogStore
	Presence *state.Presence
	Bus      *bus.Bus
	Secret   string
	Logger   *slog.Logger
	Metrics  *otelpkg.Metrics // optional
}

// Router is the single ingress for everything the game server reports
// back. It authenticates the shared secret, then routes by payload
// shape: command answers to the pending-call registry, log pushes to
// the log store, presence lists to the presence snapshot, with live
// events fanned out on the bus.
type Router struct {
	registry *Registry
	logs     *state.LogStore
	presence *state.Presence
	bus      *bus.Bus
	secret   []byte
	logger   *slog.Logger
	metrics  *otelpkg.Metrics
	schema   *jsonschema.Schema
}

// NewRouter creates a Router from cfg.
func NewRouter(cfg RouterConfig) (*Router, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(callbackSchema)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal callback schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("callback.json", doc); err != nil {
		return nil, fmt.Errorf("add callback schema: %w", err)
	}
	schema, err := c.Compile("callback.json")
	if err != nil {
		return nil, fmt.Errorf("compile callback schema: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: cfg.Registry,
		logs:     cfg.Logs,
		presence: cfg.Presence,
		bus:      cfg.Bus,
		secret:   []byte(cfg.Secret),
		logger:   logger,
		metrics:  cfg.Metrics,
		schema:   schema,
	}, nil
}

// Decode validates the raw body against the callback schema and decodes
// it. A body that fails validation never reaches routing.
func (r *Router) Decode(body []byte) (CallbackPayload, error) {
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return CallbackPayload{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := r.schema.Validate(parsed); err != nil {
		return CallbackPayload{}, fmt.Errorf("malformed callback: %w", err)
	}
	var p CallbackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return CallbackPayload{}, fmt.Errorf("decode callback: %w", err)
	}
	return p, nil
}

// Authenticate reports whether the payload carries the configured
// shared secret, compared in constant time.
func (r *Router) Authenticate(p CallbackPayload) bool {
	ok := subtle.ConstantTimeCompare([]byte(p.Secret), r.secret) == 1
	if !ok {
		r.logger.Warn("webhook rejected: bad shared secret")
		audit.Record("webhook.callback", "game-server", "deny", "shared secret mismatch")
		if r.metrics != nil {
			r.metrics.WebhookRejects.Add(context.Background(), 1)
		}
	}
	return ok
}

// Route applies the payload's independent effects. The three steps are
// order-insensitive relative to each other; any subset may apply. An
// unknown correlation id is not an error: the call already resolved or
// timed out, or the id was forged.
func (r *Router) Route(p CallbackPayload) {
	if id := p.correlation(); id != "" {
		matched := r.registry.Resolve(id, Outcome{Success: p.Success, Result: p.Result})
		if !matched {
			r.logger.Debug("callback for unknown or expired correlation id", "request_id", id)
			if r.metrics != nil {
				r.metrics.LateAnswers.Add(context.Background(), 1)
			}
		}
	}

	if p.Type == "log_push" && len(p.Logs) > 0 {
		for _, entry := range p.Logs {
			stamped := r.logs.Add(entry)
			r.bus.Publish(bus.TopicRemoteLog, stamped)
		}
	}

	if p.Players != nil {
		players := *p.Players
		r.presence.Replace(players)
		r.bus.Publish(bus.TopicRemotePlayers, players)
	}
}
