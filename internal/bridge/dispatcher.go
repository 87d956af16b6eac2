package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/panelbridge/internal/audit"
	"github.com/basket/panelbridge/internal/bus"
	otelpkg "github.com/basket/panelbridge/internal/otel"
	"github.com/basket/panelbridge/internal/shared"
	"github.com/basket/panelbridge/internal/state"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// DispatcherConfig holds the dispatcher's collaborators.
type DispatcherConfig struct {
	Publisher MessagePublisher
	Registry  *Registry
	History   *state.History
	Bus       *bus.Bus // optional; command.dispatched events
	Secret    string
	Logger    *slog.Logger
	Tracer    trace.Tracer     // optional
	Metrics   *otelpkg.Metrics // optional
}

// Dispatcher turns a fire-and-forget publish into a synchronous-looking
// call: it correlates each envelope with a pending-call entry and
// suspends the caller until the webhook answer or the timeout resolves
// it. Many dispatches may be in flight concurrently; they share nothing
// but the registry.
type Dispatcher struct {
	publisher MessagePublisher
	registry  *Registry
	history   *state.History
	bus       *bus.Bus
	secret    string
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *otelpkg.Metrics
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher from cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("panelbridge")
	}
	return &Dispatcher{
		publisher: cfg.Publisher,
		registry:  cfg.Registry,
		history:   cfg.History,
		bus:       cfg.Bus,
		secret:    cfg.Secret,
		logger:    logger,
		tracer:    tracer,
		metrics:   cfg.Metrics,
		now:       time.Now,
	}
}

// Dispatch publishes command to the game server on behalf of caller and
// blocks until the answer arrives or the call times out. Every path
// returns a normal Outcome; a transport failure short-circuits before
// any pending call is registered, so no timer ever fires for a message
// that never went out.
func (d *Dispatcher) Dispatch(ctx context.Context, command string, args []string, caller string) Outcome {
	ctx, span := otelpkg.StartSpan(ctx, d.tracer, "bridge.dispatch",
		otelpkg.AttrCommand.String(command),
		otelpkg.AttrCaller.String(caller),
	)
	defer span.End()
	start := d.now()

	id := uuid.NewString()
	span.SetAttributes(otelpkg.AttrCorrelationID.String(id))
	env := Envelope{
		Secret:    d.secret,
		Command:   command,
		Args:      args,
		Caller:    caller,
		RequestID: id,
		Timestamp: start.UnixMilli(),
	}

	if err := d.publisher.Publish(ctx, env); err != nil {
		detail := err.Error()
		var te *TransportError
		if errors.As(err, &te) {
			detail = te.Detail
		}
		d.logger.Error("command publish failed", "command", command, "request_id", id, "trace_id", shared.TraceID(ctx), "error", err)
		outcome := Outcome{Success: false, Result: "publish error: " + detail}
		d.record(ctx, command, args, caller, outcome, start)
		return outcome
	}

	done := d.registry.Register(id)
	if d.metrics != nil {
		d.metrics.PendingCalls.Add(ctx, 1)
		defer d.metrics.PendingCalls.Add(ctx, -1)
	}
	d.logger.Info("command dispatched", "command", command, "caller", caller, "request_id", id, "trace_id", shared.TraceID(ctx))

	outcome := <-done
	d.record(ctx, command, args, caller, outcome, start)
	return outcome
}

// record appends the outcome to command history, audits it, publishes
// the command.dispatched event, and updates metrics.
func (d *Dispatcher) record(ctx context.Context, command string, args []string, caller string, outcome Outcome, start time.Time) {
	rec := state.CommandRecord{
		Command: command,
		Args:    args,
		Caller:  caller,
		Success: outcome.Success,
		Result:  outcome.Result,
		At:      d.now(),
	}
	d.history.Append(rec)
	if d.bus != nil {
		d.bus.Publish(bus.TopicCommandDispatched, rec)
	}

	decision := "ok"
	if !outcome.Success {
		decision = "failed"
	}
	audit.Record("command."+command, caller, decision, strings.Join(args, " "))

	if d.metrics != nil {
		attrs := metric.WithAttributes(
			otelpkg.AttrCommand.String(command),
			attribute.Bool("success", outcome.Success),
		)
		d.metrics.DispatchDuration.Record(ctx, d.now().Sub(start).Seconds(), attrs)
		d.metrics.DispatchOutcomes.Add(ctx, 1, attrs)
	}
}
