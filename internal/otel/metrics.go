package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all bridge metrics instruments.
type Metrics struct {
	DispatchDuration metric.Float64Histogram
	DispatchOutcomes metric.Int64Counter
	PendingCalls     metric.Int64UpDownCounter
	Observers        metric.Int64UpDownCounter
	LateAnswers      metric.Int64Counter
	WebhookRejects   metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.DispatchDuration, err = meter.Float64Histogram("panelbridge.dispatch.duration",
		metric.WithDescription("Command dispatch duration in seconds, publish to resolution"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatchOutcomes, err = meter.Int64Counter("panelbridge.dispatch.outcomes",
		metric.WithDescription("Completed command dispatches by command and success"),
	)
	if err != nil {
		return nil, err
	}

	m.PendingCalls, err = meter.Int64UpDownCounter("panelbridge.dispatch.pending",
		metric.WithDescription("Commands currently awaiting a callback answer"),
	)
	if err != nil {
		return nil, err
	}

	m.Observers, err = meter.Int64UpDownCounter("panelbridge.observers.active",
		metric.WithDescription("Connected live panel observers"),
	)
	if err != nil {
		return nil, err
	}

	m.LateAnswers, err = meter.Int64Counter("panelbridge.dispatch.late_answers",
		metric.WithDescription("Callback answers for unknown or already-resolved correlation ids"),
	)
	if err != nil {
		return nil, err
	}

	m.WebhookRejects, err = meter.Int64Counter("panelbridge.webhook.rejects",
		metric.WithDescription("Webhook posts rejected for a bad shared secret"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
