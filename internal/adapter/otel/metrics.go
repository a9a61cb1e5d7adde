package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "launchforge"

// Metrics holds all LaunchForge metric instruments.
type Metrics struct {
	TransitionsCommitted metric.Int64Counter
	TransitionsRejected  metric.Int64Counter
	TxSubmitted          metric.Int64Counter
	ConfirmAttempts      metric.Int64Counter
	StatusEvents         metric.Int64Counter
	AutoDeactivations    metric.Int64Counter
	TransitionDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TransitionsCommitted, err = meter.Int64Counter("launchforge.transitions.committed",
		metric.WithDescription("Number of lifecycle transitions committed"))
	if err != nil {
		return nil, err
	}

	m.TransitionsRejected, err = meter.Int64Counter("launchforge.transitions.rejected",
		metric.WithDescription("Number of lifecycle transitions rejected"))
	if err != nil {
		return nil, err
	}

	m.TxSubmitted, err = meter.Int64Counter("launchforge.tx.submitted",
		metric.WithDescription("Number of provisioning transactions broadcast"))
	if err != nil {
		return nil, err
	}

	m.ConfirmAttempts, err = meter.Int64Counter("launchforge.tx.confirm_attempts",
		metric.WithDescription("Number of confirmation poll attempts"))
	if err != nil {
		return nil, err
	}

	m.StatusEvents, err = meter.Int64Counter("launchforge.status.events",
		metric.WithDescription("Number of status events published"))
	if err != nil {
		return nil, err
	}

	m.AutoDeactivations, err = meter.Int64Counter("launchforge.invocations.auto_deactivations",
		metric.WithDescription("Number of agents auto-deactivated by the invocation breaker"))
	if err != nil {
		return nil, err
	}

	m.TransitionDuration, err = meter.Float64Histogram("launchforge.transition.duration_seconds",
		metric.WithDescription("Lifecycle transition duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
