package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics are the kernel's domain counters.
type Metrics struct {
	InvariantFailures metric.Int64Counter
	CriticalFailures  metric.Int64Counter
	AlertFailures     metric.Int64Counter
	LedgerAppends     metric.Int64Counter
	Decisions         metric.Int64Counter
}

// NewMetrics registers the counters on meter, or on the global meter when nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	m := &Metrics{}
	var err error

	if m.InvariantFailures, err = meter.Int64Counter("govkernel.invariant.failures",
		metric.WithDescription("Invariant results with status FAIL or ERROR"),
		metric.WithUnit("{failure}"),
	); err != nil {
		return nil, err
	}
	if m.CriticalFailures, err = meter.Int64Counter("govkernel.invariant.critical_failures",
		metric.WithDescription("Invariant failures with CRITICAL severity"),
		metric.WithUnit("{failure}"),
	); err != nil {
		return nil, err
	}
	if m.AlertFailures, err = meter.Int64Counter("govkernel.alerts.failed",
		metric.WithDescription("Alert dispatches that failed"),
		metric.WithUnit("{alert}"),
	); err != nil {
		return nil, err
	}
	if m.LedgerAppends, err = meter.Int64Counter("govkernel.ledger.appends",
		metric.WithDescription("Entries appended to the evidence ledger"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}
	if m.Decisions, err = meter.Int64Counter("govkernel.haltmatrix.decisions",
		metric.WithDescription("Privileged-operation decisions by outcome"),
		metric.WithUnit("{decision}"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// MustMetrics is NewMetrics on the global meter. The no-op and SDK meters never
// reject these instrument definitions.
func MustMetrics() *Metrics {
	m, err := NewMetrics(nil)
	if err != nil {
		panic(err)
	}
	return m
}
