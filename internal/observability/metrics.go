package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments shared by the resolver, the dispatcher and the
// queue transports. A nil *Metrics is valid and records nothing.
type Metrics struct {
	LookupResults  otelmetric.Int64Counter
	LookupCalls    otelmetric.Int64Counter
	GateWait       otelmetric.Float64Histogram
	Deliveries     otelmetric.Int64Counter
	HandlerLatency otelmetric.Float64Histogram
	Enqueued       otelmetric.Int64Counter
	EnqueueErrors  otelmetric.Int64Counter
	JobRuns        otelmetric.Int64Counter
}

// NewMetrics creates all instruments from the given Meter.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	if m.LookupResults, err = meter.Int64Counter(
		"resolver.lookup.results",
		otelmetric.WithDescription("Lookups by outcome (found, not_found, error)"),
	); err != nil {
		return nil, err
	}
	if m.LookupCalls, err = meter.Int64Counter(
		"resolver.transport.calls",
		otelmetric.WithDescription("Outbound identity lookups by result"),
	); err != nil {
		return nil, err
	}
	if m.GateWait, err = meter.Float64Histogram(
		"resolver.gate.wait",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Time a lookup waited in the pacing gate"),
	); err != nil {
		return nil, err
	}
	if m.Deliveries, err = meter.Int64Counter(
		"dispatch.deliveries",
		otelmetric.WithDescription("Queue deliveries by outcome (acked, retried, dead_lettered, dropped)"),
	); err != nil {
		return nil, err
	}
	if m.HandlerLatency, err = meter.Float64Histogram(
		"dispatch.handler.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Dispatch handler latency"),
	); err != nil {
		return nil, err
	}
	if m.Enqueued, err = meter.Int64Counter(
		"queue.enqueued",
		otelmetric.WithDescription("Envelopes accepted by the queue transport"),
	); err != nil {
		return nil, err
	}
	if m.EnqueueErrors, err = meter.Int64Counter(
		"queue.enqueue.errors",
		otelmetric.WithDescription("Failed batch sends"),
	); err != nil {
		return nil, err
	}
	if m.JobRuns, err = meter.Int64Counter(
		"jobs.runs",
		otelmetric.WithDescription("Scheduled job runs by job and status"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) LookupResult(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.LookupResults.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) LookupCall(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.LookupCalls.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) GateWaited(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.GateWait.Record(ctx, float64(d.Microseconds())/1000)
}

func (m *Metrics) Delivery(ctx context.Context, msgType, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("type", msgType), attribute.String("outcome", outcome))
	m.Deliveries.Add(ctx, 1, attrs)
	m.HandlerLatency.Record(ctx, float64(took.Microseconds())/1000, attrs)
}

func (m *Metrics) Enqueue(ctx context.Context, transport string, n int, err error) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("transport", transport))
	if err != nil {
		m.EnqueueErrors.Add(ctx, 1, attrs)
		return
	}
	m.Enqueued.Add(ctx, int64(n), attrs)
}

func (m *Metrics) JobRun(ctx context.Context, job string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.JobRuns.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("job", job), attribute.String("status", status)))
}
