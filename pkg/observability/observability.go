// Package observability wires OpenTelemetry tracing and metrics for the kernel and
// builds the structured logger used by every component.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the kernel's tracer and meter.
const InstrumentationName = "govkernel"

// Config configures export of kernel telemetry.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // gRPC collector, host:port
	SampleRate     float64 // fraction of cycles traced
	BatchTimeout   time.Duration
	MetricInterval time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns defaults with export disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "govkernel",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MetricInterval: 15 * time.Second,
	}
}

// opInstruments measure kernel operations: cycles, audits and decisions.
type opInstruments struct {
	started  metric.Int64Counter
	failed   metric.Int64Counter
	inFlight metric.Int64UpDownCounter
	seconds  metric.Float64Histogram
}

func newOpInstruments(m metric.Meter) (*opInstruments, error) {
	var (
		ins opInstruments
		err error
	)
	if ins.started, err = m.Int64Counter("govkernel.operations.total",
		metric.WithDescription("Kernel operations started"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, err
	}
	if ins.failed, err = m.Int64Counter("govkernel.operations.errors",
		metric.WithDescription("Kernel operations that returned an error"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}
	if ins.inFlight, err = m.Int64UpDownCounter("govkernel.operations.active",
		metric.WithDescription("Kernel operations in flight"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, err
	}
	ins.seconds, err = m.Float64Histogram("govkernel.operation.duration",
		metric.WithDescription("Kernel operation duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30))
	if err != nil {
		return nil, err
	}
	return &ins, nil
}

// Provider owns the kernel's tracer and meter. With export disabled it hands out
// the global no-op implementations so callers never branch on configuration.
type Provider struct {
	cfg    *Config
	logger *slog.Logger

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	tracer trace.Tracer
	meter  metric.Meter
	ops    *opInstruments
}

// New creates a provider, installing global providers when export is enabled.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Provider{
		cfg:    cfg,
		logger: slog.Default().With("component", "observability"),
	}

	if cfg.Enabled {
		if err := p.export(ctx); err != nil {
			return nil, err
		}
		p.logger.InfoContext(ctx, "telemetry export enabled",
			"endpoint", cfg.OTLPEndpoint,
			"environment", cfg.Environment,
			"sample_rate", cfg.SampleRate,
		)
	} else {
		p.logger.DebugContext(ctx, "telemetry export disabled")
	}

	p.tracer = otel.Tracer(InstrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	p.meter = otel.Meter(InstrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	ops, err := newOpInstruments(p.meter)
	if err != nil {
		return nil, fmt.Errorf("operation instruments: %w", err)
	}
	p.ops = ops
	return p, nil
}

// export builds OTLP exporters and registers the SDK providers globally.
func (p *Provider) export(ctx context.Context) error {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(p.cfg.ServiceName),
		semconv.ServiceVersion(p.cfg.ServiceVersion),
		semconv.DeploymentEnvironment(p.cfg.Environment),
		attribute.String("govkernel.component", "kernel"),
	))
	if err != nil {
		return fmt.Errorf("telemetry resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return fmt.Errorf("trace exporter: %w", err)
	}
	points, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spans.Shutdown(ctx)
		return fmt.Errorf("metric exporter: %w", err)
	}

	interval := p.cfg.MetricInterval
	if interval <= 0 {
		interval = DefaultConfig().MetricInterval
	}

	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans, sdktrace.WithBatchTimeout(p.cfg.BatchTimeout)),
		sdktrace.WithSampler(samplerFor(p.cfg.SampleRate)),
	)
	p.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(points, sdkmetric.WithInterval(interval))),
	)

	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Shutdown flushes pending spans and metric points.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (p *Provider) Tracer() trace.Tracer { return p.tracer }

func (p *Provider) Meter() metric.Meter { return p.meter }

// TrackOperation opens a span for a kernel operation. The returned func ends it;
// a non-nil error marks the span failed and counts against govkernel.operations.errors.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	set := metric.WithAttributes(append(attrs, attribute.String("operation", name))...)
	p.ops.started.Add(ctx, 1, set)
	p.ops.inFlight.Add(ctx, 1, set)

	return ctx, func(err error) {
		defer span.End()
		p.ops.inFlight.Add(ctx, -1, set)
		p.ops.seconds.Record(ctx, time.Since(start).Seconds(), set)
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.ops.failed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", name),
			attribute.String("error.type", fmt.Sprintf("%T", err)),
		))
	}
}
