// Package observability wires OpenTelemetry tracing and metrics and the
// process logger for the credential ledger.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
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

const instrumentationName = "credledger"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317"
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns defaults with export disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "credledger",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
		Insecure:       false,
	}
}

// Provider manages OpenTelemetry trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	requestCounter metric.Int64Counter
	errorCounter   metric.Int64Counter
	durationHist   metric.Float64Histogram

	appendCounter    metric.Int64Counter
	alertCounter     metric.Int64Counter
	integrityCounter metric.Int64Counter
}

// New creates a provider exporting over OTLP/gRPC. With Enabled false the
// provider records into the global (no-op by default) providers.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		p.tracer = otel.Tracer(instrumentationName)
		p.meter = otel.Meter(instrumentationName)
		if err := p.initInstruments(); err != nil {
			return nil, fmt.Errorf("failed to init instruments: %w", err)
		}
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = p.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = p.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(config.ServiceVersion))
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

// NewWithProviders builds a Provider over caller-owned SDK providers. Tests
// use it with a span recorder and a manual metric reader.
func NewWithProviders(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) (*Provider, error) {
	p := &Provider{
		config:         DefaultConfig(),
		tracerProvider: tp,
		meterProvider:  mp,
		tracer:         tp.Tracer(instrumentationName),
		meter:          mp.Meter(instrumentationName),
		logger:         slog.Default().With("component", "observability"),
	}
	if err := p.initInstruments(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	if p.requestCounter, err = p.meter.Int64Counter("credledger.operations.total",
		metric.WithDescription("Operations started"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}
	if p.errorCounter, err = p.meter.Int64Counter("credledger.errors.total",
		metric.WithDescription("Operations that returned an error"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}
	if p.durationHist, err = p.meter.Float64Histogram("credledger.operation.duration",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	); err != nil {
		return err
	}
	if p.appendCounter, err = p.meter.Int64Counter("credledger.ledger.appends",
		metric.WithDescription("Entries durably appended to the ledger"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return err
	}
	if p.alertCounter, err = p.meter.Int64Counter("credledger.fraud.alerts",
		metric.WithDescription("Fraud alerts raised by analysis"),
		metric.WithUnit("{alert}"),
	); err != nil {
		return err
	}
	if p.integrityCounter, err = p.meter.Int64Counter("credledger.integrity.failures",
		metric.WithDescription("Mismatches found by chain verification"),
		metric.WithUnit("{mismatch}"),
	); err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

func (p *Provider) Tracer() trace.Tracer { return p.tracer }

func (p *Provider) Meter() metric.Meter { return p.meter }

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, opts...)
}

// RecordAppend counts one durable ledger append.
func (p *Provider) RecordAppend(ctx context.Context, action string) {
	p.appendCounter.Add(ctx, 1, metric.WithAttributes(AttrAction.String(action)))
}

// RecordAlert counts one fraud alert.
func (p *Provider) RecordAlert(ctx context.Context, kind, severity string) {
	p.alertCounter.Add(ctx, 1, metric.WithAttributes(AttrAlertKind.String(kind), AttrAlertSeverity.String(severity)))
}

// RecordIntegrityFailures counts mismatches found by a verification run.
func (p *Provider) RecordIntegrityFailures(ctx context.Context, n int) {
	if n > 0 {
		p.integrityCounter.Add(ctx, int64(n))
	}
}

// TrackOperation starts a span and returns the function that ends it,
// recording duration and any error.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	opAttrs := append([]attribute.KeyValue{AttrOperation.String(name)}, attrs...)
	p.requestCounter.Add(ctx, 1, metric.WithAttributes(opAttrs...))

	return ctx, func(err error) {
		p.durationHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(opAttrs...))
		if err != nil {
			span.RecordError(err)
			SetSpanStatus(ctx, err)
			errAttrs := append(opAttrs, attribute.String("error.type", fmt.Sprintf("%T", err)))
			p.errorCounter.Add(ctx, 1, metric.WithAttributes(errAttrs...))
		}
		span.End()
	}
}
