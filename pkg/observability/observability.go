// Package observability provides OpenTelemetry-based tracing and metrics
// for the decision core.
//
// This package implements:
// - Distributed tracing with OTLP export
// - The decision metrics surface (counters + histograms)
// - Semantic conventions per OpenTelemetry specification
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

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317" for gRPC
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "vorion-core",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages trace and metric providers plus the decision metric set.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	decisionsTotal      metric.Int64Counter
	decisionDuration    metric.Float64Histogram
	constraintEvals     metric.Int64Counter
	cacheHits           metric.Int64Counter
	cacheMisses         metric.Int64Counter
	cacheSize           metric.Int64UpDownCounter
	escalationsTotal    metric.Int64Counter
	activeEscalations   metric.Int64UpDownCounter
	auditDropped        metric.Int64Counter
	rateLimitRejections metric.Int64Counter
}

// New creates a new observability provider.
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
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("vorion.component", "core"),
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

	p.tracer = otel.Tracer("vorion.core",
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter("vorion.core",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initDecisionMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init decision metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
	)
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
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
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
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initDecisionMetrics() error {
	var err error

	p.decisionsTotal, err = p.meter.Int64Counter("vorion.decisions.total",
		metric.WithDescription("Total decisions emitted"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return err
	}
	p.decisionDuration, err = p.meter.Float64Histogram("vorion.decision.duration",
		metric.WithDescription("Decision latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	if err != nil {
		return err
	}
	p.constraintEvals, err = p.meter.Int64Counter("vorion.constraint.evaluations.total",
		metric.WithDescription("Constraint evaluations by type and outcome"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return err
	}
	p.cacheHits, err = p.meter.Int64Counter("vorion.cache.hits.total",
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}
	p.cacheMisses, err = p.meter.Int64Counter("vorion.cache.misses.total",
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return err
	}
	p.cacheSize, err = p.meter.Int64UpDownCounter("vorion.cache.size",
		metric.WithDescription("Local cache entries per tenant"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}
	p.escalationsTotal, err = p.meter.Int64Counter("vorion.escalations.total",
		metric.WithUnit("{escalation}"),
	)
	if err != nil {
		return err
	}
	p.activeEscalations, err = p.meter.Int64UpDownCounter("vorion.escalations.active",
		metric.WithUnit("{escalation}"),
	)
	if err != nil {
		return err
	}
	p.auditDropped, err = p.meter.Int64Counter("vorion.audit.dropped.total",
		metric.WithDescription("Audit records dropped due to buffer overflow"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return err
	}
	p.rateLimitRejections, err = p.meter.Int64Counter("vorion.ratelimit.rejections.total",
		metric.WithUnit("{rejection}"),
	)
	return err
}

// Shutdown gracefully shuts down the providers.
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

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("vorion.core")
	}
	return p.tracer
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordDecision records a decision with its action, cache disposition, and latency.
func (p *Provider) RecordDecision(ctx context.Context, tenant, action string, cached bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("action", action),
		attribute.Bool("cached", cached),
	)
	if p.decisionsTotal != nil {
		p.decisionsTotal.Add(ctx, 1, attrs)
	}
	if p.decisionDuration != nil {
		p.decisionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("tenant", tenant),
			attribute.String("action", action),
		))
	}
}

// RecordConstraint records one constraint evaluation.
func (p *Provider) RecordConstraint(ctx context.Context, tenant, kind string, passed bool) {
	if p.constraintEvals != nil {
		p.constraintEvals.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tenant", tenant),
			attribute.String("type", kind),
			attribute.Bool("passed", passed),
		))
	}
}

// RecordCacheHit increments the hit counter for a tenant.
func (p *Provider) RecordCacheHit(ctx context.Context, tenant string) {
	if p.cacheHits != nil {
		p.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", tenant)))
	}
}

// RecordCacheMiss increments the miss counter for a tenant.
func (p *Provider) RecordCacheMiss(ctx context.Context, tenant string) {
	if p.cacheMisses != nil {
		p.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", tenant)))
	}
}

// AddCacheSize adjusts the per-tenant cache size gauge.
func (p *Provider) AddCacheSize(ctx context.Context, tenant string, delta int64) {
	if p.cacheSize != nil {
		p.cacheSize.Add(ctx, delta, metric.WithAttributes(attribute.String("tenant", tenant)))
	}
}

// RecordEscalation records an escalation firing and bumps the active gauge.
func (p *Provider) RecordEscalation(ctx context.Context, tenant, rule string, priority int) {
	attrs := metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("rule", rule),
		attribute.Int("priority", priority),
	)
	if p.escalationsTotal != nil {
		p.escalationsTotal.Add(ctx, 1, attrs)
	}
	if p.activeEscalations != nil {
		p.activeEscalations.Add(ctx, 1, attrs)
	}
}

// ResolveEscalation decrements the active escalation gauge.
func (p *Provider) ResolveEscalation(ctx context.Context, tenant, rule string, priority int) {
	if p.activeEscalations != nil {
		p.activeEscalations.Add(ctx, -1, metric.WithAttributes(
			attribute.String("tenant", tenant),
			attribute.String("rule", rule),
			attribute.Int("priority", priority),
		))
	}
}

// RecordAuditDropped counts records dropped at the buffer ceiling.
func (p *Provider) RecordAuditDropped(ctx context.Context, n int64) {
	if p.auditDropped != nil {
		p.auditDropped.Add(ctx, n)
	}
}

// RecordRateLimitRejection counts a rate-limit denial.
func (p *Provider) RecordRateLimitRejection(ctx context.Context, tenant string) {
	if p.rateLimitRejections != nil {
		p.rateLimitRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", tenant)))
	}
}
