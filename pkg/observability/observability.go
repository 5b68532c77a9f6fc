// Package observability wires OpenTelemetry tracing and metrics for the
// workflow engine: OTLP gRPC export, plus RED instruments over agent
// runs, phase executions and lock evaluations. slog stays the log sink.
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

const instrumentationName = "defensor.engine"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // gRPC, e.g. "localhost:4317"
	SampleRate     float64 // 0.0 to 1.0
	Enabled        bool
	Insecure       bool
}

// DefaultConfig samples everything against a local collector.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "defensor-engine",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		Enabled:        true,
		Insecure:       true,
	}
}

// Provider owns the trace and metric providers and the engine's
// instruments. A nil or disabled provider records nothing but stays
// safe to call, so instrumented code paths need no guards.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	logger         *slog.Logger

	agentRuns       metric.Int64Counter
	agentErrors     metric.Int64Counter
	agentDuration   metric.Float64Histogram
	phaseRuns       metric.Int64Counter
	lockEvaluations metric.Int64Counter
	lockHolds       metric.Int64Counter
}

// New builds the provider and registers it globally.
func New(ctx context.Context, config *Config, logger *slog.Logger) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{config: config, logger: logger}
	if !config.Enabled {
		logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	if err := p.initTraces(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMetrics(ctx, res); err != nil {
		return nil, err
	}

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion))
	if err := p.initInstruments(); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "observability initialized",
		slog.String("service", config.ServiceName),
		slog.String("endpoint", config.OTLPEndpoint),
		slog.Float64("sample_rate", config.SampleRate))
	return p, nil
}

func (p *Provider) initTraces(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: trace exporter: %w", err)
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
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	meter := otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(p.config.ServiceVersion))
	var err error

	if p.agentRuns, err = meter.Int64Counter("defensor.agent.runs",
		metric.WithDescription("Agent deliberations executed"),
		metric.WithUnit("{run}")); err != nil {
		return err
	}
	if p.agentErrors, err = meter.Int64Counter("defensor.agent.errors",
		metric.WithDescription("Agent runs that failed"),
		metric.WithUnit("{error}")); err != nil {
		return err
	}
	if p.agentDuration, err = meter.Float64Histogram("defensor.agent.duration",
		metric.WithDescription("Agent run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 20, 30, 60, 120)); err != nil {
		return err
	}
	if p.phaseRuns, err = meter.Int64Counter("defensor.phase.runs",
		metric.WithDescription("Phase executions"),
		metric.WithUnit("{run}")); err != nil {
		return err
	}
	if p.lockEvaluations, err = meter.Int64Counter("defensor.lock.evaluations",
		metric.WithDescription("Hard-lock predicate evaluations"),
		metric.WithUnit("{evaluation}")); err != nil {
		return err
	}
	if p.lockHolds, err = meter.Int64Counter("defensor.lock.holds",
		metric.WithDescription("Lock evaluations that refused an advance"),
		metric.WithUnit("{hold}")); err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", slog.Any("error", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "meter provider shutdown failed", slog.Any("error", err))
		}
	}
	return nil
}

// Tracer returns the engine tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// RecordAgentRun records one finished agent run.
func (p *Provider) RecordAgentRun(ctx context.Context, agentID, phase string, elapsed time.Duration, err error) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("phase", phase),
	)
	if p.agentRuns != nil {
		p.agentRuns.Add(ctx, 1, attrs)
	}
	if p.agentDuration != nil {
		p.agentDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if err != nil && p.agentErrors != nil {
		p.agentErrors.Add(ctx, 1, attrs)
	}
}

// RecordPhaseRun records one phase execution and its aggregate outcome.
func (p *Provider) RecordPhaseRun(ctx context.Context, phase, aggregate string, incomplete bool) {
	if p == nil || p.phaseRuns == nil {
		return
	}
	p.phaseRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("aggregate", aggregate),
		attribute.Bool("incomplete", incomplete),
	))
}

// RecordLockEvaluation records one hard-lock evaluation.
func (p *Provider) RecordLockEvaluation(ctx context.Context, phase string, released bool) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("phase", phase))
	if p.lockEvaluations != nil {
		p.lockEvaluations.Add(ctx, 1, attrs)
	}
	if !released && p.lockHolds != nil {
		p.lockHolds.Add(ctx, 1, attrs)
	}
}
