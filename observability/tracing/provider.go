package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceName is reported as service.name on every exported span.
const ServiceName = "mindcare"

// Config describes how the mindcare service exports its traces.
type Config struct {
	// Endpoint is the OTLP HTTP collector address, e.g. "collector:4318".
	Endpoint string
	Insecure bool
	// SampleRate is the ratio of new root traces kept. Zero or anything at
	// or above one keeps all of them. Incoming sampled parents are honoured.
	SampleRate float64
	// Version is the build version of the binary.
	Version string
	// Environment is reported as deployment.environment, e.g. "production".
	Environment string
}

// Provider owns the global tracer provider for the lifetime of the process.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider exports spans in batches to cfg.Endpoint and installs the
// provider and a W3C trace-context propagator globally.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}
	return newProvider(ctx, cfg, sdktrace.WithBatcher(exporter))
}

func newProvider(ctx context.Context, cfg Config, export sdktrace.TracerProviderOption) (*Provider, error) {
	res, err := serviceResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		export,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp}, nil
}

func serviceResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(ServiceName)),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	}
	if cfg.Version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.Version)))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.DeploymentEnvironment(cfg.Environment)))
	}
	return resource.New(ctx, attrs...)
}

func sampler(rate float64) sdktrace.Sampler {
	if rate <= 0 || rate >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// TracerProvider returns the underlying SDK provider.
func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	return p.tp
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
