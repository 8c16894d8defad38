package module

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/modular"

	"github.com/GoCodeAlone/mindcare/observability/tracing"
)

// OTelTracing installs the global OpenTelemetry tracer provider on Start and
// flushes it on Stop. Tracers created before Start pick up the provider
// through the otel global delegate.
type OTelTracing struct {
	name     string
	cfg      tracing.Config
	provider *tracing.Provider
	logger   modular.Logger
}

// NewOTelTracing creates a new OpenTelemetry tracing module.
func NewOTelTracing(name string, cfg tracing.Config) *OTelTracing {
	return &OTelTracing{
		name:   name,
		cfg:    cfg,
		logger: &noopLogger{},
	}
}

// Name returns the module name.
func (o *OTelTracing) Name() string {
	return o.name
}

// Init initializes the module with the application context.
func (o *OTelTracing) Init(app modular.Application) error {
	o.logger = app.Logger()
	return nil
}

// Start initializes the OTLP exporter and TracerProvider.
func (o *OTelTracing) Start(ctx context.Context) error {
	p, err := tracing.NewProvider(ctx, o.cfg)
	if err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}
	o.provider = p
	o.logger.Info("OpenTelemetry tracing started",
		"endpoint", o.cfg.Endpoint, "version", o.cfg.Version, "environment", o.cfg.Environment)
	return nil
}

// Stop shuts down the TracerProvider gracefully.
func (o *OTelTracing) Stop(ctx context.Context) error {
	if o.provider == nil {
		return nil
	}
	if err := o.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	o.logger.Info("OpenTelemetry tracing stopped")
	return nil
}
