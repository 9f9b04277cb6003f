// Package instrumentation provides OpenTelemetry metrics and tracing for
// the authorization server. When disabled it wires no-op providers, so
// instrumented code paths carry no overhead and need no nil checks.
package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// scopePrefix namespaces meter and tracer scopes.
const scopePrefix = "github.com/grantflow/oauth-server/"

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName identifies the service in telemetry. Defaults to
	// "oauth-server".
	ServiceName string

	// ServiceVersion is the service version attribute. Defaults to
	// "unknown".
	ServiceVersion string

	// Enabled controls whether instrumentation is active. When false,
	// no-op providers are used.
	Enabled bool

	// MeterProvider and TracerProvider override the providers, letting
	// the host plug in its configured SDK exporters. Nil selects no-op
	// providers.
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider

	// Resource allows custom resource attributes. If nil, a default
	// resource with service name and version is created.
	Resource *resource.Resource
}

// Instrumentation bundles the telemetry providers and the pre-created
// metric instruments.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates an instrumentation instance.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = "oauth-server"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:         config,
		resource:       res,
		meterProvider:  noop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	if config.Enabled {
		if config.MeterProvider != nil {
			inst.meterProvider = config.MeterProvider
		}
		if config.TracerProvider != nil {
			inst.tracerProvider = config.TracerProvider
		}
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	return inst, nil
}

// Shutdown runs all registered shutdown functions once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})
	return shutdownErr
}

// Meter returns a named meter for the given scope ("http", "server",
// "storage").
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the instrument holder for recording values.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// MeterProvider returns the underlying meter provider.
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// TracerProvider returns the underlying tracer provider.
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}
