// Package telemetry configures the OpenTelemetry providers.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown flushes and stops a provider.
type Shutdown func(context.Context) error

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

// SetupTracing installs a global tracer provider that writes finished
// spans to w as JSON.
func SetupTracing(serviceName string, w io.Writer) (Shutdown, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize stdouttrace exporter: %w", err)
	}
	res, err := newResource(serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// SetupMetrics installs a global meter provider whose instruments are
// exported through reg.
func SetupMetrics(serviceName string, reg promclient.Registerer) (*metric.MeterProvider, error) {
	exp, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prometheus exporter: %w", err)
	}
	res, err := newResource(serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to build metric resource: %w", err)
	}

	mp := metric.NewMeterProvider(metric.WithReader(exp), metric.WithResource(res))
	otel.SetMeterProvider(mp)
	return mp, nil
}

// Join combines shutdown funcs, running each even when an earlier one fails.
func Join(fns ...Shutdown) Shutdown {
	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}
}
