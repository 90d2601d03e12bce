// Package tracing wires OpenTelemetry span export for the relay,
// selecting an exporter per config.TracingConfig: one constructor, one
// shutdown func, no global state beyond the otel SDK's own.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/kenneth/secsend/internal/config"
)

// Shutdown flushes and stops the installed tracer provider. It is a
// no-op when tracing.Exporter was "none".
type Shutdown func(context.Context) error

// Setup installs a global TracerProvider per cfg.Exporter and returns
// its Shutdown func. Callers should defer shutdown(ctx) at process exit.
func Setup(ctx context.Context, cfg config.TracingConfig) (Shutdown, error) {
	if cfg.Exporter == config.TraceExporterNone || cfg.Exporter == "" {
		// otel's global tracer provider defaults to a no-op until
		// SetTracerProvider is called, so there is nothing to install.
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: build exporter %s: %w", cfg.Exporter, err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "secsend-relay"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case config.TraceExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case config.TraceExporterOTLP:
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	case config.TraceExporterJaeger:
		endpoint := cfg.JaegerEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:14268/api/traces"
		}
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}
}

// Tracer returns a named tracer off the global provider. The relay
// handlers and store operations do not start spans themselves.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
