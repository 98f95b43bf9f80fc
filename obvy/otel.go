package obvy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Tracing backends
const (
	TraceNone      = "none"
	TraceHoneycomb = "honeycomb"
	TraceOTLP      = "otlp"
)

// InitOTelHNY uses the Honeycomb library to interface with OTel
func InitOTelHNY() (func(), error) {
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		return nil, fmt.Errorf("failed to configure OpenTelemetry: %w", err)
	}
	return func() { otelShutdown() }, nil
}

// InitOTelGRF uses the Grafana recommended configuration including Baggage for propagation
func InitOTelGRF(ctx context.Context) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient())
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}

// InitTracing configures the named backend and returns its shutdown.
// Endpoints and headers come from the standard OTEL_* environment.
// With TraceNone spans go to the global no-op provider.
func InitTracing(ctx context.Context, backend string) (func(context.Context) error, error) {
	switch backend {
	case "", TraceNone:
		return func(context.Context) error { return nil }, nil
	case TraceHoneycomb:
		shutdown, err := InitOTelHNY()
		if err != nil {
			return nil, err
		}
		return func(context.Context) error { shutdown(); return nil }, nil
	case TraceOTLP:
		tp, err := InitOTelGRF(ctx)
		if err != nil {
			return nil, err
		}
		return tp.Shutdown, nil
	}
	slog.Error("Unknown tracing backend", slog.String("backend", backend))
	return nil, fmt.Errorf("unknown tracing backend: %s", backend)
}
