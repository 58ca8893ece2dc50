// Package telemetry initializes OpenTelemetry tracing and metrics
// exporters and carries the compile-stage instruments.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Shutdown combines multiple shutdown functions.
type Shutdown func(ctx context.Context) error

// Init configures the global OpenTelemetry tracer and meter providers.
// If endpoint is empty, OTEL is disabled and no-op providers are used.
// Returns a shutdown function that must be called when the engine closes.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(ctx context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	// Trace exporter.
	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
	}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp,
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// W3C trace context propagation, so compile spans join the caller's
	// trace when the engine is embedded in an instrumented service.
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	// Metric exporter.
	metricOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(endpoint),
	}
	if insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(15*time.Second),
			),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		var firstErr error
		if err := tp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	return shutdown, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// Tracer returns the global tracer for the given instrumentation scope.
func Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

// CompileMetrics holds the instruments recorded per compile run. With OTEL
// disabled these are no-op instruments and recording costs nothing.
type CompileMetrics struct {
	Compiles metric.Int64Counter
	Failures metric.Int64Counter
	Elements metric.Int64Counter
	Warnings metric.Int64Counter
	Duration metric.Float64Histogram
}

// NewCompileMetrics creates the compile instruments under the given
// instrumentation scope.
func NewCompileMetrics(scope string) (*CompileMetrics, error) {
	meter := Meter(scope)

	compiles, err := meter.Int64Counter("hibiki.compiles",
		metric.WithDescription("Completed sequence compilations"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create compiles counter: %w", err)
	}
	failures, err := meter.Int64Counter("hibiki.compile.failures",
		metric.WithDescription("Failed sequence compilations"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create failures counter: %w", err)
	}
	elements, err := meter.Int64Counter("hibiki.compile.elements",
		metric.WithDescription("Stimulus elements rendered"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create elements counter: %w", err)
	}
	warnings, err := meter.Int64Counter("hibiki.compile.warnings",
		metric.WithDescription("Non-fatal compile warnings"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create warnings counter: %w", err)
	}
	duration, err := meter.Float64Histogram("hibiki.compile.duration",
		metric.WithDescription("Wall time per compile"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create duration histogram: %w", err)
	}

	return &CompileMetrics{
		Compiles: compiles,
		Failures: failures,
		Elements: elements,
		Warnings: warnings,
		Duration: duration,
	}, nil
}
