// Package telemetry sets up OpenTelemetry tracing and metrics for the gateway.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Options configures the tracer and meter providers.
type Options struct {
	// Enabled installs SDK providers exporting to Writer. When false the
	// global providers are no-ops.
	Enabled bool

	// ServiceName defaults to "pharmagate".
	ServiceName    string
	ServiceVersion string

	// Writer receives exported spans and metrics as JSON. Defaults to stdout.
	Writer io.Writer
	// MetricInterval is the metric export period. Defaults to one minute.
	MetricInterval time.Duration

	Logger *slog.Logger
}

// ShutdownFunc flushes pending spans and metrics and stops the providers.
type ShutdownFunc func(ctx context.Context) error

// Init installs the global tracer provider, meter provider and propagator.
func Init(opts Options) (trace.TracerProvider, ShutdownFunc, error) {
	if !opts.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return tp, func(context.Context) error { return nil }, nil
	}

	if opts.ServiceName == "" {
		opts.ServiceName = "pharmagate"
	}
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	if opts.MetricInterval <= 0 {
		opts.MetricInterval = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build trace resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(opts.Writer))
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(opts.Writer))
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(opts.MetricInterval))),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Warn("opentelemetry error", "error", err)
	}))

	logger.Info("telemetry enabled", "service", opts.ServiceName, "exporter", "stdout")

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return tp, shutdown, nil
}
