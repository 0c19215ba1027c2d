package otel

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ExporterOTLP    = "otlp"
	ExporterConsole = "console"

	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

type OpenTelemetryTypeConfig struct {
	Exporter string
	Protocol string
	Endpoint string
}

// OpenTelemetryConfig enables a signal by setting its type config.
type OpenTelemetryConfig struct {
	ServiceName string
	Traces      *OpenTelemetryTypeConfig
	Metrics     *OpenTelemetryTypeConfig
	Logs        *OpenTelemetryTypeConfig
}

// SetupOTelSDK installs the global providers for every configured signal.
// The returned shutdown flushes and stops them.
func SetupOTelSDK(ctx context.Context, cfg *OpenTelemetryConfig) (shutdown func(context.Context) error, err error) {
	var shutdownFuncs []func(context.Context) error

	shutdown = func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	handleErr := func(inErr error) {
		err = errors.Join(inErr, shutdown(ctx))
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracerProvider, err := newTraceProvider(ctx, cfg.Traces, res)
	if err != nil {
		handleErr(err)
		return
	}
	if tracerProvider != nil {
		shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
		otel.SetTracerProvider(tracerProvider)
	}

	meterProvider, err := newMeterProvider(ctx, cfg.Metrics, res)
	if err != nil {
		handleErr(err)
		return
	}
	if meterProvider != nil {
		shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)
		otel.SetMeterProvider(meterProvider)
	}

	loggerProvider, err := newLoggerProvider(ctx, cfg.Logs, res)
	if err != nil {
		handleErr(err)
		return
	}
	if loggerProvider != nil {
		shutdownFuncs = append(shutdownFuncs, loggerProvider.Shutdown)
		global.SetLoggerProvider(loggerProvider)
	}

	return shutdown, nil
}
