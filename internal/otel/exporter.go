package otel

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

func newTraceProvider(ctx context.Context, c *OpenTelemetryTypeConfig, res *resource.Resource) (*trace.TracerProvider, error) {
	if c == nil {
		return nil, nil
	}

	var err error
	var traceExporter trace.SpanExporter
	switch {
	case c.Exporter == ExporterConsole:
		traceExporter, err = stdouttrace.New()
	case c.Protocol == ProtocolGRPC:
		traceExporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(c.Endpoint),
		)
	default:
		traceExporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithInsecure(),
			otlptracehttp.WithEndpointURL(ensureHTTPEndpoint("traces", c.Endpoint)),
		)
	}
	if err != nil {
		return nil, err
	}

	return trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(traceExporter, trace.WithBatchTimeout(time.Second)),
	), nil
}

func newMeterProvider(ctx context.Context, c *OpenTelemetryTypeConfig, res *resource.Resource) (*metric.MeterProvider, error) {
	if c == nil {
		return nil, nil
	}

	var err error
	var metricExporter metric.Exporter
	switch {
	case c.Exporter == ExporterConsole:
		metricExporter, err = stdoutmetric.New()
	case c.Protocol == ProtocolGRPC:
		metricExporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithEndpoint(c.Endpoint),
		)
	default:
		metricExporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithInsecure(),
			otlpmetrichttp.WithEndpointURL(ensureHTTPEndpoint("metrics", c.Endpoint)),
		)
	}
	if err != nil {
		return nil, err
	}

	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExporter,
			metric.WithInterval(15*time.Second))),
	), nil
}

func newLoggerProvider(ctx context.Context, c *OpenTelemetryTypeConfig, res *resource.Resource) (*log.LoggerProvider, error) {
	if c == nil {
		return nil, nil
	}

	var err error
	var logExporter log.Exporter
	switch {
	case c.Exporter == ExporterConsole:
		logExporter, err = stdoutlog.New()
	case c.Protocol == ProtocolGRPC:
		logExporter, err = otlploggrpc.New(ctx,
			otlploggrpc.WithInsecure(),
			otlploggrpc.WithEndpoint(c.Endpoint),
		)
	default:
		logExporter, err = otlploghttp.New(ctx,
			otlploghttp.WithInsecure(),
			otlploghttp.WithEndpointURL(ensureHTTPEndpoint("logs", c.Endpoint)),
		)
	}
	if err != nil {
		return nil, err
	}

	return log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(logExporter)),
	), nil
}

// ensureHTTPEndpoint turns host:port into the full URL of the signal's OTLP
// path.
func ensureHTTPEndpoint(exporterType string, endpoint string) string {
	fullEndpoint := endpoint
	if !strings.HasPrefix(endpoint, "http") {
		fullEndpoint = "http://" + endpoint
	}
	if !strings.HasSuffix(fullEndpoint, "/v1/"+exporterType) {
		fullEndpoint = strings.TrimSuffix(fullEndpoint, "/") + "/v1/" + exporterType
	}
	return fullEndpoint
}
