package services

import (
	"context"

	"github.com/hookdeck/mqbridge/internal/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hookdeck/mqbridge/internal/services"

// BridgeMetrics records what flows through the bridges.
type BridgeMetrics interface {
	Forwarded(ctx context.Context, bridge string, dir worker.Direction)
	ForwardFailed(ctx context.Context, bridge string, dir worker.Direction)
	Restarted(ctx context.Context, name string)
}

type bridgeMetricsImpl struct {
	forwarded metric.Int64Counter
	failures  metric.Int64Counter
	restarts  metric.Int64Counter
}

var _ BridgeMetrics = &bridgeMetricsImpl{}

// NewBridgeMetrics registers the bridge instruments on the global meter
// provider, which is a no-op until the OpenTelemetry SDK is set up.
func NewBridgeMetrics() (BridgeMetrics, error) {
	return newBridgeMetrics(otel.GetMeterProvider().Meter(meterName))
}

func newBridgeMetrics(meter metric.Meter) (*bridgeMetricsImpl, error) {
	forwarded, err := meter.Int64Counter("mqbridge.messages.forwarded",
		metric.WithDescription("Messages forwarded between bridge sockets"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("mqbridge.forward.failures",
		metric.WithDescription("Forward attempts that failed to receive or send"),
		metric.WithUnit("{failure}"))
	if err != nil {
		return nil, err
	}

	restarts, err := meter.Int64Counter("mqbridge.bridge.restarts",
		metric.WithDescription("Worker restarts performed by the supervisor"),
		metric.WithUnit("{restart}"))
	if err != nil {
		return nil, err
	}

	return &bridgeMetricsImpl{
		forwarded: forwarded,
		failures:  failures,
		restarts:  restarts,
	}, nil
}

func (m *bridgeMetricsImpl) Forwarded(ctx context.Context, bridge string, dir worker.Direction) {
	m.forwarded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bridge", bridge),
		attribute.String("direction", string(dir)),
	))
}

func (m *bridgeMetricsImpl) ForwardFailed(ctx context.Context, bridge string, dir worker.Direction) {
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bridge", bridge),
		attribute.String("direction", string(dir)),
	))
}

func (m *bridgeMetricsImpl) Restarted(ctx context.Context, name string) {
	m.restarts.Add(ctx, 1, metric.WithAttributes(attribute.String("worker", name)))
}

type noopBridgeMetrics struct{}

func (noopBridgeMetrics) Forwarded(context.Context, string, worker.Direction)     {}
func (noopBridgeMetrics) ForwardFailed(context.Context, string, worker.Direction) {}
func (noopBridgeMetrics) Restarted(context.Context, string)                       {}
