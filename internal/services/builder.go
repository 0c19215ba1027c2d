package services

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hookdeck/mqbridge/internal/backoff"
	"github.com/hookdeck/mqbridge/internal/config"
	"github.com/hookdeck/mqbridge/internal/logging"
	"github.com/hookdeck/mqbridge/internal/worker"
	"go.uber.org/zap"
)

const maxRestartDelay = 30 * time.Second

// ServiceBuilder constructs workers based on service configuration.
type ServiceBuilder struct {
	ctx        context.Context
	cfg        *config.Config
	logger     *logging.Logger
	metrics    BridgeMetrics
	supervisor *worker.WorkerSupervisor

	// Track service instances for cleanup
	services []*serviceInstance
}

// serviceInstance represents a single service with its cleanup functions
type serviceInstance struct {
	name         string
	cleanupFuncs []func(context.Context, *logging.LoggerWithCtx)
}

// NewServiceBuilder creates a new ServiceBuilder.
func NewServiceBuilder(ctx context.Context, cfg *config.Config, logger *logging.Logger, metrics BridgeMetrics) *ServiceBuilder {
	if metrics == nil {
		metrics = noopBridgeMetrics{}
	}

	restartBackoff := &backoff.CappedBackoff{
		Backoff: &backoff.ExponentialBackoff{Interval: cfg.RestartInterval(), Base: 2},
		Max:     maxRestartDelay,
	}

	return &ServiceBuilder{
		ctx:     ctx,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		supervisor: worker.NewWorkerSupervisor(logger,
			worker.WithShutdownTimeout(cfg.ShutdownTimeout()),
			worker.WithRestart(cfg.RestartLimit, restartBackoff),
			worker.WithRestartHook(func(name string) {
				metrics.Restarted(ctx, name)
			}),
		),
		services: []*serviceInstance{},
	}
}

// BuildBridgeWorkers registers one worker per configured bridge.
func (b *ServiceBuilder) BuildBridgeWorkers() error {
	b.logger.Debug("building bridge workers", zap.Int("count", len(b.cfg.Bridges)))

	svc := &serviceInstance{
		name:         "bridges",
		cleanupFuncs: []func(context.Context, *logging.LoggerWithCtx){},
	}
	b.services = append(b.services, svc)

	for i := range b.cfg.Bridges {
		bridgeCfg := b.cfg.Bridges[i]
		w, err := NewBridgeWorker(bridgeCfg, bridgeCfg.SocketSettings(b.cfg.Settings), b.logger, b.metrics,
			worker.WithPanicHandler(b.panicHandler()))
		if err != nil {
			b.logger.Error("bridge worker creation failed", zap.String("bridge", bridgeCfg.Name), zap.Error(err))
			return err
		}
		b.supervisor.Register(w)
		svc.cleanupFuncs = append(svc.cleanupFuncs, stopWorker(w))
	}

	b.logger.Info("bridge workers built successfully", zap.Int("count", len(b.cfg.Bridges)))
	return nil
}

// BuildHTTPWorker registers the health server. It is skipped when no port
// is configured.
func (b *ServiceBuilder) BuildHTTPWorker() error {
	if b.cfg.HealthPort == 0 {
		b.logger.Debug("health port not configured, skipping http server")
		return nil
	}

	svc := &serviceInstance{
		name:         "http",
		cleanupFuncs: []func(context.Context, *logging.LoggerWithCtx){},
	}
	b.services = append(b.services, svc)

	serviceName := ""
	if otelCfg := b.cfg.OpenTelemetry.ToOTELConfig(); otelCfg != nil {
		serviceName = otelCfg.ServiceName
	}
	router := NewRouter(RouterConfig{
		ServiceName:   serviceName,
		GinMode:       b.cfg.GinMode,
		SentryEnabled: b.cfg.SentryDSN != "",
	}, b.supervisor, b.logger)

	w := NewHTTPServerWorker(fmt.Sprintf(":%d", b.cfg.HealthPort), router, b.logger,
		worker.WithPanicHandler(b.panicHandler()))
	b.supervisor.Register(w)
	svc.cleanupFuncs = append(svc.cleanupFuncs, stopWorker(w))

	return nil
}

// Build returns the configured WorkerSupervisor.
func (b *ServiceBuilder) Build() (*worker.WorkerSupervisor, error) {
	return b.supervisor, nil
}

// Cleanup runs all registered cleanup functions for all services.
func (b *ServiceBuilder) Cleanup(ctx context.Context) {
	logger := b.logger.Ctx(ctx)
	for _, svc := range b.services {
		logger.Debug("cleaning up service", zap.String("service", svc.name))
		for _, cleanupFunc := range svc.cleanupFuncs {
			cleanupFunc(ctx, &logger)
		}
	}
}

// stopWorker makes sure a worker left running by a timed out shutdown is
// stopped, giving up when ctx is done.
func stopWorker(w *worker.Worker) func(context.Context, *logging.LoggerWithCtx) {
	return func(ctx context.Context, logger *logging.LoggerWithCtx) {
		if w.State() == worker.StateStopped {
			return
		}

		done := make(chan bool, 1)
		go func() {
			done <- w.Stop()
		}()

		select {
		case clean := <-done:
			logger.Info("worker stopped during cleanup", zap.String("worker", w.Name()), zap.Bool("clean", clean))
		case <-ctx.Done():
			logger.Warn("worker did not stop before cleanup deadline", zap.String("worker", w.Name()))
		}
	}
}

// panicHandler reports a recovered routine panic to Sentry, which is a
// no-op when Sentry is not initialized. The worker logs it already.
func (b *ServiceBuilder) panicHandler() worker.PanicHandler {
	return func(name string, recovered any) {
		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetTag("worker", name)
		hub.Recover(recovered)
	}
}
