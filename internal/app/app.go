package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hookdeck/mqbridge/internal/config"
	"github.com/hookdeck/mqbridge/internal/idgen"
	"github.com/hookdeck/mqbridge/internal/logging"
	"github.com/hookdeck/mqbridge/internal/otel"
	"github.com/hookdeck/mqbridge/internal/services"
	"github.com/hookdeck/mqbridge/internal/version"
	"go.uber.org/zap"
)

const (
	cleanupTimeout = 10 * time.Second
	sentryFlush    = 2 * time.Second
)

type App struct {
	config   *config.Config
	logger   *logging.Logger
	teardown []func(context.Context) error
}

func New(cfg *config.Config) *App {
	return &App{config: cfg}
}

// Run starts every configured bridge and blocks until ctx is cancelled,
// SIGINT or SIGTERM arrives, or the supervisor gives up on all workers.
func (a *App) Run(ctx context.Context) (err error) {
	logger, err := logging.NewLogger(
		logging.WithLogLevel(a.config.LogLevel),
		logging.WithLogFormat(a.config.LogFormat),
	)
	if err != nil {
		return err
	}
	defer logger.Sync()
	a.logger = logger

	defer func() {
		for i := len(a.teardown) - 1; i >= 0; i-- {
			err = errors.Join(err, a.teardown[i](context.Background()))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.setup(ctx); err != nil {
		return err
	}
	return a.supervise(ctx)
}

// setup prepares the process wide state: ID generators, error reporting and
// telemetry.
func (a *App) setup(ctx context.Context) error {
	cfg := a.config
	a.logger.Info("starting mqbridge",
		zap.String("version", version.Version()),
		zap.String("config_path", cfg.ConfigFilePath()),
		zap.Int("bridges", len(cfg.Bridges)))
	a.logger.Debug("configuration", cfg.LogConfigurationSummary()...)

	if err := idgen.Configure(cfg.IDTemplate.ToConfig()); err != nil {
		a.logger.Error("failed to configure ID generators",
			zap.String("socket_template", cfg.IDTemplate.Socket),
			zap.String("message_template", cfg.IDTemplate.Message),
			zap.Error(err))
		return err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.SentryDSN,
			Release: version.Version(),
		}); err != nil {
			a.logger.Error("sentry initialization failed", zap.Error(err))
			return err
		}
		a.teardown = append(a.teardown, func(context.Context) error {
			sentry.Flush(sentryFlush)
			return nil
		})
	}

	if otelConfig := cfg.OpenTelemetry.ToOTELConfig(); otelConfig != nil {
		shutdown, err := otel.SetupOTelSDK(ctx, otelConfig)
		if err != nil {
			a.logger.Error("opentelemetry setup failed", zap.Error(err))
			return err
		}
		a.teardown = append(a.teardown, shutdown)
	}
	return nil
}

// supervise builds the workers and runs them until shutdown.
func (a *App) supervise(ctx context.Context) error {
	// Instruments bind to the global meter provider, so they are created
	// after the SDK is set up.
	metrics, err := services.NewBridgeMetrics()
	if err != nil {
		a.logger.Error("failed to create bridge metrics", zap.Error(err))
		return err
	}

	builder := services.NewServiceBuilder(ctx, a.config, a.logger, metrics)
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		builder.Cleanup(cleanupCtx)
		a.logger.Info("mqbridge shutdown complete")
	}()

	if err := builder.BuildBridgeWorkers(); err != nil {
		return err
	}
	if err := builder.BuildHTTPWorker(); err != nil {
		return err
	}
	supervisor, err := builder.Build()
	if err != nil {
		a.logger.Error("failed to build workers", zap.Error(err))
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = supervisor.Run(sigCtx)
	if sigCtx.Err() != nil && ctx.Err() == nil {
		a.logger.Info("shutdown signal received")
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	a.logger.Error("workers exited", zap.Error(err))
	return err
}
