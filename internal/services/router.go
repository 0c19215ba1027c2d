package services

import (
	"net/http"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/hookdeck/mqbridge/internal/logging"
	"github.com/hookdeck/mqbridge/internal/worker"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

type RouterConfig struct {
	ServiceName   string
	GinMode       string
	SentryEnabled bool
}

// HealthHandler creates a health check handler that reports worker supervisor health
func HealthHandler(supervisor *worker.WorkerSupervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		tracker := supervisor.GetHealthTracker()
		status := tracker.GetStatus()
		if tracker.IsHealthy() {
			c.JSON(http.StatusOK, status)
		} else {
			c.JSON(http.StatusServiceUnavailable, status)
		}
	}
}

// WorkersHandler reports the lifecycle state of every worker.
func WorkersHandler(supervisor *worker.WorkerSupervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"workers": supervisor.States()})
	}
}

// NewRouter creates the router served by the HTTP worker.
//
// Health is exposed at both /healthz and /api/v1/healthz.
func NewRouter(cfg RouterConfig, supervisor *worker.WorkerSupervisor, logger *logging.Logger) *gin.Engine {
	// Only set mode from config if we're not in test mode
	if gin.Mode() != gin.TestMode {
		gin.SetMode(cfg.GinMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.SentryEnabled {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(LoggerMiddleware(logger))

	healthHandler := HealthHandler(supervisor)
	r.GET("/healthz", healthHandler)

	apiRouter := r.Group("/api/v1")
	apiRouter.GET("/healthz", healthHandler)
	apiRouter.GET("/workers", WorkersHandler(supervisor))

	return r
}

// LoggerMiddleware logs every request. Successful probes are logged at debug
// level so they do not flood the output.
func LoggerMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := logger.Ctx(c.Request.Context())
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("path", path),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}

		switch {
		case len(c.Errors) > 0:
			logger.Error("request failed", append(fields, zap.Strings("errors", c.Errors.Errors()))...)
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Warn("request completed", fields...)
		default:
			logger.Debug("request completed", fields...)
		}
	}
}
