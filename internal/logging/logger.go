package logging

import (
	"fmt"
	"strings"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*otelzap.Logger
}

// LoggerWithCtx is a logger bound to a context, as returned by Ctx.
type LoggerWithCtx = otelzap.LoggerWithCtx

type LoggerOption struct {
	LogLevel  string
	LogFormat string
}

type Option func(o *LoggerOption)

func WithLogLevel(logLevel string) Option {
	return func(o *LoggerOption) {
		o.LogLevel = logLevel
	}
}

// WithLogFormat selects "json" (default) or "console" output.
func WithLogFormat(format string) Option {
	return func(o *LoggerOption) {
		o.LogFormat = format
	}
}

func NewLogger(opts ...Option) (*Logger, error) {
	option := &LoggerOption{}
	for _, opt := range opts {
		opt(option)
	}

	logger, err := makeLogger(option)
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger}, nil
}

// With returns a child logger that adds fields to every entry, e.g. the
// worker or socket it belongs to.
func (l *Logger) With(fields ...zap.Field) *Logger {
	base := l.Logger.Logger
	return &Logger{Logger: otelzap.New(base.With(fields...), otelzap.WithMinLevel(base.Level()))}
}

func ParseLevel(logLevel string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		return zap.DebugLevel, nil
	case "", "info":
		return zap.InfoLevel, nil
	case "warn", "warning":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	case "fatal":
		return zap.FatalLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("unknown log level %q", logLevel)
	}
}

func makeLogger(option *LoggerOption) (*otelzap.Logger, error) {
	level, err := ParseLevel(option.LogLevel)
	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	switch strings.ToLower(option.LogFormat) {
	case "", "json":
	case "console":
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", option.LogFormat)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return otelzap.New(zapLogger,
		otelzap.WithMinLevel(level),
	), nil
}
