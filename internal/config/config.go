package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/hookdeck/mqbridge/internal/mqs"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const Namespace = "MQBridge"

// searchPaths are tried in order when neither --config nor $CONFIG is set.
var searchPaths = []string{
	".env",
	".mqbridge.yaml",
	"config/mqbridge.yaml",
	"config/mqbridge/config.yaml",
	"config/mqbridge/.env",
	"/config/mqbridge.yaml",
	"/config/mqbridge/config.yaml",
	"/config/mqbridge/.env",
}

type Config struct {
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" validate:"oneof=json console"`

	// HTTP
	GinMode    string `yaml:"gin_mode" env:"GIN_MODE" validate:"oneof=debug release test"`
	HealthPort int    `yaml:"health_port" env:"HEALTH_PORT" validate:"gte=0,lte=65535"`

	// Supervisor
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds" env:"SHUTDOWN_TIMEOUT_SECONDS" validate:"gte=0"`
	RestartLimit           int `yaml:"restart_limit" env:"RESTART_LIMIT" validate:"gte=0"`
	RestartIntervalSeconds int `yaml:"restart_interval_seconds" env:"RESTART_INTERVAL_SECONDS" validate:"gte=0"`

	IDTemplate IDTemplateConfig `yaml:"id_template"`

	// Observability
	SentryDSN     string              `yaml:"sentry_dsn" env:"SENTRY_DSN"`
	OpenTelemetry OpenTelemetryConfig `yaml:"open_telemetry"`

	// Sockets
	Settings mqs.Settings   `yaml:"settings"`
	Bridges  []BridgeConfig `yaml:"bridges" validate:"required,min=1,dive"`

	configPath string
	validated  bool
}

var (
	ErrConflictingConfigPaths = errors.New("conflicting config paths")
)

func (c *Config) initDefaults() {
	c.LogLevel = "info"
	c.LogFormat = "json"
	c.GinMode = "release"
	c.HealthPort = 8080
	c.ShutdownTimeoutSeconds = 30
	c.RestartLimit = 5
	c.RestartIntervalSeconds = 1
	c.Settings = mqs.DefaultSettings()
}

// locateConfigFile resolves the config file from the flag, $CONFIG and the
// search paths. An empty result means no file is used.
func locateConfigFile(flagPath string, osi OSInterface) (string, error) {
	envPath := osi.Getenv("CONFIG")
	switch {
	case flagPath != "" && envPath != "" && flagPath != envPath:
		return "", fmt.Errorf("%w: flag=%s env=%s", ErrConflictingConfigPaths, flagPath, envPath)
	case envPath != "":
		return envPath, nil
	case flagPath != "":
		return flagPath, nil
	}
	for _, loc := range searchPaths {
		if _, err := osi.Stat(loc); err == nil {
			return loc, nil
		}
	}
	return "", nil
}

// loadFile decodes path over c. Files ending in .env are read as dotenv,
// anything else as YAML.
func (c *Config) loadFile(path string, osi OSInterface) error {
	data, err := osi.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	c.configPath = path

	if !strings.EqualFold(filepath.Ext(path), ".env") {
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("error parsing yaml config: %w", err)
		}
		return nil
	}

	values, err := godotenv.Unmarshal(string(data))
	if err != nil {
		return fmt.Errorf("error loading .env file: %w", err)
	}
	if err := env.ParseWithOptions(c, env.Options{Environment: values}); err != nil {
		return fmt.Errorf("error parsing .env file: %w", err)
	}
	return nil
}

// Flags are the command line values that take part in configuration.
type Flags struct {
	Config   string
	LogLevel string
}

func Parse(flags Flags) (*Config, error) {
	return ParseWithOS(flags, defaultOS)
}

// ParseWithOS layers defaults, the config file, the environment and flags,
// in that order, then validates the result.
func ParseWithOS(flags Flags, osi OSInterface) (*Config, error) {
	var c Config
	c.initDefaults()

	path, err := locateConfigFile(flags.Config, osi)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := c.loadFile(path, osi); err != nil {
			return nil, err
		}
	}

	environment := environMap(osi)
	if err := env.ParseWithOptions(&c, env.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("error parsing environment variables: %w", err)
	}
	c.OpenTelemetry.applyOTLPEnv(environment)

	if flags.LogLevel != "" {
		c.LogLevel = flags.LogLevel
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ConfigFilePath returns the file the config was read from, if any.
func (c *Config) ConfigFilePath() string {
	return c.configPath
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func (c *Config) RestartInterval() time.Duration {
	return time.Duration(c.RestartIntervalSeconds) * time.Second
}
