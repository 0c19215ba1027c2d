package config

import (
	"fmt"

	"github.com/hookdeck/mqbridge/internal/otel"
	v "github.com/spf13/viper"
)

type OpenTelemetryTypeConfig struct {
	// Exporter is "otlp" or "console". Empty disables the signal.
	Exporter string `yaml:"exporter" env:"EXPORTER" validate:"omitempty,oneof=otlp console"`
	Protocol string `yaml:"protocol" env:"PROTOCOL" validate:"omitempty,oneof=grpc http/protobuf"`
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
}

type OpenTelemetryConfig struct {
	ServiceName string                  `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	Traces      OpenTelemetryTypeConfig `yaml:"traces" envPrefix:"OTEL_TRACES_"`
	Metrics     OpenTelemetryTypeConfig `yaml:"metrics" envPrefix:"OTEL_METRICS_"`
	Logs        OpenTelemetryTypeConfig `yaml:"logs" envPrefix:"OTEL_LOGS_"`
}

// applyOTLPEnv fills protocol and endpoint from the standard OTLP exporter
// variables when the config leaves them empty.
func (c *OpenTelemetryConfig) applyOTLPEnv(environment map[string]string) {
	viper := v.New()
	for key, value := range environment {
		viper.Set(key, value)
	}

	for telemetryType, tc := range map[string]*OpenTelemetryTypeConfig{
		"TRACES":  &c.Traces,
		"METRICS": &c.Metrics,
		"LOGS":    &c.Logs,
	} {
		if tc.Exporter == "" {
			continue
		}
		if tc.Protocol == "" {
			tc.Protocol = getProtocol(viper, telemetryType)
		}
		if tc.Endpoint == "" {
			tc.Endpoint = getEndpoint(viper, telemetryType)
		}
	}
}

func getProtocol(viper *v.Viper, telemetryType string) string {
	// Check type-specific protocol first
	protocol := viper.GetString(fmt.Sprintf("OTEL_EXPORTER_OTLP_%s_PROTOCOL", telemetryType))
	if protocol == "" {
		// Fall back to generic protocol
		protocol = viper.GetString("OTEL_EXPORTER_OTLP_PROTOCOL")
	}
	if protocol == "" {
		// Default to gRPC if not specified
		protocol = otel.ProtocolGRPC
	}
	return protocol
}

func getEndpoint(viper *v.Viper, telemetryType string) string {
	endpoint := viper.GetString(fmt.Sprintf("OTEL_EXPORTER_OTLP_%s_ENDPOINT", telemetryType))
	if endpoint == "" {
		endpoint = viper.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	return endpoint
}

func (c *OpenTelemetryTypeConfig) toOTELConfig() *otel.OpenTelemetryTypeConfig {
	if c.Exporter == "" {
		return nil
	}
	return &otel.OpenTelemetryTypeConfig{
		Exporter: c.Exporter,
		Protocol: c.Protocol,
		Endpoint: c.Endpoint,
	}
}

// ToOTELConfig returns nil when OpenTelemetry is not configured.
func (c *OpenTelemetryConfig) ToOTELConfig() *otel.OpenTelemetryConfig {
	if c == nil || c.ServiceName == "" {
		return nil
	}

	cfg := &otel.OpenTelemetryConfig{
		ServiceName: c.ServiceName,
		Traces:      c.Traces.toOTELConfig(),
		Metrics:     c.Metrics.toOTELConfig(),
		Logs:        c.Logs.toOTELConfig(),
	}
	if cfg.Traces == nil && cfg.Metrics == nil && cfg.Logs == nil {
		return nil
	}
	return cfg
}
