package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hookdeck/mqbridge/internal/logging"
	"github.com/hookdeck/mqbridge/internal/worker"
)

var (
	ErrInvalidConfig   = errors.New("invalid config")
	ErrDuplicateBridge = errors.New("duplicate bridge name")
	ErrInvalidBridge   = errors.New("invalid bridge")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Reset validated state
	c.validated = false

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}

	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("%w: settings: %w", ErrInvalidConfig, err)
	}

	if err := c.validateBridges(); err != nil {
		return err
	}

	// Mark as validated if we get here
	c.validated = true
	return nil
}

// validateBridges checks what struct tags cannot express: unique names and
// exactly one transport per endpoint.
func (c *Config) validateBridges() error {
	seen := make(map[string]bool, len(c.Bridges))
	for i := range c.Bridges {
		bridge := &c.Bridges[i]
		if seen[bridge.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateBridge, bridge.Name)
		}
		seen[bridge.Name] = true

		if err := bridge.Left.Validate(); err != nil {
			return fmt.Errorf("%w %s: left: %w", ErrInvalidBridge, bridge.Name, err)
		}
		if err := bridge.Right.Validate(); err != nil {
			return fmt.Errorf("%w %s: right: %w", ErrInvalidBridge, bridge.Name, err)
		}
		if bridge.Settings != nil {
			if err := bridge.Settings.Validate(); err != nil {
				return fmt.Errorf("%w %s: settings: %w", ErrInvalidBridge, bridge.Name, err)
			}
		}
		if _, err := worker.ParsePriority(bridge.Priority); err != nil {
			return fmt.Errorf("%w %s: %w", ErrInvalidBridge, bridge.Name, err)
		}
	}
	return nil
}

// IsValidated reports whether the last Validate succeeded.
func (c *Config) IsValidated() bool {
	return c.validated
}
