package config

import (
	"time"

	"github.com/hookdeck/mqbridge/internal/mqs"
	"github.com/hookdeck/mqbridge/internal/redis"
)

const (
	BridgeModeRelay   = "relay"
	BridgeModeForward = "forward"

	defaultPollInterval = 100 * time.Millisecond
)

// BridgeConfig connects two sockets. In relay mode messages flow both ways;
// in forward mode only from left to right.
type BridgeConfig struct {
	Name     string `yaml:"name" validate:"required"`
	Mode     string `yaml:"mode" validate:"omitempty,oneof=relay forward"`
	Priority string `yaml:"priority"`

	Left  mqs.SocketConfig `yaml:"left"`
	Right mqs.SocketConfig `yaml:"right"`

	// Settings replaces the global socket settings for this bridge.
	Settings       *mqs.Settings `yaml:"settings"`
	DeclareInfra   bool          `yaml:"declare_infra"`
	PollIntervalMS int           `yaml:"poll_interval_ms" validate:"gte=0"`

	// Lock keeps the bridge active on one instance at a time.
	Lock *LockConfig `yaml:"lock"`
}

// LockConfig is a Redis lease shared by every instance running the bridge.
type LockConfig struct {
	redis.RedisConfig `yaml:",inline"`
	Key               string `yaml:"key"`
	TTLSeconds        int    `yaml:"ttl_seconds" validate:"gte=0"`
}

func (b *BridgeConfig) LockKey() string {
	if b.Lock != nil && b.Lock.Key != "" {
		return b.Lock.Key
	}
	return "mqbridge:lock:" + b.Name
}

// LockTTL defaults to 10 seconds.
func (b *BridgeConfig) LockTTL() time.Duration {
	if b.Lock == nil || b.Lock.TTLSeconds == 0 {
		return 10 * time.Second
	}
	return time.Duration(b.Lock.TTLSeconds) * time.Second
}

func (b *BridgeConfig) GetMode() string {
	if b.Mode == "" {
		return BridgeModeRelay
	}
	return b.Mode
}

func (b *BridgeConfig) PollInterval() time.Duration {
	if b.PollIntervalMS == 0 {
		return defaultPollInterval
	}
	return time.Duration(b.PollIntervalMS) * time.Millisecond
}

// SocketSettings returns the bridge override or, without one, global.
func (b *BridgeConfig) SocketSettings(global mqs.Settings) mqs.Settings {
	if b.Settings != nil {
		return *b.Settings
	}
	return global
}
