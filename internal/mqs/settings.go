package mqs

import (
	"errors"
	"fmt"
	"time"
)

// unboundedCapacity stands in for "unlimited" where a bounded channel is
// needed.
const unboundedCapacity = 1 << 16

// Settings tunes a socket. Every field uses 0 for unlimited or disabled.
type Settings struct {
	// Outbound queue capacity in messages, at most 65536.
	SendHighWater uint32 `yaml:"send_high_water" env:"SEND_HIGH_WATER"`
	// Inbound queue capacity in messages, at most 65536.
	ReceiveHighWater uint32 `yaml:"receive_high_water" env:"RECEIVE_HIGH_WATER"`
	// Maximum message body size in bytes.
	MessageSizeLimit uint32 `yaml:"message_size_limit" env:"MESSAGE_SIZE_LIMIT"`
	// Greeting deadline for stream transports.
	HandshakeSeconds uint32 `yaml:"handshake_seconds" env:"HANDSHAKE_SECONDS"`
	// Ping interval for stream transports.
	HeartbeatSeconds uint32 `yaml:"heartbeat_seconds" env:"HEARTBEAT_SECONDS"`
	// Drop a peer that has been silent this long.
	InactivitySeconds uint32 `yaml:"inactivity_seconds" env:"INACTIVITY_SECONDS"`
	// Send timeout.
	SendMilliseconds uint32 `yaml:"send_milliseconds" env:"SEND_MILLISECONDS"`
	// Redial interval for connecting sockets and receive retries.
	ReconnectSeconds uint32 `yaml:"reconnect_seconds" env:"RECONNECT_SECONDS"`
}

var (
	ErrMessageTooLarge = errors.New("message exceeds size limit")
	ErrInvalidSettings = errors.New("invalid socket settings")
)

func DefaultSettings() Settings {
	return Settings{
		SendHighWater:    1000,
		ReceiveHighWater: 1000,
		HandshakeSeconds: 30,
		ReconnectSeconds: 1,
	}
}

func (s Settings) Validate() error {
	if s.SendHighWater > unboundedCapacity {
		return fmt.Errorf("%w: send high water %d exceeds %d", ErrInvalidSettings, s.SendHighWater, unboundedCapacity)
	}
	if s.ReceiveHighWater > unboundedCapacity {
		return fmt.Errorf("%w: receive high water %d exceeds %d", ErrInvalidSettings, s.ReceiveHighWater, unboundedCapacity)
	}
	if s.InactivitySeconds > 0 && s.HeartbeatSeconds > 0 && s.InactivitySeconds <= s.HeartbeatSeconds {
		return fmt.Errorf("%w: inactivity timeout (%ds) must exceed heartbeat interval (%ds)",
			ErrInvalidSettings, s.InactivitySeconds, s.HeartbeatSeconds)
	}
	return nil
}

func (s Settings) SendCapacity() int {
	return capacity(s.SendHighWater)
}

func (s Settings) ReceiveCapacity() int {
	return capacity(s.ReceiveHighWater)
}

func (s Settings) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeSeconds) * time.Second
}

func (s Settings) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatSeconds) * time.Second
}

func (s Settings) InactivityTimeout() time.Duration {
	return time.Duration(s.InactivitySeconds) * time.Second
}

func (s Settings) SendTimeout() time.Duration {
	return time.Duration(s.SendMilliseconds) * time.Millisecond
}

func (s Settings) ReconnectInterval() time.Duration {
	return time.Duration(s.ReconnectSeconds) * time.Second
}

// CheckSize returns ErrMessageTooLarge if size exceeds the configured limit.
func (s Settings) CheckSize(size int) error {
	if s.MessageSizeLimit > 0 && size > int(s.MessageSizeLimit) {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, size, s.MessageSizeLimit)
	}
	return nil
}

func capacity(hwm uint32) int {
	if hwm == 0 {
		return unboundedCapacity
	}
	return int(hwm)
}
