package testutil

import (
	"crypto/rand"
	"fmt"
	mathrand "math/rand"
	"net"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hookdeck/mqbridge/internal/logging"
	internalredis "github.com/hookdeck/mqbridge/internal/redis"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Integration skips t under -short.
func Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
}

func redisConfigFor(mr *miniredis.Miniredis) *internalredis.RedisConfig {
	port, _ := strconv.Atoi(mr.Port())
	return &internalredis.RedisConfig{
		Host: mr.Host(),
		Port: port,
	}
}

// CreateTestRedisConfig points at a miniredis server that lives as long as t.
func CreateTestRedisConfig(t *testing.T) *internalredis.RedisConfig {
	return redisConfigFor(miniredis.RunT(t))
}

// CreateTestRedisPair returns a config for a fresh miniredis server and a
// client on the same server, for inspecting what a component wrote.
func CreateTestRedisPair(t *testing.T) (*internalredis.RedisConfig, internalredis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redisConfigFor(mr), client
}

func CreateTestLogger(t *testing.T) *logging.Logger {
	logger := otelzap.New(zaptest.NewLogger(t), otelzap.WithMinLevel(zap.InfoLevel))
	return &logging.Logger{Logger: logger}
}

// RandomString returns length hex characters.
func RandomString(length int) string {
	b := make([]byte, (length+1)/2)
	rand.Read(b)
	return fmt.Sprintf("%x", b)[:length]
}

func RandomPortNumber() int {
	return 10000 + mathrand.Intn(50000)
}

// FreeAddr returns a loopback address with a port that was free a moment
// ago.
func FreeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}
