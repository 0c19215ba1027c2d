// Package redis wraps go-redis with the connection options every Redis
// backed component in mqbridge shares: TLS, cluster discovery and tracing.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/redis/go-redis/extra/redisotel/v9"
	r "github.com/redis/go-redis/v9"
)

const Nil = r.Nil

type (
	Cmdable   = r.Cmdable
	Pipeliner = r.Pipeliner
)

type Client interface {
	Cmdable
	Close() error
}

// NewClient dials Redis and pings it before returning. Every caller owns
// its client, so closing one never affects another.
func NewClient(ctx context.Context, config *RedisConfig) (Client, error) {
	var (
		client r.UniversalClient
		kind   = "redis"
	)
	if config.ClusterEnabled {
		client, kind = r.NewClusterClient(clusterOptions(config)), "redis cluster"
	} else {
		client = r.NewClient(&r.Options{
			Addr:      config.Addr(),
			Username:  config.Username,
			Password:  config.Password,
			DB:        config.Database,
			TLSConfig: tlsConfig(config),
		})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%s ping %s: %w", kind, config.Addr(), err)
	}
	if err := redisotel.InstrumentTracing(client); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// clusterOptions seeds discovery with the configured node.
func clusterOptions(config *RedisConfig) *r.ClusterOptions {
	options := &r.ClusterOptions{
		Addrs:     []string{config.Addr()},
		Username:  config.Username,
		Password:  config.Password,
		TLSConfig: tlsConfig(config),
	}
	if config.DevClusterHostOverride {
		options.NewClient = func(opt *r.Options) *r.Client {
			if _, port, err := net.SplitHostPort(opt.Addr); err == nil {
				opt.Addr = net.JoinHostPort(config.Host, port)
			}
			return r.NewClient(opt)
		}
	}
	return options
}

func tlsConfig(config *RedisConfig) *tls.Config {
	if !config.TLSEnabled {
		return nil
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
	}
}
