package testinfra

import (
	"context"
	"log"
	"net"
	"strconv"
	"sync"
	"testing"

	internalredis "github.com/hookdeck/mqbridge/internal/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

// dbPool hands out the 16 logical databases of a shared Redis server so
// parallel suites never see each other's keys.
type dbPool struct {
	mu   sync.Mutex
	used [16]bool
}

func (p *dbPool) take() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for db, inUse := range p.used {
		if !inUse {
			p.used[db] = true
			return db
		}
	}
	panic("testinfra: all redis databases are taken")
}

func (p *dbPool) give(db int) {
	p.mu.Lock()
	p.used[db] = false
	p.mu.Unlock()
}

var (
	redisOnce sync.Once
	redisDBs  dbPool
)

// NewRedisConfig reserves a database on a real Redis server for the
// duration of t. The database is flushed before it is handed back.
func NewRedisConfig(t *testing.T) *internalredis.RedisConfig {
	addr := ensureRedis()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("invalid redis address %q: %v", addr, err)
	}
	port, _ := strconv.Atoi(portStr)

	db := redisDBs.take()
	t.Cleanup(func() {
		client := goredis.NewClient(&goredis.Options{Addr: addr, DB: db})
		if err := client.FlushDB(context.Background()).Err(); err != nil {
			log.Printf("flush redis db %d: %s", db, err)
		}
		client.Close()
		redisDBs.give(db)
	})

	return &internalredis.RedisConfig{
		Host:     host,
		Port:     port,
		Database: db,
	}
}

func ensureRedis() string {
	cfg := ReadConfig()
	if cfg.RedisURL == "" {
		redisOnce.Do(func() {
			ctx := context.Background()
			container, err := redis.Run(ctx, "redis:7-alpine")
			if err != nil {
				panic(err)
			}
			endpoint, err := container.PortEndpoint(ctx, "6379/tcp", "")
			if err != nil {
				panic(err)
			}
			log.Printf("redis container at %s", endpoint)
			cfg.RedisURL = endpoint
			addCleanup(func() {
				if err := container.Terminate(ctx); err != nil {
					log.Printf("terminate redis container: %s", err)
				}
			})
		})
	}
	return cfg.RedisURL
}
