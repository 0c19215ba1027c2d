// Package redislock is a single instance Redis lease, built on SET NX PX as
// described in https://redis.io/docs/latest/develop/use/patterns/distributed-locks/
//
// Two holders can overlap, e.g. when one is paused past the TTL and then
// keeps working. Bridges use it to keep one active instance per bridge, and
// an overlap only means a few messages are moved twice, which at-least-once
// transports allow anyway. Do not use it to guard anything that must never
// run twice.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hookdeck/mqbridge/internal/redis"
)

const (
	DefaultKey = "mqbridge:lock"
	DefaultTTL = 10 * time.Second
)

type Lock interface {
	AttemptLock(ctx context.Context) (bool, error)
	// Refresh extends the TTL. It returns false once the lock is no longer
	// ours.
	Refresh(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) (bool, error)
	// Holder returns the owner recorded in the lock, or "" when it is free.
	Holder(ctx context.Context) (string, error)
	Owner() string
	TTL() time.Duration
}

type redisLock struct {
	client redis.Cmdable
	key    string
	owner  string
	ttl    time.Duration
}

type Option func(*redisLock)

func WithKey(key string) Option {
	return func(l *redisLock) {
		l.key = key
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(l *redisLock) {
		l.ttl = ttl
	}
}

// WithOwner overrides the generated owner value. Owners must be unique per
// lock instance.
func WithOwner(owner string) Option {
	return func(l *redisLock) {
		l.owner = owner
	}
}

func New(client redis.Cmdable, opts ...Option) Lock {
	l := &redisLock{
		client: client,
		key:    DefaultKey,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.owner == "" {
		l.owner = newOwner()
	}
	return l
}

func (l *redisLock) Owner() string {
	return l.owner
}

func (l *redisLock) TTL() time.Duration {
	return l.ttl
}

func (l *redisLock) AttemptLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
}

func (l *redisLock) Holder(ctx context.Context) (string, error) {
	holder, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return holder, err
}

// Both scripts only touch the key while it still holds our owner value, so
// a lock that expired and was taken by someone else is left alone.
const (
	refreshScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`
	unlockScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`
)

func (l *redisLock) Refresh(ctx context.Context) (bool, error) {
	return l.evalOwned(ctx, refreshScript, l.ttl.Milliseconds())
}

func (l *redisLock) Unlock(ctx context.Context) (bool, error) {
	return l.evalOwned(ctx, unlockScript)
}

func (l *redisLock) evalOwned(ctx context.Context, script string, extra ...any) (bool, error) {
	args := append([]any{l.owner}, extra...)
	n, err := l.client.Eval(ctx, script, []string{l.key}, args...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// newOwner names the process holding the lock so operators can tell which
// instance is active.
func newOwner() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString())
}
