package services

import (
	"context"
	"time"

	"github.com/hookdeck/mqbridge/internal/config"
	"github.com/hookdeck/mqbridge/internal/logging"
	"github.com/hookdeck/mqbridge/internal/redis"
	"github.com/hookdeck/mqbridge/internal/redislock"
	"go.uber.org/zap"
)

const leaseReleaseTimeout = 5 * time.Second

// bridgeLease lets a single instance run a bridge while the others wait.
type bridgeLease struct {
	client redis.Client
	lock   redislock.Lock
	key    string
	logger *logging.Logger
}

func newBridgeLease(ctx context.Context, cfg config.BridgeConfig, logger *logging.Logger) (*bridgeLease, error) {
	client, err := redis.NewClient(ctx, &cfg.Lock.RedisConfig)
	if err != nil {
		return nil, err
	}
	return &bridgeLease{
		client: client,
		lock: redislock.New(client,
			redislock.WithKey(cfg.LockKey()),
			redislock.WithTTL(cfg.LockTTL())),
		key:    cfg.LockKey(),
		logger: logger,
	}, nil
}

func (l *bridgeLease) interval() time.Duration {
	return l.lock.TTL() / 3
}

// acquire polls for the lock until it is ours or stop is closed.
func (l *bridgeLease) acquire(ctx context.Context, stop <-chan struct{}) bool {
	lastHolder := ""
	for {
		ok, err := l.lock.AttemptLock(ctx)
		switch {
		case err != nil:
			l.logger.Warn("failed to attempt bridge lock", zap.String("key", l.key), zap.Error(err))
		case ok:
			l.logger.Info("bridge lock acquired", zap.String("key", l.key), zap.String("owner", l.lock.Owner()))
			return true
		default:
			if holder, err := l.lock.Holder(ctx); err == nil && holder != "" && holder != lastHolder {
				l.logger.Info("bridge lock held elsewhere", zap.String("key", l.key), zap.String("holder", holder))
				lastHolder = holder
			}
		}

		select {
		case <-stop:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(l.interval()):
		}
	}
}

// hold keeps the lock alive until ctx is done. lost is called when another
// instance may have taken over, either because the lock is gone or because
// it could not be refreshed for a whole TTL.
func (l *bridgeLease) hold(ctx context.Context, lost func()) {
	ticker := time.NewTicker(l.interval())
	defer ticker.Stop()

	lastRefresh := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ok, err := l.lock.Refresh(ctx)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil && time.Since(lastRefresh) < l.lock.TTL():
			l.logger.Warn("failed to refresh bridge lock", zap.String("key", l.key), zap.Error(err))
			continue
		case err != nil || !ok:
			l.logger.Error("bridge lock lost", zap.String("key", l.key), zap.Error(err))
			lost()
			return
		}
		lastRefresh = time.Now()
	}
}

func (l *bridgeLease) release() {
	ctx, cancel := context.WithTimeout(context.Background(), leaseReleaseTimeout)
	defer cancel()
	if _, err := l.lock.Unlock(ctx); err != nil {
		l.logger.Warn("failed to release bridge lock", zap.String("key", l.key), zap.Error(err))
	}
}

func (l *bridgeLease) close() {
	if err := l.client.Close(); err != nil {
		l.logger.Warn("error closing lock client", zap.Error(err))
	}
}
