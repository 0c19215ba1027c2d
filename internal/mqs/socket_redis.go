package mqs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hookdeck/mqbridge/internal/redis"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const redisBlockTimeout = time.Second

// redisSocket uses lists as queues. A received entry is moved to a
// processing list until it is acked, so a crash between receive and ack
// leaves it recoverable.
type redisSocket struct {
	*base
	client     redis.Client
	send       string
	receive    string
	processing string

	cancel    context.CancelFunc
	group     errgroup.Group
	closeOnce sync.Once
}

func openRedis(ctx context.Context, cfg *RedisConfig, settings Settings, opts *openOptions) (*redisSocket, error) {
	client, err := redis.NewClient(ctx, &cfg.RedisConfig)
	if err != nil {
		return nil, err
	}

	s := &redisSocket{
		base:    newBase(InfraRedis, settings, opts),
		client:  client,
		send:    cfg.SendList,
		receive: cfg.ReceiveList,
	}
	if s.receive != "" {
		s.processing = s.receive + ":processing"
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if s.receive != "" {
		s.group.Go(func() error {
			s.pump(pumpCtx, s.next)
			return nil
		})
	}
	return s, nil
}

func (s *redisSocket) Send(ctx context.Context, msg *Message) error {
	if s.send == "" {
		return ErrUnsupported
	}
	ctx, done, err := s.prepareSend(ctx, msg)
	if err != nil {
		return err
	}
	defer done()

	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return s.client.LPush(ctx, s.send, data).Err()
}

// next blocks until an entry can be moved from the receive list.
func (s *redisSocket) next(ctx context.Context) (*Message, error) {
	for {
		data, err := s.client.BLMove(ctx, s.receive, s.processing, "RIGHT", "LEFT", redisBlockTimeout).Bytes()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		msg, err := decodeMessage(data)
		if err != nil {
			s.logger.Error("dropping malformed entry", s.fields(zap.String("list", s.receive), zap.Error(err))...)
			s.remove(data)
			continue
		}
		return msg.OnSettle(
			func() { s.remove(data) },
			func() { s.requeue(data) },
		), nil
	}
}

func (s *redisSocket) remove(data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.client.LRem(ctx, s.processing, 1, data).Err(); err != nil {
		s.logger.Warn("failed to ack entry", s.fields(zap.Error(err))...)
	}
}

// requeue puts a nacked entry behind the backlog; receive pops from the
// right.
func (s *redisSocket) requeue(data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.receive, data)
		pipe.LRem(ctx, s.processing, 1, data)
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to nack entry", s.fields(zap.Error(err))...)
	}
}

func (s *redisSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.group.Wait()
		s.shutdown()
		s.nackPending()
		err = s.client.Close()
	})
	return err
}
