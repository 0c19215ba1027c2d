package mqs

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"gocloud.dev/pubsub"
	"golang.org/x/sync/errgroup"
)

// pubsubSocket adapts a gocloud topic/subscription pair. Either side may be
// nil for a send-only or receive-only socket.
type pubsubSocket struct {
	*base
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	// mapErr translates transport errors, typically to ErrClosed once the
	// underlying connection is gone.
	mapErr func(error) error
	// release frees whatever the socket owns beyond the pump.
	release func(ctx context.Context) error

	cancel    context.CancelFunc
	group     errgroup.Group
	closeOnce sync.Once
}

func newPubSubSocket(b *base, topic *pubsub.Topic, sub *pubsub.Subscription) *pubsubSocket {
	return &pubsubSocket{
		base:  b,
		topic: topic,
		sub:   sub,
	}
}

// start launches the receive pump. It must be called once, after the
// optional hooks are set.
func (s *pubsubSocket) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if s.sub == nil {
		return
	}
	s.group.Go(func() error {
		s.pump(ctx, s.receive)
		return nil
	})
}

func (s *pubsubSocket) receive(ctx context.Context) (*Message, error) {
	m, err := s.sub.Receive(ctx)
	if err != nil {
		return nil, s.translate(err)
	}

	var nack func()
	if m.Nackable() {
		nack = m.Nack
	}
	return messageFromAttributes(m.Body, m.Metadata).OnSettle(m.Ack, nack), nil
}

func (s *pubsubSocket) Send(ctx context.Context, msg *Message) error {
	if s.topic == nil {
		return ErrUnsupported
	}
	ctx, done, err := s.prepareSend(ctx, msg)
	if err != nil {
		return err
	}
	defer done()

	if err := s.topic.Send(ctx, &pubsub.Message{
		Body:     msg.Body,
		Metadata: msg.attributes(),
	}); err != nil {
		return s.translate(err)
	}
	return nil
}

func (s *pubsubSocket) translate(err error) error {
	if s.mapErr != nil {
		return s.mapErr(err)
	}
	return err
}

func (s *pubsubSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.group.Wait()
		s.shutdown()
		s.nackPending()

		if s.release != nil {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err = s.release(ctx); err != nil {
				s.logger.Warn("failed to release socket resources", s.fields(zap.Error(err))...)
			}
		}
	})
	return err
}
