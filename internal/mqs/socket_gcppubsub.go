package mqs

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type gcpPubSubSocket struct {
	*base
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription

	cancel    context.CancelFunc
	group     errgroup.Group
	closeOnce sync.Once
}

// ClientOptions returns the options for a pubsub client: the emulator when
// Endpoint is set, otherwise the given or default credentials.
func (cfg *GCPPubSubConfig) ClientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts,
			option.WithEndpoint(cfg.Endpoint),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	} else if cfg.ServiceAccountCredentials != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountCredentials)))
	}
	return opts
}

func openGCPPubSub(ctx context.Context, cfg *GCPPubSubConfig, settings Settings, opts *openOptions) (*gcpPubSubSocket, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, cfg.ClientOptions()...)
	if err != nil {
		return nil, err
	}

	s := &gcpPubSubSocket{
		base:   newBase(InfraGCPPubSub, settings, opts),
		client: client,
	}
	if cfg.SendTopic != "" {
		s.topic = client.Topic(cfg.SendTopic)
	}

	receiveCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if cfg.ReceiveSubscription != "" {
		s.sub = client.Subscription(cfg.ReceiveSubscription)
		s.sub.ReceiveSettings.MaxOutstandingMessages = settings.ReceiveCapacity()
		s.group.Go(func() error {
			s.receiveLoop(receiveCtx)
			return nil
		})
	}
	return s, nil
}

func (s *gcpPubSubSocket) Send(ctx context.Context, msg *Message) error {
	if s.topic == nil {
		return ErrUnsupported
	}
	ctx, done, err := s.prepareSend(ctx, msg)
	if err != nil {
		return err
	}
	defer done()

	_, err = s.topic.Publish(ctx, &pubsub.Message{
		Data:       msg.Body,
		Attributes: msg.attributes(),
	}).Get(ctx)
	return err
}

// receiveLoop runs the streaming receive, restarting it after failures when
// reconnect is enabled.
func (s *gcpPubSubSocket) receiveLoop(ctx context.Context) {
	bo := s.retryBackoff()
	retries := 0

	for {
		err := s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
			if err := s.settings.CheckSize(len(m.Data)); err != nil {
				s.logger.Warn("dropping oversized message", s.fields(zap.String("gcp_message_id", m.ID), zap.Error(err))...)
				m.Ack()
				return
			}
			msg := messageFromAttributes(m.Data, m.Attributes).OnSettle(m.Ack, m.Nack)
			if err := s.deliver(ctx, msg); err != nil {
				m.Nack()
			}
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil || s.settings.ReconnectSeconds == 0 {
			s.logger.Error("subscription receive ended, closing", s.fields(zap.Error(err))...)
			s.shutdown()
			return
		}

		delay := bo.Duration(retries)
		retries++
		s.logger.Warn("subscription receive failed, retrying", s.fields(zap.Error(err), zap.Duration("delay", delay))...)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *gcpPubSubSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.group.Wait()
		s.shutdown()
		s.nackPending()
		if s.topic != nil {
			s.topic.Stop()
		}
		err = s.client.Close()
	})
	return err
}
