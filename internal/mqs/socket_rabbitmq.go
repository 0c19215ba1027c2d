package mqs

import (
	"context"
	"errors"

	"github.com/rabbitmq/amqp091-go"
	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/rabbitpubsub"
)

// openRabbitMQ publishes to cfg.Exchange and consumes cfg.Queue. Both are
// expected to exist; mqinfra declares them when asked to.
func openRabbitMQ(_ context.Context, cfg *RabbitMQConfig, settings Settings, opts *openOptions) (*pubsubSocket, error) {
	conn, err := amqp091.Dial(cfg.ServerURL)
	if err != nil {
		return nil, err
	}

	var (
		topic *pubsub.Topic
		sub   *pubsub.Subscription
	)
	if cfg.Exchange != "" {
		topic = rabbitpubsub.OpenTopic(conn, cfg.Exchange, nil)
	}
	if cfg.Queue != "" {
		sub = rabbitpubsub.OpenSubscription(conn, cfg.Queue, nil)
	}

	s := newPubSubSocket(newBase(InfraRabbitMQ, settings, opts), topic, sub)
	s.mapErr = func(err error) error {
		if conn.IsClosed() {
			return ErrClosed
		}
		return err
	}
	s.release = func(ctx context.Context) error {
		var errs []error
		if topic != nil {
			errs = append(errs, topic.Shutdown(ctx))
		}
		if sub != nil {
			errs = append(errs, sub.Shutdown(ctx))
		}
		errs = append(errs, conn.Close())
		return errors.Join(errs...)
	}
	s.start()
	return s, nil
}
