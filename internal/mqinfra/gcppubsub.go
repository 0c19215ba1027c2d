package mqinfra

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/hookdeck/mqbridge/internal/mqs"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const gcpAckDeadline = 30 * time.Second

type infraGCPPubSub struct {
	cfg *mqs.GCPPubSubConfig
}

func (infra *infraGCPPubSub) client(ctx context.Context) (*pubsub.Client, error) {
	if infra.cfg == nil {
		return nil, errors.New("failed assertion: cfg.GCPPubSub != nil") // IMPOSSIBLE
	}
	return pubsub.NewClient(ctx, infra.cfg.ProjectID, infra.cfg.ClientOptions()...)
}

func (infra *infraGCPPubSub) Declare(ctx context.Context) error {
	client, err := infra.client(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if infra.cfg.SendTopic != "" {
		if _, err := ensureTopic(ctx, client, infra.cfg.SendTopic); err != nil {
			return err
		}
	}
	if infra.cfg.ReceiveSubscription == "" {
		return nil
	}

	// The subscription listens on ReceiveTopic, or on the send topic for a
	// socket that reads back what it writes.
	topicID := infra.cfg.ReceiveTopic
	if topicID == "" {
		topicID = infra.cfg.SendTopic
	}
	if topicID == "" {
		return errors.New("gcppubsub.receive_topic is required to declare a subscription")
	}
	topic, err := ensureTopic(ctx, client, topicID)
	if err != nil {
		return err
	}
	_, err = client.CreateSubscription(ctx, infra.cfg.ReceiveSubscription, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: gcpAckDeadline,
	})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

func ensureTopic(ctx context.Context, client *pubsub.Client, id string) (*pubsub.Topic, error) {
	topic, err := client.CreateTopic(ctx, id)
	if status.Code(err) == codes.AlreadyExists {
		return client.Topic(id), nil
	}
	return topic, err
}

func (infra *infraGCPPubSub) TearDown(ctx context.Context) error {
	client, err := infra.client(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if id := infra.cfg.ReceiveSubscription; id != "" {
		if err := client.Subscription(id).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
			return err
		}
	}
	for _, id := range []string{infra.cfg.SendTopic, infra.cfg.ReceiveTopic} {
		if id == "" {
			continue
		}
		if err := client.Topic(id).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
			return err
		}
	}
	return nil
}
