package mqinfra

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/hookdeck/mqbridge/internal/mqs"
	"github.com/segmentio/kafka-go"
)

const defaultKafkaPartitions = 1

type infraKafka struct {
	cfg *mqs.KafkaConfig
}

func (infra *infraKafka) topics() []string {
	var topics []string
	for _, topic := range []string{infra.cfg.SendTopic, infra.cfg.ReceiveTopic} {
		if topic != "" && (len(topics) == 0 || topics[0] != topic) {
			topics = append(topics, topic)
		}
	}
	return topics
}

// controller connects to the cluster controller, which is the only broker
// that accepts topic changes.
func (infra *infraKafka) controller(ctx context.Context) (*kafka.Conn, error) {
	if infra.cfg == nil || len(infra.cfg.Brokers) == 0 {
		return nil, errors.New("failed assertion: cfg.Kafka != nil") // IMPOSSIBLE
	}
	conn, err := kafka.DialContext(ctx, "tcp", infra.cfg.Brokers[0])
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return nil, err
	}
	return kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
}

func (infra *infraKafka) Declare(ctx context.Context) error {
	conn, err := infra.controller(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	partitions := infra.cfg.Partitions
	if partitions <= 0 {
		partitions = defaultKafkaPartitions
	}

	configs := make([]kafka.TopicConfig, 0, 2)
	for _, topic := range infra.topics() {
		configs = append(configs, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		})
	}
	err = conn.CreateTopics(configs...)
	if errors.Is(err, kafka.TopicAlreadyExists) {
		return nil
	}
	return err
}

func (infra *infraKafka) TearDown(ctx context.Context) error {
	conn, err := infra.controller(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	err = conn.DeleteTopics(infra.topics()...)
	if errors.Is(err, kafka.UnknownTopicOrPartition) {
		return nil
	}
	return err
}
