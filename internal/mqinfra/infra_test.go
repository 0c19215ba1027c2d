package mqinfra

import (
	"context"
	"testing"

	"github.com/hookdeck/mqbridge/internal/mqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfraFor(t *testing.T) {
	t.Parallel()

	t.Run("transports without infrastructure", func(t *testing.T) {
		for _, cfg := range []mqs.SocketConfig{
			{TCP: &mqs.TCPConfig{Address: ":0"}},
			{InMemory: &mqs.InMemoryConfig{Name: "x"}},
			{Redis: &mqs.RedisConfig{SendList: "l"}},
		} {
			assert.NoError(t, DeclareSocket(context.Background(), cfg))
			assert.NoError(t, TeardownSocket(context.Background(), cfg))
		}
	})

	t.Run("empty config", func(t *testing.T) {
		assert.ErrorIs(t, DeclareSocket(context.Background(), mqs.SocketConfig{}), ErrInvalidConfig)
	})

	t.Run("dispatch", func(t *testing.T) {
		i, err := infraFor(mqs.SocketConfig{Kafka: &mqs.KafkaConfig{}})
		require.NoError(t, err)
		assert.IsType(t, &infraKafka{}, i)

		i, err = infraFor(mqs.SocketConfig{GCPPubSub: &mqs.GCPPubSubConfig{}})
		require.NoError(t, err)
		assert.IsType(t, &infraGCPPubSub{}, i)

		i, err = infraFor(mqs.SocketConfig{AzureServiceBus: &mqs.AzureServiceBusConfig{}})
		require.NoError(t, err)
		assert.IsType(t, &infraAzureServiceBus{}, i)
	})
}

func TestInfra_Names(t *testing.T) {
	t.Parallel()

	sqs := &infraAWSSQS{cfg: &mqs.AWSSQSConfig{SendQueue: "a", ReceiveQueue: "a"}}
	assert.Equal(t, []string{"a"}, sqs.queues())

	sqs = &infraAWSSQS{cfg: &mqs.AWSSQSConfig{ReceiveQueue: "b"}}
	assert.Equal(t, []string{"b"}, sqs.queues())

	kafka := &infraKafka{cfg: &mqs.KafkaConfig{SendTopic: "out", ReceiveTopic: "in"}}
	assert.Equal(t, []string{"out", "in"}, kafka.topics())

	azure := &infraAzureServiceBus{cfg: &mqs.AzureServiceBusConfig{SendTopic: "t", ReceiveTopic: "t", ReceiveSubscription: "s"}}
	assert.Equal(t, []string{"t"}, azure.topics())
}
