package mqs

import (
	"context"
	"fmt"

	"github.com/hookdeck/mqbridge/internal/idgen"
	"go.uber.org/zap"
)

type openOptions struct {
	socketID string
	logger   Logger
}

func (o *openOptions) id() string {
	if o.socketID != "" {
		return o.socketID
	}
	return idgen.Socket()
}

type OpenOption func(*openOptions)

// WithSocketID overrides the generated socket id.
func WithSocketID(id string) OpenOption {
	return func(o *openOptions) {
		o.socketID = id
	}
}

func WithLogger(logger Logger) OpenOption {
	return func(o *openOptions) {
		o.logger = logger
	}
}

func newOpenOptions(opts []OpenOption) *openOptions {
	o := &openOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open connects the transport selected by cfg. The returned socket must be
// closed by its owner.
func Open(ctx context.Context, cfg SocketConfig, settings Settings, opts ...OpenOption) (Socket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	o := newOpenOptions(opts)

	var (
		socket Socket
		err    error
	)
	switch cfg.GetInfraType() {
	case InfraTCP:
		socket, err = openTCP(ctx, cfg.TCP, settings, o)
	case InfraInMemory:
		socket, err = openInMemory(ctx, cfg.InMemory, settings, o)
	case InfraRabbitMQ:
		socket, err = openRabbitMQ(ctx, cfg.RabbitMQ, settings, o)
	case InfraRedis:
		socket, err = openRedis(ctx, cfg.Redis, settings, o)
	case InfraKafka:
		socket, err = openKafka(ctx, cfg.Kafka, settings, o)
	case InfraAWSSQS:
		socket, err = openAWSSQS(ctx, cfg.AWSSQS, settings, o)
	case InfraGCPPubSub:
		socket, err = openGCPPubSub(ctx, cfg.GCPPubSub, settings, o)
	case InfraAzureServiceBus:
		socket, err = openAzureServiceBus(ctx, cfg.AzureServiceBus, settings, o)
	default:
		return nil, ErrInvalidConfig
	}
	if err != nil {
		return nil, fmt.Errorf("open %s socket: %w", cfg.GetInfraType(), err)
	}

	o.logger.Debug("socket opened",
		zap.String("socket", socket.ID()),
		zap.String("transport", cfg.GetInfraType()))
	return socket, nil
}
