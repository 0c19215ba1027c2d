package mqinfra

import (
	"context"
	"errors"
	"fmt"

	"github.com/hookdeck/mqbridge/internal/mqs"
)

// infra creates and removes the broker objects a socket expects to exist.
type infra interface {
	Declare(ctx context.Context) error
	TearDown(ctx context.Context) error
}

var ErrInvalidConfig = errors.New("invalid config")

func infraFor(cfg mqs.SocketConfig) (infra, error) {
	switch cfg.GetInfraType() {
	case mqs.InfraTCP, mqs.InfraInMemory, mqs.InfraRedis:
		return noInfra{}, nil
	case mqs.InfraRabbitMQ:
		return &infraRabbitMQ{cfg: cfg.RabbitMQ}, nil
	case mqs.InfraAWSSQS:
		return &infraAWSSQS{cfg: cfg.AWSSQS}, nil
	case mqs.InfraKafka:
		return &infraKafka{cfg: cfg.Kafka}, nil
	case mqs.InfraGCPPubSub:
		return &infraGCPPubSub{cfg: cfg.GCPPubSub}, nil
	case mqs.InfraAzureServiceBus:
		return &infraAzureServiceBus{cfg: cfg.AzureServiceBus}, nil
	}
	return nil, ErrInvalidConfig
}

// DeclareSocket creates whatever cfg sends to or receives from. Existing
// objects are left as they are.
func DeclareSocket(ctx context.Context, cfg mqs.SocketConfig) error {
	i, err := infraFor(cfg)
	if err != nil {
		return err
	}
	if err := i.Declare(ctx); err != nil {
		return fmt.Errorf("declare %s: %w", cfg.GetInfraType(), err)
	}
	return nil
}

func TeardownSocket(ctx context.Context, cfg mqs.SocketConfig) error {
	i, err := infraFor(cfg)
	if err != nil {
		return err
	}
	if err := i.TearDown(ctx); err != nil {
		return fmt.Errorf("teardown %s: %w", cfg.GetInfraType(), err)
	}
	return nil
}

// noInfra is used by transports with nothing to declare.
type noInfra struct{}

func (noInfra) Declare(context.Context) error  { return nil }
func (noInfra) TearDown(context.Context) error { return nil }
