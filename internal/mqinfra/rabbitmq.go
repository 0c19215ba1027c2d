package mqinfra

import (
	"context"
	"errors"

	"github.com/hookdeck/mqbridge/internal/mqs"
	"github.com/rabbitmq/amqp091-go"
)

// infraRabbitMQ declares the exchange and queue of a socket, bound to each
// other when both are set. A declared queue gets a dead-letter exchange and
// queue named after it; messages land there once DeliveryLimit is exceeded.
type infraRabbitMQ struct {
	cfg *mqs.RabbitMQConfig
}

func (infra *infraRabbitMQ) channel() (*amqp091.Connection, *amqp091.Channel, error) {
	if infra.cfg == nil {
		return nil, nil, errors.New("failed assertion: cfg.RabbitMQ != nil") // IMPOSSIBLE
	}
	conn, err := amqp091.Dial(infra.cfg.ServerURL)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func (infra *infraRabbitMQ) Declare(ctx context.Context) error {
	conn, ch, err := infra.channel()
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	exchange, queue := infra.cfg.Exchange, infra.cfg.Queue

	if exchange != "" {
		if err := ch.ExchangeDeclare(
			exchange, // name
			"topic",  // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		); err != nil {
			return err
		}
	}
	if queue == "" {
		return nil
	}

	dlx := queue + ".dlx"
	dlq := queue + ".dlq"

	args := amqp091.Table{
		"x-queue-type":           "quorum",
		"x-dead-letter-exchange": dlx,
	}
	if infra.cfg.DeliveryLimit > 0 {
		args["x-delivery-limit"] = infra.cfg.DeliveryLimit
	}
	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,  // arguments
	); err != nil {
		return err
	}
	if exchange != "" {
		if err := ch.QueueBind(
			queue,    // queue name
			"#",      // routing key
			exchange, // exchange
			false,
			nil,
		); err != nil {
			return err
		}
	}

	// Dead letters
	if err := ch.ExchangeDeclare(dlx, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, amqp091.Table{
		"x-queue-type": "quorum",
	}); err != nil {
		return err
	}
	return ch.QueueBind(dlq, "#", dlx, false, nil)
}

func (infra *infraRabbitMQ) TearDown(ctx context.Context) error {
	conn, ch, err := infra.channel()
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	if queue := infra.cfg.Queue; queue != "" {
		for _, q := range []string{queue, queue + ".dlq"} {
			if _, err := ch.QueueDelete(
				q,     // name
				false, // ifUnused
				false, // ifEmpty
				false, // noWait
			); err != nil {
				return err
			}
		}
		if err := ch.ExchangeDelete(queue+".dlx", false, false); err != nil {
			return err
		}
	}
	if exchange := infra.cfg.Exchange; exchange != "" {
		if err := ch.ExchangeDelete(
			exchange, // name
			false,    // ifUnused
			false,    // noWait
		); err != nil {
			return err
		}
	}
	return nil
}
