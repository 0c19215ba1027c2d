package mqs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const azureReceiveBatch = 10

type azureServiceBusSocket struct {
	*base
	client   *azservicebus.Client
	sender   *azservicebus.Sender
	receiver *azservicebus.Receiver

	cancel    context.CancelFunc
	group     errgroup.Group
	closeOnce sync.Once

	batch []*Message
}

func newAzureServiceBusClient(cfg *AzureServiceBusConfig) (*azservicebus.Client, error) {
	if cfg.ConnectionString != "" {
		return azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	}
	return azservicebus.NewClient(cfg.Namespace, cred, nil)
}

func openAzureServiceBus(ctx context.Context, cfg *AzureServiceBusConfig, settings Settings, opts *openOptions) (*azureServiceBusSocket, error) {
	client, err := newAzureServiceBusClient(cfg)
	if err != nil {
		return nil, err
	}

	s := &azureServiceBusSocket{
		base:   newBase(InfraAzureServiceBus, settings, opts),
		client: client,
	}
	if cfg.SendTopic != "" {
		if s.sender, err = client.NewSender(cfg.SendTopic, nil); err != nil {
			client.Close(ctx)
			return nil, err
		}
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if cfg.ReceiveSubscription != "" {
		if s.receiver, err = client.NewReceiverForSubscription(cfg.ReceiveTopic, cfg.ReceiveSubscription, nil); err != nil {
			cancel()
			client.Close(ctx)
			return nil, err
		}
		s.group.Go(func() error {
			s.pump(pumpCtx, s.next)
			return nil
		})
	}
	return s, nil
}

func (s *azureServiceBusSocket) Send(ctx context.Context, msg *Message) error {
	if s.sender == nil {
		return ErrUnsupported
	}
	ctx, done, err := s.prepareSend(ctx, msg)
	if err != nil {
		return err
	}
	defer done()

	props := make(map[string]any, len(msg.Metadata))
	for k, v := range msg.Metadata {
		props[k] = v
	}
	id := msg.ID
	return s.sender.SendMessage(ctx, &azservicebus.Message{
		Body:                  msg.Body,
		MessageID:             &id,
		ApplicationProperties: props,
	}, nil)
}

// azureEntityGone reports whether the topic or subscription no longer
// exists.
func azureEntityGone(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// next runs on the pump goroutine only.
func (s *azureServiceBusSocket) next(ctx context.Context) (*Message, error) {
	for len(s.batch) == 0 {
		received, err := s.receiver.ReceiveMessages(ctx, azureReceiveBatch, nil)
		if err != nil {
			if azureEntityGone(err) {
				return nil, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return nil, err
		}

		for _, m := range received {
			m := m
			attrs := make(map[string]string, len(m.ApplicationProperties)+1)
			for k, v := range m.ApplicationProperties {
				attrs[k] = fmt.Sprint(v)
			}
			attrs[MetadataKeyID] = m.MessageID

			s.batch = append(s.batch, messageFromAttributes(m.Body, attrs).OnSettle(
				func() { s.settle(m, true) },
				func() { s.settle(m, false) },
			))
		}
	}

	msg := s.batch[0]
	s.batch = s.batch[1:]
	return msg, nil
}

func (s *azureServiceBusSocket) settle(m *azservicebus.ReceivedMessage, complete bool) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var err error
	if complete {
		err = s.receiver.CompleteMessage(ctx, m, nil)
	} else {
		err = s.receiver.AbandonMessage(ctx, m, nil)
	}
	if err != nil {
		s.logger.Warn("failed to settle message", s.fields(
			zap.String("azure_message_id", m.MessageID),
			zap.Bool("complete", complete),
			zap.Error(err))...)
	}
}

func (s *azureServiceBusSocket) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.cancel()
		s.group.Wait()
		s.shutdown()
		s.nackPending()
		for _, msg := range s.batch {
			msg.Nack()
		}
		s.batch = nil

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if s.receiver != nil {
			errs = append(errs, s.receiver.Close(ctx))
		}
		if s.sender != nil {
			errs = append(errs, s.sender.Close(ctx))
		}
		errs = append(errs, s.client.Close(ctx))
	})
	return errors.Join(errs...)
}
