package mqs

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/hookdeck/mqbridge/internal/util/awsutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	sqsMaxMessages     = 10
	sqsWaitTimeSeconds = 20
)

// awsSQSSocket carries the encoded envelope as a base64 body, since SQS
// bodies must be text.
type awsSQSSocket struct {
	*base
	client     *sqs.Client
	sendURL    string
	receiveURL string

	cancel    context.CancelFunc
	group     errgroup.Group
	closeOnce sync.Once

	batch []*Message
}

func openAWSSQS(ctx context.Context, cfg *AWSSQSConfig, settings Settings, opts *openOptions) (*awsSQSSocket, error) {
	clientConfig, err := cfg.ToClientConfig()
	if err != nil {
		return nil, err
	}
	client, err := awsutil.SQSClientFromConfig(ctx, clientConfig)
	if err != nil {
		return nil, err
	}

	s := &awsSQSSocket{
		base:   newBase(InfraAWSSQS, settings, opts),
		client: client,
	}
	if cfg.SendQueue != "" {
		if s.sendURL, err = awsutil.RetrieveQueueURL(ctx, client, cfg.SendQueue); err != nil {
			return nil, err
		}
	}
	if cfg.ReceiveQueue != "" {
		if s.receiveURL, err = awsutil.RetrieveQueueURL(ctx, client, cfg.ReceiveQueue); err != nil {
			return nil, err
		}
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if s.receiveURL != "" {
		s.group.Go(func() error {
			s.pump(pumpCtx, s.next)
			return nil
		})
	}
	return s, nil
}

func (s *awsSQSSocket) Send(ctx context.Context, msg *Message) error {
	if s.sendURL == "" {
		return ErrUnsupported
	}
	ctx, done, err := s.prepareSend(ctx, msg)
	if err != nil {
		return err
	}
	defer done()

	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.sendURL),
		MessageBody: aws.String(base64.StdEncoding.EncodeToString(data)),
	})
	return err
}

// next hands out one message at a time from a long-polled batch. It runs on
// the pump goroutine only.
func (s *awsSQSSocket) next(ctx context.Context) (*Message, error) {
	for len(s.batch) == 0 {
		out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.receiveURL),
			MaxNumberOfMessages: sqsMaxMessages,
			WaitTimeSeconds:     sqsWaitTimeSeconds,
		})
		if err != nil {
			return nil, err
		}

		for _, m := range out.Messages {
			handle := aws.ToString(m.ReceiptHandle)
			data, err := base64.StdEncoding.DecodeString(aws.ToString(m.Body))
			if err != nil {
				s.logger.Error("dropping undecodable message", s.fields(zap.String("sqs_message_id", aws.ToString(m.MessageId)), zap.Error(err))...)
				s.delete(handle)
				continue
			}
			msg, err := decodeMessage(data)
			if err != nil {
				s.logger.Error("dropping malformed message", s.fields(zap.String("sqs_message_id", aws.ToString(m.MessageId)), zap.Error(err))...)
				s.delete(handle)
				continue
			}
			s.batch = append(s.batch, msg.OnSettle(
				func() { s.delete(handle) },
				func() { s.release(handle) },
			))
		}
	}

	msg := s.batch[0]
	s.batch = s.batch[1:]
	return msg, nil
}

func (s *awsSQSSocket) delete(handle string) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.receiveURL),
		ReceiptHandle: aws.String(handle),
	}); err != nil {
		s.logger.Warn("failed to delete message", s.fields(zap.Error(err))...)
	}
}

// release makes the message visible again right away.
func (s *awsSQSSocket) release(handle string) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if _, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.receiveURL),
		ReceiptHandle:     aws.String(handle),
		VisibilityTimeout: 0,
	}); err != nil {
		s.logger.Warn("failed to release message", s.fields(zap.Error(err))...)
	}
}

func (s *awsSQSSocket) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.group.Wait()
		s.shutdown()
		s.nackPending()
		for _, msg := range s.batch {
			msg.Nack()
		}
		s.batch = nil
	})
	return nil
}
