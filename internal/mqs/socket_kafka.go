package mqs

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// kafkaSocket writes to one topic and consumes another as part of a consumer
// group. Offsets are committed on Ack. Kafka has no per-message nack, so an
// unacked message is redelivered only after the group rebalances.
type kafkaSocket struct {
	*base
	writer *kafka.Writer
	reader *kafka.Reader

	cancel    context.CancelFunc
	group     errgroup.Group
	closeOnce sync.Once
}

func openKafka(_ context.Context, cfg *KafkaConfig, settings Settings, opts *openOptions) (*kafkaSocket, error) {
	s := &kafkaSocket{base: newBase(InfraKafka, settings, opts)}

	if cfg.SendTopic != "" {
		s.writer = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.SendTopic,
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
		if timeout := settings.SendTimeout(); timeout > 0 {
			s.writer.WriteTimeout = timeout
		}
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if cfg.ReceiveTopic != "" {
		readerConfig := kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			GroupID: cfg.GroupID,
			Topic:   cfg.ReceiveTopic,
		}
		if settings.MessageSizeLimit > 0 {
			readerConfig.MaxBytes = int(settings.MessageSizeLimit) + frameOverhead
		}
		s.reader = kafka.NewReader(readerConfig)
		s.group.Go(func() error {
			s.pump(pumpCtx, s.fetch)
			return nil
		})
	}
	return s, nil
}

func (s *kafkaSocket) Send(ctx context.Context, msg *Message) error {
	if s.writer == nil {
		return ErrUnsupported
	}
	ctx, done, err := s.prepareSend(ctx, msg)
	if err != nil {
		return err
	}
	defer done()

	headers := make([]kafka.Header, 0, len(msg.Metadata))
	for k, v := range msg.Metadata {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.ID),
		Value:   msg.Body,
		Headers: headers,
	})
}

func (s *kafkaSocket) fetch(ctx context.Context) (*Message, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrClosed
		}
		return nil, err
	}

	attrs := make(map[string]string, len(m.Headers)+1)
	for _, h := range m.Headers {
		attrs[h.Key] = string(h.Value)
	}
	if len(m.Key) > 0 {
		attrs[MetadataKeyID] = string(m.Key)
	}

	return messageFromAttributes(m.Value, attrs).OnSettle(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := s.reader.CommitMessages(ctx, m); err != nil {
			s.logger.Warn("failed to commit offset", s.fields(
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))...)
		}
	}, nil), nil
}

func (s *kafkaSocket) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.cancel()
		if s.reader != nil {
			errs = append(errs, s.reader.Close())
		}
		s.group.Wait()
		s.shutdown()
		s.nackPending()
		if s.writer != nil {
			errs = append(errs, s.writer.Close())
		}
	})
	return errors.Join(errs...)
}
