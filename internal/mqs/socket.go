package mqs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hookdeck/mqbridge/internal/backoff"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Socket is a message endpoint owned by a single worker.
//
// Receive blocks until a message is available. Pending and Ready let a
// Poller wait on several sockets at once: Ready delivers a token whenever a
// message arrives and is closed once the socket is closed.
type Socket interface {
	ID() string
	Send(ctx context.Context, msg *Message) error
	Receive(ctx context.Context) (*Message, error)
	Pending() int
	Ready() <-chan struct{}
	Close() error
}

// closeTimeout bounds how long Close waits for a broker to release resources.
const closeTimeout = 5 * time.Second

var (
	ErrClosed        = errors.New("socket closed")
	ErrNoEndpoint    = errors.New("no endpoint bound at address")
	ErrAddressInUse  = errors.New("address already in use")
	ErrInvalidConfig = errors.New("invalid socket config")
	ErrUnsupported   = errors.New("operation not supported by socket")
)

// Logger is a minimal logging interface for structured logging with zap.
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// inbox is the receive queue shared by every transport. Transports deliver
// into it from their own goroutines; the owning worker drains it.
type inbox struct {
	messages chan *Message
	ready    chan struct{}
	closed   chan struct{}

	mu       sync.Mutex
	isClosed bool
}

func newInbox(capacity int) *inbox {
	return &inbox{
		messages: make(chan *Message, capacity),
		ready:    make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// deliver blocks while the inbox is at its high-water mark.
func (b *inbox) deliver(ctx context.Context, msg *Message) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	select {
	case b.messages <- msg:
		b.signal()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closed:
		return ErrClosed
	}
}

func (b *inbox) signal() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isClosed {
		return
	}
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *inbox) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg := <-b.messages:
		return msg, nil
	default:
	}

	select {
	case msg := <-b.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.closed:
		select {
		case msg := <-b.messages:
			return msg, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (b *inbox) Pending() int {
	return len(b.messages)
}

func (b *inbox) Ready() <-chan struct{} {
	return b.ready
}

func (b *inbox) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isClosed {
		return
	}
	b.isClosed = true
	close(b.closed)
	close(b.ready)
}

// nackPending hands back what was received but never taken, so the broker
// can redeliver it. The inbox must be shut down first.
func (b *inbox) nackPending() {
	for {
		select {
		case msg := <-b.messages:
			msg.Nack()
		default:
			return
		}
	}
}

// base carries what every transport shares: identity, settings, the inbox
// and the send limiter.
type base struct {
	*inbox
	id       string
	kind     string
	settings Settings
	logger   Logger
	sendSem  *semaphore.Weighted
}

func newBase(kind string, settings Settings, opts *openOptions) *base {
	b := &base{
		inbox:    newInbox(settings.ReceiveCapacity()),
		id:       opts.id(),
		kind:     kind,
		settings: settings,
		logger:   opts.logger,
	}
	if settings.SendHighWater > 0 {
		b.sendSem = semaphore.NewWeighted(int64(settings.SendHighWater))
	}
	return b
}

func (b *base) ID() string {
	return b.id
}

// Kind returns the transport type, e.g. "tcp".
func (b *base) Kind() string {
	return b.kind
}

func (b *base) fields(fields ...zap.Field) []zap.Field {
	return append([]zap.Field{zap.String("socket", b.id), zap.String("transport", b.kind)}, fields...)
}

// sendContext applies the send timeout, if any.
func (b *base) sendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := b.settings.SendTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// acquire bounds the number of in-flight sends by the send high-water mark.
func (b *base) acquire(ctx context.Context) (func(), error) {
	if b.sendSem == nil {
		return func() {}, nil
	}
	if err := b.sendSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { b.sendSem.Release(1) }, nil
}

// prepareSend runs the checks common to every broker Send and returns the
// bounded context to send with.
func (b *base) prepareSend(ctx context.Context, msg *Message) (context.Context, func(), error) {
	select {
	case <-b.closed:
		return nil, nil, ErrClosed
	default:
	}
	if err := b.settings.CheckSize(len(msg.Body)); err != nil {
		return nil, nil, err
	}
	ctx, cancel := b.sendContext(ctx)
	release, err := b.acquire(ctx)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return ctx, func() {
		release()
		cancel()
	}, nil
}

func (b *base) retryBackoff() backoff.Backoff {
	interval := b.settings.ReconnectInterval()
	return &backoff.CappedBackoff{
		Backoff: &backoff.ExponentialBackoff{Interval: interval, Base: 2},
		Max:     10 * interval,
	}
}

// pump feeds the inbox from a blocking receive until ctx is done. Receive
// errors are retried on the reconnect interval; with reconnect disabled the
// first error closes the socket.
func (b *base) pump(ctx context.Context, receive func(ctx context.Context) (*Message, error)) {
	bo := b.retryBackoff()
	retries := 0

	for {
		msg, err := receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrClosed) || b.settings.ReconnectSeconds == 0 {
				b.logger.Error("socket receive failed, closing", b.fields(zap.Error(err))...)
				b.shutdown()
				return
			}
			delay := bo.Duration(retries)
			retries++
			b.logger.Warn("socket receive failed, retrying",
				b.fields(zap.Error(err), zap.Duration("delay", delay))...)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		retries = 0

		if err := b.settings.CheckSize(len(msg.Body)); err != nil {
			// Acked so the broker does not hand it straight back.
			b.logger.Warn("dropping oversized message", b.fields(zap.String("message_id", msg.ID), zap.Error(err))...)
			msg.Ack()
			continue
		}
		if err := b.deliver(ctx, msg); err != nil {
			msg.Nack()
			return
		}
	}
}
