package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hookdeck/mqbridge/internal/backoff"
	"github.com/hookdeck/mqbridge/internal/mqs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/hookdeck/mqbridge/internal/worker"

// Forward moves one message from source to destination. The source message
// is acked once the destination accepted it and nacked otherwise. Nothing is
// sent when the receive fails.
func Forward(ctx context.Context, source, destination mqs.Socket) (err error) {
	ctx, span := otel.GetTracerProvider().Tracer(tracerName).Start(ctx, "Worker.Forward",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("mqbridge.source", source.ID()),
		attribute.String("mqbridge.destination", destination.ID()),
	)

	msg, err := source.Receive(ctx)
	if err != nil {
		return fmt.Errorf("receive from %s: %w", source.ID(), err)
	}
	span.SetAttributes(attribute.String("mqbridge.message_id", msg.ID))

	if err := destination.Send(ctx, msg); err != nil {
		msg.Nack()
		return fmt.Errorf("send to %s: %w", destination.ID(), err)
	}

	msg.Ack()
	return nil
}

// Direction names the way a message travels through a relay.
type Direction string

const (
	LeftToRight Direction = "left_to_right"
	RightToLeft Direction = "right_to_left"
)

// ForwardBackoff is the default wait between consecutive failed forwards in
// one direction: 100ms doubling up to 5s.
func ForwardBackoff() backoff.Backoff {
	return &backoff.CappedBackoff{
		Backoff: &backoff.ExponentialBackoff{Interval: 100 * time.Millisecond, Base: 2},
		Max:     5 * time.Second,
	}
}

type relayOptions struct {
	logger    Logger
	onForward func(dir Direction, err error)
	interval  time.Duration
	backoff   backoff.Backoff
}

type RelayOption func(*relayOptions)

func WithRelayLogger(logger Logger) RelayOption {
	return func(o *relayOptions) {
		o.logger = logger
	}
}

// WithForwardHook is called after every forward attempt with its outcome.
func WithForwardHook(fn func(dir Direction, err error)) RelayOption {
	return func(o *relayOptions) {
		o.onForward = fn
	}
}

// WithPollInterval bounds a single poll. 0 waits until a socket is ready.
func WithPollInterval(interval time.Duration) RelayOption {
	return func(o *relayOptions) {
		o.interval = interval
	}
}

// WithFailureBackoff replaces ForwardBackoff.
func WithFailureBackoff(bo backoff.Backoff) RelayOption {
	return func(o *relayOptions) {
		o.backoff = bo
	}
}

// lane is one direction of a relay. After a failed forward the lane is
// paused until notBefore, so a message the source redelivers at once is not
// retried in a tight loop.
type lane struct {
	dir         Direction
	source      mqs.Socket
	destination mqs.Socket
	failures    int
	notBefore   time.Time
}

func (l *lane) settle(err error, bo backoff.Backoff) {
	if err == nil {
		l.failures = 0
		l.notBefore = time.Time{}
		return
	}
	l.notBefore = time.Now().Add(bo.Duration(l.failures))
	l.failures++
}

// Relay forwards messages between left and right in both directions until
// ctx is done or either socket is closed, returning ctx.Err() or
// mqs.ErrClosed. Any other failed forward is logged, the direction pauses
// for the failure backoff and the relay goes on.
func Relay(ctx context.Context, left, right mqs.Socket, opts ...RelayOption) error {
	o := &relayOptions{logger: zap.NewNop(), backoff: ForwardBackoff()}
	for _, opt := range opts {
		opt(o)
	}

	lanes := []*lane{
		{dir: LeftToRight, source: left, destination: right},
		{dir: RightToLeft, source: right, destination: left},
	}

	forward := func(l *lane) error {
		err := Forward(ctx, l.source, l.destination)
		if o.onForward != nil {
			o.onForward(l.dir, err)
		}
		if errors.Is(err, mqs.ErrClosed) {
			return mqs.ErrClosed
		}
		if err != nil && ctx.Err() == nil {
			o.logger.Warn("relay forward failed",
				zap.String("direction", string(l.dir)),
				zap.String("source", l.source.ID()),
				zap.String("destination", l.destination.ID()),
				zap.Int("failures", l.failures+1),
				zap.Error(err))
		}
		l.settle(err, o.backoff)
		return nil
	}

	for ctx.Err() == nil {
		// Paused lanes are left out of the poll so their redelivered
		// messages do not wake the loop; the poll ends when the first
		// pause does.
		poller := mqs.NewPoller()
		timeout := o.interval
		now := time.Now()
		for _, l := range lanes {
			if wait := l.notBefore.Sub(now); wait > 0 {
				if timeout == 0 || wait < timeout {
					timeout = wait
				}
				continue
			}
			poller.Add(l.source)
		}

		signaled, err := poller.Wait(ctx, timeout)
		if err != nil {
			return err
		}
		for _, l := range lanes {
			if !signaled.Contains(l.source.ID()) {
				continue
			}
			if err := forward(l); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}
