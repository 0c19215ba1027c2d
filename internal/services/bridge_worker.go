package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hookdeck/mqbridge/internal/config"
	"github.com/hookdeck/mqbridge/internal/logging"
	"github.com/hookdeck/mqbridge/internal/mqinfra"
	"github.com/hookdeck/mqbridge/internal/mqs"
	"github.com/hookdeck/mqbridge/internal/worker"
	"go.uber.org/zap"
)

// bridgeRoutine connects the two sockets of a bridge and moves messages
// between them until its worker is asked to stop.
type bridgeRoutine struct {
	cfg      config.BridgeConfig
	settings mqs.Settings
	logger   *logging.Logger
	metrics  BridgeMetrics
}

// NewBridgeWorker returns a stopped worker running one bridge. Sockets are
// opened on every start and closed on every stop, so the worker can be
// restarted after a transport failure.
func NewBridgeWorker(cfg config.BridgeConfig, settings mqs.Settings, logger *logging.Logger, metrics BridgeMetrics, opts ...worker.Option) (*worker.Worker, error) {
	priority, err := worker.ParsePriority(cfg.Priority)
	if err != nil {
		return nil, fmt.Errorf("bridge %s: %w", cfg.Name, err)
	}
	if metrics == nil {
		metrics = noopBridgeMetrics{}
	}

	logger = logger.With(zap.String("worker", cfg.Name), zap.String("mode", cfg.GetMode()))
	routine := &bridgeRoutine{
		cfg:      cfg,
		settings: settings,
		logger:   logger,
		metrics:  metrics,
	}

	opts = append([]worker.Option{
		worker.WithPriority(priority),
		worker.WithLogger(logger),
	}, opts...)
	return worker.New(cfg.Name, routine, opts...), nil
}

func (r *bridgeRoutine) Work(w *worker.Worker) {
	// Cancelled once a stop is requested, which unblocks transport calls.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if r.cfg.Lock != nil {
		r.workLeased(ctx, cancel, w)
		return
	}

	left, right, err := r.open(ctx)
	if err != nil {
		r.logger.Error("bridge failed to open sockets", zap.Error(err))
		w.Started(false)
		return
	}
	if !w.Started(true) {
		closeSockets(r.logger, left, right)
		return
	}
	w.Finished(r.run(ctx, cancel, w, left, right))
}

// workLeased reports a successful start as soon as the lock client is
// connected, then waits on standby until this instance holds the lock.
func (r *bridgeRoutine) workLeased(ctx context.Context, cancel context.CancelFunc, w *worker.Worker) {
	lease, err := newBridgeLease(ctx, r.cfg, r.logger)
	if err != nil {
		r.logger.Error("bridge failed to connect lock client", zap.Error(err))
		w.Started(false)
		return
	}
	defer lease.close()

	if !w.Started(true) {
		return
	}
	r.logger.Info("bridge on standby", zap.String("key", r.cfg.LockKey()))
	if !lease.acquire(ctx, w.StopRequested()) {
		w.Finished(true)
		return
	}

	left, right, err := r.open(ctx)
	if err != nil {
		r.logger.Error("bridge failed to open sockets", zap.Error(err))
		lease.release()
		w.Finished(false)
		return
	}

	holdCtx, stopHold := context.WithCancel(ctx)
	held := make(chan struct{})
	go func() {
		defer close(held)
		lease.hold(holdCtx, cancel)
	}()

	clean := r.run(ctx, cancel, w, left, right)
	stopHold()
	<-held
	lease.release()
	w.Finished(clean)
}

// run moves messages until ctx is cancelled or a socket fails, then closes
// both sockets. It reports whether the exit was requested.
func (r *bridgeRoutine) run(ctx context.Context, cancel context.CancelFunc, w *worker.Worker, left, right mqs.Socket) bool {
	r.logger.Info("bridge running",
		zap.String("left", left.ID()),
		zap.String("right", right.ID()))

	go func() {
		select {
		case <-w.StopRequested():
			cancel()
		case <-ctx.Done():
		}
	}()

	var err error
	switch r.cfg.GetMode() {
	case config.BridgeModeForward:
		err = r.forward(ctx, w, left, right)
	default:
		err = worker.Relay(ctx, left, right,
			worker.WithRelayLogger(r.logger),
			worker.WithPollInterval(r.cfg.PollInterval()),
			worker.WithForwardHook(func(dir worker.Direction, err error) {
				r.record(ctx, dir, err)
			}))
	}

	clean := w.Stopped()
	if !clean {
		r.logger.Error("bridge stopped unexpectedly", zap.Error(err))
	}

	closeSockets(r.logger, left, right)
	return clean
}

// open declares the broker objects when asked to and connects both sides.
// Nothing stays open on failure.
func (r *bridgeRoutine) open(ctx context.Context) (mqs.Socket, mqs.Socket, error) {
	if r.cfg.DeclareInfra {
		for _, side := range []mqs.SocketConfig{r.cfg.Left, r.cfg.Right} {
			if err := mqinfra.DeclareSocket(ctx, side); err != nil {
				return nil, nil, err
			}
		}
	}

	openCtx := ctx
	if timeout := r.settings.HandshakeTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	left, err := mqs.Open(openCtx, r.cfg.Left, r.settings, mqs.WithLogger(r.logger))
	if err != nil {
		return nil, nil, fmt.Errorf("left: %w", err)
	}
	right, err := mqs.Open(openCtx, r.cfg.Right, r.settings, mqs.WithLogger(r.logger))
	if err != nil {
		closeSockets(r.logger, left)
		return nil, nil, fmt.Errorf("right: %w", err)
	}
	return left, right, nil
}

// forward moves messages from left to right only, checking for a stop
// request between polls. Consecutive failures wait out worker.ForwardBackoff.
func (r *bridgeRoutine) forward(ctx context.Context, w *worker.Worker, left, right mqs.Socket) error {
	poller := mqs.NewPoller(left)
	bo := worker.ForwardBackoff()
	failures := 0

	for !w.Stopped() {
		if err := ctx.Err(); err != nil {
			return err
		}
		signaled, err := poller.Wait(ctx, r.cfg.PollInterval())
		if err != nil {
			return err
		}
		if !signaled.Contains(left.ID()) {
			continue
		}

		err = worker.Forward(ctx, left, right)
		r.record(ctx, worker.LeftToRight, err)
		if err == nil {
			failures = 0
			continue
		}
		if errors.Is(err, mqs.ErrClosed) {
			return err
		}
		if ctx.Err() != nil {
			continue
		}

		delay := bo.Duration(failures)
		failures++
		r.logger.Warn("forward failed",
			zap.Int("failures", failures),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
	return nil
}

func (r *bridgeRoutine) record(ctx context.Context, dir worker.Direction, err error) {
	if err != nil {
		if ctx.Err() == nil {
			r.metrics.ForwardFailed(ctx, r.cfg.Name, dir)
		}
		return
	}
	r.metrics.Forwarded(ctx, r.cfg.Name, dir)
}

func closeSockets(logger *logging.Logger, sockets ...mqs.Socket) {
	for _, s := range sockets {
		if err := s.Close(); err != nil {
			logger.Warn("error closing socket", zap.String("socket", s.ID()), zap.Error(err))
		}
	}
}
