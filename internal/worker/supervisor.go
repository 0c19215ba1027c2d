package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hookdeck/mqbridge/internal/backoff"
	"go.uber.org/zap"
)

// Logger is a minimal logging interface for structured logging with zap.
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// Service is a restartable unit the supervisor can manage. *Worker
// implements it.
type Service interface {
	Name() string
	Start() bool
	Stop() bool
	Done() <-chan struct{}
}

var (
	ErrNoWorkers        = errors.New("no workers registered")
	ErrAllWorkersExited = errors.New("all workers have exited unexpectedly")
)

// WorkerSupervisor starts registered workers, tracks their health, restarts
// workers whose routine exits on its own and stops everything on shutdown.
type WorkerSupervisor struct {
	mu              sync.Mutex
	workers         map[string]Service
	order           []string
	health          *HealthTracker
	logger          Logger
	shutdownTimeout time.Duration // 0 means no timeout
	restartLimit    int
	restartBackoff  backoff.Backoff
	onRestart       func(name string)
}

// SupervisorOption configures a WorkerSupervisor.
type SupervisorOption func(*WorkerSupervisor)

// WithShutdownTimeout sets the maximum time to wait for workers to shutdown gracefully.
// After this timeout, Run() will return even if workers haven't finished.
// Default is 0 (no timeout - wait indefinitely).
func WithShutdownTimeout(timeout time.Duration) SupervisorOption {
	return func(r *WorkerSupervisor) {
		r.shutdownTimeout = timeout
	}
}

// WithRestart restarts a worker up to limit times after it exits on its own
// or fails to start, waiting bo.Duration(attempt) between attempts.
func WithRestart(limit int, bo backoff.Backoff) SupervisorOption {
	return func(r *WorkerSupervisor) {
		r.restartLimit = limit
		if bo != nil {
			r.restartBackoff = bo
		}
	}
}

// WithRestartHook is called every time a worker is about to be restarted.
func WithRestartHook(fn func(name string)) SupervisorOption {
	return func(r *WorkerSupervisor) {
		r.onRestart = fn
	}
}

// NewWorkerSupervisor creates a new WorkerSupervisor.
func NewWorkerSupervisor(logger Logger, opts ...SupervisorOption) *WorkerSupervisor {
	r := &WorkerSupervisor{
		workers:         make(map[string]Service),
		health:          NewHealthTracker(),
		logger:          logger,
		shutdownTimeout: 0, // Default: no timeout
		restartBackoff:  &backoff.ConstantBackoff{Interval: time.Second},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a worker to the supervisor.
// Panics if a worker with the same name is already registered.
func (r *WorkerSupervisor) Register(w Service) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[w.Name()]; exists {
		panic(fmt.Sprintf("worker %s already registered", w.Name()))
	}
	r.workers[w.Name()] = w
	r.order = append(r.order, w.Name())
	r.logger.Debug("worker registered", zap.String("worker", w.Name()))
}

// GetHealthTracker returns the health tracker for this supervisor.
func (r *WorkerSupervisor) GetHealthTracker() *HealthTracker {
	return r.health
}

// States returns the lifecycle state of every registered worker that
// exposes one.
func (r *WorkerSupervisor) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]string, len(r.workers))
	for name, w := range r.workers {
		if s, ok := w.(interface{ State() State }); ok {
			states[name] = s.State().String()
		}
	}
	return states
}

// Run starts all registered workers in registration order and supervises them.
// It blocks until:
// - ALL workers have exited for good (after exhausting restarts), OR
// - The context is cancelled (SIGTERM/SIGINT)
//
// A failed worker is marked as failed but does NOT terminate other workers,
// so health checks can report it while the rest keep serving.
//
// Returns ctx.Err() after a graceful shutdown, nil when a shutdown timeout is
// configured and respected, and an error if the timeout is exceeded.
func (r *WorkerSupervisor) Run(ctx context.Context) error {
	r.mu.Lock()
	services := make([]Service, 0, len(r.order))
	for _, name := range r.order {
		services = append(services, r.workers[name])
	}
	r.mu.Unlock()

	if len(services) == 0 {
		r.logger.Warn("no workers registered")
		return ErrNoWorkers
	}

	r.logger.Info("starting workers", zap.Int("count", len(services)))

	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func(svc Service) {
			defer wg.Done()
			r.supervise(ctx, svc)
		}(svc)
	}

	select {
	case <-ctx.Done():
		r.logger.Info("context cancelled, shutting down workers")

		if r.shutdownTimeout > 0 {
			return r.waitWithTimeout(&wg, r.shutdownTimeout)
		}

		wg.Wait()
		return ctx.Err()
	case <-r.waitForWorkers(&wg):
		r.logger.Warn("all workers have exited")
		return ErrAllWorkersExited
	}
}

// supervise drives a single worker through start, watch, restart and stop.
func (r *WorkerSupervisor) supervise(ctx context.Context, svc Service) {
	name := svc.Name()

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}

		r.logger.Info("worker starting", zap.String("worker", name))
		if svc.Start() {
			r.health.MarkHealthy(name)

			select {
			case <-ctx.Done():
				if svc.Stop() {
					r.logger.Info("worker stopped gracefully", zap.String("worker", name))
					r.health.MarkHealthy(name)
				} else {
					r.logger.Warn("worker stopped with failure", zap.String("worker", name))
					r.health.MarkFailed(name)
				}
				return
			case <-svc.Done():
				clean := svc.Stop()
				r.logger.Error("worker exited unexpectedly",
					zap.String("worker", name),
					zap.Bool("clean", clean))
				r.health.MarkFailed(name)
			}
		} else {
			r.logger.Error("worker failed to start", zap.String("worker", name))
			r.health.MarkFailed(name)
		}

		if attempt >= r.restartLimit {
			return
		}
		r.health.MarkRestarting(name)

		delay := r.restartBackoff.Duration(attempt)
		r.logger.Info("restarting worker",
			zap.String("worker", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if r.onRestart != nil {
			r.onRestart(name)
		}
	}
}

// waitForWorkers converts WaitGroup.Wait() into a channel that can be used in select.
// Returns a channel that closes when all workers have exited.
func (r *WorkerSupervisor) waitForWorkers(wg *sync.WaitGroup) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// waitWithTimeout waits for the WaitGroup with a timeout.
// Returns nil if all workers finish within timeout.
// Returns error if timeout is exceeded.
func (r *WorkerSupervisor) waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) error {
	select {
	case <-r.waitForWorkers(wg):
		r.logger.Info("all workers shutdown gracefully")
		return nil
	case <-time.After(timeout):
		r.logger.Warn("shutdown timeout exceeded, some workers may still be running",
			zap.Duration("timeout", timeout))
		return fmt.Errorf("shutdown timeout exceeded (%v)", timeout)
	}
}
