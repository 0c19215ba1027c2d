package worker

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// State is the lifecycle state of a Worker.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Routine is the work executed on a worker's dedicated thread.
//
// A routine must:
//   - set up its sockets, then call w.Started exactly once with the outcome
//   - if startup succeeded, loop until w.Stopped() (or w.StopRequested())
//     reports a pending stop
//   - call w.Finished exactly once before returning, only after a
//     successful startup
type Routine interface {
	Work(w *Worker)
}

// RoutineFunc adapts a plain function to Routine.
type RoutineFunc func(w *Worker)

func (f RoutineFunc) Work(w *Worker) { f(w) }

// PanicHandler receives values recovered from a panicking routine.
type PanicHandler func(name string, recovered any)

type Option func(*Worker)

func WithPriority(priority Priority) Option {
	return func(w *Worker) {
		w.priority = priority
	}
}

func WithLogger(logger Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithPanicHandler(handler PanicHandler) Option {
	return func(w *Worker) {
		w.onPanic = handler
	}
}

// Worker runs a Routine on its own OS thread and coordinates startup and
// shutdown with the controlling goroutine through a pair of one-shot
// handshakes. A Worker can be started again after it has been stopped.
//
// Start and Stop are serialized by the worker mutex. The state is kept in an
// atomic so the routine can poll Stopped without taking the mutex, which Stop
// holds while it waits for the routine to finish.
type Worker struct {
	name     string
	routine  Routine
	priority Priority
	logger   Logger
	onPanic  PanicHandler

	mu    sync.Mutex
	state atomic.Int32
	cycle atomic.Pointer[cycle]
}

// cycle holds the handshakes of a single start/stop cycle.
type cycle struct {
	started    chan bool
	finished   chan bool
	startOnce  sync.Once
	finishOnce sync.Once
	published  atomic.Bool
	reniced    atomic.Bool
	stop       chan struct{}
	done       chan struct{}
}

func newCycle() *cycle {
	return &cycle{
		started:  make(chan bool, 1),
		finished: make(chan bool, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// idleCycle is installed on a worker that has never been started, so that
// Done and StopRequested behave as they do for a stopped worker.
func idleCycle() *cycle {
	c := newCycle()
	close(c.stop)
	close(c.done)
	return c
}

func New(name string, routine Routine, opts ...Option) *Worker {
	w := &Worker{
		name:     name,
		routine:  routine,
		priority: PriorityNormal,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.cycle.Store(idleCycle())
	return w
}

func (w *Worker) Name() string {
	return w.name
}

func (w *Worker) Priority() Priority {
	return w.priority
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// Start spawns the routine and blocks until it reports its startup outcome.
// It returns false without side effects if the worker is not stopped. When
// the routine reports a failed startup, Start waits for its thread to exit
// and leaves the worker stopped, so it is safe to call Start again.
func (w *Worker) Start() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.State() != StateStopped {
		return false
	}

	c := newCycle()
	w.cycle.Store(c)
	w.state.Store(int32(StateStarting))

	go w.run(c)

	if ok := <-c.started; !ok {
		// Started(false) publishes the completion itself.
		<-c.finished
		<-c.done
		close(c.stop)
		w.state.Store(int32(StateStopped))
		w.logger.Warn("worker failed to start", zap.String("worker", w.name))
		return false
	}

	w.state.Store(int32(StateRunning))
	w.logger.Debug("worker started", zap.String("worker", w.name))
	return true
}

// Stop requests the routine to stop and blocks until it reports completion
// and its thread has exited. It returns true immediately if the worker is
// not running.
func (w *Worker) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.State() != StateRunning {
		return true
	}

	c := w.cycle.Load()
	w.state.Store(int32(StateStopping))
	close(c.stop)

	ok := <-c.finished
	<-c.done

	w.state.Store(int32(StateStopped))
	w.logger.Debug("worker stopped", zap.String("worker", w.name), zap.Bool("result", ok))
	return ok
}

// Stopped reports whether a stop has been requested. Routines poll it from
// their main loop.
func (w *Worker) Stopped() bool {
	switch w.State() {
	case StateStopping, StateStopped:
		return true
	default:
		return false
	}
}

// StopRequested returns a channel that is closed once Stop has been called
// for the current cycle.
func (w *Worker) StopRequested() <-chan struct{} {
	return w.cycle.Load().stop
}

// Done returns a channel that is closed when the current cycle's routine has
// returned. For a worker that was never started the channel is closed.
func (w *Worker) Done() <-chan struct{} {
	return w.cycle.Load().done
}

// Started publishes the startup outcome. On success the worker priority is
// applied to the calling thread, so it must be called from the routine. On
// failure the completion is published as well, since no work loop follows.
func (w *Worker) Started(ok bool) bool {
	return w.started(w.cycle.Load(), ok)
}

// Finished publishes the completion outcome. It must be called once, after a
// successful Started. Calling it before Started reports a failed startup.
func (w *Worker) Finished(ok bool) bool {
	c := w.cycle.Load()
	if !c.published.Load() {
		w.logger.Warn("worker finished before reporting startup", zap.String("worker", w.name))
		w.started(c, false)
		return ok
	}
	w.finished(c, ok)
	return ok
}

func (w *Worker) started(c *cycle, ok bool) bool {
	first := false
	c.startOnce.Do(func() {
		first = true
		c.published.Store(true)
		c.started <- ok
	})
	if !first {
		return ok
	}

	if ok {
		w.applyPriority(c)
	} else {
		w.finished(c, true)
	}
	return ok
}

func (w *Worker) finished(c *cycle, ok bool) {
	c.finishOnce.Do(func() {
		c.finished <- ok
	})
}

func (w *Worker) applyPriority(c *cycle) {
	if w.priority == PriorityNormal {
		return
	}
	if err := setThreadPriority(w.priority); err != nil {
		w.logger.Warn("failed to apply worker priority",
			zap.String("worker", w.name),
			zap.String("priority", w.priority.String()),
			zap.Error(err))
		return
	}
	c.reniced.Store(true)
}

func (w *Worker) run(c *cycle) {
	defer close(c.done)

	// A thread whose priority was changed is left locked so that it exits
	// together with the goroutine instead of returning to the scheduler.
	runtime.LockOSThread()
	defer func() {
		if !c.reniced.Load() {
			runtime.UnlockOSThread()
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker routine panicked",
				zap.String("worker", w.name),
				zap.Any("panic", r))
			if w.onPanic != nil {
				w.onPanic(w.name, r)
			}
		}
		// Settle whichever handshake the routine left open.
		w.started(c, false)
		w.finished(c, false)
	}()

	w.routine.Work(w)
}
