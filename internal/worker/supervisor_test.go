package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hookdeck/mqbridge/internal/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Mock logger for testing
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func newMockLogger() *mockLogger {
	return &mockLogger{
		messages: []string{},
	}
}

func (l *mockLogger) log(level, msg string, fields ...zap.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("[%s] %s", level, msg))
}

func (l *mockLogger) Info(msg string, fields ...zap.Field) {
	l.log("INFO", msg, fields...)
}

func (l *mockLogger) Error(msg string, fields ...zap.Field) {
	l.log("ERROR", msg, fields...)
}

func (l *mockLogger) Debug(msg string, fields ...zap.Field) {
	l.log("DEBUG", msg, fields...)
}

func (l *mockLogger) Warn(msg string, fields ...zap.Field) {
	l.log("WARN", msg, fields...)
}

func (l *mockLogger) Contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range l.messages {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// newRunningWorker blocks until stop is requested, then spends shutdown
// before finishing.
func newRunningWorker(name string, shutdown time.Duration) *Worker {
	return New(name, RoutineFunc(func(w *Worker) {
		w.Started(true)
		<-w.StopRequested()
		time.Sleep(shutdown)
		w.Finished(true)
	}))
}

// newExitingWorker runs for lifetime and then returns on its own.
func newExitingWorker(name string, lifetime time.Duration) *Worker {
	return New(name, RoutineFunc(func(w *Worker) {
		w.Started(true)
		select {
		case <-w.StopRequested():
		case <-time.After(lifetime):
		}
		w.Finished(true)
	}))
}

func waitRunning(t *testing.T, workers ...*Worker) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, w := range workers {
			if w.State() != StateRunning {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
}

func TestHealthTracker_MarkHealthy(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker()

	tracker.MarkHealthy("worker-1")

	status := tracker.GetStatus()
	assert.Equal(t, "healthy", status.Status)

	workers := status.Workers
	assert.Len(t, workers, 1)
	assert.Equal(t, WorkerStatusHealthy, workers["worker-1"].Status)
}

func TestHealthTracker_MarkFailed(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker()

	tracker.MarkFailed("worker-1")

	status := tracker.GetStatus()
	assert.Equal(t, "failed", status.Status)

	workers := status.Workers
	assert.Len(t, workers, 1)
	assert.Equal(t, WorkerStatusFailed, workers["worker-1"].Status)
}

func TestHealthTracker_IsHealthy(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker()
	tracker.MarkHealthy("worker-1")
	tracker.MarkHealthy("worker-2")
	assert.True(t, tracker.IsHealthy())

	tracker.MarkFailed("worker-2")
	assert.False(t, tracker.IsHealthy())

	tracker.MarkRestarting("worker-2")
	assert.False(t, tracker.IsHealthy(), "a restarting worker is not healthy yet")

	tracker.MarkHealthy("worker-2")
	assert.True(t, tracker.IsHealthy(), "a recovered worker counts as healthy again")
	assert.Equal(t, 1, tracker.GetStatus().Workers["worker-2"].Restarts, "restarts survive recovery")
}

func TestHealthTracker_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker()

	var wg sync.WaitGroup
	workers := 100

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("worker-%d", i)
			if i%2 == 0 {
				tracker.MarkHealthy(name)
			} else {
				tracker.MarkFailed(name)
			}
		}(i)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tracker.IsHealthy()
			_ = tracker.GetStatus()
		}()
	}

	wg.Wait()

	status := tracker.GetStatus()
	workersMap := status.Workers
	assert.Len(t, workersMap, workers)
}

func TestWorkerSupervisor_RegisterWorker(t *testing.T) {
	logger := newMockLogger()
	supervisor := NewWorkerSupervisor(logger)

	supervisor.Register(newRunningWorker("test-worker", 0))

	assert.Len(t, supervisor.workers, 1)
	assert.True(t, logger.Contains("worker registered"))
}

func TestWorkerSupervisor_RegisterDuplicateWorker(t *testing.T) {
	logger := newMockLogger()
	supervisor := NewWorkerSupervisor(logger)

	supervisor.Register(newRunningWorker("test-worker", 0))

	assert.Panics(t, func() {
		supervisor.Register(newRunningWorker("test-worker", 0))
	})
}

func TestWorkerSupervisor_Run_HealthyWorkers(t *testing.T) {
	logger := newMockLogger()
	supervisor := NewWorkerSupervisor(logger)

	worker1 := newRunningWorker("worker-1", 0)
	worker2 := newRunningWorker("worker-2", 0)
	supervisor.Register(worker1)
	supervisor.Register(worker2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- supervisor.Run(ctx)
	}()

	waitRunning(t, worker1, worker2)

	tracker := supervisor.GetHealthTracker()
	require.Eventually(t, func() bool {
		return len(tracker.GetStatus().Workers) == 2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, tracker.IsHealthy(), "all workers should be healthy while running")

	status := tracker.GetStatus()
	assert.Equal(t, "healthy", status.Status)
	assert.NotZero(t, status.Timestamp, "should have timestamp field")

	assert.Equal(t, map[string]string{
		"worker-1": "running",
		"worker-2": "running",
	}, supervisor.States())

	cancel()

	err := <-errChan
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateStopped, worker1.State())
	assert.Equal(t, StateStopped, worker2.State())
}

func TestWorkerSupervisor_Run_FailedWorker(t *testing.T) {
	logger := newMockLogger()
	supervisor := NewWorkerSupervisor(logger)

	supervisor.Register(newRunningWorker("healthy", 0))
	supervisor.Register(newExitingWorker("failing", 50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- supervisor.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return !supervisor.GetHealthTracker().IsHealthy()
	}, time.Second, 5*time.Millisecond)

	status := supervisor.GetHealthTracker().GetStatus()
	assert.Equal(t, "failed", status.Status)

	workers := status.Workers
	assert.Equal(t, WorkerStatusFailed, workers["failing"].Status)
	assert.True(t, logger.Contains("worker exited unexpectedly"))

	select {
	case <-errChan:
		t.Fatal("supervisor.Run() returned early - should keep running until context cancelled")
	default:
	}

	cancel()
	err := <-errChan
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkerSupervisor_Run_FailedStart(t *testing.T) {
	logger := newMockLogger()
	supervisor := NewWorkerSupervisor(logger)

	supervisor.Register(newRunningWorker("healthy", 0))
	supervisor.Register(New("broken", RoutineFunc(func(w *Worker) {
		w.Started(false)
	})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- supervisor.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		workers := supervisor.GetHealthTracker().GetStatus().Workers
		return workers["broken"].Status == WorkerStatusFailed
	}, time.Second, 5*time.Millisecond)
	assert.True(t, logger.Contains("worker failed to start"))

	cancel()
	assert.ErrorIs(t, <-errChan, context.Canceled)
}

func TestWorkerSupervisor_Run_AllWorkersExit(t *testing.T) {
	logger := newMockLogger()
	supervisor := NewWorkerSupervisor(logger)

	supervisor.Register(newExitingWorker("worker-1", 50*time.Millisecond))
	supervisor.Register(newExitingWorker("worker-2", 100*time.Millisecond))

	err := supervisor.Run(context.Background())
	assert.ErrorIs(t, err, ErrAllWorkersExited)

	status := supervisor.GetHealthTracker().GetStatus()
	assert.Equal(t, "failed", status.Status)

	workers := status.Workers
	assert.Equal(t, WorkerStatusFailed, workers["worker-1"].Status)
	assert.Equal(t, WorkerStatusFailed, workers["worker-2"].Status)

	assert.True(t, logger.Contains("all workers have exited"))
}

func TestWorkerSupervisor_Run_Restart(t *testing.T) {
	logger := newMockLogger()

	var restarts atomic.Int32
	supervisor := NewWorkerSupervisor(logger,
		WithRestart(2, &backoff.ConstantBackoff{Interval: 10 * time.Millisecond}),
		WithRestartHook(func(name string) {
			assert.Equal(t, "flaky", name)
			restarts.Add(1)
		}))

	var starts atomic.Int32
	supervisor.Register(New("flaky", RoutineFunc(func(w *Worker) {
		starts.Add(1)
		w.Started(true)
		w.Finished(true)
	})))

	err := supervisor.Run(context.Background())
	assert.ErrorIs(t, err, ErrAllWorkersExited)
	assert.Equal(t, int32(3), starts.Load(), "initial start plus two restarts")
	assert.Equal(t, int32(2), restarts.Load())
	assert.True(t, logger.Contains("restarting worker"))

	health := supervisor.GetHealthTracker().GetStatus().Workers["flaky"]
	assert.Equal(t, WorkerStatusFailed, health.Status, "out of restarts")
	assert.Equal(t, 2, health.Restarts)
}

func TestWorkerSupervisor_Run_RestartRecovers(t *testing.T) {
	logger := newMockLogger()
	supervisor := NewWorkerSupervisor(logger,
		WithRestart(5, &backoff.ConstantBackoff{Interval: 10 * time.Millisecond}))

	var starts atomic.Int32
	w := New("recovering", RoutineFunc(func(w *Worker) {
		if starts.Add(1) == 1 {
			w.Started(true)
			w.Finished(false)
			return
		}
		w.Started(true)
		<-w.StopRequested()
		w.Finished(true)
	}))
	supervisor.Register(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- supervisor.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return starts.Load() == 2 && w.State() == StateRunning && supervisor.GetHealthTracker().IsHealthy()
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errChan, context.Canceled)
}

func TestWorkerSupervisor_Run_NoWorkers(t *testing.T) {
	logger := newMockLogger()
	supervisor := NewWorkerSupervisor(logger)

	err := supervisor.Run(context.Background())

	assert.ErrorIs(t, err, ErrNoWorkers)
	assert.True(t, logger.Contains("no workers registered"))
}

func TestWorkerSupervisor_Run_VariableShutdownTiming(t *testing.T) {
	logger := newMockLogger()
	supervisor := NewWorkerSupervisor(logger)

	fast := newRunningWorker("fast", 50*time.Millisecond)
	slow := newRunningWorker("slow", 200*time.Millisecond)
	instant := newRunningWorker("instant", 0)
	supervisor.Register(fast)
	supervisor.Register(slow)
	supervisor.Register(instant)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- supervisor.Run(ctx)
	}()

	waitRunning(t, fast, slow, instant)

	start := time.Now()
	cancel()

	err := <-errChan
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.Canceled)

	// Workers stop concurrently, so the slowest one bounds the shutdown.
	assert.True(t, elapsed >= 200*time.Millisecond,
		"expected shutdown to take at least 200ms (slowest worker), got %v", elapsed)
	assert.True(t, elapsed < 300*time.Millisecond,
		"shutdown took too long: %v", elapsed)
}

func TestWorkerSupervisor_Run_ShutdownTimeout(t *testing.T) {
	logger := newMockLogger()
	supervisor := NewWorkerSupervisor(logger, WithShutdownTimeout(500*time.Millisecond))

	slow := newRunningWorker("slow", 2*time.Second)
	supervisor.Register(slow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- supervisor.Run(ctx)
	}()

	waitRunning(t, slow)

	start := time.Now()
	cancel()

	err := <-errChan
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown timeout exceeded")

	assert.True(t, elapsed >= 500*time.Millisecond,
		"expected to wait at least 500ms (timeout), got %v", elapsed)
	assert.True(t, elapsed < 1*time.Second,
		"expected to timeout before 1s, got %v", elapsed)
}

func TestWorkerSupervisor_Run_ShutdownTimeout_FastWorkers(t *testing.T) {
	logger := newMockLogger()
	supervisor := NewWorkerSupervisor(logger, WithShutdownTimeout(2*time.Second))

	fast := newRunningWorker("fast", 100*time.Millisecond)
	supervisor.Register(fast)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- supervisor.Run(ctx)
	}()

	waitRunning(t, fast)

	start := time.Now()
	cancel()

	err := <-errChan
	elapsed := time.Since(start)

	// A configured timeout that was respected yields nil.
	assert.NoError(t, err)
	assert.True(t, elapsed >= 100*time.Millisecond,
		"expected to wait at least 100ms, got %v", elapsed)
	assert.True(t, elapsed < 500*time.Millisecond,
		"shutdown took too long: %v", elapsed)
}

func TestWorkerSupervisor_Run_StuckWorker(t *testing.T) {
	logger := newMockLogger()
	supervisor := NewWorkerSupervisor(logger)

	stuck := New("stuck", RoutineFunc(func(w *Worker) {
		w.Started(true)
		select {}
	}))
	supervisor.Register(stuck)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- supervisor.Run(ctx)
	}()

	waitRunning(t, stuck)
	cancel()

	// Without a shutdown timeout the supervisor waits for the routine.
	select {
	case <-errChan:
		t.Fatal("Supervisor.Run() returned but worker is stuck - should block forever")
	case <-time.After(500 * time.Millisecond):
	}
	assert.Equal(t, StateStopping, stuck.State())
}
