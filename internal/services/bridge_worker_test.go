package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hookdeck/mqbridge/internal/config"
	"github.com/hookdeck/mqbridge/internal/mqs"
	"github.com/hookdeck/mqbridge/internal/util/testutil"
	"github.com/hookdeck/mqbridge/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	mu        sync.Mutex
	forwarded map[worker.Direction]int
	failed    map[worker.Direction]int
	restarts  []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		forwarded: map[worker.Direction]int{},
		failed:    map[worker.Direction]int{},
	}
}

func (m *recordingMetrics) Forwarded(_ context.Context, _ string, dir worker.Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forwarded[dir]++
}

func (m *recordingMetrics) ForwardFailed(_ context.Context, _ string, dir worker.Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[dir]++
}

func (m *recordingMetrics) Restarted(_ context.Context, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts = append(m.restarts, name)
}

func (m *recordingMetrics) forwardedCount(dir worker.Direction) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forwarded[dir]
}

func inMemory(name string, bind bool) mqs.SocketConfig {
	return mqs.SocketConfig{InMemory: &mqs.InMemoryConfig{Bind: bind, Name: name}}
}

// bridgeFixture binds both outer endpoints so the bridge under test can
// connect to them: outerLeft <-> bridge <-> outerRight.
type bridgeFixture struct {
	cfg        config.BridgeConfig
	outerLeft  mqs.Socket
	outerRight mqs.Socket
}

func newBridgeFixture(t *testing.T, mode string) *bridgeFixture {
	t.Helper()

	leftName := "bridge-left-" + testutil.RandomString(8)
	rightName := "bridge-right-" + testutil.RandomString(8)

	bind := func(name string) mqs.Socket {
		s, err := mqs.Open(context.Background(), inMemory(name, true), mqs.DefaultSettings())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}

	return &bridgeFixture{
		cfg: config.BridgeConfig{
			Name:           "test-" + mode,
			Mode:           mode,
			Left:           inMemory(leftName, false),
			Right:          inMemory(rightName, false),
			PollIntervalMS: 20,
		},
		outerLeft:  bind(leftName),
		outerRight: bind(rightName),
	}
}

func (f *bridgeFixture) newWorker(t *testing.T, metrics BridgeMetrics) *worker.Worker {
	t.Helper()
	w, err := NewBridgeWorker(f.cfg, mqs.DefaultSettings(), testutil.CreateTestLogger(t), metrics)
	require.NoError(t, err)
	t.Cleanup(func() { w.Stop() })
	return w
}

func sendBody(t *testing.T, s mqs.Socket, body string) {
	t.Helper()
	require.NoError(t, s.Send(context.Background(), mqs.NewMessage([]byte(body), nil)))
}

func receiveBody(t *testing.T, s mqs.Socket) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := s.Receive(ctx)
	require.NoError(t, err)
	msg.Ack()
	return string(msg.Body)
}

func assertNothingReceived(t *testing.T, s mqs.Socket, wait time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	_, err := s.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridgeWorker_Relay(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t, config.BridgeModeRelay)
	metrics := newRecordingMetrics()
	w := f.newWorker(t, metrics)

	require.True(t, w.Start())
	assert.Equal(t, worker.StateRunning, w.State())

	sendBody(t, f.outerLeft, "to the right")
	assert.Equal(t, "to the right", receiveBody(t, f.outerRight))

	sendBody(t, f.outerRight, "to the left")
	assert.Equal(t, "to the left", receiveBody(t, f.outerLeft))

	assert.True(t, w.Stop())
	assert.Equal(t, 1, metrics.forwardedCount(worker.LeftToRight))
	assert.Equal(t, 1, metrics.forwardedCount(worker.RightToLeft))
}

func TestBridgeWorker_Forward(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t, config.BridgeModeForward)
	metrics := newRecordingMetrics()
	w := f.newWorker(t, metrics)

	require.True(t, w.Start())

	for _, body := range []string{"one", "two", "three"} {
		sendBody(t, f.outerLeft, body)
	}
	assert.Equal(t, "one", receiveBody(t, f.outerRight))
	assert.Equal(t, "two", receiveBody(t, f.outerRight))
	assert.Equal(t, "three", receiveBody(t, f.outerRight))

	sendBody(t, f.outerRight, "ignored")
	assertNothingReceived(t, f.outerLeft, 200*time.Millisecond)

	assert.True(t, w.Stop())
	assert.Equal(t, 3, metrics.forwardedCount(worker.LeftToRight))
	assert.Equal(t, 0, metrics.forwardedCount(worker.RightToLeft))
}

func TestBridgeWorker_Restartable(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t, config.BridgeModeRelay)
	w := f.newWorker(t, nil)

	for i := 0; i < 3; i++ {
		require.True(t, w.Start(), "start %d", i)
		sendBody(t, f.outerLeft, "cycle")
		assert.Equal(t, "cycle", receiveBody(t, f.outerRight))
		require.True(t, w.Stop(), "stop %d", i)
	}
}

func TestBridgeWorker_OpenFailure(t *testing.T) {
	t.Parallel()

	// The bridge binds its own left endpoint and then fails to connect the
	// right one.
	leftName := "bridge-own-" + testutil.RandomString(8)
	cfg := config.BridgeConfig{
		Name:  "broken",
		Left:  inMemory(leftName, true),
		Right: inMemory("bridge-missing-"+testutil.RandomString(8), false),
	}
	w, err := NewBridgeWorker(cfg, mqs.DefaultSettings(), testutil.CreateTestLogger(t), nil)
	require.NoError(t, err)

	assert.False(t, w.Start())
	assert.Equal(t, worker.StateStopped, w.State())
	assert.True(t, w.Stop())

	// The left endpoint was released, so it can be bound again.
	s, err := mqs.Open(context.Background(), inMemory(leftName, true), mqs.DefaultSettings())
	require.NoError(t, err)
	s.Close()
}

func TestBridgeWorker_PeerGone(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t, config.BridgeModeRelay)
	w := f.newWorker(t, nil)
	require.True(t, w.Start())

	require.NoError(t, f.outerLeft.Close())

	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not exit after its peer went away")
	}
	assert.False(t, w.Stop(), "an exit without a stop request is unclean")
}

func TestNewBridgeWorker_InvalidPriority(t *testing.T) {
	t.Parallel()

	cfg := config.BridgeConfig{
		Name:     "urgent",
		Priority: "urgent",
		Left:     inMemory("a", true),
		Right:    inMemory("b", true),
	}
	_, err := NewBridgeWorker(cfg, mqs.DefaultSettings(), testutil.CreateTestLogger(t), nil)
	assert.ErrorIs(t, err, worker.ErrInvalidPriority)
}

func TestBridgeWorker_Priority(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t, config.BridgeModeRelay)
	f.cfg.Priority = "low"
	w := f.newWorker(t, nil)
	assert.Equal(t, worker.PriorityLow, w.Priority())
}
