package mqs

import (
	"context"
	"testing"
	"time"

	"github.com/hookdeck/mqbridge/internal/util/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// openInMemoryPair binds a fresh name and connects to it.
func openInMemoryPair(t *testing.T, settings Settings) (bound, connected Socket) {
	t.Helper()

	name := "test-" + testutil.RandomString(8)
	ctx := context.Background()

	bound, err := Open(ctx, SocketConfig{InMemory: &InMemoryConfig{Bind: true, Name: name}}, settings,
		WithSocketID(name+"-bound"))
	require.NoError(t, err)
	t.Cleanup(func() { bound.Close() })

	connected, err = Open(ctx, SocketConfig{InMemory: &InMemoryConfig{Name: name}}, settings,
		WithSocketID(name+"-connected"))
	require.NoError(t, err)
	t.Cleanup(func() { connected.Close() })

	return bound, connected
}

func receiveWithin(t *testing.T, s Socket, timeout time.Duration) *Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	msg, err := s.Receive(ctx)
	require.NoError(t, err)
	return msg
}

func TestInMemory_Exchange(t *testing.T) {
	t.Parallel()

	bound, connected := openInMemoryPair(t, DefaultSettings())
	ctx := context.Background()

	payload := testutil.PayloadFactory.Any()
	sent := NewMessage(payload.Body, payload.Metadata)
	require.NoError(t, bound.Send(ctx, sent))

	got := receiveWithin(t, connected, 5*time.Second)
	got.Ack()
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, sent.Body, got.Body)
	assert.Equal(t, sent.Metadata, got.Metadata)

	reply := NewMessage([]byte("reply"), nil)
	require.NoError(t, connected.Send(ctx, reply))

	got = receiveWithin(t, bound, 5*time.Second)
	got.Ack()
	assert.Equal(t, reply.ID, got.ID)
	assert.Equal(t, []byte("reply"), got.Body)
}

func TestInMemory_Endpoints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	name := "test-" + testutil.RandomString(8)

	_, err := Open(ctx, SocketConfig{InMemory: &InMemoryConfig{Name: name}}, DefaultSettings())
	assert.ErrorIs(t, err, ErrNoEndpoint)

	bound, err := Open(ctx, SocketConfig{InMemory: &InMemoryConfig{Bind: true, Name: name}}, DefaultSettings())
	require.NoError(t, err)

	_, err = Open(ctx, SocketConfig{InMemory: &InMemoryConfig{Bind: true, Name: name}}, DefaultSettings())
	assert.ErrorIs(t, err, ErrAddressInUse)

	require.NoError(t, bound.Close())

	rebound, err := Open(ctx, SocketConfig{InMemory: &InMemoryConfig{Bind: true, Name: name}}, DefaultSettings())
	require.NoError(t, err, "name should be free after close")
	require.NoError(t, rebound.Close())
}

func TestInMemory_Nack(t *testing.T) {
	t.Parallel()

	bound, connected := openInMemoryPair(t, DefaultSettings())
	ctx := context.Background()

	sent := NewMessage([]byte("again"), nil)
	require.NoError(t, bound.Send(ctx, sent))

	first := receiveWithin(t, connected, 5*time.Second)
	first.Nack()

	second := receiveWithin(t, connected, 5*time.Second)
	second.Ack()
	assert.Equal(t, sent.ID, second.ID)
}

func TestInMemory_SizeLimit(t *testing.T) {
	t.Parallel()

	bound, _ := openInMemoryPair(t, Settings{MessageSizeLimit: 16})
	ctx := context.Background()

	oversized := testutil.PayloadFactory.Any(testutil.PayloadFactory.WithSize(17))
	err := bound.Send(ctx, NewMessage(oversized.Body, oversized.Metadata))
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	fits := testutil.PayloadFactory.Any(testutil.PayloadFactory.WithSize(16))
	assert.NoError(t, bound.Send(ctx, NewMessage(fits.Body, fits.Metadata)))
}

func TestInMemory_PeerClose(t *testing.T) {
	t.Parallel()

	bound, connected := openInMemoryPair(t, DefaultSettings())
	require.NoError(t, bound.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := connected.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, bound.Send(ctx, NewMessage(nil, nil)), ErrClosed)
}

func TestInMemory_ReceiveAfterClose(t *testing.T) {
	t.Parallel()

	_, connected := openInMemoryPair(t, DefaultSettings())
	require.NoError(t, connected.Close())
	require.NoError(t, connected.Close(), "close is idempotent")

	_, err := connected.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	_, ok := <-connected.Ready()
	assert.False(t, ok, "ready must be closed")
}

func TestInMemory_CloseHandsBackPending(t *testing.T) {
	t.Parallel()

	bound, connected := openInMemoryPair(t, DefaultSettings())
	ctx := context.Background()

	sent := NewMessage([]byte("unread"), nil)
	require.NoError(t, bound.Send(ctx, sent))
	require.Eventually(t, func() bool { return connected.Pending() > 0 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, connected.Close())

	name := bound.ID()[:len(bound.ID())-len("-bound")]
	again, err := Open(ctx, SocketConfig{InMemory: &InMemoryConfig{Name: name}}, DefaultSettings())
	require.NoError(t, err)
	t.Cleanup(func() { again.Close() })

	got := receiveWithin(t, again, 5*time.Second)
	got.Ack()
	assert.Equal(t, sent.ID, got.ID)
}

func TestInMemory_OversizedInboundDroppedOnce(t *testing.T) {
	t.Parallel()

	name := "test-" + testutil.RandomString(8)
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)

	bound, err := Open(ctx, SocketConfig{InMemory: &InMemoryConfig{Bind: true, Name: name}}, DefaultSettings())
	require.NoError(t, err)
	t.Cleanup(func() { bound.Close() })

	connected, err := Open(ctx, SocketConfig{InMemory: &InMemoryConfig{Name: name}}, Settings{MessageSizeLimit: 16},
		WithLogger(zap.New(core)))
	require.NoError(t, err)
	t.Cleanup(func() { connected.Close() })

	oversized := testutil.PayloadFactory.Any(testutil.PayloadFactory.WithSize(17))
	require.NoError(t, bound.Send(ctx, NewMessage(oversized.Body, nil)))
	require.NoError(t, bound.Send(ctx, NewMessage([]byte("next"), nil)))

	got := receiveWithin(t, connected, 5*time.Second)
	got.Ack()
	assert.Equal(t, "next", string(got.Body))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, logs.FilterMessage("dropping oversized message").Len())
	assert.Zero(t, connected.Pending())
}
