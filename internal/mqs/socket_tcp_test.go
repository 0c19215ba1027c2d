package mqs

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/hookdeck/mqbridge/internal/util/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindTCP(t *testing.T, settings Settings) *tcpSocket {
	t.Helper()
	s, err := Open(context.Background(), SocketConfig{TCP: &TCPConfig{Bind: true, Address: "127.0.0.1:0"}}, settings,
		WithSocketID("bound"), WithLogger(testutil.CreateTestLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.(*tcpSocket)
}

func connectTCP(t *testing.T, address string, settings Settings) *tcpSocket {
	t.Helper()
	s, err := Open(context.Background(), SocketConfig{TCP: &TCPConfig{Address: address}}, settings,
		WithSocketID("connected"), WithLogger(testutil.CreateTestLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.(*tcpSocket)
}

func TestTCP_Exchange(t *testing.T) {
	t.Parallel()

	settings := DefaultSettings()
	settings.ReconnectSeconds = 0

	bound := bindTCP(t, settings)
	connected := connectTCP(t, bound.Addr(), settings)
	ctx := context.Background()

	payloads := testutil.PayloadFactory.Many(20)
	for _, p := range payloads {
		require.NoError(t, connected.Send(ctx, NewMessage(p.Body, p.Metadata)))
	}
	for _, p := range payloads {
		got := receiveWithin(t, bound, 5*time.Second)
		assert.Equal(t, p.Body, got.Body)
		assert.Equal(t, p.Metadata, got.Metadata)
	}

	reply := NewMessage([]byte("reply"), map[string]string{"k": "v"})
	require.NoError(t, bound.Send(ctx, reply))
	got := receiveWithin(t, connected, 5*time.Second)
	assert.Equal(t, reply.ID, got.ID)
	assert.Equal(t, reply.Metadata, got.Metadata)

	assert.Eventually(t, func() bool { return bound.Peers() == 1 && connected.Peers() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestTCP_ConnectRefused(t *testing.T) {
	t.Parallel()

	settings := DefaultSettings()
	settings.ReconnectSeconds = 0

	_, err := Open(context.Background(), SocketConfig{TCP: &TCPConfig{Address: testutil.FreeAddr(t)}}, settings)
	assert.Error(t, err)
}

func TestTCP_BindInUse(t *testing.T) {
	t.Parallel()

	bound := bindTCP(t, DefaultSettings())
	_, err := Open(context.Background(), SocketConfig{TCP: &TCPConfig{Bind: true, Address: bound.Addr()}}, DefaultSettings())
	assert.Error(t, err)
}

func TestTCP_SizeLimit(t *testing.T) {
	t.Parallel()

	settings := Settings{MessageSizeLimit: 32}
	bound := bindTCP(t, settings)
	connected := connectTCP(t, bound.Addr(), settings)
	ctx := context.Background()

	assert.ErrorIs(t, connected.Send(ctx, NewMessage(make([]byte, 33), nil)), ErrMessageTooLarge)

	require.NoError(t, connected.Send(ctx, NewMessage(make([]byte, 32), nil)))
	got := receiveWithin(t, bound, 5*time.Second)
	assert.Len(t, got.Body, 32)
}

func TestTCP_Reconnect(t *testing.T) {
	t.Parallel()

	settings := DefaultSettings()
	settings.ReconnectSeconds = 1

	address := testutil.FreeAddr(t)
	connected := connectTCP(t, address, settings)
	ctx := context.Background()

	// Queued before any peer exists.
	require.NoError(t, connected.Send(ctx, NewMessage([]byte("early"), nil)))

	first, err := Open(ctx, SocketConfig{TCP: &TCPConfig{Bind: true, Address: address}}, settings)
	require.NoError(t, err)

	got := receiveWithin(t, first, 10*time.Second)
	assert.Equal(t, []byte("early"), got.Body)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return connected.Peers() == 0 }, 5*time.Second, 10*time.Millisecond)

	second, err := Open(ctx, SocketConfig{TCP: &TCPConfig{Bind: true, Address: address}}, settings)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	require.NoError(t, connected.Send(ctx, NewMessage([]byte("late"), nil)))
	got = receiveWithin(t, second, 10*time.Second)
	assert.Equal(t, []byte("late"), got.Body)
}

func TestTCP_PeerGoneWithoutReconnect(t *testing.T) {
	t.Parallel()

	settings := DefaultSettings()
	settings.ReconnectSeconds = 0

	bound := bindTCP(t, settings)
	connected := connectTCP(t, bound.Addr(), settings)
	require.NoError(t, bound.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := connected.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTCP_BadGreeting(t *testing.T) {
	t.Parallel()

	bound := bindTCP(t, DefaultSettings())

	conn, err := net.Dial("tcp", bound.Addr())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	kind, payload, err := readFrame(conn, 64)
	require.NoError(t, err)
	assert.Equal(t, frameGreeting, kind)
	assert.Equal(t, greeting, payload)

	require.NoError(t, writeFrame(conn, frameGreeting, []byte("HTTP/1")))

	_, _, err = readFrame(conn, 64)
	assert.Error(t, err, "peer with a bad greeting must be dropped")
	assert.Equal(t, 0, bound.Peers())
}

func TestTCP_HandshakeTimeout(t *testing.T) {
	t.Parallel()

	bound := bindTCP(t, Settings{HandshakeSeconds: 1})

	conn, err := net.Dial("tcp", bound.Addr())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	r := bufio.NewReader(conn)
	_, _, err = readFrame(r, 64)
	require.NoError(t, err)

	// Never answer the greeting.
	start := time.Now()
	_, _, err = readFrame(r, 64)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestTCP_InactivityDropsSilentPeer(t *testing.T) {
	t.Parallel()

	bound := bindTCP(t, Settings{HandshakeSeconds: 5, HeartbeatSeconds: 1, InactivitySeconds: 2})

	conn, err := net.Dial("tcp", bound.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = readFrame(conn, 64)
	require.NoError(t, err)
	require.NoError(t, writeFrame(conn, frameGreeting, greeting))
	require.Eventually(t, func() bool { return bound.Peers() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Pings arrive but are never answered.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	kind, _, err := readFrame(conn, 64)
	require.NoError(t, err)
	assert.Equal(t, framePing, kind)

	assert.Eventually(t, func() bool { return bound.Peers() == 0 }, 5*time.Second, 50*time.Millisecond)
}

func TestTCP_HeartbeatKeepsPeerAlive(t *testing.T) {
	t.Parallel()

	settings := Settings{HandshakeSeconds: 5, HeartbeatSeconds: 1, InactivitySeconds: 2}
	bound := bindTCP(t, settings)
	connected := connectTCP(t, bound.Addr(), settings)

	require.Eventually(t, func() bool { return bound.Peers() == 1 && connected.Peers() == 1 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(3 * time.Second)
	assert.Equal(t, 1, bound.Peers())
	assert.Equal(t, 1, connected.Peers())

	require.NoError(t, connected.Send(context.Background(), NewMessage([]byte("still here"), nil)))
	got := receiveWithin(t, bound, 5*time.Second)
	assert.Equal(t, []byte("still here"), got.Body)
}

func TestTCP_SendAfterClose(t *testing.T) {
	t.Parallel()

	bound := bindTCP(t, DefaultSettings())
	require.NoError(t, bound.Close())
	assert.ErrorIs(t, bound.Send(context.Background(), NewMessage(nil, nil)), ErrClosed)

	_, err := bound.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
