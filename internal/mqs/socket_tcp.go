package mqs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	frameGreeting byte = iota + 1
	frameData
	framePing
	framePong
)

const (
	frameHeaderSize = 5
	// Room for the envelope around a body of MessageSizeLimit bytes.
	frameOverhead     = 64 << 10
	maxUnlimitedFrame = 1 << 28
)

var greeting = []byte("MQB/1")

var errProtocol = errors.New("tcp protocol violation")

// tcpSocket either listens and serves any number of peers, or dials a single
// peer. Queued messages are written by whichever peer writer takes them
// first, so sends are spread across connected peers.
type tcpSocket struct {
	*base
	cfg      *TCPConfig
	listener net.Listener
	outbound chan *Message
	peers    atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	group     errgroup.Group
	closeOnce sync.Once
}

func openTCP(ctx context.Context, cfg *TCPConfig, settings Settings, opts *openOptions) (*tcpSocket, error) {
	s := &tcpSocket{
		base:     newBase(InfraTCP, settings, opts),
		cfg:      cfg,
		outbound: make(chan *Message, settings.SendCapacity()),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if cfg.Bind {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", cfg.Address)
		if err != nil {
			s.cancel()
			return nil, err
		}
		s.listener = ln
		s.group.Go(s.acceptLoop)
		return s, nil
	}

	if settings.ReconnectSeconds == 0 {
		conn, err := s.dial(ctx)
		if err != nil {
			s.cancel()
			return nil, err
		}
		s.group.Go(func() error {
			s.servePeer(conn)
			// Without reconnect the socket is done once its only peer is.
			s.shutdown()
			return nil
		})
		return s, nil
	}

	s.group.Go(s.dialLoop)
	return s, nil
}

// Addr is the listening address in bind mode, the remote address otherwise.
func (s *tcpSocket) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Address
}

// Peers returns the number of peers past the greeting.
func (s *tcpSocket) Peers() int {
	return int(s.peers.Load())
}

// Send queues msg for the next available peer. It blocks while the queue is
// at its high-water mark.
func (s *tcpSocket) Send(ctx context.Context, msg *Message) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	if err := s.settings.CheckSize(len(msg.Body)); err != nil {
		return err
	}

	ctx, cancel := s.sendContext(ctx)
	defer cancel()

	select {
	case s.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ErrClosed
	}
}

func (s *tcpSocket) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.group.Wait()
		s.shutdown()

		if dropped := len(s.outbound); dropped > 0 {
			s.logger.Warn("closing socket with unsent messages", s.fields(zap.Int("dropped", dropped))...)
		}
	})
	return nil
}

func (s *tcpSocket) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("accept failed", s.fields(zap.Error(err))...)
			select {
			case <-s.ctx.Done():
				return nil
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		s.group.Go(func() error {
			if err := s.handshake(conn); err != nil {
				s.logger.Warn("peer handshake failed",
					s.fields(zap.String("peer", conn.RemoteAddr().String()), zap.Error(err))...)
				conn.Close()
				return nil
			}
			s.servePeer(conn)
			return nil
		})
	}
}

func (s *tcpSocket) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: s.settings.HandshakeTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return nil, err
	}
	if err := s.handshake(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// dialLoop keeps one peer connected, redialing with backoff.
func (s *tcpSocket) dialLoop() error {
	bo := s.retryBackoff()
	retries := 0

	for {
		conn, err := s.dial(s.ctx)
		if err == nil {
			retries = 0
			s.servePeer(conn)
		} else {
			if s.ctx.Err() != nil {
				return nil
			}
			s.logger.Debug("dial failed", s.fields(zap.String("address", s.cfg.Address), zap.Error(err))...)
		}

		delay := bo.Duration(retries)
		retries++
		select {
		case <-s.ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// handshake exchanges greetings within the handshake deadline.
func (s *tcpSocket) handshake(conn net.Conn) error {
	if timeout := s.settings.HandshakeTimeout(); timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
		defer conn.SetDeadline(time.Time{})
	}

	if err := writeFrame(conn, frameGreeting, greeting); err != nil {
		return err
	}
	// Unbuffered so no bytes past the greeting are consumed here.
	kind, payload, err := readFrame(conn, len(greeting))
	if err != nil {
		return err
	}
	if kind != frameGreeting || !bytes.Equal(payload, greeting) {
		return fmt.Errorf("%w: unexpected greeting", errProtocol)
	}
	return nil
}

// servePeer runs the reader and writer of one connection until either fails
// or the socket closes.
func (s *tcpSocket) servePeer(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.peers.Add(1)
	defer s.peers.Add(-1)
	s.logger.Debug("peer connected", s.fields(zap.String("peer", remote))...)

	ctx, cancel := context.WithCancel(s.ctx)
	pongs := make(chan struct{}, 1)

	var g errgroup.Group
	g.Go(func() error {
		<-ctx.Done()
		conn.Close()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return s.readLoop(ctx, conn, pongs)
	})
	g.Go(func() error {
		defer cancel()
		return s.writeLoop(ctx, conn, pongs)
	})

	if err := g.Wait(); err != nil && s.ctx.Err() == nil {
		s.logger.Info("peer disconnected", s.fields(zap.String("peer", remote), zap.Error(err))...)
	}
}

func (s *tcpSocket) maxFrame() int {
	if s.settings.MessageSizeLimit == 0 {
		return maxUnlimitedFrame
	}
	return int(s.settings.MessageSizeLimit) + frameOverhead
}

func (s *tcpSocket) readLoop(ctx context.Context, conn net.Conn, pongs chan<- struct{}) error {
	r := bufio.NewReader(conn)
	inactivity := s.settings.InactivityTimeout()

	for {
		if inactivity > 0 {
			conn.SetReadDeadline(time.Now().Add(inactivity))
		}
		kind, payload, err := readFrame(r, s.maxFrame())
		if err != nil {
			return err
		}

		switch kind {
		case frameData:
			msg, err := decodeMessage(payload)
			if err != nil {
				return err
			}
			if err := s.settings.CheckSize(len(msg.Body)); err != nil {
				return err
			}
			if err := s.deliver(ctx, msg); err != nil {
				return err
			}
		case framePing:
			select {
			case pongs <- struct{}{}:
			default:
			}
		case framePong:
		default:
			return fmt.Errorf("%w: unexpected frame type %d", errProtocol, kind)
		}
	}
}

func (s *tcpSocket) writeLoop(ctx context.Context, conn net.Conn, pongs <-chan struct{}) error {
	var heartbeat <-chan time.Time
	if interval := s.settings.HeartbeatInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pongs:
			if err := s.write(conn, framePong, nil); err != nil {
				return err
			}
		case <-heartbeat:
			if err := s.write(conn, framePing, nil); err != nil {
				return err
			}
		case msg := <-s.outbound:
			payload, err := encodeMessage(msg)
			if err != nil {
				s.logger.Error("dropping unencodable message", s.fields(zap.String("message_id", msg.ID), zap.Error(err))...)
				continue
			}
			if err := s.write(conn, frameData, payload); err != nil {
				s.requeue(msg)
				return err
			}
		}
	}
}

// requeue hands a message back to the other peers after a failed write.
func (s *tcpSocket) requeue(msg *Message) {
	select {
	case s.outbound <- msg:
	default:
		s.logger.Warn("send queue full, dropping message", s.fields(zap.String("message_id", msg.ID))...)
	}
}

func (s *tcpSocket) write(conn net.Conn, kind byte, payload []byte) error {
	if timeout := s.settings.SendTimeout(); timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return writeFrame(conn, kind, payload)
}

func writeFrame(w io.Writer, kind byte, payload []byte) error {
	buf := make([]byte, frameHeaderSize+len(payload))
	buf[0] = kind
	binary.BigEndian.PutUint32(buf[1:frameHeaderSize], uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader, limit int) (byte, []byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if int64(n) > int64(limit) {
		return 0, nil, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrMessageTooLarge, n, limit)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return hdr[0], payload, nil
}
