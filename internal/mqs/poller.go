package mqs

import (
	"context"
	"reflect"
	"time"
)

// Signaled is the set of socket ids with pending messages.
type Signaled map[string]struct{}

func (s Signaled) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Poller waits for any of a set of sockets to have a message ready.
type Poller struct {
	sockets []Socket
}

func NewPoller(sockets ...Socket) *Poller {
	p := &Poller{}
	for _, s := range sockets {
		p.Add(s)
	}
	return p
}

func (p *Poller) Add(socket Socket) {
	p.sockets = append(p.sockets, socket)
}

// Wait blocks until at least one socket has a message pending, the timeout
// elapses or ctx is done. A timeout of 0 waits without limit. On timeout the
// returned set is empty. Once a polled socket is closed and drained Wait
// returns ErrClosed.
func (p *Poller) Wait(ctx context.Context, timeout time.Duration) (Signaled, error) {
	if signaled := p.pending(); len(signaled) > 0 {
		return signaled, nil
	}

	cases := make([]reflect.SelectCase, 0, len(p.sockets)+2)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})

	var timer *time.Timer
	timerIndex := -1
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timerIndex = len(cases)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timer.C)})
	}

	for _, s := range p.sockets {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(s.Ready())})
	}

	for {
		chosen, _, recvOK := reflect.Select(cases)
		switch {
		case chosen == 0:
			return nil, ctx.Err()
		case chosen == timerIndex:
			return Signaled{}, nil
		}

		signaled := p.pending()
		if len(signaled) > 0 {
			return signaled, nil
		}
		if !recvOK {
			return nil, ErrClosed
		}
		// Stale token: the message was taken by a direct Receive.
	}
}

func (p *Poller) pending() Signaled {
	var signaled Signaled
	for _, s := range p.sockets {
		if s.Pending() > 0 {
			if signaled == nil {
				signaled = make(Signaled, len(p.sockets))
			}
			signaled[s.ID()] = struct{}{}
		}
	}
	return signaled
}
