package mqs

import (
	"context"
	"errors"
	"sync"
	"time"

	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/mempubsub"
)

const inMemoryAckDeadline = time.Minute

// inMemoryEndpoint is a bound name: one topic per direction, each with a
// single subscription created up front so nothing sent before the peer
// connects is lost.
type inMemoryEndpoint struct {
	down    *pubsub.Topic // binder to connector
	up      *pubsub.Topic // connector to binder
	downSub *pubsub.Subscription
	upSub   *pubsub.Subscription
	closed  chan struct{}
}

func (e *inMemoryEndpoint) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

var inMemoryEndpoints = struct {
	sync.Mutex
	byName map[string]*inMemoryEndpoint
}{byName: make(map[string]*inMemoryEndpoint)}

func openInMemory(_ context.Context, cfg *InMemoryConfig, settings Settings, opts *openOptions) (*pubsubSocket, error) {
	inMemoryEndpoints.Lock()
	defer inMemoryEndpoints.Unlock()

	endpoint, bound := inMemoryEndpoints.byName[cfg.Name]

	if !cfg.Bind {
		if !bound {
			return nil, ErrNoEndpoint
		}
		s := newPubSubSocket(newBase(InfraInMemory, settings, opts), endpoint.up, endpoint.downSub)
		s.mapErr = endpoint.mapErr
		s.start()
		return s, nil
	}

	if bound {
		return nil, ErrAddressInUse
	}

	endpoint = &inMemoryEndpoint{
		down:   mempubsub.NewTopic(),
		up:     mempubsub.NewTopic(),
		closed: make(chan struct{}),
	}
	endpoint.downSub = mempubsub.NewSubscription(endpoint.down, inMemoryAckDeadline)
	endpoint.upSub = mempubsub.NewSubscription(endpoint.up, inMemoryAckDeadline)
	inMemoryEndpoints.byName[cfg.Name] = endpoint

	s := newPubSubSocket(newBase(InfraInMemory, settings, opts), endpoint.down, endpoint.upSub)
	s.mapErr = endpoint.mapErr
	s.release = func(ctx context.Context) error {
		return unbindInMemory(ctx, cfg.Name, endpoint)
	}
	s.start()
	return s, nil
}

func (e *inMemoryEndpoint) mapErr(err error) error {
	if e.isClosed() {
		return ErrClosed
	}
	return err
}

func unbindInMemory(ctx context.Context, name string, endpoint *inMemoryEndpoint) error {
	inMemoryEndpoints.Lock()
	if inMemoryEndpoints.byName[name] == endpoint {
		delete(inMemoryEndpoints.byName, name)
	}
	inMemoryEndpoints.Unlock()

	close(endpoint.closed)
	return errors.Join(
		endpoint.downSub.Shutdown(ctx),
		endpoint.upSub.Shutdown(ctx),
		endpoint.down.Shutdown(ctx),
		endpoint.up.Shutdown(ctx),
	)
}
