package testutils

import (
	"context"
	"sync"

	"github.com/datapipelabs/changegate/transport"
)

// FakeSubscriber records every payload it receives. SendErr makes every
// send fail, Block makes sends hang until their context expires.
type FakeSubscriber struct {
	SubID   string
	SendErr error
	Block   bool

	lock     sync.Mutex
	payloads [][]byte
}

var _ transport.Subscriber = (*FakeSubscriber)(nil)

func (s *FakeSubscriber) ID() string {
	return s.SubID
}

func (s *FakeSubscriber) Send(ctx context.Context, payload []byte) error {
	if s.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.SendErr != nil {
		return s.SendErr
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	return nil
}

func (s *FakeSubscriber) Payloads() [][]byte {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([][]byte(nil), s.payloads...)
}

// FakeRegistry is a fixed subscriber set with eviction recording.
type FakeRegistry struct {
	lock        sync.Mutex
	subscribers []transport.Subscriber
	evicted     []string
}

var _ transport.Registry = (*FakeRegistry)(nil)
var _ transport.Evictor = (*FakeRegistry)(nil)

func NewFakeRegistry(subscribers ...transport.Subscriber) *FakeRegistry {
	return &FakeRegistry{subscribers: subscribers}
}

func (r *FakeRegistry) Subscribers() []transport.Subscriber {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]transport.Subscriber(nil), r.subscribers...)
}

func (r *FakeRegistry) Evict(id string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.evicted = append(r.evicted, id)

	var remaining []transport.Subscriber
	for _, subscriber := range r.subscribers {
		if subscriber.ID() != id {
			remaining = append(remaining, subscriber)
		}
	}
	r.subscribers = remaining
}

func (r *FakeRegistry) Evicted() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.evicted...)
}
