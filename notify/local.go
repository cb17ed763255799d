package notify

import (
	"context"
	"errors"
	"sync"
)

var ErrBusClosed = errors.New("notification bus closed")

// LocalBus is an in-process pub/sub keyed by topic. Remote buses use it to
// fan incoming messages out to the subscribers of this process.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[Topic]map[*localSub]struct{}
	closed bool
}

type localSub struct {
	bus   *LocalBus
	topic Topic
	ch    chan Change
	once  sync.Once
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		subs: make(map[Topic]map[*localSub]struct{}),
	}
}

func (b *LocalBus) Subscribe(_ context.Context, topic Topic) (Subscription, error) {
	sub := &localSub{bus: b, topic: topic, ch: make(chan Change, subBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*localSub]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	return sub, nil
}

// Publish delivers change to every subscriber of its topic without blocking.
func (b *LocalBus) Publish(_ context.Context, change Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for sub := range b.subs[change.Topic()] {
		sub.offer(change)
	}
	return nil
}

// Resync sends an OpResync change to every open subscription.
func (b *LocalBus) Resync() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for topic, subs := range b.subs {
		for sub := range subs {
			sub.offer(Change{Collection: topic.Collection, Op: OpResync, GameID: topic.GameID})
		}
	}
}

// Subscribers returns the number of open subscriptions on topic.
func (b *LocalBus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for sub := range subs {
			close(sub.ch)
		}
	}
	b.subs = nil
	return nil
}

func (b *LocalBus) remove(sub *localSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if _, ok := b.subs[sub.topic][sub]; !ok {
		return
	}
	delete(b.subs[sub.topic], sub)
	if len(b.subs[sub.topic]) == 0 {
		delete(b.subs, sub.topic)
	}
	close(sub.ch)
}

func (s *localSub) offer(change Change) {
	select {
	case s.ch <- change:
	default:
		// Drop if subscriber is slow; it still has a queued change.
	}
}

func (s *localSub) C() <-chan Change { return s.ch }

func (s *localSub) Close() error {
	s.once.Do(func() { s.bus.remove(s) })
	return nil
}
