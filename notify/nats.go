package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const natsSubjectPrefix = "livequiz"

// NATSBus publishes changes on core NATS subjects
// "livequiz.<collection>.<game id>".
type NATSBus struct {
	nc *nats.Conn

	mu   sync.Mutex
	subs map[*natsSub]Topic
}

// NewNATSBus takes over nc's reconnect handler: every reconnect sends an
// OpResync change to the open subscriptions.
func NewNATSBus(nc *nats.Conn) *NATSBus {
	b := &NATSBus{nc: nc, subs: make(map[*natsSub]Topic)}
	nc.SetReconnectHandler(func(nc *nats.Conn) {
		log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected, resyncing")
		b.Resync()
	})
	return b
}

func subject(topic Topic) string {
	return fmt.Sprintf("%s.%s.%s", natsSubjectPrefix, topic.Collection, topic.GameID)
}

func (b *NATSBus) Publish(_ context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	if err := b.nc.Publish(subject(change.Topic()), data); err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(_ context.Context, topic Topic) (Subscription, error) {
	sub := &natsSub{bus: b, ch: make(chan Change, subBuffer)}
	ns, err := b.nc.Subscribe(subject(topic), sub.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe to NATS: %w", err)
	}
	// Flush so the server has registered interest before we return.
	if err := b.nc.Flush(); err != nil {
		_ = ns.Unsubscribe()
		return nil, fmt.Errorf("flush NATS subscription: %w", err)
	}
	sub.ns = ns

	b.mu.Lock()
	b.subs[sub] = topic
	b.mu.Unlock()
	return sub, nil
}

// Resync sends an OpResync change to every open subscription.
func (b *NATSBus) Resync() {
	b.mu.Lock()
	subs := make(map[*natsSub]Topic, len(b.subs))
	for sub, topic := range b.subs {
		subs[sub] = topic
	}
	b.mu.Unlock()

	for sub, topic := range subs {
		sub.offer(Change{Collection: topic.Collection, Op: OpResync, GameID: topic.GameID})
	}
}

func (b *NATSBus) forget(sub *natsSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

func (b *NATSBus) Close() error {
	b.nc.Close()
	return nil
}

type natsSub struct {
	bus    *NATSBus
	ns     *nats.Subscription
	mu     sync.Mutex
	ch     chan Change
	closed bool
}

func (s *natsSub) handle(msg *nats.Msg) {
	var change Change
	if err := json.Unmarshal(msg.Data, &change); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("dropping malformed change")
		return
	}
	s.offer(change)
}

func (s *natsSub) offer(change Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- change:
	default:
	}
}

func (s *natsSub) C() <-chan Change { return s.ch }

func (s *natsSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	if s.bus != nil {
		s.bus.forget(s)
	}
	if s.ns == nil {
		return nil
	}
	return s.ns.Unsubscribe()
}
