package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBus publishes changes on Redis pub/sub channels named after the topic.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	if err := b.client.Publish(ctx, change.Topic().String(), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topic Topic) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topic.String())
	// Wait for the subscription to be confirmed so no change is missed after
	// Subscribe returns.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &redisSub{ps: ps, ch: make(chan Change, subBuffer)}
	go sub.run(topic)
	return sub, nil
}

// Close closes the client the bus was built on.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Change
	once sync.Once
}

// run pumps the pub/sub channel until it is closed. The first subscribe
// confirmation is consumed by Subscribe, so any later one means go-redis
// reconnected and resubscribed, and changes may have been lost meanwhile.
func (s *redisSub) run(topic Topic) {
	defer close(s.ch)
	for v := range s.ps.ChannelWithSubscriptions() {
		s.handle(topic, v)
	}
}

func (s *redisSub) handle(topic Topic, v interface{}) {
	var change Change
	switch m := v.(type) {
	case *redis.Message:
		if err := json.Unmarshal([]byte(m.Payload), &change); err != nil {
			log.Error().Err(err).Str("channel", m.Channel).Msg("dropping malformed change")
			return
		}
	case *redis.Subscription:
		if m.Kind != "subscribe" {
			return
		}
		log.Info().Str("channel", m.Channel).Msg("redis resubscribed, resyncing")
		change = Change{Collection: topic.Collection, Op: OpResync, GameID: topic.GameID}
	default:
		return
	}

	select {
	case s.ch <- change:
	default:
		log.Debug().Str("topic", topic.String()).Msg("subscriber busy, change coalesced")
	}
}

func (s *redisSub) C() <-chan Change { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}
