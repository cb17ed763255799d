package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	deliveryTimeout = 5 * time.Second
	quietPeriod     = 100 * time.Millisecond
)

func receive(t *testing.T, sub Subscription) Change {
	t.Helper()
	select {
	case c, ok := <-sub.C():
		require.True(t, ok, "subscription closed while waiting for a change")
		return c
	case <-time.After(deliveryTimeout):
		t.Fatal("timed out waiting for a change")
		return Change{}
	}
}

func assertQuiet(t *testing.T, subs ...Subscription) {
	t.Helper()
	time.Sleep(quietPeriod)
	for _, sub := range subs {
		select {
		case c := <-sub.C():
			t.Errorf("unexpected change %+v", c)
		default:
		}
	}
}

func waitClosed(t *testing.T, sub Subscription) {
	t.Helper()
	timeout := time.After(deliveryTimeout)
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("subscription channel was not closed")
		}
	}
}

// testRemoteBus checks routing, malformed payloads and subscription close
// for a bus backed by a server. raw publishes payload on the wire channel
// of topic, bypassing the bus.
func testRemoteBus(t *testing.T, bus Bus, raw func(topic Topic, payload string)) {
	ctx := context.Background()

	games, err := bus.Subscribe(ctx, GameTopic("111111"))
	require.NoError(t, err)
	players, err := bus.Subscribe(ctx, PlayersTopic("111111"))
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, GameTopic("222222"))
	require.NoError(t, err)

	t.Run("delivers to its topic only", func(t *testing.T) {
		require.NoError(t, bus.Publish(ctx, Change{Collection: Games, Op: OpUpdate, GameID: "111111", RowID: "111111"}))

		c := receive(t, games)
		assert.Equal(t, Games, c.Collection)
		assert.Equal(t, OpUpdate, c.Op)
		assert.Equal(t, "111111", c.RowID)
		assertQuiet(t, games, players, other)
	})

	t.Run("drops malformed payloads", func(t *testing.T) {
		raw(PlayersTopic("111111"), "{not json")
		require.NoError(t, bus.Publish(ctx, Change{Collection: Players, Op: OpInsert, GameID: "111111", RowID: "p1"}))

		c := receive(t, players)
		assert.Equal(t, "p1", c.RowID, "the malformed message must not surface")
		assertQuiet(t, games, players, other)
	})

	t.Run("closes the channel on Close", func(t *testing.T) {
		require.NoError(t, other.Close())
		require.NoError(t, other.Close())
		waitClosed(t, other)

		// The remaining subscriptions keep working.
		require.NoError(t, bus.Publish(ctx, Change{Collection: Games, Op: OpUpdate, GameID: "111111"}))
		receive(t, games)
	})

	require.NoError(t, games.Close())
	require.NoError(t, players.Close())
	waitClosed(t, games)
	waitClosed(t, players)
}
