package notify

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNATSServer(t *testing.T, port int) *server.Server {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = port
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s
}

func newNATSBus(t *testing.T, url string) (*NATSBus, *nats.Conn) {
	t.Helper()
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(10*time.Millisecond),
	)
	require.NoError(t, err)
	bus := NewNATSBus(nc)
	t.Cleanup(func() { _ = bus.Close() })
	return bus, nc
}

func TestNATSBus(t *testing.T) {
	s := runNATSServer(t, -1)
	bus, nc := newNATSBus(t, s.ClientURL())

	testRemoteBus(t, bus, func(topic Topic, payload string) {
		require.NoError(t, nc.Publish(subject(topic), []byte(payload)))
	})
}

func TestNATSSubject(t *testing.T) {
	assert.Equal(t, "livequiz.games.111111", subject(GameTopic("111111")))
	assert.Equal(t, "livequiz.questions.111111", subject(QuestionsTopic("111111")))
}

func TestNATSBusResync(t *testing.T) {
	s := runNATSServer(t, -1)
	bus, _ := newNATSBus(t, s.ClientURL())
	ctx := context.Background()

	games, err := bus.Subscribe(ctx, GameTopic("111111"))
	require.NoError(t, err)
	defer games.Close()
	players, err := bus.Subscribe(ctx, PlayersTopic("111111"))
	require.NoError(t, err)
	require.NoError(t, players.Close())

	bus.Resync()

	assert.Equal(t, Change{Collection: Games, Op: OpResync, GameID: "111111"}, receive(t, games))
	waitClosed(t, players)
	assertQuiet(t, games)
	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Len(t, bus.subs, 1, "closed subscriptions are forgotten")
}

func TestNATSBusResyncsAfterReconnect(t *testing.T) {
	s := runNATSServer(t, -1)
	port := s.Addr().(*net.TCPAddr).Port
	bus, nc := newNATSBus(t, s.ClientURL())

	sub, err := bus.Subscribe(context.Background(), PlayersTopic("111111"))
	require.NoError(t, err)
	defer sub.Close()

	s.Shutdown()
	s.WaitForShutdown()
	runNATSServer(t, port)

	assert.Equal(t, Change{Collection: Players, Op: OpResync, GameID: "111111"}, receive(t, sub))
	assert.True(t, nc.IsConnected())
}

func TestNATSSubHandleAfterClose(t *testing.T) {
	sub := &natsSub{ch: make(chan Change, 1)}
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	assert.NotPanics(t, func() {
		sub.handle(&nats.Msg{Subject: "livequiz.games.111111", Data: []byte(`{"collection":"games","game_id":"111111"}`)})
		sub.offer(Change{Collection: Games, Op: OpResync, GameID: "111111"})
	})
	_, open := <-sub.C()
	assert.False(t, open)
}
