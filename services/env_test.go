package services

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"livequiz/models"
	"livequiz/notify"
	"livequiz/questions"
	"livequiz/store"
)

const testSecret = "question-secret"

type testEnv struct {
	ctx      context.Context
	bus      *notify.LocalBus
	store    *store.MemoryStore
	clock    *clockwork.FakeClock
	sessions *SessionService
	roster   *RosterService
	quiz     *QuestionService
	scoring  *ScoringService
	bridges  *BridgeFactory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := notify.NewLocalBus()
	t.Cleanup(func() { bus.Close() })
	clock := clockwork.NewFakeClock()
	st := store.NewMemoryStore(bus, clock)

	env := &testEnv{
		ctx:      ctx,
		bus:      bus,
		store:    st,
		clock:    clock,
		sessions: NewSessionService(st, clock),
		roster:   NewRosterService(st),
		quiz:     NewQuestionService(st, testSecret),
		scoring:  NewScoringService(st, clock),
	}
	env.bridges = &BridgeFactory{
		Store:       st,
		Sessions:    env.sessions,
		Roster:      env.roster,
		Questions:   env.quiz,
		Scoring:     env.scoring,
		Clock:       clock,
		RevealDelay: time.Second,
	}
	return env
}

// newGame creates a game hosted by "Host" and joins the other names.
func (e *testEnv) newGame(t *testing.T, set questions.Set, names ...string) (*models.Game, []*models.Player) {
	t.Helper()
	game, host, err := e.sessions.CreateGame(e.ctx, "Host", set)
	require.NoError(t, err)

	players := []*models.Player{host}
	for _, name := range names {
		p, err := e.sessions.JoinGame(e.ctx, game.ID, name)
		require.NoError(t, err)
		players = append(players, p)
	}
	return game, players
}

func shortSet() questions.Set {
	return questions.Set{
		{QuestionText: "Capital of France?", Options: []string{"London", "Berlin", "Paris", "Madrid"}, CorrectAnswer: 2, TimeLimit: 30},
		{QuestionText: "Red planet?", Options: []string{"Venus", "Mars", "Jupiter", "Saturn"}, CorrectAnswer: 1, TimeLimit: 30},
	}
}
