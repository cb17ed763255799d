package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livequiz/models"
	"livequiz/questions"
	"livequiz/store"
)

func TestCreateGame(t *testing.T) {
	env := newTestEnv(t)

	game, host, err := env.sessions.CreateGame(env.ctx, "  Ada ", questions.Sample())
	require.NoError(t, err)
	assert.Regexp(t, `^[1-9][0-9]{5}$`, game.ID)
	assert.Equal(t, models.GameStatusWaiting, game.Status)
	assert.Equal(t, 0, game.CurrentQuestion)
	assert.Equal(t, "Ada", host.Name)
	assert.Equal(t, game.ID, host.GameID)

	qs, err := env.quiz.LoadQuestions(env.ctx, game.ID)
	require.NoError(t, err)
	require.Len(t, qs, 4)
	for i, q := range qs {
		assert.Equal(t, i, q.OrderIndex)
		assert.Equal(t, game.ID, q.GameID)
	}
	assert.Equal(t, "What is the capital of France?", qs[0].QuestionText)

	isHost, err := env.sessions.IsHost(env.ctx, game.ID, host.ID)
	require.NoError(t, err)
	assert.True(t, isHost)
}

func TestCreateGameRejectsInput(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.sessions.CreateGame(env.ctx, " ", questions.Sample())
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = env.sessions.CreateGame(env.ctx, "Ada", questions.Set{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, questions.ErrInvalid)
}

func TestCreateGameRetriesTakenCode(t *testing.T) {
	env := newTestEnv(t)
	codes := []string{"111111", "111111", "222222"}
	env.sessions.newCode = func() string {
		code := codes[0]
		codes = codes[1:]
		return code
	}

	first, _, err := env.sessions.CreateGame(env.ctx, "Ada", shortSet())
	require.NoError(t, err)
	second, _, err := env.sessions.CreateGame(env.ctx, "Bea", shortSet())
	require.NoError(t, err)

	assert.Equal(t, "111111", first.ID)
	assert.Equal(t, "222222", second.ID)
}

func TestCreateGameReportsStage(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.newCode = func() string { return "111111" }
	_, _, err := env.sessions.CreateGame(env.ctx, "Ada", shortSet())
	require.NoError(t, err)

	_, _, err = env.sessions.CreateGame(env.ctx, "Bea", shortSet())
	var createErr *SessionCreateError
	require.ErrorAs(t, err, &createErr)
	assert.Equal(t, "game", createErr.Stage)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, store.ErrConflict)

	broken := &failingStore{Store: env.store, insertPlayer: errors.New("connection reset")}
	sessions := NewSessionService(broken, env.clock)
	_, _, err = sessions.CreateGame(env.ctx, "Cy", shortSet())
	require.ErrorAs(t, err, &createErr)
	assert.Equal(t, "host", createErr.Stage)
	assert.Contains(t, err.Error(), "connection reset")
}

type failingStore struct {
	store.Store
	insertPlayer error
}

func (s *failingStore) InsertPlayer(ctx context.Context, p *models.Player) error {
	if s.insertPlayer != nil {
		return s.insertPlayer
	}
	return s.Store.InsertPlayer(ctx, p)
}

func TestJoinGame(t *testing.T) {
	env := newTestEnv(t)
	game, _ := env.newGame(t, shortSet())

	p, err := env.sessions.JoinGame(env.ctx, game.ID, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, 0, p.Score)

	_, err = env.sessions.JoinGame(env.ctx, game.ID, "Alice")
	assert.ErrorIs(t, err, ErrNameTaken)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = env.sessions.JoinGame(env.ctx, "000000", "Bob")
	assert.ErrorIs(t, err, ErrGameNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.sessions.JoinGame(env.ctx, game.ID, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	isHost, err := env.sessions.IsHost(env.ctx, game.ID, p.ID)
	require.NoError(t, err)
	assert.False(t, isHost)
}

func TestJoinActiveGameButNotFinished(t *testing.T) {
	env := newTestEnv(t)
	game, players := env.newGame(t, shortSet()[:1])

	_, err := env.sessions.StartGame(env.ctx, game.ID, players[0].ID)
	require.NoError(t, err)
	_, err = env.sessions.JoinGame(env.ctx, game.ID, "Late")
	require.NoError(t, err)

	_, err = env.sessions.AdvanceQuestion(env.ctx, game.ID)
	require.NoError(t, err)
	_, err = env.sessions.JoinGame(env.ctx, game.ID, "Later")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStartGame(t *testing.T) {
	env := newTestEnv(t)
	game, players := env.newGame(t, shortSet(), "Alice")

	_, err := env.sessions.StartGame(env.ctx, game.ID, players[1].ID)
	assert.ErrorIs(t, err, ErrNotHost)

	started, err := env.sessions.StartGame(env.ctx, game.ID, players[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusActive, started.Status)
	assert.Equal(t, 0, started.CurrentQuestion)

	_, err = env.sessions.StartGame(env.ctx, game.ID, players[0].ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = env.sessions.StartGame(env.ctx, "000000", players[0].ID)
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestAdvanceQuestionToFinish(t *testing.T) {
	env := newTestEnv(t)
	game, players := env.newGame(t, shortSet())

	_, err := env.sessions.AdvanceQuestion(env.ctx, game.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = env.sessions.StartGame(env.ctx, game.ID, players[0].ID)
	require.NoError(t, err)

	next, err := env.sessions.AdvanceQuestion(env.ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusActive, next.Status)
	assert.Equal(t, 1, next.CurrentQuestion)

	done, err := env.sessions.AdvanceQuestion(env.ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusFinished, done.Status)
	assert.Equal(t, 1, done.CurrentQuestion)

	_, err = env.sessions.AdvanceQuestion(env.ctx, game.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAdvanceFromIgnoresStaleIndex(t *testing.T) {
	env := newTestEnv(t)
	game, players := env.newGame(t, questions.Sample())
	_, err := env.sessions.StartGame(env.ctx, game.ID, players[0].ID)
	require.NoError(t, err)

	// Two clients racing to leave question 0 move the game only once.
	first, err := env.sessions.AdvanceFrom(env.ctx, game.ID, 0)
	require.NoError(t, err)
	second, err := env.sessions.AdvanceFrom(env.ctx, game.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, first.CurrentQuestion)
	assert.Equal(t, 1, second.CurrentQuestion)

	stored, err := env.sessions.GetGame(env.ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentQuestion)
}
