package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livequiz/models"
	"livequiz/notify"
	"livequiz/questions"
)

const waitTimeout = 5 * time.Second

type runningBridge struct {
	*Bridge
	errc   chan error
	cancel context.CancelFunc
}

func startBridge(t *testing.T, env *testEnv, gameID, playerID string) *runningBridge {
	t.Helper()
	ctx, cancel := context.WithCancel(env.ctx)
	rb := &runningBridge{
		Bridge: env.bridges.NewBridge(gameID, playerID),
		errc:   make(chan error, 1),
		cancel: cancel,
	}
	go func() { rb.errc <- rb.Run(ctx) }()
	t.Cleanup(cancel)
	return rb
}

// waitFor reads snapshots until one satisfies cond.
func waitFor(t *testing.T, b *runningBridge, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(waitTimeout)
	var last Snapshot
	for {
		select {
		case snap, ok := <-b.Updates():
			if !ok {
				t.Fatalf("bridge closed while waiting for %s; last snapshot %+v", what, last)
			}
			last = snap
			if cond(snap) {
				return snap
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s; last snapshot %+v", what, last)
		}
	}
}

func waitDone(t *testing.T, b *runningBridge) error {
	t.Helper()
	select {
	case err := <-b.errc:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("bridge did not stop")
		return nil
	}
}

func onQuestion(index int) func(Snapshot) bool {
	return func(s Snapshot) bool {
		return s.Status == models.GameStatusActive && s.CurrentQuestionIndex == index &&
			s.Question != nil && s.Question.OrderIndex == index && !s.AnswerSubmitted
	}
}

func TestBridgeFullGame(t *testing.T) {
	env := newTestEnv(t)
	game, players := env.newGame(t, shortSet(), "Alice", "Bob")
	host, alice, bob := players[0], players[1], players[2]

	hb := startBridge(t, env, game.ID, host.ID)
	ab := startBridge(t, env, game.ID, alice.ID)
	bb := startBridge(t, env, game.ID, bob.ID)
	all := []*runningBridge{hb, ab, bb}

	for _, b := range all {
		snap := waitFor(t, b, "lobby", func(s Snapshot) bool {
			return s.Status == models.GameStatusWaiting && len(s.Leaderboard) == 3
		})
		assert.Nil(t, snap.Question)
	}

	require.NoError(t, ab.Start(env.ctx))
	snap := waitFor(t, ab, "start refusal", func(s Snapshot) bool { return s.LastError != "" })
	assert.Equal(t, ErrNotHost.Error(), snap.LastError)

	require.NoError(t, hb.Start(env.ctx))
	for _, b := range all {
		snap := waitFor(t, b, "question 0", onQuestion(0))
		assert.Equal(t, 30, snap.TimeLeft)
		assert.Nil(t, snap.Question.CorrectAnswer)
	}

	// Question 0: Alice right straight away, Bob and the host wrong.
	require.NoError(t, ab.SubmitAnswer(env.ctx, 2))
	snap = waitFor(t, ab, "alice scored", func(s Snapshot) bool { return s.AnswerSubmitted })
	assert.Equal(t, 400, snap.PointsEarned)
	require.NotNil(t, snap.Question.CorrectAnswer)
	assert.Equal(t, 2, *snap.Question.CorrectAnswer)
	assert.False(t, snap.RevealPending)

	require.NoError(t, bb.SubmitAnswer(env.ctx, 0))
	snap = waitFor(t, bb, "bob answered", func(s Snapshot) bool { return s.AnswerSubmitted })
	assert.Equal(t, 0, snap.PointsEarned)

	require.NoError(t, hb.SubmitAnswer(env.ctx, 1))
	snap = waitFor(t, hb, "reveal armed", func(s Snapshot) bool { return s.AnswerSubmitted && s.RevealPending })
	assert.Equal(t, 0, snap.PointsEarned)

	env.clock.Advance(time.Second)
	for _, b := range all {
		waitFor(t, b, "question 1", onQuestion(1))
	}

	// Question 1: same again, so the game finishes after the reveal.
	require.NoError(t, ab.SubmitAnswer(env.ctx, 1))
	waitFor(t, ab, "alice scored again", func(s Snapshot) bool { return s.AnswerSubmitted && s.PointsEarned > 0 })
	require.NoError(t, bb.SubmitAnswer(env.ctx, 3))
	waitFor(t, bb, "bob answered again", func(s Snapshot) bool { return s.AnswerSubmitted })
	require.NoError(t, hb.SubmitAnswer(env.ctx, 0))
	waitFor(t, hb, "second reveal armed", func(s Snapshot) bool { return s.RevealPending })

	env.clock.Advance(time.Second)
	for _, b := range all {
		final := waitFor(t, b, "finished", func(s Snapshot) bool { return s.Status == models.GameStatusFinished })
		require.Len(t, final.Leaderboard, 3)
		assert.Equal(t, "Alice", final.Leaderboard[0].Name)
		assert.Equal(t, 1, final.Leaderboard[0].Rank)
		assert.Equal(t, 800, final.Leaderboard[0].Score)
		assert.Equal(t, 0, final.Leaderboard[1].Score)
		assert.Nil(t, final.Question)

		require.NoError(t, waitDone(t, b))
		_, open := <-b.Updates()
		assert.False(t, open)
		assert.ErrorIs(t, b.SubmitAnswer(env.ctx, 0), ErrBridgeClosed)
	}

	stored, err := env.sessions.GetGame(env.ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusFinished, stored.Status)
	assert.Equal(t, 1, stored.CurrentQuestion)
	assert.Equal(t, 0, env.bus.Subscribers(notify.GameTopic(game.ID)))
	assert.Equal(t, 0, env.bus.Subscribers(notify.PlayersTopic(game.ID)))
	assert.Equal(t, 0, env.bus.Subscribers(notify.QuestionsTopic(game.ID)))
}

func timedSet() questions.Set {
	return questions.Set{
		{QuestionText: "Quick one", Options: []string{"a", "b"}, CorrectAnswer: 0, TimeLimit: 5},
		{QuestionText: "Another", Options: []string{"a", "b"}, CorrectAnswer: 1, TimeLimit: 5},
	}
}

// countdown advances the clock one second at a time until one second is
// left.
func countdown(t *testing.T, env *testEnv, b *runningBridge, from int) {
	t.Helper()
	for left := from - 1; left >= 1; left-- {
		env.clock.Advance(time.Second)
		want := left
		waitFor(t, b, "tick", func(s Snapshot) bool { return s.TimeLeft == want })
	}
}

func TestBridgeTimeoutAutoSubmitsAndHostAdvances(t *testing.T) {
	env := newTestEnv(t)
	game, players := env.newGame(t, timedSet())
	host := players[0]

	hb := startBridge(t, env, game.ID, host.ID)
	waitFor(t, hb, "lobby", func(s Snapshot) bool { return s.Status == models.GameStatusWaiting })
	require.NoError(t, hb.Start(env.ctx))
	waitFor(t, hb, "question 0", onQuestion(0))

	countdown(t, env, hb, 5)
	env.clock.Advance(time.Second)
	snap := waitFor(t, hb, "auto submit", func(s Snapshot) bool { return s.AnswerSubmitted && s.RevealPending })
	require.NotNil(t, snap.SelectedAnswer)
	assert.Equal(t, models.NoAnswer, *snap.SelectedAnswer)
	assert.Equal(t, 0, snap.PointsEarned)

	qs, err := env.quiz.LoadQuestions(env.ctx, game.ID)
	require.NoError(t, err)
	answer, err := env.store.FindAnswer(env.ctx, host.ID, qs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.NoAnswer, answer.SelectedAnswer)
	assert.Equal(t, 5000, answer.ResponseTime)

	env.clock.Advance(time.Second)
	snap = waitFor(t, hb, "question 1", onQuestion(1))
	assert.Equal(t, 5, snap.TimeLeft)
}

func TestBridgeNonHostTimeoutDoesNotAdvance(t *testing.T) {
	env := newTestEnv(t)
	game, players := env.newGame(t, timedSet(), "Alice")
	_, err := env.sessions.StartGame(env.ctx, game.ID, players[0].ID)
	require.NoError(t, err)

	ab := startBridge(t, env, game.ID, players[1].ID)
	waitFor(t, ab, "question 0", onQuestion(0))

	countdown(t, env, ab, 5)
	env.clock.Advance(time.Second)
	snap := waitFor(t, ab, "auto submit", func(s Snapshot) bool { return s.AnswerSubmitted })
	assert.False(t, snap.RevealPending)
	assert.False(t, snap.IsHost)

	env.clock.Advance(5 * time.Second)
	stored, err := env.sessions.GetGame(env.ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentQuestion)
	assert.Equal(t, models.GameStatusActive, stored.Status)
}

func TestBridgeManualAdvance(t *testing.T) {
	env := newTestEnv(t)
	game, players := env.newGame(t, shortSet(), "Alice")
	hb := startBridge(t, env, game.ID, players[0].ID)
	ab := startBridge(t, env, game.ID, players[1].ID)

	waitFor(t, hb, "lobby", func(s Snapshot) bool { return s.IsHost })
	require.NoError(t, hb.Start(env.ctx))
	waitFor(t, ab, "question 0", onQuestion(0))

	require.NoError(t, ab.Advance(env.ctx))
	snap := waitFor(t, ab, "advance refusal", func(s Snapshot) bool { return s.LastError != "" })
	assert.Equal(t, 0, snap.CurrentQuestionIndex)

	require.NoError(t, hb.Advance(env.ctx))
	waitFor(t, hb, "question 1", onQuestion(1))
	waitFor(t, ab, "question 1", onQuestion(1))
}

func TestBridgeLoadsQuestionsAddedMidGame(t *testing.T) {
	env := newTestEnv(t)
	game, players := env.newGame(t, shortSet()[:1])
	hb := startBridge(t, env, game.ID, players[0].ID)

	waitFor(t, hb, "lobby", func(s Snapshot) bool { return s.Status == models.GameStatusWaiting })
	require.NoError(t, hb.Start(env.ctx))
	snap := waitFor(t, hb, "question 0", onQuestion(0))
	assert.Equal(t, 1, snap.TotalQuestions)

	env.clock.Advance(time.Second)
	waitFor(t, hb, "countdown", func(s Snapshot) bool { return s.TimeLeft == 29 })

	_, err := env.quiz.AddQuestion(env.ctx, addRequest(game.ID, testSecret))
	require.NoError(t, err)

	// The new question shows up in the total right away, and the running
	// question keeps its countdown.
	snap = waitFor(t, hb, "total grows", func(s Snapshot) bool { return s.TotalQuestions == 2 })
	assert.Equal(t, 0, snap.CurrentQuestionIndex)
	assert.Equal(t, 29, snap.TimeLeft)

	require.NoError(t, hb.Advance(env.ctx))
	snap = waitFor(t, hb, "added question", onQuestion(1))
	assert.Equal(t, "Largest ocean?", snap.Question.QuestionText)
	assert.Equal(t, 2, snap.TotalQuestions)
}

func TestBridgeReconnectKeepsAnswer(t *testing.T) {
	env := newTestEnv(t)
	game, players, qs := startedGame(t, env, "Alice")
	alice := players[1]

	_, err := env.scoring.SubmitAnswer(env.ctx, alice, &qs[0], 2, 4)
	require.NoError(t, err)

	ab := startBridge(t, env, game.ID, alice.ID)
	snap := waitFor(t, ab, "question 0", func(s Snapshot) bool { return s.Question != nil })
	assert.True(t, snap.AnswerSubmitted)
	assert.Equal(t, 360, snap.PointsEarned)
	require.NotNil(t, snap.SelectedAnswer)
	assert.Equal(t, 2, *snap.SelectedAnswer)

	// A second submit is ignored.
	require.NoError(t, ab.SubmitAnswer(env.ctx, 0))
	require.NoError(t, ab.Resync(env.ctx))
	snap = waitFor(t, ab, "resync", func(s Snapshot) bool { return true })
	assert.Equal(t, 360, snap.PointsEarned)
	assert.Equal(t, 2, *snap.SelectedAnswer)
}

func TestBridgeFinishedGame(t *testing.T) {
	env := newTestEnv(t)
	game, players, _ := startedGame(t, env)
	_, err := env.sessions.AdvanceQuestion(env.ctx, game.ID)
	require.NoError(t, err)
	_, err = env.sessions.AdvanceQuestion(env.ctx, game.ID)
	require.NoError(t, err)

	b := startBridge(t, env, game.ID, players[0].ID)
	snap := waitFor(t, b, "finished", func(s Snapshot) bool { return true })
	assert.Equal(t, models.GameStatusFinished, snap.Status)
	assert.Equal(t, 2, snap.TotalQuestions)
	require.NoError(t, waitDone(t, b))
}

func TestBridgeUnknownGameOrPlayer(t *testing.T) {
	env := newTestEnv(t)
	game, _ := env.newGame(t, shortSet())
	other, otherPlayers := env.newGame(t, shortSet())

	b := startBridge(t, env, "000000", "nobody")
	assert.ErrorIs(t, waitDone(t, b), ErrGameNotFound)

	b = startBridge(t, env, game.ID, otherPlayers[0].ID)
	assert.ErrorIs(t, waitDone(t, b), ErrNotFound)
	assert.NotEqual(t, game.ID, other.ID)
}

func TestBridgeStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	game, players, _ := startedGame(t, env)

	b := startBridge(t, env, game.ID, players[0].ID)
	waitFor(t, b, "question 0", onQuestion(0))
	assert.Equal(t, 1, env.bus.Subscribers(notify.GameTopic(game.ID)))

	b.cancel()
	require.NoError(t, waitDone(t, b))
	assert.Equal(t, 0, env.bus.Subscribers(notify.GameTopic(game.ID)))
	assert.Equal(t, 0, env.bus.Subscribers(notify.PlayersTopic(game.ID)))
	assert.Equal(t, 0, env.bus.Subscribers(notify.QuestionsTopic(game.ID)))

	// No countdown keeps running after teardown.
	env.clock.Advance(time.Minute)
	stored, err := env.sessions.GetGame(env.ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentQuestion)
}
