package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"livequiz/models"
	"livequiz/notify"
	"livequiz/store"
)

// DefaultRevealDelay is how long results stay on screen before the next
// question.
const DefaultRevealDelay = time.Second

var (
	ErrBridgeClosed       = errors.New("bridge closed")
	ErrSubscriptionClosed = errors.New("change subscription closed")
)

// BridgeFactory holds what every Bridge shares.
type BridgeFactory struct {
	Store       store.Store
	Sessions    *SessionService
	Roster      *RosterService
	Questions   *QuestionService
	Scoring     *ScoringService
	Clock       clockwork.Clock
	RevealDelay time.Duration
}

// Snapshot is the view of a game one client renders.
type Snapshot struct {
	GameID               string                 `json:"game_id"`
	Status               models.GameStatus      `json:"status"`
	CurrentQuestionIndex int                    `json:"current_question_index"`
	TotalQuestions       int                    `json:"total_questions"`
	Question             *models.PublicQuestion `json:"question,omitempty"`
	TimeLeft             int                    `json:"time_left"`
	AnswerSubmitted      bool                   `json:"answer_submitted"`
	SelectedAnswer       *int                   `json:"selected_answer,omitempty"`
	PointsEarned         int                    `json:"points_earned"`
	Player               *models.Player         `json:"player,omitempty"`
	IsHost               bool                   `json:"is_host"`
	RevealPending        bool                   `json:"reveal_pending"`
	Leaderboard          []Standing             `json:"leaderboard"`
	LastError            string                 `json:"last_error,omitempty"`
}

type eventKind int

const (
	evSubmit eventKind = iota
	evStart
	evAdvance
	evResync
	evRevealDue
)

type bridgeEvent struct {
	kind     eventKind
	selected int
	// index the reveal timer was armed for
	questionIndex int
}

// Bridge keeps one client's view of a game in step with the store. Run owns
// all of its state; the action methods only queue events for it.
type Bridge struct {
	f        *BridgeFactory
	gameID   string
	playerID string
	logger   zerolog.Logger

	events  chan bridgeEvent
	updates chan Snapshot
	done    chan struct{}

	game      *models.Game
	player    *models.Player
	players   []models.Player
	questions []models.Question
	current   *models.Question
	isHost    bool

	timeLeft   int
	submitted  bool
	selected   int
	lastPoints int
	lastError  string

	ticker      clockwork.Ticker
	revealTimer clockwork.Timer
}

func (f *BridgeFactory) NewBridge(gameID, playerID string) *Bridge {
	return &Bridge{
		f:        f,
		gameID:   gameID,
		playerID: playerID,
		logger:   log.With().Str("game", gameID).Str("player_id", playerID).Logger(),
		events:   make(chan bridgeEvent, 8),
		updates:  make(chan Snapshot, 1),
		done:     make(chan struct{}),
		selected: models.NoAnswer,
	}
}

// Updates delivers the latest snapshot; older ones are dropped if the
// reader falls behind. It is closed when Run returns.
func (b *Bridge) Updates() <-chan Snapshot { return b.updates }

// Done is closed when Run returns.
func (b *Bridge) Done() <-chan struct{} { return b.done }

func (b *Bridge) SubmitAnswer(ctx context.Context, selected int) error {
	return b.enqueue(ctx, bridgeEvent{kind: evSubmit, selected: selected})
}

func (b *Bridge) Start(ctx context.Context) error {
	return b.enqueue(ctx, bridgeEvent{kind: evStart})
}

func (b *Bridge) Advance(ctx context.Context) error {
	return b.enqueue(ctx, bridgeEvent{kind: evAdvance})
}

func (b *Bridge) Resync(ctx context.Context) error {
	return b.enqueue(ctx, bridgeEvent{kind: evResync})
}

func (b *Bridge) enqueue(ctx context.Context, ev bridgeEvent) error {
	select {
	case <-b.done:
		return ErrBridgeClosed
	default:
	}
	select {
	case b.events <- ev:
		return nil
	case <-b.done:
		return ErrBridgeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run loads the game, then follows store changes, the countdown and queued
// actions until the game finishes or ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	defer close(b.updates)
	defer close(b.done)

	gameSub, err := b.f.Store.Subscribe(ctx, notify.GameTopic(b.gameID))
	if err != nil {
		return fmt.Errorf("failed to subscribe to game %s: %w", b.gameID, err)
	}
	defer gameSub.Close()

	playerSub, err := b.f.Store.Subscribe(ctx, notify.PlayersTopic(b.gameID))
	if err != nil {
		return fmt.Errorf("failed to subscribe to players of %s: %w", b.gameID, err)
	}
	defer playerSub.Close()

	questionSub, err := b.f.Store.Subscribe(ctx, notify.QuestionsTopic(b.gameID))
	if err != nil {
		return fmt.Errorf("failed to subscribe to questions of %s: %w", b.gameID, err)
	}
	defer questionSub.Close()

	defer b.stopCountdown()
	defer b.cancelReveal()

	if err := b.bootstrap(ctx); err != nil {
		return err
	}
	b.emit()
	if b.finished() {
		b.logger.Debug().Msg("game already finished")
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			b.logger.Debug().Msg("bridge stopped")
			return nil
		case _, ok := <-gameSub.C():
			if !ok {
				return ErrSubscriptionClosed
			}
			b.reloadGame(ctx)
		case _, ok := <-playerSub.C():
			if !ok {
				return ErrSubscriptionClosed
			}
			b.reloadRoster(ctx)
		case _, ok := <-questionSub.C():
			if !ok {
				return ErrSubscriptionClosed
			}
			b.onQuestionsChanged(ctx)
		case <-b.tick():
			b.onTick(ctx)
		case ev := <-b.events:
			b.handle(ctx, ev)
		}

		if ctx.Err() != nil {
			return nil
		}
		b.emit()
		if b.finished() {
			b.f.Scoring.ForgetGame(b.gameID)
			b.logger.Info().Msg("game over")
			return nil
		}
	}
}

func (b *Bridge) bootstrap(ctx context.Context) error {
	game, err := b.f.Sessions.GetGame(ctx, b.gameID)
	if err != nil {
		return err
	}

	player, err := b.f.Store.GetPlayer(ctx, b.playerID)
	if err != nil {
		return fmt.Errorf("player %s: %w", b.playerID, upstream(err))
	}
	if player.GameID != b.gameID {
		return fmt.Errorf("player %s is not in game %s: %w", b.playerID, b.gameID, ErrNotFound)
	}
	b.player = player

	if b.isHost, err = b.f.Sessions.IsHost(ctx, b.gameID, b.playerID); err != nil {
		return err
	}
	b.reloadRoster(ctx)
	b.applyGame(ctx, game)
	return nil
}

func (b *Bridge) finished() bool {
	return b.game != nil && b.game.Status == models.GameStatusFinished
}

func (b *Bridge) handle(ctx context.Context, ev bridgeEvent) {
	switch ev.kind {
	case evSubmit:
		b.submit(ctx, ev.selected)

	case evStart:
		game, err := b.f.Sessions.StartGame(ctx, b.gameID, b.playerID)
		if err != nil {
			b.fail("start game", err)
			return
		}
		b.lastError = ""
		b.applyGame(ctx, game)

	case evAdvance:
		if !b.isHost {
			b.fail("next question", ErrNotHost)
			return
		}
		if b.game == nil || b.game.Status != models.GameStatusActive {
			b.fail("next question", ErrInvalidState)
			return
		}
		b.advanceFrom(ctx, b.game.CurrentQuestion)

	case evResync:
		b.reloadRoster(ctx)
		b.reloadQuestions(ctx)
		b.reloadGame(ctx)

	case evRevealDue:
		if b.game == nil || b.game.Status != models.GameStatusActive || b.game.CurrentQuestion != ev.questionIndex {
			b.logger.Debug().Int("index", ev.questionIndex).Msg("dropping stale reveal")
			return
		}
		b.revealTimer = nil
		b.advanceFrom(ctx, ev.questionIndex)
	}
}

func (b *Bridge) advanceFrom(ctx context.Context, index int) {
	game, err := b.f.Sessions.AdvanceFrom(ctx, b.gameID, index)
	if err != nil {
		b.fail("advance", err)
		return
	}
	b.lastError = ""
	b.applyGame(ctx, game)
}

func (b *Bridge) fail(action string, err error) {
	b.lastError = err.Error()
	b.logger.Warn().Err(err).Str("action", action).Msg("action failed")
}

// reloadGame replaces the cached game with the stored one. On a read error
// the previous state is kept until the next change.
func (b *Bridge) reloadGame(ctx context.Context) {
	game, err := b.f.Sessions.GetGame(ctx, b.gameID)
	if err != nil {
		b.logger.Error().Err(err).Msg("Error fetching game")
		return
	}
	b.applyGame(ctx, game)
}

func (b *Bridge) reloadRoster(ctx context.Context) {
	players, err := b.f.Roster.LoadPlayers(ctx, b.gameID)
	if err != nil {
		b.logger.Error().Err(err).Msg("Error fetching players")
		return
	}
	b.players = players
	for i := range players {
		if players[i].ID == b.playerID {
			p := players[i]
			b.player = &p
		}
	}
}

func (b *Bridge) applyGame(ctx context.Context, game *models.Game) {
	b.game = game
	switch game.Status {
	case models.GameStatusActive:
		b.syncQuestion(ctx)
	case models.GameStatusFinished:
		b.stopCountdown()
		b.cancelReveal()
		b.current = nil
		if len(b.questions) == 0 {
			b.reloadQuestions(ctx)
		}
		// Final standings come from the store, not from local tallies.
		b.reloadRoster(ctx)
	}
}

func (b *Bridge) reloadQuestions(ctx context.Context) {
	qs, err := b.f.Questions.LoadQuestions(ctx, b.gameID)
	if err != nil {
		b.logger.Error().Err(err).Msg("Error fetching questions")
		return
	}
	b.questions = qs
}

// onQuestionsChanged refreshes the cached set after questions were added.
// The running countdown is kept because the current question is unchanged.
func (b *Bridge) onQuestionsChanged(ctx context.Context) {
	b.reloadQuestions(ctx)
	if b.game != nil && b.game.Status == models.GameStatusActive {
		b.syncQuestion(ctx)
	}
}

// syncQuestion points the bridge at the game's current question, loading
// questions when the cache does not reach it. The countdown restarts only
// when the question itself changes.
func (b *Bridge) syncQuestion(ctx context.Context) {
	if len(b.questions) == 0 || b.game.CurrentQuestion >= len(b.questions) {
		b.reloadQuestions(ctx)
	}

	q, ok := CurrentQuestion(b.game, b.questions)
	if !ok {
		b.logger.Warn().Int("index", b.game.CurrentQuestion).Int("loaded", len(b.questions)).
			Msg("current question not available yet")
		b.current = nil
		b.stopCountdown()
		return
	}
	if b.current != nil && b.current.ID == q.ID {
		return
	}

	b.current = q
	b.timeLeft = q.TimeLimit
	b.submitted = false
	b.selected = models.NoAnswer
	b.lastPoints = 0
	b.cancelReveal()

	// A reconnecting client may already have answered.
	if prev, err := b.f.Store.FindAnswer(ctx, b.playerID, q.ID); err == nil {
		b.submitted = true
		b.selected = prev.SelectedAnswer
		b.lastPoints = prev.PointsEarned
	} else if !errors.Is(err, store.ErrNotFound) {
		b.logger.Error().Err(err).Msg("Error checking previous answer")
	}

	b.startCountdown()
	b.logger.Debug().Int("index", q.OrderIndex).Int("time_limit", q.TimeLimit).Msg("question started")
}

func (b *Bridge) startCountdown() {
	b.stopCountdown()
	if b.timeLeft > 0 {
		b.ticker = b.f.Clock.NewTicker(time.Second)
	}
}

func (b *Bridge) stopCountdown() {
	if b.ticker != nil {
		b.ticker.Stop()
		b.ticker = nil
	}
}

// tick is nil while no countdown runs, which blocks that select case.
func (b *Bridge) tick() <-chan time.Time {
	if b.ticker == nil {
		return nil
	}
	return b.ticker.Chan()
}

func (b *Bridge) onTick(ctx context.Context) {
	if b.current == nil || b.game == nil || b.game.Status != models.GameStatusActive {
		b.stopCountdown()
		return
	}
	b.timeLeft--
	if b.timeLeft > 0 {
		return
	}

	b.timeLeft = 0
	b.stopCountdown()
	if !b.submitted {
		b.submit(ctx, models.NoAnswer)
	}
	if b.isHost {
		b.scheduleReveal()
	}
}

func (b *Bridge) submit(ctx context.Context, selected int) {
	if b.current == nil || b.game == nil || b.game.Status != models.GameStatusActive || b.submitted {
		return
	}
	if selected != models.NoAnswer && (selected < 0 || selected >= len(b.current.Options)) {
		b.fail("submit answer", fmt.Errorf("%w: answer %d out of range", ErrInvalidInput, selected))
		return
	}

	b.submitted = true
	b.selected = selected
	elapsed := b.current.TimeLimit - b.timeLeft

	points, err := b.f.Scoring.SubmitAnswer(ctx, b.player, b.current, selected, elapsed)
	if err != nil {
		// The answer stays marked as submitted; the player does not get a
		// second attempt.
		b.logger.Error().Err(err).Msg("Error submitting answer")
		return
	}
	b.lastPoints = points
	b.lastError = ""

	all, err := b.f.Questions.AllAnswered(ctx, b.gameID, b.current.ID)
	if err != nil {
		b.logger.Error().Err(err).Msg("Error counting answers")
		return
	}
	if all {
		b.logger.Debug().Msg("all players answered")
		b.scheduleReveal()
	}
}

// scheduleReveal arms a single delayed advance for the current question.
func (b *Bridge) scheduleReveal() {
	if b.revealTimer != nil || b.game == nil {
		return
	}
	ev := bridgeEvent{kind: evRevealDue, questionIndex: b.game.CurrentQuestion}
	b.revealTimer = b.f.Clock.AfterFunc(b.revealDelay(), func() {
		go func() {
			select {
			case b.events <- ev:
			case <-b.done:
			}
		}()
	})
}

func (b *Bridge) cancelReveal() {
	if b.revealTimer != nil {
		b.revealTimer.Stop()
		b.revealTimer = nil
	}
}

func (b *Bridge) revealDelay() time.Duration {
	if b.f.RevealDelay > 0 {
		return b.f.RevealDelay
	}
	return DefaultRevealDelay
}

func (b *Bridge) snapshot() Snapshot {
	snap := Snapshot{
		GameID:          b.gameID,
		TotalQuestions:  len(b.questions),
		TimeLeft:        b.timeLeft,
		AnswerSubmitted: b.submitted,
		PointsEarned:    b.lastPoints,
		IsHost:          b.isHost,
		RevealPending:   b.revealTimer != nil,
		Leaderboard:     Rank(b.players),
		LastError:       b.lastError,
	}
	if b.game != nil {
		snap.Status = b.game.Status
		snap.CurrentQuestionIndex = b.game.CurrentQuestion
	}
	if b.player != nil {
		p := *b.player
		snap.Player = &p
	}
	if b.current != nil {
		pub := b.current.Public(b.submitted)
		snap.Question = &pub
		if b.submitted {
			selected := b.selected
			snap.SelectedAnswer = &selected
		}
	}
	return snap
}

// emit replaces any unread snapshot with the current one.
func (b *Bridge) emit() {
	snap := b.snapshot()
	select {
	case b.updates <- snap:
		return
	default:
	}
	select {
	case <-b.updates:
	default:
	}
	select {
	case b.updates <- snap:
	default:
	}
}
