package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"livequiz/models"
	"livequiz/questions"
	"livequiz/store"
)

const maxCodeAttempts = 5

// SessionService owns the game lifecycle: creation, joining, and the
// waiting -> active -> finished transitions.
type SessionService struct {
	store   store.Store
	clock   clockwork.Clock
	newCode func() string
}

func NewSessionService(st store.Store, clock clockwork.Clock) *SessionService {
	return &SessionService{
		store:   st,
		clock:   clock,
		newCode: generateCode,
	}
}

type CreateGameRequest struct {
	HostName  string           `json:"host_name" binding:"required"`
	Questions []questions.Spec `json:"questions"`
}

type JoinGameRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateGame writes the game, its questions and the host player, in that
// order. A failure at any stage comes back as a *SessionCreateError.
func (s *SessionService) CreateGame(ctx context.Context, hostName string, set questions.Set) (*models.Game, *models.Player, error) {
	hostName = strings.TrimSpace(hostName)
	if hostName == "" {
		return nil, nil, fmt.Errorf("%w: please enter your name", ErrInvalidInput)
	}
	if err := set.Normalize(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var game *models.Game
	for attempt := 1; ; attempt++ {
		game = &models.Game{
			ID:              s.newCode(),
			Status:          models.GameStatusWaiting,
			CurrentQuestion: 0,
		}
		err := s.store.InsertGame(ctx, game)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt == maxCodeAttempts {
			return nil, nil, &SessionCreateError{Stage: "game", GameID: game.ID, Err: err}
		}
		log.Debug().Str("game", game.ID).Msg("join code taken, retrying")
	}

	if err := s.store.InsertQuestions(ctx, BuildQuestions(game.ID, set, 0)); err != nil {
		return nil, nil, &SessionCreateError{Stage: "questions", GameID: game.ID, Err: err}
	}

	host := &models.Player{
		ID:       uuid.NewString(),
		GameID:   game.ID,
		Name:     hostName,
		JoinedAt: s.clock.Now(),
	}
	if err := s.store.InsertPlayer(ctx, host); err != nil {
		return nil, nil, &SessionCreateError{Stage: "host", GameID: game.ID, Err: err}
	}

	log.Info().Str("game", game.ID).Str("host", host.Name).Int("questions", len(set)).Msg("game created")
	return game, host, nil
}

// JoinGame adds a player to a waiting or running game. Names are unique
// per game.
func (s *SessionService) JoinGame(ctx context.Context, gameID, name string) (*models.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: please enter your name", ErrInvalidInput)
	}

	game, err := s.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status == models.GameStatusFinished {
		return nil, fmt.Errorf("game has status '%s' - cannot join: %w", game.Status, ErrInvalidState)
	}

	player := &models.Player{
		ID:       uuid.NewString(),
		GameID:   game.ID,
		Name:     name,
		JoinedAt: s.clock.Now(),
	}
	if err := s.store.InsertPlayer(ctx, player); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrNameTaken
		}
		return nil, upstream(err)
	}

	log.Info().Str("game", game.ID).Str("player", player.Name).Msg("player joined")
	return player, nil
}

func (s *SessionService) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, upstream(err)
	}
	return game, nil
}

// IsHost reports whether playerID is the earliest joiner of the game.
func (s *SessionService) IsHost(ctx context.Context, gameID, playerID string) (bool, error) {
	host, err := s.store.FirstPlayer(ctx, gameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, upstream(err)
	}
	return host.ID == playerID, nil
}

// StartGame moves a waiting game to its first question. Only the host may
// start it.
func (s *SessionService) StartGame(ctx context.Context, gameID, callerID string) (*models.Game, error) {
	game, err := s.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status != models.GameStatusWaiting {
		return nil, fmt.Errorf("game has status '%s' - cannot start: %w", game.Status, ErrInvalidState)
	}

	host, err := s.store.FirstPlayer(ctx, gameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoPlayers
		}
		return nil, upstream(err)
	}
	if host.ID != callerID {
		return nil, ErrNotHost
	}

	started, err := s.store.TransitionGame(ctx, gameID, store.Transition{
		FromStatus:   models.GameStatusWaiting,
		FromQuestion: game.CurrentQuestion,
		ToStatus:     models.GameStatusActive,
		ToQuestion:   0,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("game was started elsewhere: %w", ErrInvalidState)
		}
		return nil, upstream(err)
	}

	log.Info().Str("game", gameID).Msg("game started")
	return started, nil
}

// AdvanceQuestion moves an active game to its next question, or finishes it
// after the last one.
func (s *SessionService) AdvanceQuestion(ctx context.Context, gameID string) (*models.Game, error) {
	game, err := s.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status != models.GameStatusActive {
		return nil, fmt.Errorf("game has status '%s' - cannot advance: %w", game.Status, ErrInvalidState)
	}
	return s.advance(ctx, game)
}

// AdvanceFrom advances only if the game still sits on question index from.
// Anything else is a stale request and returns the current game unchanged.
func (s *SessionService) AdvanceFrom(ctx context.Context, gameID string, from int) (*models.Game, error) {
	game, err := s.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status != models.GameStatusActive || game.CurrentQuestion != from {
		log.Debug().Str("game", gameID).Int("from", from).Int("current", game.CurrentQuestion).
			Str("status", string(game.Status)).Msg("ignoring stale advance")
		return game, nil
	}
	return s.advance(ctx, game)
}

func (s *SessionService) advance(ctx context.Context, game *models.Game) (*models.Game, error) {
	qs, err := s.store.ListQuestions(ctx, game.ID)
	if err != nil {
		return nil, upstream(err)
	}

	status, next := game.Advance(len(qs))
	updated, err := s.store.TransitionGame(ctx, game.ID, store.Transition{
		FromStatus:   game.Status,
		FromQuestion: game.CurrentQuestion,
		ToStatus:     status,
		ToQuestion:   next,
	})
	if errors.Is(err, store.ErrConflict) {
		// Someone else advanced first; their write stands.
		log.Debug().Str("game", game.ID).Int("from", game.CurrentQuestion).Msg("advance lost race")
		return s.GetGame(ctx, game.ID)
	}
	if err != nil {
		return nil, upstream(err)
	}

	if updated.Status == models.GameStatusFinished {
		log.Info().Str("game", game.ID).Msg("game finished")
	} else {
		log.Info().Str("game", game.ID).Int("question", updated.CurrentQuestion).Msg("advanced to next question")
	}
	return updated, nil
}

// generateCode returns a six digit join code.
func generateCode() string {
	return fmt.Sprintf("%06d", 100000+rand.Intn(900000))
}
