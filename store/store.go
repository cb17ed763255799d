// Package store holds the four game collections (games, players, questions,
// answers) and publishes a notify.Change after every committed mutation of a
// game or player row and after every question insert.
package store

import (
	"context"
	"errors"

	"livequiz/models"
	"livequiz/notify"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Transition is a conditional update of a game's status and question index.
// It applies only while the stored game still has FromStatus and
// FromQuestion.
type Transition struct {
	FromStatus   models.GameStatus
	FromQuestion int
	ToStatus     models.GameStatus
	ToQuestion   int
}

type Store interface {
	InsertGame(ctx context.Context, game *models.Game) error
	GetGame(ctx context.Context, id string) (*models.Game, error)
	// TransitionGame returns ErrConflict when the game no longer matches the
	// transition's From values.
	TransitionGame(ctx context.Context, id string, t Transition) (*models.Game, error)

	InsertQuestions(ctx context.Context, questions []models.Question) error
	ListQuestions(ctx context.Context, gameID string) ([]models.Question, error)
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	// MaxOrderIndex returns -1 for a game without questions.
	MaxOrderIndex(ctx context.Context, gameID string) (int, error)

	InsertPlayer(ctx context.Context, player *models.Player) error
	GetPlayer(ctx context.Context, id string) (*models.Player, error)
	// ListPlayers orders by score desc, joined_at asc, seq asc.
	ListPlayers(ctx context.Context, gameID string) ([]models.Player, error)
	// FirstPlayer is the earliest joined_at, ties broken by seq.
	FirstPlayer(ctx context.Context, gameID string) (*models.Player, error)
	AddPlayerScore(ctx context.Context, id string, delta int) (*models.Player, error)

	InsertAnswer(ctx context.Context, answer *models.Answer) error
	FindAnswer(ctx context.Context, playerID, questionID string) (*models.Answer, error)
	CountAnswerers(ctx context.Context, questionID string) (int, error)

	Subscribe(ctx context.Context, topic notify.Topic) (notify.Subscription, error)
}
