package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"livequiz/models"
	"livequiz/questions"
	"livequiz/store"
)

// QuestionService serves a game's ordered questions and appends new ones
// through the authoring endpoint.
type QuestionService struct {
	store  store.Store
	secret string
}

// NewQuestionService returns a service that accepts AddQuestion calls
// carrying secret. An empty secret rejects every call.
func NewQuestionService(st store.Store, secret string) *QuestionService {
	return &QuestionService{store: st, secret: secret}
}

// AddQuestionRequest is the authoring payload. Its field names follow the
// legacy admin tool.
type AddQuestionRequest struct {
	GameID    string              `json:"gameId" binding:"required"`
	Secret    string              `json:"secret"`
	Questions AddQuestionEnvelope `json:"questions"`
}

type AddQuestionEnvelope struct {
	Text      string   `json:"text"`
	Choices   []string `json:"choices"`
	Answer    int      `json:"answer"`
	TimeLimit int      `json:"time_limit"`
}

func (e AddQuestionEnvelope) Spec() questions.Spec {
	return questions.Spec{
		QuestionText:  e.Text,
		Options:       append([]string(nil), e.Choices...),
		CorrectAnswer: e.Answer,
		TimeLimit:     e.TimeLimit,
	}
}

// BuildQuestions turns a normalized set into rows for gameID, numbering
// order_index from first.
func BuildQuestions(gameID string, set questions.Set, first int) []models.Question {
	qs := make([]models.Question, 0, len(set))
	for i, spec := range set {
		qs = append(qs, models.Question{
			ID:            uuid.NewString(),
			GameID:        gameID,
			QuestionText:  spec.QuestionText,
			Options:       append([]string(nil), spec.Options...),
			CorrectAnswer: spec.CorrectAnswer,
			TimeLimit:     spec.TimeLimit,
			OrderIndex:    first + i,
		})
	}
	return qs
}

func (s *QuestionService) LoadQuestions(ctx context.Context, gameID string) ([]models.Question, error) {
	qs, err := s.store.ListQuestions(ctx, gameID)
	if err != nil {
		return nil, upstream(err)
	}
	return qs, nil
}

func (s *QuestionService) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	q, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, upstream(err)
	}
	return q, nil
}

// PublicQuestions hides correct answers unless the game has finished.
func (s *QuestionService) PublicQuestions(ctx context.Context, game *models.Game) ([]models.PublicQuestion, error) {
	qs, err := s.LoadQuestions(ctx, game.ID)
	if err != nil {
		return nil, err
	}
	reveal := game.Status == models.GameStatusFinished
	pub := make([]models.PublicQuestion, 0, len(qs))
	for _, q := range qs {
		pub = append(pub, q.Public(reveal))
	}
	return pub, nil
}

// CurrentQuestion picks the question the game points at. It reports false
// when the game is not active or qs does not reach that far yet.
func CurrentQuestion(game *models.Game, qs []models.Question) (*models.Question, bool) {
	if game == nil || game.Status != models.GameStatusActive {
		return nil, false
	}
	if game.CurrentQuestion < 0 || game.CurrentQuestion >= len(qs) {
		return nil, false
	}
	q := qs[game.CurrentQuestion]
	return &q, true
}

// AllAnswered reports whether every player of the game has an answer on
// record for questionID.
func (s *QuestionService) AllAnswered(ctx context.Context, gameID, questionID string) (bool, error) {
	players, err := s.store.ListPlayers(ctx, gameID)
	if err != nil {
		return false, upstream(err)
	}
	if len(players) == 0 {
		return false, nil
	}
	answered, err := s.store.CountAnswerers(ctx, questionID)
	if err != nil {
		return false, upstream(err)
	}
	return answered >= len(players), nil
}

// Authorize checks the shared authoring secret.
func (s *QuestionService) Authorize(secret string) error {
	if s.secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// AddQuestion appends one question after the game's last one.
func (s *QuestionService) AddQuestion(ctx context.Context, req *AddQuestionRequest) (*models.Question, error) {
	if err := s.Authorize(req.Secret); err != nil {
		return nil, err
	}

	if _, err := s.store.GetGame(ctx, req.GameID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, upstream(err)
	}

	spec := req.Questions.Spec()
	if err := spec.Normalize(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	last, err := s.store.MaxOrderIndex(ctx, req.GameID)
	if err != nil {
		return nil, upstream(err)
	}
	qs := BuildQuestions(req.GameID, questions.Set{spec}, last+1)
	if err := s.store.InsertQuestions(ctx, qs); err != nil {
		return nil, upstream(err)
	}

	log.Info().Str("game", req.GameID).Int("order_index", qs[0].OrderIndex).Msg("question added")
	return &qs[0], nil
}
