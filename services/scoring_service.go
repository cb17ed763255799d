package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"livequiz/models"
	"livequiz/store"
)

const (
	basePoints      = 100
	pointsPerSecond = 10
)

// ScoringService records answers and credits points. A player's answer to a
// question is scored at most once per process; the unique answer index
// covers every other process.
type ScoringService struct {
	store store.Store
	clock clockwork.Clock

	mu        sync.Mutex
	submitted map[submissionKey]*submission
}

type submissionKey struct {
	gameID     string
	playerID   string
	questionID string
}

type submission struct {
	done   chan struct{}
	points int
	err    error
}

func NewScoringService(st store.Store, clock clockwork.Clock) *ScoringService {
	return &ScoringService{
		store:     st,
		clock:     clock,
		submitted: make(map[submissionKey]*submission),
	}
}

type SubmitAnswerRequest struct {
	QuestionID     string `json:"question_id" binding:"required"`
	SelectedAnswer int    `json:"selected_answer"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
}

// CalculatePoints gives 100 for a correct answer plus 10 per whole second
// left on the clock.
func CalculatePoints(correct bool, timeLimit, elapsedSeconds int) int {
	if !correct {
		return 0
	}
	return basePoints + max(0, timeLimit-elapsedSeconds)*pointsPerSecond
}

// SubmitAnswer stores the player's choice for question and adds the points
// to the player's score. Repeat calls return the first result without
// writing again.
func (s *ScoringService) SubmitAnswer(ctx context.Context, player *models.Player, question *models.Question, selected, elapsedSeconds int) (int, error) {
	if question.GameID != player.GameID {
		return 0, fmt.Errorf("%w: question %s is not part of game %s", ErrInvalidInput, question.ID, player.GameID)
	}
	if selected != models.NoAnswer && (selected < 0 || selected >= len(question.Options)) {
		return 0, fmt.Errorf("%w: answer %d out of range", ErrInvalidInput, selected)
	}

	key := submissionKey{gameID: player.GameID, playerID: player.ID, questionID: question.ID}
	s.mu.Lock()
	if sub, ok := s.submitted[key]; ok {
		s.mu.Unlock()
		select {
		case <-sub.done:
			return sub.points, sub.err
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	sub := &submission{done: make(chan struct{})}
	s.submitted[key] = sub
	s.mu.Unlock()

	sub.points, sub.err = s.record(ctx, player, question, selected, elapsedSeconds)
	close(sub.done)
	return sub.points, sub.err
}

func (s *ScoringService) record(ctx context.Context, player *models.Player, question *models.Question, selected, elapsedSeconds int) (int, error) {
	elapsed := min(max(elapsedSeconds, 0), question.TimeLimit)
	correct := selected == question.CorrectAnswer
	points := CalculatePoints(correct, question.TimeLimit, elapsed)

	answer := &models.Answer{
		ID:             uuid.NewString(),
		PlayerID:       player.ID,
		QuestionID:     question.ID,
		SelectedAnswer: selected,
		ResponseTime:   elapsed * 1000,
		PointsEarned:   points,
		AnsweredAt:     s.clock.Now(),
	}
	if err := s.store.InsertAnswer(ctx, answer); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return 0, upstream(err)
		}
		// Another process already scored this answer.
		existing, err := s.store.FindAnswer(ctx, player.ID, question.ID)
		if err != nil {
			return 0, upstream(err)
		}
		return existing.PointsEarned, nil
	}

	if points > 0 {
		if _, err := s.store.AddPlayerScore(ctx, player.ID, points); err != nil {
			return points, upstream(err)
		}
	}

	log.Debug().Str("game", player.GameID).Str("player", player.Name).Str("question", question.ID).
		Int("selected", selected).Bool("correct", correct).Int("points", points).Msg("answer recorded")
	return points, nil
}

// ForgetGame drops the duplicate guard for a finished game.
func (s *ScoringService) ForgetGame(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.submitted {
		if key.gameID == gameID {
			delete(s.submitted, key)
		}
	}
}
