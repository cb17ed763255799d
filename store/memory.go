package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"livequiz/models"
	"livequiz/notify"
)

// MemoryStore keeps every collection in process memory with the same unique
// constraints and orderings as the Postgres schema.
type MemoryStore struct {
	mu        sync.RWMutex
	games     map[string]models.Game
	players   map[string]models.Player
	questions map[string]models.Question
	answers   map[string]models.Answer

	// seq numbers players in arrival order, like a serial column.
	seq int64

	bus   notify.Bus
	clock clockwork.Clock
}

func NewMemoryStore(bus notify.Bus, clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		games:     make(map[string]models.Game),
		players:   make(map[string]models.Player),
		questions: make(map[string]models.Question),
		answers:   make(map[string]models.Answer),
		bus:       bus,
		clock:     clock,
	}
}

func (s *MemoryStore) InsertGame(ctx context.Context, game *models.Game) error {
	s.mu.Lock()
	if _, exists := s.games[game.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("game %s: %w", game.ID, ErrConflict)
	}
	now := s.clock.Now()
	if game.Status == "" {
		game.Status = models.GameStatusWaiting
	}
	game.CreatedAt, game.UpdatedAt = now, now
	s.games[game.ID] = *game
	s.mu.Unlock()

	s.publish(ctx, notify.Games, notify.OpInsert, game.ID, game.ID)
	return nil
}

func (s *MemoryStore) GetGame(_ context.Context, id string) (*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	game, ok := s.games[id]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	return &game, nil
}

func (s *MemoryStore) TransitionGame(ctx context.Context, id string, t Transition) (*models.Game, error) {
	s.mu.Lock()
	game, ok := s.games[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	if game.Status != t.FromStatus || game.CurrentQuestion != t.FromQuestion {
		s.mu.Unlock()
		return nil, fmt.Errorf("game %s is %s at question %d: %w", id, game.Status, game.CurrentQuestion, ErrConflict)
	}
	game.Status = t.ToStatus
	game.CurrentQuestion = t.ToQuestion
	game.UpdatedAt = s.clock.Now()
	s.games[id] = game
	s.mu.Unlock()

	s.publish(ctx, notify.Games, notify.OpUpdate, id, id)
	return &game, nil
}

func (s *MemoryStore) InsertQuestions(ctx context.Context, questions []models.Question) error {
	if len(questions) == 0 {
		return nil
	}
	if err := s.insertQuestions(questions); err != nil {
		return err
	}
	s.publish(ctx, notify.Questions, notify.OpInsert, questions[0].GameID, questions[0].ID)
	return nil
}

func (s *MemoryStore) insertQuestions(questions []models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check the whole batch first so a conflict inserts nothing, like a
	// single multi-row INSERT.
	seen := make(map[string]bool)
	for _, q := range questions {
		if _, ok := s.games[q.GameID]; !ok {
			return fmt.Errorf("question for unknown game %s: %w", q.GameID, ErrNotFound)
		}
		key := fmt.Sprintf("%s/%d", q.GameID, q.OrderIndex)
		if seen[key] || s.hasOrderIndexLocked(q.GameID, q.OrderIndex) {
			return fmt.Errorf("question order %d in game %s: %w", q.OrderIndex, q.GameID, ErrConflict)
		}
		if _, exists := s.questions[q.ID]; exists {
			return fmt.Errorf("question %s: %w", q.ID, ErrConflict)
		}
		seen[key] = true
	}
	for _, q := range questions {
		q.Options = append([]string(nil), q.Options...)
		s.questions[q.ID] = q
	}
	return nil
}

func (s *MemoryStore) hasOrderIndexLocked(gameID string, orderIndex int) bool {
	for _, q := range s.questions {
		if q.GameID == gameID && q.OrderIndex == orderIndex {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ListQuestions(_ context.Context, gameID string) ([]models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	questions := []models.Question{}
	for _, q := range s.questions {
		if q.GameID == gameID {
			q.Options = append([]string(nil), q.Options...)
			questions = append(questions, q)
		}
	}
	sort.Slice(questions, func(i, j int) bool {
		return questions[i].OrderIndex < questions[j].OrderIndex
	})
	return questions, nil
}

func (s *MemoryStore) GetQuestion(_ context.Context, id string) (*models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return nil, fmt.Errorf("question %s: %w", id, ErrNotFound)
	}
	q.Options = append([]string(nil), q.Options...)
	return &q, nil
}

func (s *MemoryStore) MaxOrderIndex(_ context.Context, gameID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	highest := -1
	for _, q := range s.questions {
		if q.GameID == gameID && q.OrderIndex > highest {
			highest = q.OrderIndex
		}
	}
	return highest, nil
}

func (s *MemoryStore) InsertPlayer(ctx context.Context, player *models.Player) error {
	s.mu.Lock()
	if _, ok := s.games[player.GameID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("player for unknown game %s: %w", player.GameID, ErrNotFound)
	}
	if _, exists := s.players[player.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("player %s: %w", player.ID, ErrConflict)
	}
	for _, p := range s.players {
		if p.GameID == player.GameID && p.Name == player.Name {
			s.mu.Unlock()
			return fmt.Errorf("player name %q in game %s: %w", player.Name, player.GameID, ErrConflict)
		}
	}
	if player.JoinedAt.IsZero() {
		player.JoinedAt = s.clock.Now()
	}
	s.seq++
	player.Seq = s.seq
	s.players[player.ID] = *player
	s.mu.Unlock()

	s.publish(ctx, notify.Players, notify.OpInsert, player.GameID, player.ID)
	return nil
}

func (s *MemoryStore) GetPlayer(_ context.Context, id string) (*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) ListPlayers(_ context.Context, gameID string) ([]models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := []models.Player{}
	for _, p := range s.players {
		if p.GameID == gameID {
			players = append(players, p)
		}
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].RankedBefore(players[j])
	})
	return players, nil
}

func (s *MemoryStore) FirstPlayer(_ context.Context, gameID string) (*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var first *models.Player
	for _, p := range s.players {
		if p.GameID != gameID {
			continue
		}
		if first == nil || p.JoinedAt.Before(first.JoinedAt) ||
			(p.JoinedAt.Equal(first.JoinedAt) && p.Seq < first.Seq) {
			p := p
			first = &p
		}
	}
	if first == nil {
		return nil, fmt.Errorf("players of game %s: %w", gameID, ErrNotFound)
	}
	return first, nil
}

func (s *MemoryStore) AddPlayerScore(ctx context.Context, id string, delta int) (*models.Player, error) {
	s.mu.Lock()
	p, ok := s.players[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	p.Score += delta
	s.players[id] = p
	s.mu.Unlock()

	s.publish(ctx, notify.Players, notify.OpUpdate, p.GameID, p.ID)
	return &p, nil
}

func (s *MemoryStore) InsertAnswer(_ context.Context, answer *models.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.answers[answer.ID]; exists {
		return fmt.Errorf("answer %s: %w", answer.ID, ErrConflict)
	}
	for _, a := range s.answers {
		if a.PlayerID == answer.PlayerID && a.QuestionID == answer.QuestionID {
			return fmt.Errorf("answer of player %s to question %s: %w", answer.PlayerID, answer.QuestionID, ErrConflict)
		}
	}
	if answer.AnsweredAt.IsZero() {
		answer.AnsweredAt = s.clock.Now()
	}
	s.answers[answer.ID] = *answer
	return nil
}

func (s *MemoryStore) FindAnswer(_ context.Context, playerID, questionID string) (*models.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.answers {
		if a.PlayerID == playerID && a.QuestionID == questionID {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("answer of player %s to question %s: %w", playerID, questionID, ErrNotFound)
}

func (s *MemoryStore) CountAnswerers(_ context.Context, questionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	players := make(map[string]struct{})
	for _, a := range s.answers {
		if a.QuestionID == questionID {
			players[a.PlayerID] = struct{}{}
		}
	}
	return len(players), nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, topic notify.Topic) (notify.Subscription, error) {
	return s.bus.Subscribe(ctx, topic)
}

func (s *MemoryStore) publish(ctx context.Context, collection notify.Collection, op notify.Op, gameID, rowID string) {
	publishChange(ctx, s.bus, notify.Change{
		Collection: collection,
		Op:         op,
		GameID:     gameID,
		RowID:      rowID,
		At:         s.clock.Now(),
	})
}

// publishChange never fails the mutation that triggered it: the row is
// committed, and subscribers fall back to their next re-read.
func publishChange(ctx context.Context, bus notify.Bus, change notify.Change) {
	if err := bus.Publish(ctx, change); err != nil {
		log.Error().
			Err(err).
			Str("collection", string(change.Collection)).
			Str("game_id", change.GameID).
			Msg("failed to publish change")
	}
}
