package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"livequiz/models"
	"livequiz/notify"
)

const pgUniqueViolation = "23505"

// GormStore is the Postgres-backed Store.
type GormStore struct {
	db  *gorm.DB
	bus notify.Bus
}

func NewGormStore(db *gorm.DB, bus notify.Bus) *GormStore {
	return &GormStore{db: db, bus: bus}
}

// Migrate creates or updates the four tables and their unique indexes.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(
		&models.Game{},
		&models.Player{},
		&models.Question{},
		&models.Answer{},
	)
}

func (s *GormStore) InsertGame(ctx context.Context, game *models.Game) error {
	if game.Status == "" {
		game.Status = models.GameStatusWaiting
	}
	if err := s.db.WithContext(ctx).Create(game).Error; err != nil {
		return translate(err, "insert game "+game.ID)
	}
	s.publish(ctx, notify.Games, notify.OpInsert, game.ID, game.ID)
	return nil
}

func (s *GormStore) GetGame(ctx context.Context, id string) (*models.Game, error) {
	var game models.Game
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&game).Error; err != nil {
		return nil, translate(err, "game "+id)
	}
	return &game, nil
}

func (s *GormStore) TransitionGame(ctx context.Context, id string, t Transition) (*models.Game, error) {
	res := s.db.WithContext(ctx).Model(&models.Game{}).
		Where("id = ? AND status = ? AND current_question = ?", id, t.FromStatus, t.FromQuestion).
		Updates(map[string]interface{}{
			"status":           t.ToStatus,
			"current_question": t.ToQuestion,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return nil, translate(res.Error, "update game "+id)
	}

	game, err := s.GetGame(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("game %s is %s at question %d: %w", id, game.Status, game.CurrentQuestion, ErrConflict)
	}

	s.publish(ctx, notify.Games, notify.OpUpdate, id, id)
	return game, nil
}

func (s *GormStore) InsertQuestions(ctx context.Context, questions []models.Question) error {
	if len(questions) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&questions).Error; err != nil {
		return translate(err, "insert questions")
	}
	s.publish(ctx, notify.Questions, notify.OpInsert, questions[0].GameID, questions[0].ID)
	return nil
}

func (s *GormStore) ListQuestions(ctx context.Context, gameID string) ([]models.Question, error) {
	var questions []models.Question
	err := s.db.WithContext(ctx).Where("game_id = ?", gameID).
		Order("order_index").
		Find(&questions).Error
	if err != nil {
		return nil, translate(err, "questions of game "+gameID)
	}
	return questions, nil
}

func (s *GormStore) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	var q models.Question
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&q).Error; err != nil {
		return nil, translate(err, "question "+id)
	}
	return &q, nil
}

func (s *GormStore) MaxOrderIndex(ctx context.Context, gameID string) (int, error) {
	var highest sql.NullInt64
	err := s.db.WithContext(ctx).Model(&models.Question{}).
		Where("game_id = ?", gameID).
		Select("MAX(order_index)").
		Row().Scan(&highest)
	if err != nil {
		return 0, translate(err, "question order of game "+gameID)
	}
	if !highest.Valid {
		return -1, nil
	}
	return int(highest.Int64), nil
}

func (s *GormStore) InsertPlayer(ctx context.Context, player *models.Player) error {
	if player.JoinedAt.IsZero() {
		player.JoinedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(player).Error; err != nil {
		return translate(err, fmt.Sprintf("insert player %q", player.Name))
	}
	s.publish(ctx, notify.Players, notify.OpInsert, player.GameID, player.ID)
	return nil
}

func (s *GormStore) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	var player models.Player
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&player).Error; err != nil {
		return nil, translate(err, "player "+id)
	}
	return &player, nil
}

func (s *GormStore) ListPlayers(ctx context.Context, gameID string) ([]models.Player, error) {
	var players []models.Player
	err := s.db.WithContext(ctx).Where("game_id = ?", gameID).
		Order("score DESC").
		Order("joined_at ASC").
		Order("seq ASC").
		Find(&players).Error
	if err != nil {
		return nil, translate(err, "players of game "+gameID)
	}
	return players, nil
}

func (s *GormStore) FirstPlayer(ctx context.Context, gameID string) (*models.Player, error) {
	var player models.Player
	err := s.db.WithContext(ctx).Where("game_id = ?", gameID).
		Order("joined_at ASC").
		Order("seq ASC").
		First(&player).Error
	if err != nil {
		return nil, translate(err, "players of game "+gameID)
	}
	return &player, nil
}

func (s *GormStore) AddPlayerScore(ctx context.Context, id string, delta int) (*models.Player, error) {
	res := s.db.WithContext(ctx).Model(&models.Player{}).Where("id = ?", id).
		Update("score", gorm.Expr("score + ?", delta))
	if res.Error != nil {
		return nil, translate(res.Error, "update score of player "+id)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}

	player, err := s.GetPlayer(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.Players, notify.OpUpdate, player.GameID, player.ID)
	return player, nil
}

func (s *GormStore) InsertAnswer(ctx context.Context, answer *models.Answer) error {
	if answer.AnsweredAt.IsZero() {
		answer.AnsweredAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(answer).Error; err != nil {
		return translate(err, "insert answer of player "+answer.PlayerID)
	}
	return nil
}

func (s *GormStore) FindAnswer(ctx context.Context, playerID, questionID string) (*models.Answer, error) {
	var answer models.Answer
	err := s.db.WithContext(ctx).
		Where("player_id = ? AND question_id = ?", playerID, questionID).
		First(&answer).Error
	if err != nil {
		return nil, translate(err, "answer of player "+playerID)
	}
	return &answer, nil
}

func (s *GormStore) CountAnswerers(ctx context.Context, questionID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Answer{}).
		Where("question_id = ?", questionID).
		Distinct("player_id").
		Count(&count).Error
	if err != nil {
		return 0, translate(err, "answers to question "+questionID)
	}
	return int(count), nil
}

func (s *GormStore) Subscribe(ctx context.Context, topic notify.Topic) (notify.Subscription, error) {
	return s.bus.Subscribe(ctx, topic)
}

func (s *GormStore) publish(ctx context.Context, collection notify.Collection, op notify.Op, gameID, rowID string) {
	publishChange(ctx, s.bus, notify.Change{
		Collection: collection,
		Op:         op,
		GameID:     gameID,
		RowID:      rowID,
		At:         time.Now(),
	})
}

// translate maps driver errors onto ErrNotFound and ErrConflict.
func translate(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", what, ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
