package models

import (
	"github.com/lib/pq"
)

// Questions are written once when a game is created and never mutated.
type Question struct {
	ID            string         `json:"id" gorm:"primaryKey;type:uuid"`
	GameID        string         `json:"game_id" gorm:"not null;uniqueIndex:idx_questions_game_order"`
	QuestionText  string         `json:"question_text" gorm:"not null"`
	Options       pq.StringArray `json:"options" gorm:"type:text[];not null"`
	CorrectAnswer int            `json:"correct_answer" gorm:"not null"`
	TimeLimit     int            `json:"time_limit" gorm:"not null;default:30"` // seconds
	OrderIndex    int            `json:"order_index" gorm:"not null;uniqueIndex:idx_questions_game_order"`
}

// PublicQuestion is a Question as shown to players during a game.
type PublicQuestion struct {
	ID           string   `json:"id"`
	GameID       string   `json:"game_id"`
	QuestionText string   `json:"question_text"`
	Options      []string `json:"options"`
	TimeLimit    int      `json:"time_limit"`
	OrderIndex   int      `json:"order_index"`
	// Don't include CorrectAnswer until the game is over
	CorrectAnswer *int `json:"correct_answer,omitempty"`
}

func (q Question) Public(reveal bool) PublicQuestion {
	pub := PublicQuestion{
		ID:           q.ID,
		GameID:       q.GameID,
		QuestionText: q.QuestionText,
		Options:      append([]string(nil), q.Options...),
		TimeLimit:    q.TimeLimit,
		OrderIndex:   q.OrderIndex,
	}
	if reveal {
		correct := q.CorrectAnswer
		pub.CorrectAnswer = &correct
	}
	return pub
}
