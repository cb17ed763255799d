package models

import (
	"time"
)

// NoAnswer is recorded when the countdown runs out before a choice was made.
const NoAnswer = -1

type Answer struct {
	ID             string    `json:"id" gorm:"primaryKey;type:uuid"`
	PlayerID       string    `json:"player_id" gorm:"not null;uniqueIndex:idx_answers_player_question"`
	QuestionID     string    `json:"question_id" gorm:"not null;uniqueIndex:idx_answers_player_question;index"`
	SelectedAnswer int       `json:"selected_answer" gorm:"not null"`
	ResponseTime   int       `json:"response_time" gorm:"not null"` // milliseconds
	PointsEarned   int       `json:"points_earned" gorm:"not null;default:0"`
	AnsweredAt     time.Time `json:"answered_at" gorm:"not null"`
}
