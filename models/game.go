package models

import (
	"time"
)

type GameStatus string

const (
	GameStatusWaiting  GameStatus = "waiting"
	GameStatusActive   GameStatus = "active"
	GameStatusFinished GameStatus = "finished"
)

// Game is a session; its id doubles as the numeric join code.
type Game struct {
	ID              string     `json:"id" gorm:"primaryKey;size:6"`
	Status          GameStatus `json:"status" gorm:"not null;default:'waiting'"` // waiting, active, finished
	CurrentQuestion int        `json:"current_question" gorm:"not null;default:0"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Advance returns the status and question index that follow g in a game
// with questionCount questions. Finished games stay where they are.
func (g Game) Advance(questionCount int) (GameStatus, int) {
	if g.Status != GameStatusActive {
		return g.Status, g.CurrentQuestion
	}
	if next := g.CurrentQuestion + 1; next < questionCount {
		return GameStatusActive, next
	}
	return GameStatusFinished, g.CurrentQuestion
}

func (s GameStatus) Valid() bool {
	switch s {
	case GameStatusWaiting, GameStatusActive, GameStatusFinished:
		return true
	}
	return false
}
