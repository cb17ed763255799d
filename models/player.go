package models

import (
	"time"
)

type Player struct {
	ID       string    `json:"id" gorm:"primaryKey;type:uuid"`
	GameID   string    `json:"game_id" gorm:"not null;uniqueIndex:idx_players_game_name"`
	Name     string    `json:"name" gorm:"not null;uniqueIndex:idx_players_game_name"`
	Score    int       `json:"score" gorm:"not null;default:0"`
	JoinedAt time.Time `json:"joined_at" gorm:"not null"`
	// Seq is the arrival order within the store; it breaks joined_at ties.
	Seq int64 `json:"-" gorm:"autoIncrement"`
}

// RankedBefore reports whether p sorts ahead of o on the leaderboard:
// higher score first, then earlier joined_at, then arrival order, then id.
func (p Player) RankedBefore(o Player) bool {
	if p.Score != o.Score {
		return p.Score > o.Score
	}
	if !p.JoinedAt.Equal(o.JoinedAt) {
		return p.JoinedAt.Before(o.JoinedAt)
	}
	if p.Seq != o.Seq {
		return p.Seq < o.Seq
	}
	return p.ID < o.ID
}
