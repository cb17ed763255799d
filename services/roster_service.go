package services

import (
	"context"
	"errors"
	"fmt"

	"livequiz/models"
	"livequiz/store"
)

type RosterService struct {
	store store.Store
}

func NewRosterService(st store.Store) *RosterService {
	return &RosterService{store: st}
}

// Standing is a player with its leaderboard position. Tied scores share a
// rank.
type Standing struct {
	Rank int `json:"rank"`
	models.Player
}

// LoadPlayers returns the game's players, best score first.
func (s *RosterService) LoadPlayers(ctx context.Context, gameID string) ([]models.Player, error) {
	players, err := s.store.ListPlayers(ctx, gameID)
	if err != nil {
		return nil, upstream(err)
	}
	return players, nil
}

// GetPlayer returns the player only if it belongs to gameID.
func (s *RosterService) GetPlayer(ctx context.Context, gameID, playerID string) (*models.Player, error) {
	p, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("player %w", ErrNotFound)
		}
		return nil, upstream(err)
	}
	if p.GameID != gameID {
		return nil, fmt.Errorf("player %s in game %s: %w", playerID, gameID, ErrNotFound)
	}
	return p, nil
}

func (s *RosterService) Leaderboard(ctx context.Context, gameID string) ([]Standing, error) {
	players, err := s.LoadPlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return Rank(players), nil
}

// Rank assigns competition ranks (1, 2, 2, 4) to players already in
// ListPlayers order.
func Rank(players []models.Player) []Standing {
	standings := make([]Standing, len(players))
	for i, p := range players {
		rank := i + 1
		if i > 0 && p.Score == players[i-1].Score {
			rank = standings[i-1].Rank
		}
		standings[i] = Standing{Rank: rank, Player: p}
	}
	return standings
}
