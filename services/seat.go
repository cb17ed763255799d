package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"livequiz/models"
)

// Seat identifies the player a token was issued to.
type Seat struct {
	GameID   string
	PlayerID string
	Name     string
}

type seatClaims struct {
	GameID string `json:"game_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// SeatIssuer signs and checks the HS256 tokens handed out on create and
// join.
type SeatIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewSeatIssuer(secret string, ttl time.Duration, clock clockwork.Clock) (*SeatIssuer, error) {
	if secret == "" {
		return nil, errors.New("seat secret is required")
	}
	return &SeatIssuer{secret: []byte(secret), ttl: ttl, clock: clock}, nil
}

func (i *SeatIssuer) Issue(player *models.Player) (string, error) {
	now := i.clock.Now()
	claims := seatClaims{
		GameID: player.GameID,
		Name:   player.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   player.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign seat token: %w", err)
	}
	return signed, nil
}

func (i *SeatIssuer) Verify(token string) (*Seat, error) {
	claims := &seatClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if claims.Subject == "" || claims.GameID == "" {
		return nil, fmt.Errorf("%w: incomplete seat token", ErrUnauthorized)
	}
	return &Seat{GameID: claims.GameID, PlayerID: claims.Subject, Name: claims.Name}, nil
}
