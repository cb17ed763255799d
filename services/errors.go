package services

import (
	"errors"
	"fmt"

	"livequiz/store"
)

var (
	ErrNotFound     = store.ErrNotFound
	ErrConflict     = store.ErrConflict
	ErrUnauthorized = errors.New("not authorised")
	ErrUpstream     = errors.New("upstream failure")

	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid game state")
	ErrNotHost      = errors.New("only the host can do that")
)

var (
	ErrGameNotFound     = fmt.Errorf("game %w", ErrNotFound)
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)
	ErrNameTaken        = fmt.Errorf("player name already taken: %w", ErrConflict)
	ErrNoPlayers        = fmt.Errorf("need at least 1 player to start: %w", ErrInvalidState)
)

// SessionCreateError reports which insert of CreateGame failed. Rows written
// by earlier stages are left behind; callers retry from scratch.
type SessionCreateError struct {
	Stage  string
	GameID string
	Err    error
}

func (e *SessionCreateError) Error() string {
	return fmt.Sprintf("failed to create game %s (%s): %v", e.GameID, e.Stage, e.Err)
}

func (e *SessionCreateError) Unwrap() error { return e.Err }

func (e *SessionCreateError) Is(target error) bool { return target == ErrUpstream }

// upstream marks a store error that is neither NotFound nor Conflict.
func upstream(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}
