// Package notify carries row-change notifications between the store and the
// clients subscribed to a game. A Change is only a signal: receivers re-read
// the rows they care about instead of applying it as a delta.
package notify

import (
	"context"
	"fmt"
	"time"
)

type Collection string

const (
	Games     Collection = "games"
	Players   Collection = "players"
	Questions Collection = "questions"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
	// OpResync is sent when a bus may have missed changes, e.g. after a
	// reconnect.
	OpResync Op = "RESYNC"
)

// subBuffer is the per-subscription queue length. A full queue drops the
// new change; the ones still queued already trigger a full re-read.
const subBuffer = 16

// Topic scopes notifications to one collection of one game.
type Topic struct {
	Collection Collection
	GameID     string
}

func GameTopic(gameID string) Topic {
	return Topic{Collection: Games, GameID: gameID}
}

func PlayersTopic(gameID string) Topic {
	return Topic{Collection: Players, GameID: gameID}
}

func QuestionsTopic(gameID string) Topic {
	return Topic{Collection: Questions, GameID: gameID}
}

// String returns the channel name for t: "game-<id>", "players-<id>" or
// "questions-<id>".
func (t Topic) String() string {
	if t.Collection == Games {
		return "game-" + t.GameID
	}
	return fmt.Sprintf("%s-%s", t.Collection, t.GameID)
}

type Change struct {
	Collection Collection `json:"collection"`
	Op         Op         `json:"op"`
	GameID     string     `json:"game_id"`
	RowID      string     `json:"row_id"`
	At         time.Time  `json:"at"`
}

func (c Change) Topic() Topic {
	return Topic{Collection: c.Collection, GameID: c.GameID}
}

type Subscription interface {
	// C is closed once the subscription is closed.
	C() <-chan Change
	Close() error
}

type Bus interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(ctx context.Context, topic Topic) (Subscription, error)
	Close() error
}
