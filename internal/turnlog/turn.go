// Package turnlog persists the per-turn conversation log. Each turn is written
// once per (session, turn id); later writes of the same id are ignored.
package turnlog

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrInvalidTurn is returned when a turn lacks its session or id.
var ErrInvalidTurn = errors.New("turnlog: session id and turn id are required")

// Turn is one request/response exchange.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Customer  []string  `json:"customer"`
	Bot       []string  `json:"bot"`
}

// Empty reports whether nothing was said in the turn.
func (t Turn) Empty() bool {
	return len(t.Customer) == 0 && len(t.Bot) == 0
}

// Store is the durable log of turns.
type Store interface {
	// Append writes turn under (sessionID, turnID). Writing an id that is
	// already stored is a no-op.
	Append(ctx context.Context, sessionID, turnID string, turn Turn) error
	// ListOrdered returns every turn of the session, oldest first.
	ListOrdered(ctx context.Context, sessionID string) ([]Turn, error)
}

func validate(sessionID, turnID string) error {
	if sessionID == "" || turnID == "" {
		return ErrInvalidTurn
	}
	return nil
}

func normalize(sessionID, turnID string, turn Turn) Turn {
	turn.SessionID = sessionID
	turn.ID = turnID
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	turn.Timestamp = turn.Timestamp.UTC().Truncate(time.Millisecond)
	return turn
}

// sortTurns orders by timestamp, then id for turns written in the same millisecond.
func sortTurns(turns []Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		if !turns[i].Timestamp.Equal(turns[j].Timestamp) {
			return turns[i].Timestamp.Before(turns[j].Timestamp)
		}
		return turns[i].ID < turns[j].ID
	})
}
