// Package session owns per-conversation state: the ordered turn history,
// the one-question-at-a-time discipline, and pluggable persistence with
// in-memory and Redis backends.
package session

import (
	"context"
	"time"

	"github.com/docmate-ai/docmate"
)

// Session is a conversation's accumulated state. Turns are appended in
// arrival order and individually immutable.
type Session struct {
	ID        string                     `json:"id"`
	Turns     []docmate.ConversationTurn `json:"turns"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate freely.
func (s *Session) Clone() *Session {
	out := *s
	out.Turns = append([]docmate.ConversationTurn(nil), s.Turns...)
	return &out
}

// HistorySize is the total character size of all stored turns.
func (s *Session) HistorySize() int {
	total := 0
	for _, t := range s.Turns {
		total += t.Size()
	}
	return total
}

// Store persists sessions. Implementations must be safe for concurrent
// use; Load of an unknown id returns (nil, nil).
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}
