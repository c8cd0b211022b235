package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docmate-ai/docmate"
	"github.com/docmate-ai/docmate/log"
)

// Manager serializes question handling per session. Each session is a
// two-state machine: idle, or awaiting one answer. A second concurrent
// question on the same session is rejected with ErrSessionBusy rather
// than queued or interleaved. Sessions from different ids proceed fully
// in parallel.
type Manager struct {
	store           Store
	maxHistoryChars int
	logger          log.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithMaxHistoryChars bounds total stored history size per session
func WithMaxHistoryChars(n int) ManagerOption {
	return func(m *Manager) { m.maxHistoryChars = n }
}

// WithLogger sets the manager logger
func WithLogger(l log.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager over the given store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:           store,
		maxHistoryChars: 8000,
		logger:          log.GetDefaultLogger(),
		inFlight:        make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin moves the session into its awaiting state and returns its current
// history, trimmed to the configured maximum with the oldest turns dropped
// first. The release func must be called when the question completes,
// successfully or not.
func (m *Manager) Begin(ctx context.Context, sessionID string) (*Session, func(), error) {
	m.mu.Lock()
	if m.inFlight[sessionID] {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("session %s: %w", sessionID, docmate.ErrSessionBusy)
	}
	m.inFlight[sessionID] = true
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		delete(m.inFlight, sessionID)
		m.mu.Unlock()
	}

	s, err := m.store.Load(ctx, sessionID)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("session %s: loading: %w", sessionID, err)
	}
	if s == nil {
		now := time.Now()
		s = &Session{ID: sessionID, CreatedAt: now, UpdatedAt: now}
	}

	if m.trim(s) {
		if err := m.store.Save(ctx, s); err != nil {
			release()
			return nil, nil, fmt.Errorf("session %s: saving trimmed history: %w", sessionID, err)
		}
	}

	return s, release, nil
}

// Commit appends the completed turn to the session's current stored
// history and persists it. The stored state is reloaded first so a Reset
// that landed while the question was in flight stays in effect instead of
// being overwritten with the history loaded at Begin.
func (m *Manager) Commit(ctx context.Context, s *Session, turn docmate.ConversationTurn) error {
	cur, err := m.store.Load(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("session %s: loading for commit: %w", s.ID, err)
	}
	if cur == nil {
		cur = &Session{ID: s.ID, CreatedAt: s.CreatedAt}
	}
	cur.Turns = append(cur.Turns, turn)
	cur.UpdatedAt = time.Now()
	if err := m.store.Save(ctx, cur); err != nil {
		return fmt.Errorf("session %s: saving turn: %w", s.ID, err)
	}
	s.Turns = cur.Turns
	s.UpdatedAt = cur.UpdatedAt
	return nil
}

// Reset clears the session history from any state, including while a
// question is in flight; an in-flight commit will then start a fresh
// history.
func (m *Manager) Reset(ctx context.Context, sessionID string) error {
	s, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session %s: loading for reset: %w", sessionID, err)
	}
	if s == nil {
		return nil
	}
	s.Turns = nil
	s.UpdatedAt = time.Now()
	if err := m.store.Save(ctx, s); err != nil {
		return fmt.Errorf("session %s: saving reset: %w", sessionID, err)
	}
	m.logger.Info("session %s history cleared", sessionID)
	return nil
}

// Remove deletes the session entirely.
func (m *Manager) Remove(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionID)
}

// Count reports how many sessions the store holds.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

// trim drops oldest turns until the history fits the configured bound.
// Returns true when anything was dropped.
func (m *Manager) trim(s *Session) bool {
	if m.maxHistoryChars <= 0 {
		return false
	}
	dropped := false
	for len(s.Turns) > 0 && s.HistorySize() > m.maxHistoryChars {
		s.Turns = s.Turns[1:]
		dropped = true
	}
	if dropped {
		m.logger.Debug("session %s history trimmed to %d chars", s.ID, s.HistorySize())
	}
	return dropped
}
