package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskflow/mailcenter/internal/campaign"
)

// Session is one live campaign wizard, keyed by id.
type Session struct {
	ID         string
	Controller *campaign.Controller
	CreatedAt  time.Time
	LastActive time.Time
}

// Sessions keeps live campaign sessions in memory and reaps idle ones.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewSessions creates an empty session registry.
func NewSessions(logger *slog.Logger) *Sessions {
	return &Sessions{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "sessions"),
	}
}

// Create registers a new session for the controller.
func (s *Sessions) Create(ctrl *campaign.Controller) *Session {
	now := time.Now()
	sess := &Session{
		ID:         uuid.New().String(),
		Controller: ctrl,
		CreatedAt:  now,
		LastActive: now,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the session and refreshes its activity timestamp.
func (s *Sessions) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		sess.LastActive = time.Now()
	}
	return sess, ok
}

// Delete removes a session.
func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Count returns the number of live sessions.
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// reap removes sessions idle for longer than ttl. Sessions mid-send are
// kept regardless of idle time.
func (s *Sessions) reap(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActive.Before(cutoff) && !sess.Controller.IsSending() {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartReaper reaps idle sessions until ctx is done.
func (s *Sessions) StartReaper(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(ttl / 4)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.reap(ttl); n > 0 {
					s.logger.Info("reaped idle sessions", "count", n)
				}
			}
		}
	}()
}
