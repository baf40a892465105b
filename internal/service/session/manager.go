package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/metrics"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

const defaultTTL = time.Hour

// Manager keeps live sessions with a sliding expiry. Expired sessions are
// closed.
type Manager struct {
	deps   Deps
	ttl    time.Duration
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewManager creates a registry. A non-positive ttl means one hour.
func NewManager(deps Deps, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	cleanup := ttl / 6
	if cleanup < time.Second {
		cleanup = time.Second
	}

	m := &Manager{
		deps:   deps,
		ttl:    ttl,
		cache:  cache.New(ttl, cleanup),
		logger: deps.Logger.With().Str("component", "sessions").Logger(),
	}
	m.cache.OnEvicted(func(id string, x any) {
		if s, ok := x.(*Session); ok {
			s.Close()
			metrics.ActiveSessions.Dec()
			m.logger.Debug().Str("session", id).Msg("session evicted")
		}
	})
	return m
}

// Create builds and bootstraps a session for clientID.
func (m *Manager) Create(ctx context.Context, clientID string) (*Session, error) {
	s := New(m.deps, clientID)
	if _, err := s.Bootstrap(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.cache.Set(s.ID, s, cache.DefaultExpiration)
	metrics.ActiveSessions.Inc()
	m.logger.Info().Str("session", s.ID).Str("client", clientID).Msg("session created")
	return s, nil
}

// Get returns a live session and extends its expiry.
func (m *Manager) Get(id string) (*Session, error) {
	x, found := m.cache.Get(id)
	if !found {
		return nil, ErrNotFound
	}
	s := x.(*Session)
	m.cache.Set(id, s, cache.DefaultExpiration)
	return s, nil
}

// Touch extends a live session's expiry. Long-lived streams call it so a
// browser that only listens is not evicted.
func (m *Manager) Touch(id string) bool {
	x, found := m.cache.Get(id)
	if !found {
		return false
	}
	m.cache.Set(id, x, cache.DefaultExpiration)
	return true
}

// Delete closes and forgets a session.
func (m *Manager) Delete(id string) {
	m.cache.Delete(id)
}

// Count returns the number of live sessions, expired ones included until
// the next sweep.
func (m *Manager) Count() int {
	return m.cache.ItemCount()
}

// Close closes every session.
func (m *Manager) Close() {
	for id := range m.cache.Items() {
		m.cache.Delete(id)
	}
}
