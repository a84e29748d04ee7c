package review

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown session ids
var ErrSessionNotFound = errors.New("session not found")

// Manager keeps independent review sessions by id
type Manager struct {
	extractor Extractor
	persister Persister
	opts      []Option
	newID     func() string
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	session *Session
	used    time.Time
}

// NewManager creates a Manager whose sessions share the extractor, persister and options
func NewManager(extractor Extractor, persister Persister, opts ...Option) *Manager {
	return &Manager{
		extractor: extractor,
		persister: persister,
		opts:      opts,
		newID:     uuid.NewString,
		now:       time.Now,
		sessions:  make(map[string]*entry),
	}
}

// Create starts a new idle session
func (m *Manager) Create() *Session {
	s := NewSession(m.newID(), m.extractor, m.persister, m.opts...)

	m.mu.Lock()
	m.sessions[s.ID()] = &entry{session: s, used: m.now()}
	m.mu.Unlock()
	return s
}

// Get returns the session and marks it as used
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.used = m.now()
	return e.session, nil
}

// Remove closes the session, cancelling any extraction in flight
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	e.session.Close()
	return nil
}

// Sweep closes the sessions nobody has used for longer than ttl and
// returns how many were closed
func (m *Manager) Sweep(ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	var stale []*Session
	for id, e := range m.sessions {
		if e.used.Before(cutoff) {
			stale = append(stale, e.session)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		slog.Info("expired idle review sessions", "count", len(stale), "ttl", ttl)
	}
	return len(stale)
}

// ExpireIdle sweeps sessions unused for ttl until ctx is done. A ttl of
// zero disables expiry.
func (m *Manager) ExpireIdle(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ttl)
		}
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close closes every session
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range sessions {
		e.session.Close()
	}
}
