package store

import (
	"context"
	"sync"
	"time"

	"github.com/bindiq/onboard/internal/domain"
)

// MemoryStore implements Repository in process memory. It backs local
// development and tests; state is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	history  map[string][]domain.Message
	closed   bool
}

// NewMemory creates an in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		history:  make(map[string][]domain.Message),
	}
}

// LoadSession retrieves a session snapshot including its history.
func (m *MemoryStore) LoadSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := sess.Clone()
	out.History = append([]domain.Message(nil), m.history[sessionID]...)
	return out, nil
}

// SaveSession stores a copy of the session snapshot.
func (m *MemoryStore) SaveSession(_ context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := sess.Clone()
	c.History = nil
	m.sessions[sess.ID] = c
	return nil
}

// AppendMessage adds one history entry.
func (m *MemoryStore) AppendMessage(_ context.Context, sessionID string, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[sessionID] = append(m.history[sessionID], msg)
	return nil
}

// Messages returns the history for a session in arrival order.
func (m *MemoryStore) Messages(_ context.Context, sessionID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Message(nil), m.history[sessionID]...), nil
}

// DeleteSession removes a session and its history.
func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	delete(m.history, sessionID)
	return nil
}

// CleanupExpiredSessions removes sessions idle longer than ttl.
func (m *MemoryStore) CleanupExpiredSessions(_ context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, sess := range m.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			delete(m.history, id)
			n++
		}
	}
	return n, nil
}

// Ping is a no-op for the in-memory store.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }
