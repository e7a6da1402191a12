// Package store provides session persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/bindiq/onboard/internal/domain"
)

// ErrSessionNotFound is returned when a session ID does not resolve.
// Callers treat it as "start fresh", never as a fault.
var ErrSessionNotFound = errors.New("session not found")

// Repository is the persistence capability consumed by the session
// manager. Saves are atomic per call: either the new snapshot is fully
// written or the prior one remains retrievable. Implementations must be
// safe for concurrent use.
type Repository interface {
	// LoadSession retrieves a session snapshot including its history.
	// Returns ErrSessionNotFound if the session doesn't exist.
	LoadSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// SaveSession writes the session snapshot (state, collected slots,
	// counters, progress). History is persisted via AppendMessage.
	SaveSession(ctx context.Context, sess *domain.Session) error

	// AppendMessage adds one history entry. History is append-only.
	AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error

	// Messages returns the full history for a session in arrival order.
	Messages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// DeleteSession removes a session and its history.
	DeleteSession(ctx context.Context, sessionID string) error

	// CleanupExpiredSessions removes sessions idle longer than ttl and
	// returns how many were removed.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
