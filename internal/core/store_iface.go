package core

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Drop/internal/domain"
)

var (
	// ErrNotFound is returned when no open session matches.
	ErrNotFound = errors.New("session not found")
	// ErrDuplicate is returned by Create when the public id or the
	// deletion secret is already taken.
	ErrDuplicate = errors.New("session already exists")
)

// SessionStore is the durable source of truth for sessions. Every method
// is a single atomic operation; callers never rely on isolation across
// calls.
type SessionStore interface {
	// Create persists a new session. Uniqueness violations return ErrDuplicate.
	Create(ctx context.Context, s *domain.Session) error
	// FindOpen returns the session with the given id if it is still open.
	FindOpen(ctx context.Context, id domain.PublicID) (*domain.Session, error)
	// AddReceiver adds conn to the receiver set of an open session.
	// Adding an existing receiver is a no-op.
	AddReceiver(ctx context.Context, id domain.PublicID, conn domain.ConnID) error
	// DeleteBySender removes and returns every session owned by conn.
	DeleteBySender(ctx context.Context, conn domain.ConnID) ([]*domain.Session, error)
	// DeleteBySecret removes the session only if both id and secret match.
	DeleteBySecret(ctx context.Context, id domain.PublicID, secret string) (*domain.Session, error)
	// PullReceiver removes conn from the receiver set of every session and
	// reports how many sessions changed.
	PullReceiver(ctx context.Context, conn domain.ConnID) (int64, error)
	// DeleteExpired removes and returns sessions created before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) ([]*domain.Session, error)

	Ping(ctx context.Context) error
	Close() error
}
