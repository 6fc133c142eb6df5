// Package memory is an in-process SessionStore. It satisfies the same
// atomicity contract as the durable stores and backs tests and the
// "memory" driver.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Drop/internal/core"
	"github.com/dkeye/Drop/internal/domain"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[domain.PublicID]*domain.Session
	secrets  map[string]domain.PublicID
}

var _ core.SessionStore = (*Store)(nil)

func New() *Store {
	return &Store{
		sessions: make(map[domain.PublicID]*domain.Session),
		secrets:  make(map[string]domain.PublicID),
	}
}

func clone(s *domain.Session) *domain.Session {
	c := *s
	c.Items = slices.Clone(s.Items)
	c.ReceiverConnIDs = slices.Clone(s.ReceiverConnIDs)
	if c.ReceiverConnIDs == nil {
		c.ReceiverConnIDs = []domain.ConnID{}
	}
	return &c
}

func (s *Store) Create(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.PublicID]; ok {
		return core.ErrDuplicate
	}
	if _, ok := s.secrets[sess.DeletionSecret]; ok {
		return core.ErrDuplicate
	}
	s.sessions[sess.PublicID] = clone(sess)
	s.secrets[sess.DeletionSecret] = sess.PublicID
	return nil
}

func (s *Store) FindOpen(_ context.Context, id domain.PublicID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.IsOpen {
		return nil, core.ErrNotFound
	}
	return clone(sess), nil
}

func (s *Store) AddReceiver(_ context.Context, id domain.PublicID, conn domain.ConnID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.IsOpen {
		return core.ErrNotFound
	}
	if !sess.HasReceiver(conn) {
		sess.ReceiverConnIDs = append(sess.ReceiverConnIDs, conn)
	}
	return nil
}

func (s *Store) DeleteBySender(_ context.Context, conn domain.ConnID) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Session
	for id, sess := range s.sessions {
		if sess.SenderConnID != conn {
			continue
		}
		out = append(out, sess)
		s.deleteLocked(id)
	}
	return out, nil
}

func (s *Store) DeleteBySecret(_ context.Context, id domain.PublicID, secret string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.DeletionSecret != secret {
		return nil, core.ErrNotFound
	}
	s.deleteLocked(id)
	return sess, nil
}

func (s *Store) PullReceiver(_ context.Context, conn domain.ConnID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sess := range s.sessions {
		before := len(sess.ReceiverConnIDs)
		sess.ReceiverConnIDs = slices.DeleteFunc(sess.ReceiverConnIDs, func(c domain.ConnID) bool { return c == conn })
		if len(sess.ReceiverConnIDs) != before {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpired(_ context.Context, before time.Time) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Session
	for id, sess := range s.sessions {
		if !sess.CreatedAt.Before(before) {
			continue
		}
		out = append(out, sess)
		s.deleteLocked(id)
	}
	return out, nil
}

func (s *Store) deleteLocked(id domain.PublicID) {
	if sess, ok := s.sessions[id]; ok {
		delete(s.secrets, sess.DeletionSecret)
	}
	delete(s.sessions, id)
}

// Get returns any session by id regardless of state. Used by tests.
func (s *Store) Get(id domain.PublicID) (*domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return clone(sess), true
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
