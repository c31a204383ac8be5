package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"haven/pkg/platform/sentinel"
)

// SessionStore holds sessions keyed by their opaque token. Channel adapters
// are responsible only for extracting and injecting the correlator from
// their transport; storage and expiry live here.
//
// Expiry is evaluated lazily: Get on a session older than the TTL returns
// ErrExpired and discards it. There is no background sweeper.
type SessionStore interface {
	Get(ctx context.Context, token string) (*Session, error)
	Put(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, token string) error
}

// InMemorySessionStore is the single-process implementation.
type InMemorySessionStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewInMemorySessionStore(ttl time.Duration) *InMemorySessionStore {
	return &InMemorySessionStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// WithClock overrides the wall clock for expiry tests.
func (s *InMemorySessionStore) WithClock(now func() time.Time) *InMemorySessionStore {
	s.now = now
	return s
}

func (s *InMemorySessionStore) Get(_ context.Context, token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, fmt.Errorf("session: %w", sentinel.ErrNotFound)
	}
	if s.ttl > 0 && s.now().Sub(sess.StartedAt) > s.ttl {
		delete(s.sessions, token)
		return nil, fmt.Errorf("session: %w", sentinel.ErrExpired)
	}
	cp := *sess
	return &cp, nil
}

func (s *InMemorySessionStore) Put(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.Token] = &cp
	return nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}
