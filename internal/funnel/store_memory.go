package funnel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"haven/pkg/platform/sentinel"
)

// InMemoryStore keeps submissions in process memory for development and
// tests.
type InMemoryStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Submission
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{subs: make(map[uuid.UUID]*Submission)}
}

func (s *InMemoryStore) Create(_ context.Context, sub *Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneSubmission(sub)
	if cp.Progress == nil {
		cp.Progress = make(map[string]time.Time)
	}
	cp.CreatedAt = time.Now()
	s.subs[sub.ID] = cp
	sub.CreatedAt = cp.CreatedAt
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, fmt.Errorf("submission %s: %w", id, sentinel.ErrNotFound)
	}
	return cloneSubmission(sub), nil
}

func (s *InMemoryStore) Progress(_ context.Context, id uuid.UUID, step string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return fmt.Errorf("submission %s: %w", id, sentinel.ErrNotFound)
	}
	sub.Progress[step] = at
	return nil
}

func (s *InMemoryStore) Link(_ context.Context, id, reportID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return fmt.Errorf("submission %s: %w", id, sentinel.ErrNotFound)
	}
	sub.ReportID = &reportID
	return nil
}

func cloneSubmission(sub *Submission) *Submission {
	cp := *sub
	cp.Progress = make(map[string]time.Time, len(sub.Progress))
	for k, v := range sub.Progress {
		cp.Progress[k] = v
	}
	if sub.ReportID != nil {
		rid := *sub.ReportID
		cp.ReportID = &rid
	}
	return &cp
}
