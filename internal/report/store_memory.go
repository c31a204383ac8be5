package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"haven/internal/normalize"
	"haven/pkg/platform/sentinel"
)

// InMemoryStore is the development and test implementation. It enforces the
// same (org, project, alias) uniqueness the Postgres schema does, so the
// check-then-act race in the alias claim has the identical backstop in both.
type InMemoryStore struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]*Report
	aliases map[string]uuid.UUID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		reports: make(map[uuid.UUID]*Report),
		aliases: make(map[string]uuid.UUID),
	}
}

func aliasKey(org, project, alias string) string {
	return org + "/" + project + "/" + strings.ToLower(alias)
}

func (s *InMemoryStore) Create(_ context.Context, r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Alias != "" {
		key := aliasKey(r.Org, r.Project, r.Alias)
		if owner, ok := s.aliases[key]; ok && owner != r.ID {
			return fmt.Errorf("alias %q: %w", r.Alias, sentinel.ErrConflict)
		}
		s.aliases[key] = r.ID
	}

	cp := cloneReport(r)
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.reports[r.ID] = cp
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, sentinel.ErrNotFound)
	}
	return cloneReport(r), nil
}

func (s *InMemoryStore) FindByAlias(_ context.Context, org, project, alias string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.aliases[aliasKey(org, project, alias)]
	if !ok {
		return nil, fmt.Errorf("alias %q: %w", alias, sentinel.ErrNotFound)
	}
	return cloneReport(s.reports[id]), nil
}

func (s *InMemoryStore) SetAlias(_ context.Context, id uuid.UUID, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return fmt.Errorf("report %s: %w", id, sentinel.ErrNotFound)
	}
	if alias != "" {
		key := aliasKey(r.Org, r.Project, alias)
		if owner, taken := s.aliases[key]; taken && owner != id {
			return fmt.Errorf("alias %q: %w", alias, sentinel.ErrConflict)
		}
		s.aliases[key] = id
	}
	if r.Alias != "" && !strings.EqualFold(r.Alias, alias) {
		delete(s.aliases, aliasKey(r.Org, r.Project, r.Alias))
	}
	r.Alias = alias
	r.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) UpdatePage(_ context.Context, id uuid.UUID, raw normalize.Raw, doc normalize.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return fmt.Errorf("report %s: %w", id, sentinel.ErrNotFound)
	}
	if r.SubmittedRaw == nil {
		r.SubmittedRaw = normalize.Raw{}
	}
	for k, v := range raw.Clone() {
		r.SubmittedRaw[k] = v
	}
	r.Submitted = r.Submitted.Merge(doc)
	r.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) AttachFiles(_ context.Context, id uuid.UUID, files []FileRef) error {
	if len(files) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return fmt.Errorf("report %s: %w", id, sentinel.ErrNotFound)
	}
	r.Files = append(r.Files, files...)
	r.UpdatedAt = time.Now()
	return nil
}

func cloneReport(r *Report) *Report {
	cp := *r
	cp.SubmittedRaw = r.SubmittedRaw.Clone()
	cp.Submitted = append(normalize.Document(nil), r.Submitted...)
	cp.Files = append([]FileRef(nil), r.Files...)
	return &cp
}
