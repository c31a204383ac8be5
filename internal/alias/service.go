package alias

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"haven/internal/report"
	"haven/pkg/platform/sentinel"
)

// Service validates alias claims against the report store.
//
// Claim is a check-then-act sequence with a known race window: two sessions
// may generate the same fresh alias, or a "new alias" check may overlap
// another session's insert. That is acceptable for this domain because the
// store's unique (org, project, alias) constraint is the correctness
// backstop; callers treat Claim results as advisory and map the eventual
// insert failure to the same conflict class.
type Service struct {
	reports report.Store
}

func NewService(reports report.Store) (*Service, error) {
	if reports == nil {
		return nil, errors.New("report store is required")
	}
	return &Service{reports: reports}, nil
}

// Exists reports whether any report within org/project carries the alias.
func (s *Service) Exists(ctx context.Context, org, project, alias string) (bool, error) {
	_, err := s.reports.FindByAlias(ctx, org, project, alias)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("alias lookup: %w", err)
	}
	return true, nil
}

// Claim resolves an identity assertion.
//
// usedBefore=true asserts "I used this alias before": the owning report is
// returned, or sentinel.ErrNotFound when no prior report carries the alias
// (excluding the caller's own in-progress report).
//
// usedBefore=false asserts "this is a new alias": sentinel.ErrConflict is
// returned when any other report already owns it.
func (s *Service) Claim(ctx context.Context, org, project, alias string, usedBefore bool, excludeReportID uuid.UUID) (*report.Report, error) {
	owner, err := s.reports.FindByAlias(ctx, org, project, alias)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("alias lookup: %w", err)
	}
	found := err == nil
	ownedByCaller := found && excludeReportID != uuid.Nil && owner.ID == excludeReportID

	if usedBefore {
		if !found || ownedByCaller {
			return nil, fmt.Errorf("alias %q has no prior report: %w", alias, sentinel.ErrNotFound)
		}
		return owner, nil
	}

	if found && !ownedByCaller {
		return nil, fmt.Errorf("alias %q already in use: %w", alias, sentinel.ErrConflict)
	}
	return nil, nil
}
