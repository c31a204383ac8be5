package report

import (
	"context"

	"github.com/google/uuid"

	"haven/internal/normalize"
)

// Store persists reports. Implementations return pkg/platform/sentinel
// errors (wrapped) for factual failures: ErrNotFound for missing records,
// ErrConflict when an insert or alias change collides with the unique
// (org, project, alias) constraint.
type Store interface {
	// Create inserts a new report. The alias uniqueness constraint is the
	// correctness backstop behind the advisory check-then-act claim in the
	// alias service.
	Create(ctx context.Context, r *Report) error

	Get(ctx context.Context, id uuid.UUID) (*Report, error)

	// FindByAlias returns the report owning alias within org/project, or
	// ErrNotFound.
	FindByAlias(ctx context.Context, org, project, alias string) (*Report, error)

	// SetAlias binds an alias onto a report created before the identity page
	// was reached. ErrConflict when another report already owns it.
	SetAlias(ctx context.Context, id uuid.UUID, alias string) error

	// UpdatePage merges one page's raw fields and normalized entries into
	// the stored report. It is an incremental update: existing answers for
	// other pages are preserved, same-name raw fields and same-label
	// document entries are replaced.
	UpdatePage(ctx context.Context, id uuid.UUID, raw normalize.Raw, doc normalize.Document) error

	// AttachFiles appends staged attachments to the report.
	AttachFiles(ctx context.Context, id uuid.UUID, files []FileRef) error
}
