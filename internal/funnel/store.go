package funnel

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists submission telemetry. There is deliberately no delete.
type Store interface {
	Create(ctx context.Context, sub *Submission) error
	Get(ctx context.Context, id uuid.UUID) (*Submission, error)

	// Progress records that the attempt reached the given step (a page
	// number or StepComplete) at the given time.
	Progress(ctx context.Context, id uuid.UUID, step string, at time.Time) error

	// Link associates the submission with the report it produced.
	Link(ctx context.Context, id, reportID uuid.UUID) error
}
