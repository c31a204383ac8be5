// Package funnel tracks the attempt funnel: every reporting session leaves a
// Submission record regardless of whether a report is ever completed.
// Records are append-only and never deleted.
package funnel

import (
	"time"

	"github.com/google/uuid"
)

// StepComplete is the terminal progress key; the others are page numbers.
const StepComplete = "complete"

// Submission is one reporting attempt's telemetry. It deliberately carries
// no report content, only progress timestamps and coarse client hints.
type Submission struct {
	ID        uuid.UUID            `json:"id"`
	Org       string               `json:"org"`
	Project   string               `json:"project"`
	UserAgent string               `json:"user_agent"`
	Browser   string               `json:"browser"`
	Mobile    bool                 `json:"mobile"`
	Channel   string               `json:"channel"`
	Progress  map[string]time.Time `json:"progress"`
	ReportID  *uuid.UUID           `json:"report_id,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// Event mirrors a progress update onto the optional event stream.
type Event struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	Org          string    `json:"org"`
	Project      string    `json:"project"`
	Channel      string    `json:"channel"`
	Step         string    `json:"step"`
	At           time.Time `json:"at"`
}
