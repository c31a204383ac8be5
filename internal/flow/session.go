// Package flow implements the paginated submission state machine shared by
// the web and SMS channels.
package flow

import (
	"time"

	"github.com/google/uuid"

	"haven/internal/geo"
	"haven/internal/report"
)

// Session is one reporting attempt's ephemeral state, keyed by an opaque
// token. The web channel carries the token in a cookie, the SMS channel in a
// per-device mapping; the flow never sees the difference.
type Session struct {
	Token        string           `json:"token"`
	Org          string           `json:"org"`
	Project      string           `json:"project"`
	Channel      string           `json:"channel"`
	UserAgent    string           `json:"user_agent"`
	SubmissionID uuid.UUID        `json:"submission_id"`
	ReportID     *uuid.UUID       `json:"report_id,omitempty"`

	// CompletedPage is the high-water mark of pages successfully submitted.
	// Invariant: a requested page is always ≤ CompletedPage+1.
	CompletedPage int `json:"completed_page"`

	// Question is the SMS channel's cursor into the flattened question list.
	Question int `json:"question"`

	// PendingFiles are staged attachments from a page whose validation
	// failed; they attach on the next successful submit of that page.
	PendingFiles []report.FileRef `json:"pending_files,omitempty"`

	// Geocode caches the location resolved from the reporter's free-text
	// address, consumed by the what-next resource lookup.
	Geocode *geo.Location `json:"geocode,omitempty"`

	StartedAt time.Time `json:"started_at"`
}
