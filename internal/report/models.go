// Package report holds the persistent incident report entity and its stores.
package report

import (
	"time"

	"github.com/google/uuid"

	"haven/internal/normalize"
)

// FileRef points at one attachment already streamed to the file collaborator.
type FileRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Report is one in-progress or completed submission.
//
// Invariants:
//   - Alias is unique within (Org, Project) unless explicitly reused by its
//     known owner; the store enforces this with a unique constraint.
//   - Submitted is always derivable from SubmittedRaw plus the spec at
//     Version, but it is persisted at each page write, never recomputed
//     lazily, so later spec edits cannot retroactively alter past reports.
type Report struct {
	ID           uuid.UUID          `json:"id"`
	Org          string             `json:"org"`
	Project      string             `json:"project"`
	Alias        string             `json:"alias"`
	Version      string             `json:"version"`
	SubmittedRaw normalize.Raw      `json:"submitted_raw"`
	Submitted    normalize.Document `json:"submitted"`
	Files        []FileRef          `json:"files"`
	UserAgent    string             `json:"user_agent"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}
