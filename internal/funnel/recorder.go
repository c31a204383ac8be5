package funnel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
)

// Recorder is the funnel's service layer: it persists telemetry and, when an
// event channel is attached, mirrors each step onto it without ever blocking
// the request path.
type Recorder struct {
	store  Store
	events chan<- Event
}

// NewRecorder wires the recorder. events may be nil when no stream is
// configured.
func NewRecorder(store Store, events chan<- Event) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("funnel store is required")
	}
	return &Recorder{store: store, events: events}, nil
}

// Start creates the telemetry record for a fresh attempt. The raw User-Agent
// is kept verbatim; browser family and mobile flag are parsed out for
// aggregate queries.
func (r *Recorder) Start(ctx context.Context, org, project, channel, rawUA string) (uuid.UUID, error) {
	sub := &Submission{
		ID:        uuid.New(),
		Org:       org,
		Project:   project,
		UserAgent: rawUA,
		Channel:   channel,
		Progress:  map[string]time.Time{"index": time.Now()},
	}
	if rawUA != "" {
		ua := useragent.New(rawUA)
		name, version := ua.Browser()
		sub.Browser = name + " " + version
		sub.Mobile = ua.Mobile()
	}
	if err := r.store.Create(ctx, sub); err != nil {
		return uuid.Nil, fmt.Errorf("create submission: %w", err)
	}
	r.emit(Event{SubmissionID: sub.ID, Org: org, Project: project, Channel: channel, Step: "index", At: time.Now()})
	return sub.ID, nil
}

// Step records progress through the funnel.
func (r *Recorder) Step(ctx context.Context, id uuid.UUID, step string) error {
	now := time.Now()
	if err := r.store.Progress(ctx, id, step, now); err != nil {
		return err
	}
	sub, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	r.emit(Event{SubmissionID: id, Org: sub.Org, Project: sub.Project, Channel: sub.Channel, Step: step, At: now})
	return nil
}

// Link ties the submission to the report it produced.
func (r *Recorder) Link(ctx context.Context, id, reportID uuid.UUID) error {
	return r.store.Link(ctx, id, reportID)
}

// emit is non-blocking: a full channel drops the event rather than stalling
// a reporter mid-page.
func (r *Recorder) emit(ev Event) {
	if r.events == nil {
		return
	}
	select {
	case r.events <- ev:
	default:
	}
}
