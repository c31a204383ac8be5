package funnel

import (
	"context"
	"log/slog"
)

// Sink receives mirrored funnel events. *Publisher is the production
// implementation.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Worker drains the recorder's event channel into a sink. Publish failures
// are logged and skipped: telemetry mirroring must never wedge.
type Worker struct {
	sink   Sink
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-w.inbox:
			if err := w.sink.Publish(ctx, ev); err != nil {
				w.logger.Warn("funnel event publish failed",
					"submission_id", ev.SubmissionID,
					"step", ev.Step,
					"error", err,
				)
			}
		}
	}
}
