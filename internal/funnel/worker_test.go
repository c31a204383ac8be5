package funnel

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type captureSink struct {
	mu     sync.Mutex
	got    []Event
	failOn string
}

func (c *captureSink) Publish(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Step == c.failOn {
		return errors.New("broker unavailable")
	}
	c.got = append(c.got, ev)
	return nil
}

func (c *captureSink) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.got...)
}

func TestWorkerDrainsAndSurvivesPublishFailures(t *testing.T) {
	sink := &captureSink{failOn: "2"}
	inbox := make(chan Event, 8)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	worker := NewWorker(sink, inbox, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	id := uuid.New()
	for _, step := range []string{"1", "2", "3"} {
		inbox <- Event{SubmissionID: id, Step: step, At: time.Now()}
	}

	assert.Eventually(t, func() bool {
		return len(sink.events()) == 2
	}, 2*time.Second, 10*time.Millisecond, "failed event skipped, rest delivered")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
