// Package sms adapts an inbound-message gateway webhook onto the submission
// flow: one question per exchange, the alias generated server-side.
package sms

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Transport is the outbound side of the SMS gateway.
//
// Delete removes a received message from the gateway's storage. Reporter
// messages contain sensitive text, so the handler deletes each one after
// processing; the operation is retried but never blocks a reply.
type Transport interface {
	Send(ctx context.Context, to, body string) error
	Delete(ctx context.Context, messageID string) error
}

// LogTransport is the development gateway: replies go to the log, deletes
// are no-ops.
type LogTransport struct {
	Logger *slog.Logger
}

func (t *LogTransport) Send(_ context.Context, to, body string) error {
	t.Logger.Info("sms reply", "to", to, "body", body)
	return nil
}

func (t *LogTransport) Delete(context.Context, string) error { return nil }

// deleteWithRetry scrubs an inbound message from the gateway, backing off on
// transient failures. Gateways rate-limit deletes, hence the generous cap.
func deleteWithRetry(ctx context.Context, transport Transport, messageID string, logger *slog.Logger) {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
		backoff.WithMaxElapsedTime(2*time.Minute),
	), ctx)
	err := backoff.Retry(func() error {
		return transport.Delete(ctx, messageID)
	}, policy)
	if err != nil {
		logger.Warn("could not delete inbound message from gateway", "message_id", messageID, "error", err)
	}
}

// DeviceStore maps a sender address to its active session token so a
// conversation survives across webhook deliveries.
type DeviceStore interface {
	Lookup(ctx context.Context, device string) (string, bool)
	Bind(ctx context.Context, device, token string) error
	Unbind(ctx context.Context, device string) error
}

// InMemoryDeviceStore is the single-process implementation.
type InMemoryDeviceStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

func NewInMemoryDeviceStore() *InMemoryDeviceStore {
	return &InMemoryDeviceStore{tokens: make(map[string]string)}
}

func (s *InMemoryDeviceStore) Lookup(_ context.Context, device string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[device]
	return token, ok
}

func (s *InMemoryDeviceStore) Bind(_ context.Context, device, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[device] = token
	return nil
}

func (s *InMemoryDeviceStore) Unbind(_ context.Context, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, device)
	return nil
}
