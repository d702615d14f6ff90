package events

import (
	"context"
	"log/slog"
	"sync"
)

// LogSink writes envelopes to structured logs. It is the default production
// sink when no outbox or broker is configured: events stay observable without
// any extra infrastructure. Duplicate idempotency keys within one process are
// dropped to honor the sink contract.
type LogSink struct {
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewLogSink creates a sink that logs each envelope. A nil logger falls back
// to slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{
		logger: logger.With("component", "event-sink"),
		seen:   make(map[string]struct{}),
	}
}

// Append implements EventSink by logging the envelope metadata and payload.
func (s *LogSink) Append(_ context.Context, envelope Envelope) error {
	s.mu.Lock()
	if _, dup := s.seen[envelope.IdempotencyKey]; dup {
		s.mu.Unlock()
		return nil
	}
	s.seen[envelope.IdempotencyKey] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("domain event",
		"event_type", envelope.Type,
		"source", envelope.Source,
		"workflow_id", envelope.WorkflowID,
		"run_id", envelope.RunID,
		"tenant_id", envelope.TenantID,
		"idempotency_key", envelope.IdempotencyKey,
		"payload", string(envelope.Payload),
	)
	return nil
}
