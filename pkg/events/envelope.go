// Package events provides the generic envelope and sink types used for
// domain event emission. Domain packages marshal their own payloads and wrap
// them in an Envelope; sinks decide where envelopes go (log output, outbox
// table, message broker) without the emitting activity caring which.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Envelope wraps a domain event payload with the metadata every consumer
// needs: routing type, schema version, idempotency key, and the workflow
// execution that produced it. Payload schemas vary by Type and Version; the
// envelope itself never does.
type Envelope struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type routes the event, e.g. "generation.response_produced" or
	// "selection.winner_selected".
	Type string `json:"type"`

	// Source names the component that emitted the event, e.g.
	// "generation-activity".
	Source string `json:"source"`

	// Version is the payload schema version, semver starting at "1.0.0".
	Version string `json:"version"`

	// Timestamp records when the event was emitted (wall clock).
	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey is derived deterministically from the event content, so
	// activity retries re-emit the same key and consumers can deduplicate.
	IdempotencyKey string `json:"idempotency_key"`

	// TenantID scopes the event to a tenant. Sessions act as tenants here;
	// one-shot evaluations fall back to "default".
	TenantID string `json:"tenant_id"`

	// WorkflowID identifies the workflow execution that emitted the event.
	WorkflowID string `json:"workflow_id"`

	// RunID distinguishes retries of the same workflow.
	RunID string `json:"run_id"`

	// Payload is the domain-specific event body as JSON.
	Payload json.RawMessage `json:"payload"`
}

// EventSink receives envelopes from activities. Implementations must treat
// duplicate idempotency keys as no-ops and should return quickly; emission is
// best-effort and callers never fail their primary operation over a sink
// error.
type EventSink interface {
	// Append adds one envelope to the sink.
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink discards every envelope. Used in tests and when event
// emission is disabled.
type NoOpEventSink struct{}

// Append implements EventSink with no side effects.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error { return nil }

// NewNoOpEventSink creates a sink that discards all events.
func NewNoOpEventSink() EventSink { return &NoOpEventSink{} }
