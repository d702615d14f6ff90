// Package activity provides shared infrastructure for Temporal activity
// implementations: workflow context extraction, panic-safe logging and
// heartbeats, and best-effort event emission. Domain activity packages embed
// BaseActivities instead of reimplementing these concerns.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/ahrav/go-mealmatch/pkg/events"
)

// Error type tags attached to Temporal application errors. The workflow
// retry policy lists these as non-retryable, so activities tagging an error
// with one of them stop the pipeline immediately.
const (
	// ErrTypeInvalidPrompt marks an empty or unusable prompt. No provider
	// was invoked; retrying cannot help.
	ErrTypeInvalidPrompt = "INVALID_PROMPT"

	// ErrTypeNoProviderAvailable marks an evaluation in which every
	// configured provider failed. Terminal for the evaluation.
	ErrTypeNoProviderAvailable = "NO_PROVIDER_AVAILABLE"
)

// WorkflowContext carries the workflow execution metadata activities attach
// to logs and events. Fields fall back to test values outside a real
// activity context.
type WorkflowContext struct {
	WorkflowID string
	RunID      string
	TenantID   string
	ActivityID string
}

// BaseActivities provides the common infrastructure every activity type
// embeds: an event sink plus context-safe helpers that work in both Temporal
// and plain test contexts.
type BaseActivities struct {
	eventSink events.EventSink
}

// NewBaseActivities creates base infrastructure around the given sink.
// A nil sink disables event emission.
func NewBaseActivities(sink events.EventSink) BaseActivities {
	return BaseActivities{eventSink: sink}
}

// GetWorkflowContext extracts execution metadata from the activity context.
// Inside a Temporal activity it returns the real workflow IDs. In plain test
// contexts, where activity.GetInfo panics, it substitutes stable test IDs so
// idempotency-sensitive assertions stay deterministic.
//
// TenantID defaults to "default"; sessions act as tenants, and activities
// whose input carries a session ID override it before emitting events.
func (b *BaseActivities) GetWorkflowContext(ctx context.Context) WorkflowContext {
	var wfCtx WorkflowContext

	func() {
		defer func() {
			if r := recover(); r != nil {
				wfCtx.WorkflowID = "test-workflow"
				wfCtx.RunID = "test-run-" + uuid.New().String()[:8]
				wfCtx.TenantID = "default"
				wfCtx.ActivityID = "test-activity"
			}
		}()

		info := activity.GetInfo(ctx)
		wfCtx.WorkflowID = info.WorkflowExecution.ID
		wfCtx.RunID = info.WorkflowExecution.RunID
		wfCtx.ActivityID = info.ActivityID
		wfCtx.TenantID = "default"
	}()

	return wfCtx
}

// EmitEventSafe emits one envelope with a short retry and never propagates
// failure. Events matter for observability and projections, not correctness,
// so a sink outage must not fail the activity that produced the event.
func (b *BaseActivities) EmitEventSafe(
	ctx context.Context,
	envelope events.Envelope,
	description string,
) {
	if b.eventSink == nil {
		return
	}

	const maxAttempts = 2
	const retryDelay = 200 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				SafeLogError(ctx, fmt.Sprintf("Event emission cancelled: %s", description),
					"event_type", envelope.Type)
				return
			}
		}

		if err := b.eventSink.Append(ctx, envelope); err != nil {
			lastErr = err
			continue
		}

		SafeLog(ctx, fmt.Sprintf("Event emitted: %s", description),
			"event_type", envelope.Type,
			"idempotency_key", envelope.IdempotencyKey)
		return
	}

	SafeLogError(ctx, fmt.Sprintf("Failed to emit %s after %d attempts", description, maxAttempts),
		"event_type", envelope.Type,
		"error", lastErr)
}

// RecordHeartbeat records an activity heartbeat, safe outside activity
// contexts.
func (b *BaseActivities) RecordHeartbeat(ctx context.Context, details ...any) {
	RecordHeartbeat(ctx, details...)
}

// SafeLog logs at info level through the activity logger. Outside an
// activity context the call is a no-op instead of a panic, so activity code
// can log unconditionally and still run under plain unit tests.
func SafeLog(ctx context.Context, msg string, keyvals ...any) {
	defer func() {
		if recover() != nil {
			// Not an activity context.
		}
	}()
	activity.GetLogger(ctx).Info(msg, keyvals...)
}

// SafeLogError logs at error level with the same context safety as SafeLog.
func SafeLogError(ctx context.Context, msg string, keyvals ...any) {
	defer func() {
		if recover() != nil {
			// Not an activity context.
		}
	}()
	activity.GetLogger(ctx).Error(msg, keyvals...)
}

// RecordHeartbeat records progress for long-running activities so Temporal
// can detect stalls. Safe to call outside activity contexts.
func RecordHeartbeat(ctx context.Context, details ...any) {
	defer func() {
		if recover() != nil {
			// Not an activity context.
		}
	}()
	activity.RecordHeartbeat(ctx, details...)
}
