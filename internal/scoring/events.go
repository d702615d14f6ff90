package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/pkg/activity"
	"github.com/ahrav/go-mealmatch/pkg/events"
)

const (
	eventSource        = "scoring-activity"
	eventSchemaVersion = "1.0.0"
)

// responseScoredEvent records one graded response: the full breakdown, the
// rubric revision that produced it, and whether the score may compete.
type responseScoredEvent struct {
	ScoreID       string                `json:"score_id"`
	ResponseID    string                `json:"response_id"`
	Provider      string                `json:"provider"`
	RubricVersion string                `json:"rubric_version"`
	Breakdown     domain.ScoreBreakdown `json:"breakdown"`
	Valid         bool                  `json:"valid"`
	Error         string                `json:"error,omitempty"`
	ScoredAt      time.Time             `json:"scored_at"`
}

// EventEmitter emits scoring domain events through the base activity
// infrastructure. Emission is best-effort and never fails the activity.
type EventEmitter struct{ base activity.BaseActivities }

// NewEventEmitter creates an emitter bound to the given base activities.
func NewEventEmitter(base activity.BaseActivities) *EventEmitter {
	return &EventEmitter{base: base}
}

// EmitResponseScored emits the event for one graded response. The
// idempotency key derives from the evaluation and response IDs, so activity
// retries regrade deterministically and re-emit identical keys.
func (e *EventEmitter) EmitResponseScored(
	ctx context.Context,
	evaluationID string,
	score *domain.ProviderScore,
	wfCtx activity.WorkflowContext,
) {
	event := responseScoredEvent{
		ScoreID:       score.ID,
		ResponseID:    score.ResponseID,
		Provider:      score.Provider,
		RubricVersion: score.RubricVersion,
		Breakdown:     score.Breakdown,
		Valid:         score.Valid,
		Error:         score.Error,
		ScoredAt:      score.ScoredAt,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		activity.SafeLogError(ctx, "Failed to marshal response-scored event",
			"score_id", score.ID,
			"error", err)
		return
	}

	envelope := events.Envelope{
		ID:             uuid.New().String(),
		Type:           domain.EventTypeResponseScored,
		Source:         eventSource,
		Version:        eventSchemaVersion,
		Timestamp:      time.Now(),
		IdempotencyKey: domain.ResponseScoredIdempotencyKey(evaluationID, score.ResponseID),
		TenantID:       wfCtx.TenantID,
		WorkflowID:     wfCtx.WorkflowID,
		RunID:          wfCtx.RunID,
		Payload:        payload,
	}

	e.base.EmitEventSafe(ctx, envelope, fmt.Sprintf("ResponseScored[%s]", score.Provider))
}
