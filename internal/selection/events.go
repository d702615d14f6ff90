package selection

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
	eventSource        = "selection-activity"
	eventSchemaVersion = "1.0.0"
)

// winnerSelectedEvent records the outcome of one evaluation. It carries the
// score totals and the deciding rule, not the winning text; the text lives in
// the activity output and the transcript.
type winnerSelectedEvent struct {
	EvaluationID    string         `json:"evaluation_id"`
	WinningProvider string         `json:"winning_provider"`
	TieBreak        string         `json:"tie_break"`
	Totals          map[string]int `json:"totals_by_provider"`
	Degraded        bool           `json:"degraded"`
	FailedProviders []string       `json:"failed_providers,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	TotalTokens     int64          `json:"total_tokens"`
	SelectedAt      time.Time      `json:"selected_at"`
}

// EventEmitter publishes selection lifecycle events through the configured sink.
type EventEmitter struct {
	base activity.BaseActivities
}

// NewEventEmitter creates an emitter bound to the given base activities.
func NewEventEmitter(base activity.BaseActivities) *EventEmitter {
	return &EventEmitter{base: base}
}

// EmitWinnerSelected emits the terminal event for an evaluation. The
// idempotency key is derived from the evaluation ID alone: an evaluation
// selects exactly one winner, so retries re-emit the same key.
func (e *EventEmitter) EmitWinnerSelected(
	ctx context.Context,
	result *domain.EvaluationResult,
	wfCtx activity.WorkflowContext,
) {
	totals := make(map[string]int, len(result.Breakdowns))
	for provider, breakdown := range result.Breakdowns {
		totals[provider] = breakdown.Total
	}

	event := winnerSelectedEvent{
		EvaluationID:    result.EvaluationID,
		WinningProvider: result.WinningProvider,
		TieBreak:        string(result.TieBreak),
		Totals:          totals,
		Degraded:        result.Degraded,
		FailedProviders: failedProviders(result.FailedProviders),
		Tags:            result.Tags.Strings(),
		TotalTokens:     result.Usage.TotalTokens,
		SelectedAt:      time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		activity.SafeLogError(ctx, "Failed to marshal winner-selected event",
			"evaluation_id", result.EvaluationID,
			"error", err)
		return
	}

	envelope := events.Envelope{
		ID:             uuid.New().String(),
		Type:           domain.EventTypeWinnerSelected,
		Source:         eventSource,
		Version:        eventSchemaVersion,
		Timestamp:      time.Now(),
		IdempotencyKey: domain.WinnerSelectedIdempotencyKey(result.EvaluationID),
		TenantID:       wfCtx.TenantID,
		WorkflowID:     wfCtx.WorkflowID,
		RunID:          wfCtx.RunID,
		Payload:        payload,
	}

	e.base.EmitEventSafe(ctx, envelope, fmt.Sprintf("WinnerSelected[%s]", result.WinningProvider))
}

// failedProviders lists failed provider names, nil when none failed.
func failedProviders(failures []domain.ProviderFailure) []string {
	if len(failures) == 0 {
		return nil
	}
	providers := make([]string, 0, len(failures))
	for _, f := range failures {
		providers = append(providers, f.Provider)
	}
	return providers
}
