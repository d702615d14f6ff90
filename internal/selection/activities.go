package selection

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/pkg/activity"
)

// Activities implements the winner-selection stage of the evaluation
// pipeline. Selection is pure computation over already-scored responses, so
// the activity needs no LLM client and no storage.
type Activities struct {
	activity.BaseActivities

	events *EventEmitter
}

// NewActivities creates selection activities with the given base.
func NewActivities(base activity.BaseActivities) *Activities {
	return &Activities{
		BaseActivities: base,
		events:         NewEventEmitter(base),
	}
}

// SelectWinner assembles the final evaluation result: it picks the winning
// provider from the scored responses and packages it with the per-provider
// breakdowns, failure flags, and usage totals.
//
// Selection is deterministic, so every failure is permanent. When no response
// is usable the activity fails with the no-provider-available type and the
// workflow gives up rather than retrying.
func (a *Activities) SelectWinner(
	ctx context.Context,
	input domain.SelectWinnerInput,
) (*domain.SelectWinnerOutput, error) {
	if err := input.Validate(); err != nil {
		return nil, nonRetryable("SelectWinner", err, "invalid selection input")
	}

	wfCtx := a.GetWorkflowContext(ctx)
	if input.SessionID != "" {
		wfCtx.TenantID = input.SessionID
	}

	activity.SafeLog(ctx, "Starting SelectWinner activity",
		"workflow_id", wfCtx.WorkflowID,
		"activity_id", wfCtx.ActivityID,
		"evaluation_id", input.EvaluationID,
		"candidates", len(input.Responses),
		"scores", len(input.Scores))

	winner, err := DetermineWinner(input.Responses, input.Scores, input.Priority)
	if err != nil {
		return nil, nonRetryable(activity.ErrTypeNoProviderAvailable, err,
			"no scoreable provider response")
	}

	result := BuildResult(&input, winner)
	if err := result.Validate(); err != nil {
		return nil, nonRetryable("SelectWinner", err, "assembled result failed validation")
	}

	// Event failures are logged, never propagated.
	a.events.EmitWinnerSelected(ctx, result, wfCtx)

	activity.SafeLog(ctx, "SelectWinner completed",
		"evaluation_id", result.EvaluationID,
		"winning_provider", result.WinningProvider,
		"tie_break", result.TieBreak,
		"degraded", result.Degraded)

	return &domain.SelectWinnerOutput{Result: result}, nil
}

// BuildResult assembles the evaluation outcome from selection input and the
// determined winner. Exported because the synchronous evaluation path builds
// the same result shape without the workflow around it.
func BuildResult(input *domain.SelectWinnerInput, winner *Winner) *domain.EvaluationResult {
	breakdowns := make(map[string]domain.ScoreBreakdown, len(input.Scores))
	for _, s := range input.Scores {
		if !s.IsValid() {
			continue
		}
		breakdowns[s.Provider] = s.Breakdown
	}

	return &domain.EvaluationResult{
		EvaluationID:    input.EvaluationID,
		WinningProvider: winner.Provider,
		WinningText:     winner.Response.Text,
		Breakdowns:      breakdowns,
		FailedProviders: input.Failures,
		Degraded:        len(input.Failures) > 0,
		TieBreak:        winner.TieBreak,
		Tags:            input.Tags,
		Usage:           input.Usage,
		EvaluatedAt:     time.Now(),
	}
}

func nonRetryable(errType string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, errType, cause)
}
