package scoring

import (
	"context"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/pkg/activity"
)

// Activities handles the scoring stage of the evaluation pipeline. Scoring
// itself is pure text analysis, so the activity's job is orchestration:
// validate, grade every response against the rubric, and emit one
// response-scored event per grade.
type Activities struct {
	activity.BaseActivities
	events *EventEmitter
}

// NewActivities creates scoring activities. Scoring needs no LLM client or
// storage; the base activities supply event emission and logging.
func NewActivities(base activity.BaseActivities) *Activities {
	return &Activities{
		BaseActivities: base,
		events:         NewEventEmitter(base),
	}
}

// ScoreResponses grades every response with the four-dimension rubric.
//
// Grading is deterministic: identical responses and tags always produce
// identical breakdowns, so activity retries are harmless. Responses that
// cannot compete (empty text or a recorded generation error) receive an
// invalid score that preserves the 1:1 input mapping without ever entering
// winner selection. The output carries scores in input order.
func (a *Activities) ScoreResponses(
	ctx context.Context,
	input domain.ScoreResponsesInput,
) (*domain.ScoreResponsesOutput, error) {
	if err := input.Validate(); err != nil {
		return nil, nonRetryable("ScoreResponses", err, "invalid scoring input")
	}

	wfCtx := a.GetWorkflowContext(ctx)
	if input.SessionID != "" {
		wfCtx.TenantID = input.SessionID
	}

	activity.SafeLog(ctx, "Starting ScoreResponses activity",
		"workflow_id", wfCtx.WorkflowID,
		"activity_id", wfCtx.ActivityID,
		"evaluation_id", input.EvaluationID,
		"responses", len(input.Responses),
		"rubric_version", RubricVersion,
		"tags", input.Tags.String())

	scores := make([]domain.ProviderScore, 0, len(input.Responses))
	for i := range input.Responses {
		scores = append(scores, GradeResponse(&input.Responses[i], input.Tags))
	}

	output := &domain.ScoreResponsesOutput{Scores: scores}
	if err := output.Validate(); err != nil {
		return nil, nonRetryable("ScoreResponses", err, "invalid scoring output")
	}

	// Event failures are logged, never propagated.
	for i := range output.Scores {
		a.events.EmitResponseScored(ctx, input.EvaluationID, &output.Scores[i], wfCtx)
	}

	activity.SafeLog(ctx, "ScoreResponses completed",
		"scores", len(output.Scores),
		"valid_scores", countValidScores(output.Scores))

	return output, nil
}

// GradeResponse grades one response, or marks it unscoreable when the text
// cannot compete. Exported because the synchronous evaluation path grades
// responses without the activity around it.
func GradeResponse(resp *domain.ModelResponse, tags domain.DietTagSet) domain.ProviderScore {
	if !resp.IsValid() {
		score := domain.NewProviderScore(resp.Provider, resp.ID, RubricVersion, domain.ScoreBreakdown{})
		score.Valid = false
		score.Error = "response not scoreable: empty text or failed generation"
		return *score
	}
	return *domain.NewProviderScore(resp.Provider, resp.ID, RubricVersion, Score(resp.Text, tags))
}

// countValidScores counts scores eligible for selection, for logging.
func countValidScores(scores []domain.ProviderScore) int {
	count := 0
	for i := range scores {
		if scores[i].IsValid() {
			count++
		}
	}
	return count
}

// nonRetryable wraps an error as a Temporal non-retryable application error.
// Scoring is deterministic, so every failure here is permanent.
func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}
