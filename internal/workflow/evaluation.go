package workflow

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/pkg/activity"
)

// TaskQueue is the Temporal task queue shared by the worker and every
// evaluation starter.
const TaskQueue = "mealmatch-evaluation"

// Activity names as registered on the worker. The workflow executes
// activities by name so this package never imports activity implementations,
// which keeps the dependency direction one-way: activities depend on domain,
// the workflow depends on names.
const (
	GenerateResponsesActivity = "GenerateResponses"
	ScoreResponsesActivity    = "ScoreResponses"
	SelectWinnerActivity      = "SelectWinner"
)

// EvaluationWorkflow orchestrates one evaluation: fan the prompt out to every
// configured provider, grade each reply with the deterministic rubric, and
// select the winner. All workflow code must use workflow-safe APIs only.
//
// Responses and scores travel between activities through the workflow, so the
// full comparison is replayable from history alone.
func EvaluationWorkflow(
	ctx workflow.Context,
	req domain.EvaluationRequest,
) (*domain.EvaluationResult, error) {
	// Version gate enables safe evolution and backward compatibility.
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "evaluation.v", workflow.DefaultVersion, currentVersion)

	// Validate request early to fail fast on invalid input. A blank prompt is
	// rejected before any provider call is scheduled.
	if err := req.Validate(); err != nil {
		errType := "Validation"
		if errors.Is(err, domain.ErrInvalidPrompt) {
			errType = activity.ErrTypeInvalidPrompt
		}
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid evaluation request",
			errType,
			err,
		)
	}

	logger := workflow.GetLogger(ctx)
	logger.Info("Starting evaluation",
		"evaluation_id", req.ID,
		"session_id", req.SessionID,
		"providers", req.Config.Providers)

	retryPolicy := &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    time.Minute,
		MaximumAttempts:    3,
		NonRetryableErrorTypes: []string{
			activity.ErrTypeInvalidPrompt,
			activity.ErrTypeNoProviderAvailable,
		},
	}

	started := workflow.Now(ctx)

	// Generation waits on real provider calls: it gets the per-call timeout
	// plus headroom for transport retries, and heartbeats keep slow providers
	// distinguishable from a dead worker.
	generateCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Duration(req.Config.Timeout)*time.Second + 30*time.Second,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         retryPolicy,
	})

	genInput := domain.GenerateResponsesInput{
		EvaluationID: req.ID,
		SessionID:    req.SessionID,
		Prompt:       req.Prompt,
		Context:      req.Context,
		Config:       req.Config,
	}
	var genOutput domain.GenerateResponsesOutput
	err := workflow.ExecuteActivity(generateCtx, GenerateResponsesActivity, genInput).
		Get(generateCtx, &genOutput)
	if err != nil {
		return nil, fmt.Errorf("generate responses: %w", err)
	}

	// A degraded comparison with one survivor still proceeds; zero survivors
	// cannot, and retrying the workflow would re-burn every provider budget.
	if !genOutput.HasResponses() {
		return nil, temporal.NewNonRetryableApplicationError(
			"every provider failed",
			activity.ErrTypeNoProviderAvailable,
			domain.ErrNoProviderAvailable,
		)
	}

	// Scoring and selection are pure computation, so they share tight
	// options: no heartbeats, short timeout.
	fastCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         retryPolicy,
	})

	scoreInput := domain.ScoreResponsesInput{
		EvaluationID: req.ID,
		SessionID:    req.SessionID,
		Tags:         genOutput.Tags,
		Responses:    genOutput.Responses,
	}
	var scoreOutput domain.ScoreResponsesOutput
	err = workflow.ExecuteActivity(fastCtx, ScoreResponsesActivity, scoreInput).
		Get(fastCtx, &scoreOutput)
	if err != nil {
		return nil, fmt.Errorf("score responses: %w", err)
	}

	selectInput := domain.SelectWinnerInput{
		EvaluationID: req.ID,
		SessionID:    req.SessionID,
		Responses:    genOutput.Responses,
		Scores:       scoreOutput.Scores,
		Failures:     genOutput.Failures,
		Priority:     req.Config.Providers,
		Tags:         genOutput.Tags,
		Usage: domain.EvaluationUsage{
			TotalTokens:   genOutput.TokensUsed,
			CallsMade:     genOutput.CallsMade,
			LatencyMillis: workflow.Now(ctx).Sub(started).Milliseconds(),
		},
	}
	var selectOutput domain.SelectWinnerOutput
	err = workflow.ExecuteActivity(fastCtx, SelectWinnerActivity, selectInput).
		Get(fastCtx, &selectOutput)
	if err != nil {
		return nil, fmt.Errorf("select winner: %w", err)
	}

	logger.Info("Evaluation complete",
		"evaluation_id", req.ID,
		"winning_provider", selectOutput.Result.WinningProvider,
		"tie_break", selectOutput.Result.TieBreak,
		"degraded", selectOutput.Result.Degraded)

	return selectOutput.Result, nil
}
