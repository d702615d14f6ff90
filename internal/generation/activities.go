// Package generation implements the Temporal activity for the generation
// stage of the evaluation pipeline: fan out one prompt to every configured
// provider through the resilient LLM client, and report the responses,
// failures, and usage back to the workflow together with domain events.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/internal/llm"
	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
	"github.com/ahrav/go-mealmatch/internal/signal"
	"github.com/ahrav/go-mealmatch/pkg/activity"
)

// heartbeatInterval is how often the activity reports liveness while the
// provider fan-out is in flight. Shorter than any sane heartbeat timeout.
const heartbeatInterval = 5 * time.Second

// Activities handles generation-specific Temporal activities. It wraps the
// LLM client fan-out with workflow context extraction, heartbeating, and
// event emission.
type Activities struct {
	activity.BaseActivities
	llmClient llm.Client
	events    *EventEmitter
}

// NewActivities creates generation activities around the given LLM client.
// The base activities supply event emission and context-safe logging.
func NewActivities(base activity.BaseActivities, client llm.Client) *Activities {
	return &Activities{
		BaseActivities: base,
		llmClient:      client,
		events:         NewEventEmitter(base),
	}
}

// GenerateResponses produces one candidate response per configured provider.
//
// The activity validates its input, extracts diet tags from the prompt when
// the caller supplied none, and hands the fan-out to the LLM client, which
// already carries retry, rate limiting, caching, and circuit breaking per
// provider. Individual provider failures never fail the activity; they come
// back in the output's Failures list. After a successful fan-out the
// activity emits one response-produced event per success plus an aggregated
// usage event, keyed for deduplication across activity retries.
//
// Blank prompts return a non-retryable INVALID_PROMPT error before any
// provider is invoked.
func (a *Activities) GenerateResponses(
	ctx context.Context,
	input domain.GenerateResponsesInput,
) (*domain.GenerateResponsesOutput, error) {
	if err := input.Validate(); err != nil {
		tag := "GenerateResponses"
		if errors.Is(err, domain.ErrInvalidPrompt) {
			tag = activity.ErrTypeInvalidPrompt
		}
		return nil, nonRetryable(tag, err, "invalid generation input")
	}

	if input.Tags.IsEmpty() {
		input.Tags = signal.Extract(input.Prompt)
	}

	wfCtx := a.GetWorkflowContext(ctx)
	if input.SessionID != "" {
		wfCtx.TenantID = input.SessionID
	}

	activity.SafeLog(ctx, "Starting GenerateResponses activity",
		"workflow_id", wfCtx.WorkflowID,
		"activity_id", wfCtx.ActivityID,
		"evaluation_id", input.EvaluationID,
		"providers", input.Config.Providers,
		"tags", input.Tags.String())

	startTime := time.Now()
	output, err := a.generateWithHeartbeats(ctx, input)
	if err != nil {
		if wfErr := llmerrors.ClassifyLLMError(err); wfErr != nil && wfErr.ShouldRetry() {
			return nil, retryable("GenerateResponses", err, wfErr.Message)
		}
		return nil, nonRetryable("GenerateResponses", err, "generation failed")
	}

	// Event failures are logged, never propagated.
	a.emitGenerationEvents(ctx, output, wfCtx)

	activity.SafeLog(ctx, "GenerateResponses completed",
		"responses", len(output.Responses),
		"failures", len(output.Failures),
		"tokens_used", output.TokensUsed,
		"latency_ms", time.Since(startTime).Milliseconds())

	return output, nil
}

// generateWithHeartbeats runs the provider fan-out while reporting liveness.
// A slow provider can hold the fan-out for most of the per-call timeout, so
// periodic heartbeats keep Temporal from declaring the worker dead mid-call.
func (a *Activities) generateWithHeartbeats(
	ctx context.Context,
	input domain.GenerateResponsesInput,
) (*domain.GenerateResponsesOutput, error) {
	a.RecordHeartbeat(ctx, fmt.Sprintf("Fanning out to %d providers", len(input.Config.Providers)))

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		start := time.Now()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				a.RecordHeartbeat(ctx, fmt.Sprintf("Fan-out in flight for %s",
					time.Since(start).Round(time.Second)))
			}
		}
	}()

	output, err := a.llmClient.Generate(ctx, input)
	close(done)
	return output, err
}

// emitGenerationEvents emits the per-response and aggregated usage events
// for one fan-out. A missing client idempotency key skips emission entirely:
// without it, activity retries would duplicate events downstream.
func (a *Activities) emitGenerationEvents(
	ctx context.Context,
	output *domain.GenerateResponsesOutput,
	wfCtx activity.WorkflowContext,
) {
	if output.ClientIdemKey == "" {
		activity.SafeLog(ctx, "No client idempotency key, skipping generation events")
		return
	}

	for i := range output.Responses {
		a.events.EmitResponseProduced(ctx, &output.Responses[i], wfCtx, output.ClientIdemKey)
	}

	a.events.EmitLLMUsage(ctx, output, wfCtx)
}

// nonRetryable wraps an error as a Temporal non-retryable application error
// with the given type tag.
func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}

// retryable wraps an error as a retryable Temporal application error for
// transient failures.
func retryable(tag string, cause error, msg string) error {
	return temporal.NewApplicationError(msg, tag, cause)
}
