package domain

import (
	"fmt"
	"time"
)

// TieBreakReason records which rule decided the winner, making selection
// auditable and the tie-break chain testable.
type TieBreakReason string

const (
	// TieBreakTotal indicates a strictly greater breakdown total.
	TieBreakTotal TieBreakReason = "total"

	// TieBreakLength indicates equal totals resolved by longer response text.
	TieBreakLength TieBreakReason = "length"

	// TieBreakPriority indicates equal totals and lengths resolved by the
	// configured provider priority order.
	TieBreakPriority TieBreakReason = "priority"

	// TieBreakDefault indicates a sole surviving provider won unopposed.
	TieBreakDefault TieBreakReason = "default"
)

// ProviderFailure flags one provider that produced no usable response.
// Carried on the evaluation result so callers can present a
// partial-confidence answer instead of silently showing one model's output
// as selected.
type ProviderFailure struct {
	// Provider identifies the failed backend.
	Provider string `json:"provider" validate:"required,min=1"`

	// Reason is a human-readable failure description.
	Reason string `json:"reason" validate:"required,min=1"`

	// Kind is the classified failure type (timeout, rate_limit, network,
	// provider, circuit_open, ...). Populated from the transport error
	// classification.
	Kind string `json:"kind,omitempty"`
}

// String renders the failure for logs and CLI output.
func (f ProviderFailure) String() string {
	if f.Kind != "" {
		return fmt.Sprintf("%s: %s (%s)", f.Provider, f.Reason, f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Provider, f.Reason)
}

// EvaluationUsage aggregates resource consumption across one evaluation.
type EvaluationUsage struct {
	// TotalTokens is the token total across all provider calls.
	TotalTokens int64 `json:"total_tokens" validate:"min=0"`

	// CallsMade is the number of provider calls that completed.
	CallsMade int64 `json:"calls_made" validate:"min=0"`

	// LatencyMillis is the wall-clock duration of the evaluation.
	LatencyMillis int64 `json:"latency_ms" validate:"min=0"`
}

// EvaluationResult is the immutable outcome of one evaluation: the winning
// response, the full breakdown for every provider that succeeded, and flags
// for every provider that failed. Produced once per evaluation; it has no
// persisted lifecycle beyond events and the transcript.
type EvaluationResult struct {
	// EvaluationID references the originating request.
	EvaluationID string `json:"evaluation_id" validate:"required,uuid"`

	// WinningProvider identifies the selected backend.
	WinningProvider string `json:"winning_provider" validate:"required,min=1"`

	// WinningText is the selected response body.
	WinningText string `json:"winning_text" validate:"required"`

	// Breakdowns maps each successful provider to its score breakdown.
	// Map keys marshal sorted, so rendering is deterministic.
	Breakdowns map[string]ScoreBreakdown `json:"breakdown_by_provider" validate:"required,min=1"`

	// FailedProviders flags every provider that produced no usable response.
	FailedProviders []ProviderFailure `json:"failed_providers,omitempty"`

	// Degraded indicates at least one provider failed, so the comparison
	// covered fewer candidates than configured.
	Degraded bool `json:"degraded"`

	// TieBreak records which rule decided the winner.
	TieBreak TieBreakReason `json:"tie_break" validate:"required,oneof=total length priority default"`

	// Tags echoes the diet signals the evaluation used.
	Tags DietTagSet `json:"tags,omitempty"`

	// Usage aggregates token, call, and latency consumption.
	Usage EvaluationUsage `json:"usage"`

	// EvaluatedAt records when the winner was selected.
	EvaluatedAt time.Time `json:"evaluated_at" validate:"required"`
}

// Validate checks the result structure, every breakdown invariant, and that
// the winner carries a breakdown.
func (r *EvaluationResult) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	for provider := range r.Breakdowns {
		breakdown := r.Breakdowns[provider]
		if err := breakdown.Validate(); err != nil {
			return fmt.Errorf("breakdown for %s: %w", provider, err)
		}
	}
	if _, ok := r.Breakdowns[r.WinningProvider]; !ok {
		return fmt.Errorf("%w: winning provider %q has no breakdown", ErrInvalidRequest, r.WinningProvider)
	}
	return nil
}

// WinningBreakdown returns the winner's score breakdown. The second return
// is false when the winning provider has no recorded breakdown, which a
// valid result never exhibits.
func (r *EvaluationResult) WinningBreakdown() (ScoreBreakdown, bool) {
	b, ok := r.Breakdowns[r.WinningProvider]
	return b, ok
}

// SelectWinnerInput carries everything winner determination needs: scored
// responses, recorded failures, and the provider priority order.
type SelectWinnerInput struct {
	// EvaluationID ties the selection back to its evaluation.
	EvaluationID string `json:"evaluation_id" validate:"required,uuid"`

	// SessionID groups the selection with its conversation.
	SessionID string `json:"session_id,omitempty"`

	// Responses are the successful provider replies.
	Responses []ModelResponse `json:"responses" validate:"required,min=1,dive"`

	// Scores are the per-provider breakdowns, one per response.
	Scores []ProviderScore `json:"scores" validate:"required,min=1,dive"`

	// Failures flags providers that produced no usable response.
	Failures []ProviderFailure `json:"failures,omitempty"`

	// Priority is the provider order for the final tie-break.
	Priority []string `json:"priority" validate:"required,min=1"`

	// Tags echoes the diet signals the evaluation used.
	Tags DietTagSet `json:"tags,omitempty"`

	// Usage aggregates consumption recorded during generation.
	Usage EvaluationUsage `json:"usage"`
}

// Validate checks the input structure.
func (i *SelectWinnerInput) Validate() error {
	if err := i.Tags.Validate(); err != nil {
		return err
	}
	return validate.Struct(i)
}

// SelectWinnerOutput wraps the final evaluation result.
type SelectWinnerOutput struct {
	// Result is the completed evaluation outcome.
	Result *EvaluationResult `json:"result" validate:"required"`
}

// Validate checks the output and the embedded result.
func (o *SelectWinnerOutput) Validate() error {
	if err := validate.Struct(o); err != nil {
		return err
	}
	return o.Result.Validate()
}
