// Package arbiter runs one complete evaluation synchronously: generate
// competing responses, score every success, select the winner, and record
// the exchange. It is the interactive counterpart to the Temporal workflow;
// the CLI drives it directly so a chat turn never needs a cluster.
//
// The arbiter reuses the same building blocks as the durable pipeline
// (signal extraction, the scoring rubric, winner determination), so the two
// paths always agree on which response wins for a given input.
package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/internal/llm"
	"github.com/ahrav/go-mealmatch/internal/memory"
	"github.com/ahrav/go-mealmatch/internal/scoring"
	"github.com/ahrav/go-mealmatch/internal/selection"
	"github.com/ahrav/go-mealmatch/internal/signal"
)

// Arbiter evaluates one prompt across every configured provider and picks
// the best response. Memory and the transcript are best-effort
// collaborators: their failures are logged and never fail an evaluation.
type Arbiter struct {
	client     llm.Client
	store      memory.Store
	transcript *memory.Transcript
	config     domain.EvalConfig
	logger     *slog.Logger
}

// New creates an arbiter. A nil store disables conversation memory and a
// nil transcript disables the session log; evaluation itself works without
// either.
func New(
	client llm.Client,
	store memory.Store,
	transcript *memory.Transcript,
	config domain.EvalConfig,
) *Arbiter {
	if store == nil {
		store = memory.NewNoopStore()
	}
	return &Arbiter{
		client:     client,
		store:      store,
		transcript: transcript,
		config:     config,
		logger:     slog.Default().With("component", "arbiter"),
	}
}

// Evaluate runs the full pipeline for one user turn: load prior context,
// extract diet signals from the turn, fan out to every provider, score the
// successes, and select a winner.
//
// Blank prompts fail with domain.ErrInvalidPrompt before any provider is
// called. When every provider fails, or no success is scoreable, the error
// wraps domain.ErrNoProviderAvailable and carries the per-provider reasons.
func (a *Arbiter) Evaluate(
	ctx context.Context, sessionID, prompt string,
) (*domain.EvaluationResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is empty", domain.ErrInvalidPrompt)
	}

	evaluationID := uuid.New().String()
	started := time.Now()

	history := a.history(ctx, sessionID)

	// Signals come from the user's turn only. History already influenced
	// past turns; re-extracting from it would make old conditions sticky.
	tags := signal.Extract(prompt)

	a.logger.Info("Starting evaluation",
		"evaluation_id", evaluationID,
		"session_id", sessionID,
		"providers", a.config.Providers,
		"tags", tags.String(),
		"has_context", history != "")

	genOutput, err := a.client.Generate(ctx, domain.GenerateResponsesInput{
		EvaluationID: evaluationID,
		SessionID:    sessionID,
		Prompt:       prompt,
		Context:      history,
		Tags:         tags,
		Config:       a.config,
	})
	if err != nil {
		return nil, fmt.Errorf("generate responses: %w", err)
	}

	if !genOutput.HasResponses() {
		return nil, fmt.Errorf("%w: %s",
			domain.ErrNoProviderAvailable, describeFailures(genOutput.Failures))
	}

	scores := make([]domain.ProviderScore, 0, len(genOutput.Responses))
	for i := range genOutput.Responses {
		scores = append(scores, scoring.GradeResponse(&genOutput.Responses[i], tags))
	}

	selectInput := domain.SelectWinnerInput{
		EvaluationID: evaluationID,
		SessionID:    sessionID,
		Responses:    genOutput.Responses,
		Scores:       scores,
		Failures:     genOutput.Failures,
		Priority:     a.config.Providers,
		Tags:         tags,
		Usage: domain.EvaluationUsage{
			TotalTokens:   genOutput.TokensUsed,
			CallsMade:     genOutput.CallsMade,
			LatencyMillis: time.Since(started).Milliseconds(),
		},
	}

	winner, err := selection.DetermineWinner(selectInput.Responses, selectInput.Scores, selectInput.Priority)
	if err != nil {
		// A provider can succeed at the transport level yet return text
		// that cannot compete; with no scoreable candidate the evaluation
		// fails the same way as a total provider outage.
		return nil, fmt.Errorf("%w: no scoreable response: %v", domain.ErrNoProviderAvailable, err)
	}

	result := selection.BuildResult(&selectInput, winner)

	a.logger.Info("Evaluation completed",
		"evaluation_id", evaluationID,
		"winner", result.WinningProvider,
		"tie_break", result.TieBreak,
		"degraded", result.Degraded,
		"latency_ms", result.Usage.LatencyMillis)

	a.record(ctx, sessionID, memory.Exchange{
		UserInput: prompt,
		Winner:    fmt.Sprintf("%s (%s)", winner.Provider, winner.Response.Model),
		Response:  result.WinningText,
	})

	return result, nil
}

// history loads prior conversation context. Memory failures degrade to an
// empty context rather than failing the turn.
func (a *Arbiter) history(ctx context.Context, sessionID string) string {
	if sessionID == "" {
		return ""
	}
	history, err := a.store.History(ctx, sessionID)
	if err != nil {
		a.logger.Warn("Loading conversation history failed, continuing without context",
			"session_id", sessionID,
			"error", err)
		return ""
	}
	return history
}

// record persists the completed exchange to conversation memory and the
// transcript. Both writes are best-effort.
func (a *Arbiter) record(ctx context.Context, sessionID string, exchange memory.Exchange) {
	if sessionID != "" {
		if err := a.store.Append(ctx, sessionID, exchange); err != nil {
			a.logger.Warn("Saving exchange to conversation memory failed",
				"session_id", sessionID,
				"error", err)
		}
	}
	if a.transcript != nil {
		if err := a.transcript.Append(exchange); err != nil {
			a.logger.Warn("Appending exchange to transcript failed",
				"path", a.transcript.Path(),
				"error", err)
		}
	}
}

// describeFailures renders per-provider failure reasons for error messages.
func describeFailures(failures []domain.ProviderFailure) string {
	if len(failures) == 0 {
		return "no providers configured"
	}
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Provider, f.Reason))
	}
	return strings.Join(parts, "; ")
}
