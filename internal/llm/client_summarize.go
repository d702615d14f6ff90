package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

// Summarize implements Client.Summarize with a single call to the configured
// summarizer provider. The request flows through the same middleware pipeline
// as generation, so summaries are cached, rate limited, and retried like any
// other provider call.
func (c *client) Summarize(
	ctx context.Context, in domain.SummarizeInput,
) (*domain.SummarizeOutput, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	provider := in.Config.SummarizerProvider()
	if provider == "" {
		return nil, fmt.Errorf("%w: no summarizer provider configured", domain.ErrInvalidConfig)
	}

	maxTokens := in.Config.SummaryMaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultSummaryMaxTokens
	}

	req := &transport.Request{
		Operation:    transport.OpSummary,
		Provider:     provider,
		Model:        in.Config.ModelFor(provider),
		TenantID:     tenantFor(ctx, in.SessionID),
		Prompt:       buildSummaryUserPrompt(in.Summary, in.NewLines),
		SystemPrompt: summaryInstruction,
		MaxTokens:    maxTokens,
		Temperature:  DefaultSummaryTemperature,
		Timeout:      time.Duration(in.Config.Timeout) * time.Second,
		TraceID:      transport.ExtractTraceID(ctx),
	}

	key, err := transport.GenerateIdemKey(req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate idempotency key: %w", err)
	}
	req.IdempotencyKey = key.String()

	resp, err := c.handler.Handle(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("summarization failed: %w", err)
	}

	return &domain.SummarizeOutput{
		Summary:    resp.Content,
		TokensUsed: resp.Usage.TotalTokens,
		CallsMade:  1,
	}, nil
}
