package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/internal/llm/configuration"
	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

// providerResult carries one provider's outcome through the fan-out.
// Exactly one of response and err is set.
type providerResult struct {
	response *domain.ModelResponse
	tokens   int64
	err      error
}

// Generate implements Client.Generate: one concurrent request per configured
// provider, bounded by MaxConcurrency, with index-preserving collection so
// successes come back in provider configuration order. The call returns only
// after every issued request has completed or failed.
func (c *client) Generate(
	ctx context.Context, in domain.GenerateResponsesInput,
) (*domain.GenerateResponsesOutput, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	out := &domain.GenerateResponsesOutput{
		Responses: make([]domain.ModelResponse, 0, len(in.Config.Providers)),
		Tags:      in.Tags,
	}

	tenantID := tenantFor(ctx, in.SessionID)
	prompt := effectivePrompt(in.Context, in.Prompt)
	systemPrompt := buildCoachSystemPrompt(in.Tags)

	// One key for the logical fan-out call, spanning all providers. Activities
	// use it to deduplicate events across retries; the per-provider transport
	// requests get their own narrower keys below.
	clientPayload, err := transport.BuildCanonicalPayloadFromPrompt(
		tenantID,
		prompt,
		strings.Join(in.Config.Providers, ","),
		"fanout",
		systemPrompt,
		in.Config.MaxResponseTokens,
		in.Config.Temperature,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build canonical payload: %w", err)
	}
	out.ClientIdemKey = transport.HashCanonicalPayload(clientPayload)

	n := len(in.Config.Providers)

	maxConc := c.config.MaxConcurrency
	if maxConc <= 0 {
		maxConc = configuration.DefaultMaxConcurrency
	}
	if maxConc > n {
		maxConc = n
	}

	results := make([]providerResult, n)

	sem := make(chan struct{}, maxConc)
	var wg sync.WaitGroup
	wg.Add(n)

	for i, provider := range in.Config.Providers {
		go func() {
			defer wg.Done()

			// A cancelled caller context marks still-pending providers failed
			// without issuing their requests.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = providerResult{err: fmt.Errorf("provider call not issued: %w", ctx.Err())}
				return
			}

			req := &transport.Request{
				Operation:    transport.OpGeneration,
				Provider:     provider,
				Model:        in.Config.ModelFor(provider),
				TenantID:     tenantID,
				Prompt:       prompt,
				SystemPrompt: systemPrompt,
				MaxTokens:    in.Config.MaxResponseTokens,
				Temperature:  in.Config.Temperature,
				Timeout:      time.Duration(in.Config.Timeout) * time.Second,
				TraceID:      transport.ExtractTraceID(ctx),
			}

			key, err := transport.GenerateIdemKey(req)
			if err != nil {
				results[i] = providerResult{err: fmt.Errorf("failed to generate idempotency key: %w", err)}
				return
			}
			req.IdempotencyKey = key.String()

			resp, err := c.handler.Handle(ctx, req)
			if err != nil {
				results[i] = providerResult{err: err}
				return
			}

			results[i] = providerResult{
				response: transport.ResponseToModelResponse(resp, req),
				tokens:   resp.Usage.TotalTokens,
			}
		}()
	}

	wg.Wait()

	// Collect in provider configuration order: successes and failures never
	// overlap and together cover every provider.
	for i, provider := range in.Config.Providers {
		r := results[i]
		if r.err != nil {
			out.Failures = append(out.Failures, transport.FailureFromError(provider, r.err))
			continue
		}
		out.Responses = append(out.Responses, *r.response)
		out.TokensUsed += r.tokens
		out.CallsMade++
	}

	return out, nil
}

// tenantFor resolves the tenant used for cache and rate limit isolation:
// the conversation's session when one exists, otherwise the context tenant.
func tenantFor(ctx context.Context, sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return transport.ExtractTenantID(ctx)
}
