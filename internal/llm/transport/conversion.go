package transport

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-mealmatch/internal/domain"
	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
)

// ResponseToModelResponse converts a transport Response into the domain
// record of one provider's reply, carrying provenance and usage along.
func ResponseToModelResponse(resp *Response, req *Request) *domain.ModelResponse {
	mr := &domain.ModelResponse{
		ID:       uuid.New().String(),
		Provider: req.Provider,
		Model:    req.Model,
		Text:     resp.Content,
		ResponseProvenance: domain.ResponseProvenance{
			GeneratedAt:        time.Now(),
			TraceID:            req.TraceID,
			ProviderRequestIDs: resp.ProviderRequestIDs,
		},
		ResponseUsage: domain.ResponseUsage{
			LatencyMillis:    resp.Usage.LatencyMs,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		ResponseState: domain.ResponseState{
			FinishReason: resp.FinishReason,
			Truncated:    resp.FinishReason == domain.FinishLength,
			RetryCount:   0, // Updated by retry middleware during processing.
		},
	}

	mr.CalculateTotalTokens()
	return mr
}

// FailureFromError converts a provider call error into the domain failure
// record, classifying the error so the failure kind survives into events
// and results.
func FailureFromError(provider string, err error) domain.ProviderFailure {
	failure := domain.ProviderFailure{
		Provider: provider,
		Reason:   err.Error(),
	}

	if wfErr := llmerrors.ClassifyLLMError(err); wfErr != nil {
		failure.Kind = string(wfErr.Type)
	}

	return failure
}

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey struct{ name string }

var (
	tenantIDKey      = &contextKey{"tenant-id"}
	traceIDKey       = &contextKey{"trace-id"}
	halfOpenProbeKey = &contextKey{"half-open-probe"}
)

// WithTenantID returns a context carrying the tenant identifier.
// Chat sessions pass their session ID to isolate cache and rate limit state.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// ExtractTenantID retrieves the tenant identifier from the request context,
// or "default" when none was set.
func ExtractTenantID(ctx context.Context) string {
	if tenantID, ok := ctx.Value(tenantIDKey).(string); ok && tenantID != "" {
		return tenantID
	}
	return "default"
}

// WithTraceID returns a context carrying the trace identifier.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// ExtractTraceID retrieves the trace identifier from the request context,
// generating a fresh one when none was set.
func ExtractTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok && traceID != "" {
		return traceID
	}
	return uuid.New().String()
}

// WithHalfOpenProbe marks the context as a circuit breaker recovery probe.
// The retry middleware limits probes to a single attempt so a recovering
// provider is not hammered.
func WithHalfOpenProbe(ctx context.Context) context.Context {
	return context.WithValue(ctx, halfOpenProbeKey, true)
}

// IsHalfOpenProbe reports whether the request is a circuit breaker probe.
func IsHalfOpenProbe(ctx context.Context) bool {
	probe, ok := ctx.Value(halfOpenProbeKey).(bool)
	return ok && probe
}
