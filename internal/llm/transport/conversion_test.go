package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-mealmatch/internal/domain"
	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
)

func TestResponseToModelResponse(t *testing.T) {
	req := &Request{
		Operation: OpGeneration,
		Provider:  "anthropic",
		Model:     "claude-3-opus-20240229",
		TraceID:   "trace-42",
	}
	resp := &Response{
		Content:            "A balanced plate with lentils and spinach.",
		FinishReason:       domain.FinishStop,
		ProviderRequestIDs: []string{"req-abc"},
		Usage: NormalizedUsage{
			PromptTokens:     120,
			CompletionTokens: 380,
			LatencyMs:        950,
		},
	}

	mr := ResponseToModelResponse(resp, req)
	require.NotNil(t, mr)

	assert.NotEmpty(t, mr.ID)
	assert.Equal(t, "anthropic", mr.Provider)
	assert.Equal(t, "claude-3-opus-20240229", mr.Model)
	assert.Equal(t, resp.Content, mr.Text)
	assert.Equal(t, "trace-42", mr.TraceID)
	assert.Equal(t, []string{"req-abc"}, mr.ProviderRequestIDs)
	assert.False(t, mr.GeneratedAt.IsZero())
	assert.Equal(t, int64(950), mr.LatencyMillis)
	assert.Equal(t, int64(500), mr.TotalTokens, "total computed from prompt+completion")
	assert.Equal(t, domain.FinishStop, mr.FinishReason)
	assert.False(t, mr.Truncated)
	assert.True(t, mr.IsValid())
}

func TestResponseToModelResponse_TruncatedOnLength(t *testing.T) {
	mr := ResponseToModelResponse(&Response{
		Content:      "partial plan...",
		FinishReason: domain.FinishLength,
	}, &Request{Provider: "openai", Model: "gpt-4-turbo"})

	assert.True(t, mr.Truncated)
}

func TestFailureFromError(t *testing.T) {
	t.Run("classifies_provider_error", func(t *testing.T) {
		err := &llmerrors.ProviderError{
			Provider:   "openai",
			StatusCode: 429,
			Message:    "slow down",
			Type:       llmerrors.ErrorTypeRateLimit,
		}

		failure := FailureFromError("openai", err)
		assert.Equal(t, "openai", failure.Provider)
		assert.Equal(t, string(llmerrors.ErrorTypeRateLimit), failure.Kind)
		assert.Contains(t, failure.Reason, "slow down")
	})

	t.Run("unknown_error_still_recorded", func(t *testing.T) {
		failure := FailureFromError("anthropic", errors.New("mystery"))
		assert.Equal(t, "anthropic", failure.Provider)
		assert.Equal(t, "mystery", failure.Reason)
		assert.Equal(t, string(llmerrors.ErrorTypeUnknown), failure.Kind)
	})
}

func TestTenantContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "default", ExtractTenantID(ctx))

	ctx = WithTenantID(ctx, "session-99")
	assert.Equal(t, "session-99", ExtractTenantID(ctx))
}

func TestTraceContextHelpers(t *testing.T) {
	ctx := context.Background()

	generated := ExtractTraceID(ctx)
	assert.NotEmpty(t, generated, "missing trace ID is generated")

	ctx = WithTraceID(ctx, "trace-7")
	assert.Equal(t, "trace-7", ExtractTraceID(ctx))
}

func TestHalfOpenProbeContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsHalfOpenProbe(ctx))

	ctx = WithHalfOpenProbe(ctx)
	assert.True(t, IsHalfOpenProbe(ctx))
}
