package transport

import (
	"net/http"
	"time"

	"github.com/ahrav/go-mealmatch/internal/domain"
)

// OperationType differentiates generation from summarization calls.
// Affects rate limiting quotas, cache key namespacing, metrics labeling,
// and timeout configuration for operation-specific resource management.
type OperationType string

const (
	// OpGeneration produces a coaching response for a user prompt.
	OpGeneration OperationType = "generation"

	// OpSummary compresses conversation history into a short summary.
	OpSummary OperationType = "summary"
)

// Request represents a normalized request across all LLM providers.
// Contains everything needed for provider-specific HTTP request construction,
// middleware processing, and response correlation with proper tracing context.
type Request struct {
	// Operation type affects routing, metrics, and rate limiting.
	Operation OperationType `json:"operation"`

	// Provider identifies which LLM service to use.
	Provider string `json:"provider"` // "openai"|"anthropic"

	// Model specifies the exact model version to use.
	Model string `json:"model"`

	// TenantID enables per-tenant isolation and tracking. Chat sessions use
	// the session identifier as the tenant.
	TenantID string `json:"tenant_id"`

	// Prompt is the user's request for this turn, with any conversation
	// context already folded in by the caller.
	Prompt string `json:"prompt,omitempty"`

	// Generation parameters control model behavior.
	MaxTokens   int64   `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Seed        *int64  `json:"seed,omitempty"`

	// SystemPrompt carries the coach persona and detected diet signals.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Control fields for resilience and observability.
	Timeout        time.Duration     `json:"timeout"`
	IdempotencyKey string            `json:"idempotency_key"`
	TraceID        string            `json:"trace_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Response represents normalized output from any LLM provider.
// Activities translate this into domain types with usage attribution.
type Response struct {
	// Content is the generated text.
	Content string `json:"content"`

	// FinishReason indicates why generation stopped.
	FinishReason domain.FinishReason `json:"finish_reason"`

	// ProviderRequestIDs enables cross-system correlation.
	ProviderRequestIDs []string `json:"provider_request_ids"`

	// Usage tracks resource consumption.
	Usage NormalizedUsage `json:"usage"`

	// Headers preserves raw response headers for debugging.
	Headers http.Header `json:"-"`

	// RawBody preserves the original response for audit.
	RawBody []byte `json:"raw_body"`
}

// NormalizedUsage provides consistent usage metrics across all providers.
// Provider-specific token counting and timing collapse into one shape for
// monitoring and event reporting.
type NormalizedUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}
