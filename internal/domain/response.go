package domain

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// FinishReason indicates why a provider stopped generating a response.
// Normalized across providers so downstream code never branches on
// vendor-specific stop reasons.
type FinishReason string

const (
	// FinishStop indicates natural completion.
	FinishStop FinishReason = "stop"

	// FinishLength indicates the response hit the token limit.
	FinishLength FinishReason = "length"

	// FinishContentFilter indicates provider-side content filtering.
	FinishContentFilter FinishReason = "content_filter"

	// FinishToolUse indicates the model attempted a tool call.
	FinishToolUse FinishReason = "tool_use"

	// FinishUnknown covers unmapped provider stop reasons.
	FinishUnknown FinishReason = "unknown"
)

// ResponseProvenance tracks where and when a response was produced.
// Essential for audit trails and debugging provider behavior.
type ResponseProvenance struct {
	// GeneratedAt records when the response was produced.
	GeneratedAt time.Time `json:"generated_at" validate:"required"`

	// TraceID correlates the response with distributed traces.
	TraceID string `json:"trace_id,omitempty"`

	// ProviderRequestIDs contains upstream request identifiers for support
	// escalations with the vendor.
	ProviderRequestIDs []string `json:"provider_request_ids,omitempty"`
}

// ResponseUsage tracks resource consumption for a single response.
type ResponseUsage struct {
	// LatencyMillis is the end-to-end call latency in milliseconds.
	LatencyMillis int64 `json:"latency_ms" validate:"min=0"`

	// PromptTokens is the number of tokens in the prompt.
	PromptTokens int64 `json:"prompt_tokens" validate:"min=0"`

	// CompletionTokens is the number of tokens in the completion.
	CompletionTokens int64 `json:"completion_tokens" validate:"min=0"`

	// TotalTokens is the total token count for the call.
	TotalTokens int64 `json:"total_tokens" validate:"min=0"`
}

// ResponseState tracks the delivery state of a response.
type ResponseState struct {
	// Truncated indicates the response was cut off at the token limit.
	Truncated bool `json:"truncated"`

	// Error holds a provider error message when generation failed after the
	// transport gave up. A response with a non-empty Error never competes.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of transport retries that preceded this
	// response.
	RetryCount int `json:"retry_count" validate:"min=0"`

	// FinishReason is the normalized stop reason.
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// ModelResponse is the immutable record of one provider's reply to a prompt.
// Created once per provider per evaluation; never mutated. The response text
// is carried inline: replies are short enough that no external blob storage
// is warranted, and inline text keeps scoring pure.
type ModelResponse struct {
	// ID uniquely identifies this response using UUID format.
	ID string `json:"id" validate:"required,uuid"`

	// Provider identifies which backend produced the response.
	Provider string `json:"provider" validate:"required,min=1"`

	// Model is the concrete model that generated the text.
	Model string `json:"model,omitempty"`

	// Text is the response body. Empty text marks a failed generation.
	Text string `json:"text"`

	ResponseProvenance
	ResponseUsage
	ResponseState
}

// NewModelResponse creates a response with a generated ID and timestamp.
// Not safe inside workflow code; activities construct responses before
// results cross the workflow boundary.
func NewModelResponse(provider, model, text string) *ModelResponse {
	return &ModelResponse{
		ID:       uuid.New().String(),
		Provider: provider,
		Model:    model,
		Text:     text,
		ResponseProvenance: ResponseProvenance{
			GeneratedAt: time.Now(),
		},
	}
}

// Validate checks if the response meets all structural requirements.
func (m *ModelResponse) Validate() error { return validate.Struct(m) }

// IsValid reports whether the response can compete for selection:
// non-empty text and no recorded error.
func (m *ModelResponse) IsValid() bool {
	return m.Text != "" && m.Error == ""
}

// Length returns the response length in characters (runes, not bytes).
// Used by the tie-break rule that prefers longer responses.
func (m *ModelResponse) Length() int { return utf8.RuneCountInString(m.Text) }

// CalculateTotalTokens fills TotalTokens from the prompt and completion
// counts when the provider omitted a total.
func (m *ModelResponse) CalculateTotalTokens() {
	if m.TotalTokens == 0 && (m.PromptTokens > 0 || m.CompletionTokens > 0) {
		m.TotalTokens = m.PromptTokens + m.CompletionTokens
	}
}

// GenerateResponsesInput requests one response from every configured
// provider for a single prompt. Used by both the generation activity and the
// LLM client; the activity extracts Tags before handing the input onward.
type GenerateResponsesInput struct {
	// EvaluationID ties generated responses back to their evaluation.
	EvaluationID string `json:"evaluation_id" validate:"required,uuid"`

	// SessionID groups responses belonging to one conversation.
	SessionID string `json:"session_id,omitempty"`

	// Prompt is the user's request for this turn.
	Prompt string `json:"prompt" validate:"required"`

	// Context is optional prior-conversation text prepended for generation.
	Context string `json:"context,omitempty"`

	// Tags are the diet signals detected in the prompt. May be empty.
	Tags DietTagSet `json:"tags,omitempty"`

	// Config controls providers, models, token limits, and timeouts.
	Config EvalConfig `json:"config" validate:"required"`
}

// Validate checks the input, rejecting blank prompts with ErrInvalidPrompt.
func (i *GenerateResponsesInput) Validate() error {
	if isBlank(i.Prompt) {
		return fmt.Errorf("%w: prompt is empty", ErrInvalidPrompt)
	}
	if err := i.Tags.Validate(); err != nil {
		return err
	}
	return validate.Struct(i)
}

// GenerateResponsesOutput carries the fan-out results: one entry in
// Responses per successful provider, one entry in Failures per failed
// provider. The two never overlap and together cover every provider invoked.
type GenerateResponsesOutput struct {
	// Responses are the successful provider replies, in provider
	// configuration order.
	Responses []ModelResponse `json:"responses"`

	// Failures flags every provider that produced no usable response.
	Failures []ProviderFailure `json:"failures,omitempty"`

	// Tags echoes the diet signals used for generation.
	Tags DietTagSet `json:"tags,omitempty"`

	// TokensUsed is the total tokens consumed across all providers.
	TokensUsed int64 `json:"tokens_used"`

	// CallsMade is the number of provider calls that completed.
	CallsMade int64 `json:"calls_made"`

	// ClientIdemKey deduplicates events across activity retries.
	ClientIdemKey string `json:"client_idem_key,omitempty"`
}

// HasResponses reports whether at least one provider succeeded.
func (o *GenerateResponsesOutput) HasResponses() bool { return len(o.Responses) > 0 }
