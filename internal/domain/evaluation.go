// Package domain provides core types and business logic for multi-model
// response evaluation. It defines evaluation requests and configuration,
// diet-signal tags, model responses, score breakdowns, and evaluation
// results used throughout the system. The types are value objects created
// fresh per evaluation and designed for reproducible, auditable selection
// of the best provider response.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PrincipalType represents the type of entity that can initiate evaluation requests.
// This supports both human users and automated service principals.
type PrincipalType string

const (
	// PrincipalUser represents human users who initiate evaluations.
	PrincipalUser PrincipalType = "user"

	// PrincipalService represents automated services or systems.
	PrincipalService PrincipalType = "service"
)

// Principal represents an entity (user or service) that can request evaluations.
type Principal struct {
	// Type indicates whether this is a user or service principal.
	Type PrincipalType `json:"type" validate:"required,oneof=user service"`

	// ID uniquely identifies the principal.
	// For users: a session name or user ID. For services: a service name.
	ID string `json:"id" validate:"required,min=1"`
}

// String returns a human-readable representation of the principal.
func (p Principal) String() string { return fmt.Sprintf("%s:%s", p.Type, p.ID) }

// Default configuration values for evaluations.
const (
	defaultMaxResponseTokens = int64(1000)
	defaultTemperature       = 0.7
	defaultTimeout           = int64(60)
	defaultSummaryMaxTokens  = int64(300)

	// DefaultOpenAIModel is the model used for the OpenAI provider when no
	// override is configured.
	DefaultOpenAIModel = "gpt-4-turbo"

	// DefaultAnthropicModel is the model used for the Anthropic provider when
	// no override is configured.
	DefaultAnthropicModel = "claude-3-opus-20240229"
)

// EvaluationRequest initiates one multi-model evaluation of a user prompt.
// It carries the prompt, optional prior-conversation context, the evaluation
// configuration, and metadata for tracking and auditing. The request is the
// primary input to both the sync arbiter and the durable workflow.
type EvaluationRequest struct {
	// ID uniquely identifies this evaluation request using UUID format.
	// Generated automatically by NewEvaluationRequest or provided explicitly.
	ID string `json:"id" validate:"required,uuid"`

	// SessionID groups evaluations belonging to one conversation.
	// Empty for one-shot evaluations without memory.
	SessionID string `json:"session_id,omitempty"`

	// Prompt is the raw user request for this turn. Must be non-empty after
	// trimming; no other length or encoding invariants apply.
	Prompt string `json:"prompt" validate:"required"`

	// Context is optional prior-conversation text supplied by the memory
	// collaborator. It is prepended for generation only; diet-signal
	// extraction always runs on Prompt alone.
	Context string `json:"context,omitempty"`

	// Config contains the evaluation configuration parameters.
	Config EvalConfig `json:"config" validate:"required"`

	// Metadata contains optional key-value pairs for tracking and auditing.
	// For thread safety, use WithMeta to modify.
	Metadata map[string]string `json:"metadata,omitempty"`

	// RequestedBy identifies the user or service that initiated this request.
	RequestedBy Principal `json:"requested_by" validate:"required"`

	// RequestedAt records when this evaluation request was created.
	RequestedAt time.Time `json:"requested_at" validate:"required"`
}

// NewEvaluationRequest creates a new evaluation request with validation.
// It generates a UUID for the ID and sets the current time for RequestedAt.
//
// Do not call this inside workflow code: it uses nondeterministic operations
// (uuid.New and time.Now). Use MakeEvaluationRequest there instead.
func NewEvaluationRequest(prompt string, requestedBy Principal, config EvalConfig) (*EvaluationRequest, error) {
	req := &EvaluationRequest{
		ID:          uuid.New().String(),
		Prompt:      prompt,
		Config:      config,
		RequestedBy: requestedBy,
		RequestedAt: time.Now(),
		Metadata:    make(map[string]string),
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	return req, nil
}

// MakeEvaluationRequest creates an evaluation request from caller-provided ID
// and timestamp. Safe inside workflow code: nothing nondeterministic runs here.
func MakeEvaluationRequest(id string, requestedAt time.Time, prompt string, requestedBy Principal, config EvalConfig) (*EvaluationRequest, error) {
	req := &EvaluationRequest{
		ID:          id,
		Prompt:      prompt,
		Config:      config,
		RequestedBy: requestedBy,
		RequestedAt: requestedAt,
		Metadata:    make(map[string]string),
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	return req, nil
}

// Validate checks if the evaluation request meets all requirements.
// A prompt that is empty or whitespace-only fails with ErrInvalidPrompt;
// no provider may be invoked for such a request.
func (r *EvaluationRequest) Validate() error {
	if isBlank(r.Prompt) {
		return fmt.Errorf("%w: prompt is empty", ErrInvalidPrompt)
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// WithMeta returns a copy of the request with the key-value pair added.
// Preserves immutability by cloning the metadata map.
func (r *EvaluationRequest) WithMeta(key, value string) *EvaluationRequest {
	newMetadata := cloneStringMap(r.Metadata)
	if newMetadata == nil {
		newMetadata = make(map[string]string)
	}
	newMetadata[key] = value

	reqCopy := *r
	reqCopy.Metadata = newMetadata
	return &reqCopy
}

// EvalConfig defines the configuration parameters for an evaluation.
// It fixes which providers compete, their models, token and time limits.
// Provider names are validated at the LLM client layer for vendor
// independence; the domain only requires a non-empty priority order.
type EvalConfig struct {
	// Providers lists competing providers in priority order. The order is
	// the final tie-break: when totals and lengths are equal, the earliest
	// listed provider wins. Must contain at least one entry.
	Providers []string `json:"providers" validate:"required,min=1,dive,min=1"`

	// Models optionally overrides the model per provider, keyed by provider
	// name. Providers without an override use their built-in default.
	Models map[string]string `json:"models,omitempty"`

	// MaxResponseTokens limits the token count per response (50-4000).
	MaxResponseTokens int64 `json:"max_response_tokens" validate:"required,min=50,max=4000"`

	// Temperature controls randomness in generation (0-2).
	Temperature float64 `json:"temperature" validate:"min=0,max=2"`

	// Timeout is the maximum time in seconds for each provider call (5-300).
	Timeout int64 `json:"timeout" validate:"required,min=5,max=300"`

	// SummaryProvider is the provider used to fold conversation history into
	// a rolling summary. Defaults to the first configured provider.
	SummaryProvider string `json:"summary_provider,omitempty"`

	// SummaryMaxTokens limits summary length (50-1000).
	SummaryMaxTokens int64 `json:"summary_max_tokens,omitempty" validate:"omitempty,min=50,max=1000"`
}

// DefaultEvalConfig returns the default evaluation configuration:
// OpenAI and Anthropic competing with their default models, 1000 response
// tokens, temperature 0.7, and a 60 second per-call timeout.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		Providers:         []string{"openai", "anthropic"},
		MaxResponseTokens: defaultMaxResponseTokens,
		Temperature:       defaultTemperature,
		Timeout:           defaultTimeout,
		SummaryProvider:   "openai",
		SummaryMaxTokens:  defaultSummaryMaxTokens,
	}
}

// Validate checks if the evaluation configuration meets all requirements.
func (c *EvalConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ModelFor returns the model to use for the given provider: the configured
// override when present, otherwise the provider's built-in default. Unknown
// providers fall through with an empty model and are rejected by the router.
func (c *EvalConfig) ModelFor(provider string) string {
	if model, ok := c.Models[provider]; ok && model != "" {
		return model
	}
	switch provider {
	case "openai":
		return DefaultOpenAIModel
	case "anthropic":
		return DefaultAnthropicModel
	default:
		return ""
	}
}

// SummarizerProvider resolves the provider used for history summarization,
// falling back to the first configured provider.
func (c *EvalConfig) SummarizerProvider() string {
	if c.SummaryProvider != "" {
		return c.SummaryProvider
	}
	if len(c.Providers) > 0 {
		return c.Providers[0]
	}
	return ""
}
