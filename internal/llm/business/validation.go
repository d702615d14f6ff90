package business

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahrav/go-mealmatch/internal/domain"
	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

// Validation errors for provider responses.
var (
	// ErrNilResponse indicates a nil response was passed for validation.
	ErrNilResponse = errors.New("nil response")

	// ErrEmptyResponseContent indicates the provider returned no usable text.
	// Wraps ErrEmptyCompletion so retry classification treats it as transient.
	ErrEmptyResponseContent = fmt.Errorf("empty response content: %w", llmerrors.ErrEmptyCompletion)

	// ErrNegativeTokenCount indicates the provider reported negative usage.
	ErrNegativeTokenCount = errors.New("negative token count")
)

// ResponseValidator implements transport.Validator for coaching completions.
// Validation is structural only: a refusal or an off-topic answer is still a
// valid completion, and the scorer penalizes it downstream.
type ResponseValidator struct {
	logger *slog.Logger
}

// NewResponseValidator creates the validator wired into the transport handler.
func NewResponseValidator() *ResponseValidator {
	return &ResponseValidator{
		logger: slog.Default().With("component", "response_validator"),
	}
}

// ValidateProviderResponse implements transport.Validator.
func (v *ResponseValidator) ValidateProviderResponse(resp *transport.Response) error {
	return ValidateProviderResponse(resp)
}

// ValidateCompletion implements transport.Validator.
func (v *ResponseValidator) ValidateCompletion(content string) error {
	return ValidateCompletion(content)
}

// ValidateProviderResponse checks structural integrity of a provider response.
// Rejects nil responses, empty content outside tool use, and negative token
// counts. Inconsistent totals are logged but tolerated since providers round
// differently.
func ValidateProviderResponse(resp *transport.Response) error {
	if resp == nil {
		return ErrNilResponse
	}

	if resp.Content == "" && resp.FinishReason != domain.FinishToolUse {
		return ErrEmptyResponseContent
	}

	if resp.Usage.PromptTokens < 0 || resp.Usage.CompletionTokens < 0 || resp.Usage.TotalTokens < 0 {
		return fmt.Errorf("prompt=%d completion=%d total=%d: %w",
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens,
			ErrNegativeTokenCount)
	}

	if resp.Usage.TotalTokens > 0 {
		calculated := resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		if calculated > 0 && resp.Usage.TotalTokens != calculated {
			slog.Warn("inconsistent token counts in provider response",
				"total", resp.Usage.TotalTokens,
				"calculated", calculated)
		}
	}

	return nil
}

// ValidateCompletion checks that completion text is usable for scoring.
// Only blank output fails; refusals pass because the scorer handles them.
func ValidateCompletion(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyResponseContent
	}
	return nil
}
