// Package business provides LLM usage normalization and response validation.
// Converts provider-specific token usage formats (OpenAI, Anthropic) to a
// unified structure for session accounting, and checks completions before
// they reach scoring.
package business

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ahrav/go-mealmatch/internal/llm/errors"
	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

// UsageMapper converts one provider's raw usage payload into
// transport.NormalizedUsage. Implementations accept the payload in whatever
// shape it survived transport in: typed struct, pointer, decoded map, or raw
// JSON.
type UsageMapper interface {
	MapUsage(rawUsage any) (*transport.NormalizedUsage, error)
}

// OpenAIUsage mirrors the usage object in OpenAI chat completion responses.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AnthropicUsage mirrors the usage object in Anthropic message responses.
// Anthropic counts input/output where OpenAI counts prompt/completion, and it
// reports no total.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// remarshal round-trips src through JSON into dst. A usage payload that
// arrived as a decoded map has already lost its concrete type; this is the
// road back to a struct.
func remarshal(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to marshal usage map: %w", err)
	}
	return json.Unmarshal(data, dst)
}

type openAIUsageMapper struct {
	logger *slog.Logger
}

// NewOpenAIUsageMapper returns the mapper for OpenAI usage payloads.
func NewOpenAIUsageMapper() UsageMapper {
	return &openAIUsageMapper{
		logger: slog.Default().With("mapper", "openai"),
	}
}

func (m *openAIUsageMapper) MapUsage(rawUsage any) (*transport.NormalizedUsage, error) {
	if rawUsage == nil {
		return &transport.NormalizedUsage{}, nil
	}

	var usage OpenAIUsage
	switch v := rawUsage.(type) {
	case OpenAIUsage:
		usage = v
	case *OpenAIUsage:
		usage = *v
	case map[string]any:
		if err := remarshal(v, &usage); err != nil {
			return nil, fmt.Errorf("failed to unmarshal OpenAI usage: %w", err)
		}
	case json.RawMessage:
		if err := json.Unmarshal(v, &usage); err != nil {
			return nil, fmt.Errorf("failed to unmarshal OpenAI usage from raw JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("OpenAI usage type %T: %w", rawUsage, errors.ErrUnsupportedUsageType)
	}

	normalized := &transport.NormalizedUsage{
		PromptTokens:     int64(usage.PromptTokens),
		CompletionTokens: int64(usage.CompletionTokens),
		TotalTokens:      int64(usage.TotalTokens),
	}

	// OpenAI has been seen omitting total_tokens; fill it in so accounting
	// downstream never has to.
	if normalized.TotalTokens == 0 && (normalized.PromptTokens > 0 || normalized.CompletionTokens > 0) {
		normalized.TotalTokens = normalized.PromptTokens + normalized.CompletionTokens
		m.logger.Debug("calculated missing total tokens",
			"prompt", normalized.PromptTokens,
			"completion", normalized.CompletionTokens,
			"total", normalized.TotalTokens)
	}

	return normalized, nil
}

type anthropicUsageMapper struct {
	logger *slog.Logger
}

// NewAnthropicUsageMapper returns the mapper for Anthropic usage payloads.
func NewAnthropicUsageMapper() UsageMapper {
	return &anthropicUsageMapper{
		logger: slog.Default().With("mapper", "anthropic"),
	}
}

func (m *anthropicUsageMapper) MapUsage(rawUsage any) (*transport.NormalizedUsage, error) {
	if rawUsage == nil {
		return &transport.NormalizedUsage{}, nil
	}

	var usage AnthropicUsage
	switch v := rawUsage.(type) {
	case AnthropicUsage:
		usage = v
	case *AnthropicUsage:
		usage = *v
	case map[string]any:
		// JSON numbers decode as float64.
		if input, ok := v["input_tokens"].(float64); ok {
			usage.InputTokens = int(input)
		}
		if output, ok := v["output_tokens"].(float64); ok {
			usage.OutputTokens = int(output)
		}
	case json.RawMessage:
		if err := json.Unmarshal(v, &usage); err != nil {
			return nil, fmt.Errorf("failed to unmarshal Anthropic usage from raw JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("anthropic usage type %T: %w", rawUsage, errors.ErrUnsupportedUsageType)
	}

	// Anthropic never reports a total, so it is always the sum.
	return &transport.NormalizedUsage{
		PromptTokens:     int64(usage.InputTokens),
		CompletionTokens: int64(usage.OutputTokens),
		TotalTokens:      int64(usage.InputTokens + usage.OutputTokens),
	}, nil
}

// UsageMapperFactory hands out the right UsageMapper for a provider name.
type UsageMapperFactory struct {
	mappers map[string]UsageMapper
}

// NewUsageMapperFactory builds a factory covering every supported provider.
func NewUsageMapperFactory() *UsageMapperFactory {
	return &UsageMapperFactory{
		mappers: map[string]UsageMapper{
			"openai":    NewOpenAIUsageMapper(),
			"anthropic": NewAnthropicUsageMapper(),
		},
	}
}

// GetMapper returns the mapper registered for provider, or
// ErrUnsupportedProvider when there is none.
func (f *UsageMapperFactory) GetMapper(provider string) (UsageMapper, error) {
	mapper, ok := f.mappers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", provider, errors.ErrUnsupportedProvider)
	}
	return mapper, nil
}

// NormalizeUsage maps rawUsage for the named provider in one call. It is the
// form most call sites want; the factory exists for callers that normalize in
// a loop.
func NormalizeUsage(provider string, rawUsage any) (*transport.NormalizedUsage, error) {
	mapper, err := NewUsageMapperFactory().GetMapper(provider)
	if err != nil {
		return nil, err
	}
	return mapper.MapUsage(rawUsage)
}

// ValidateUsage sanity-checks normalized usage before it enters session
// accounting. Totals may drift from the prompt+completion sum by one token;
// providers round differently and the discrepancy is not worth failing a
// response over.
func ValidateUsage(usage *transport.NormalizedUsage) error {
	if usage == nil {
		return errors.ErrUsageNil
	}

	if usage.PromptTokens < 0 {
		return fmt.Errorf("prompt tokens %d: %w", usage.PromptTokens, errors.ErrNegativePromptTokens)
	}
	if usage.CompletionTokens < 0 {
		return fmt.Errorf("completion tokens %d: %w", usage.CompletionTokens, errors.ErrNegativeCompletionTokens)
	}
	if usage.TotalTokens < 0 {
		return fmt.Errorf("total tokens %d: %w", usage.TotalTokens, errors.ErrNegativeTotalTokens)
	}

	if usage.TotalTokens > 0 {
		calculated := usage.PromptTokens + usage.CompletionTokens
		if calculated > 0 && usage.TotalTokens != calculated {
			if diff := usage.TotalTokens - calculated; diff < -1 || diff > 1 {
				return fmt.Errorf("total=%d, prompt+completion=%d: %w",
					usage.TotalTokens, calculated, errors.ErrInconsistentTokenCounts)
			}
		}
	}

	// No single meal-prompt evaluation gets anywhere near a million tokens;
	// a count that high is a parsing or provider bug.
	const maxReasonableTokens = 1_000_000
	if usage.TotalTokens > maxReasonableTokens {
		return fmt.Errorf("token count %d: %w", usage.TotalTokens, errors.ErrSuspiciouslyHighTokenCount)
	}

	return nil
}

// EstimateCharactersFromTokens converts a token count to approximate
// characters at the usual 4:1 English-text ratio.
func EstimateCharactersFromTokens(tokens int64) int64 {
	const avgCharsPerToken = 4
	return tokens * avgCharsPerToken
}

// EstimateTokensFromCharacters is the inverse estimate, rounding up so
// budget checks based on it stay conservative.
func EstimateTokensFromCharacters(characters int64) int64 {
	const avgCharsPerToken = 4
	if characters == 0 {
		return 0
	}
	return (characters + avgCharsPerToken - 1) / avgCharsPerToken
}
