package cache

import (
	"encoding/json"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/internal/llm/providers"
	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

// extractContentFromRawResponse pulls the assistant text out of a stored
// provider body. Each provider keeps its text somewhere different, so the
// entry's provider name picks the parser. Anything unparseable falls back
// to the raw bytes; serving an ugly hit beats discarding a paid response.
func extractContentFromRawResponse(rawBody []byte, provider string) string {
	if len(rawBody) == 0 {
		return ""
	}

	switch provider {
	case providers.ProviderOpenAI:
		return extractOpenAIContent(rawBody)
	case providers.ProviderAnthropic:
		return extractAnthropicContent(rawBody)
	default:
		var generic struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(rawBody, &generic); err == nil && generic.Content != "" {
			return generic.Content
		}
		return string(rawBody)
	}
}

// extractOpenAIContent reads choices[0].message.content from a chat
// completions body.
func extractOpenAIContent(rawBody []byte) string {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(rawBody, &resp); err != nil {
		return string(rawBody)
	}

	if len(resp.Choices) > 0 {
		return resp.Choices[0].Message.Content
	}

	return string(rawBody)
}

// extractAnthropicContent reads content[0].text from a messages API body.
func extractAnthropicContent(rawBody []byte) string {
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}

	if err := json.Unmarshal(rawBody, &resp); err != nil {
		return string(rawBody)
	}

	if len(resp.Content) > 0 {
		return resp.Content[0].Text
	}

	return string(rawBody)
}

// extractFinishReasonFromUsage reports a natural stop for every cached
// entry; only successful completions are ever written to the cache.
func extractFinishReasonFromUsage(_ *transport.NormalizedUsage) domain.FinishReason {
	return domain.FinishStop
}

// extractRequestIDsFromHeaders recovers the provider request ID kept for
// tracing, when the stored headers carried one.
func extractRequestIDsFromHeaders(headers map[string]string) []string {
	if reqID, exists := headers["X-Request-ID"]; exists {
		return []string{reqID}
	}
	return []string{}
}
