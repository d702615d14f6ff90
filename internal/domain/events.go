package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Event types emitted by the evaluation pipeline.
const (
	// EventTypeResponseProduced is emitted once per successful provider
	// response during generation.
	EventTypeResponseProduced = "generation.response_produced"

	// EventTypeLLMUsage is emitted once per generation fan-out with
	// aggregated token and call counts.
	EventTypeLLMUsage = "generation.llm_usage"

	// EventTypeResponseScored is emitted once per scored response.
	EventTypeResponseScored = "scoring.response_scored"

	// EventTypeWinnerSelected is emitted once per completed evaluation.
	EventTypeWinnerSelected = "selection.winner_selected"
)

// GenerateIdempotencyKey creates a deterministic key for event deduplication.
// Replayed activities regenerate identical keys, so downstream consumers can
// process each logical event exactly once.
func GenerateIdempotencyKey(clientIdemKey, eventSuffix string) string {
	hasher := sha256.New()
	hasher.Write([]byte(clientIdemKey + eventSuffix))
	return hex.EncodeToString(hasher.Sum(nil))
}

// ResponseProducedIdempotencyKey generates the key for a response-produced
// event, unique per provider within one generation fan-out.
func ResponseProducedIdempotencyKey(clientIdemKey, provider string) string {
	return GenerateIdempotencyKey(clientIdemKey, fmt.Sprintf(":response:%s", provider))
}

// LLMUsageIdempotencyKey generates the key for the usage event of one
// generation fan-out.
func LLMUsageIdempotencyKey(clientIdemKey string) string {
	return GenerateIdempotencyKey(clientIdemKey, ":generate:1")
}

// ResponseScoredIdempotencyKey generates the key for a response-scored
// event, unique per response within one evaluation.
func ResponseScoredIdempotencyKey(evaluationID, responseID string) string {
	return GenerateIdempotencyKey(evaluationID, fmt.Sprintf(":scored:%s", responseID))
}

// WinnerSelectedIdempotencyKey generates the key for the winner-selected
// event of one evaluation.
func WinnerSelectedIdempotencyKey(evaluationID string) string {
	return GenerateIdempotencyKey(evaluationID, ":winner:1")
}
