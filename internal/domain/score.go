package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sub-score bounds for the four-dimension rubric.
const (
	// SubScoreMin is the lower bound of every sub-score.
	SubScoreMin = 0

	// SubScoreMax is the upper bound of every sub-score.
	SubScoreMax = 10

	// TotalScoreMax is the upper bound of a breakdown total.
	TotalScoreMax = 4 * SubScoreMax
)

// ScoreBreakdown is the four-dimension heuristic quality assessment of one
// response. Each sub-score is an integer in [0,10]; Total is always exactly
// their sum and is assigned only by NewScoreBreakdown, never independently.
type ScoreBreakdown struct {
	// NutritionalAccuracy proxies coverage of nutrient and food terms
	// relevant to the detected diet tags.
	NutritionalAccuracy int `json:"nutritional_accuracy" validate:"min=0,max=10"`

	// Personalization proxies how many user-specific attributes the
	// response echoes back.
	Personalization int `json:"personalization" validate:"min=0,max=10"`

	// SupplementIntegration proxies supplement-related keyword presence.
	SupplementIntegration int `json:"supplement_integration" validate:"min=0,max=10"`

	// Readability proxies sentence and paragraph structure quality.
	Readability int `json:"readability" validate:"min=0,max=10"`

	// Total is the exact sum of the four sub-scores, range [0,40].
	Total int `json:"total" validate:"min=0,max=40"`
}

// NewScoreBreakdown builds a breakdown from raw sub-scores. Each value is
// clamped to [0,10] and Total is computed as their exact sum, so the
// total-equals-sum invariant holds by construction.
func NewScoreBreakdown(nutritionalAccuracy, personalization, supplementIntegration, readability int) ScoreBreakdown {
	b := ScoreBreakdown{
		NutritionalAccuracy:   clampSubScore(nutritionalAccuracy),
		Personalization:       clampSubScore(personalization),
		SupplementIntegration: clampSubScore(supplementIntegration),
		Readability:           clampSubScore(readability),
	}
	b.Total = b.Sum()
	return b
}

// Sum returns the sum of the four sub-scores, independent of Total.
func (b ScoreBreakdown) Sum() int {
	return b.NutritionalAccuracy + b.Personalization + b.SupplementIntegration + b.Readability
}

// Validate checks sub-score ranges and the total-equals-sum invariant.
// A breakdown whose Total was tampered with fails with ErrScoreTotalMismatch.
func (b *ScoreBreakdown) Validate() error {
	if err := validate.Struct(b); err != nil {
		return err
	}
	if b.Total != b.Sum() {
		return fmt.Errorf("%w: total=%d sum=%d", ErrScoreTotalMismatch, b.Total, b.Sum())
	}
	return nil
}

// clampSubScore constrains a sub-score to [SubScoreMin, SubScoreMax].
func clampSubScore(v int) int {
	if v < SubScoreMin {
		return SubScoreMin
	}
	if v > SubScoreMax {
		return SubScoreMax
	}
	return v
}

// ScoreProvenance records how and when a score was produced, enabling
// reproduction of any historical score against the same rubric revision.
type ScoreProvenance struct {
	// RubricVersion identifies the vocabulary revision used for scoring.
	RubricVersion string `json:"rubric_version" validate:"required,min=1"`

	// ScoredAt records when the score was computed.
	ScoredAt time.Time `json:"scored_at" validate:"required"`
}

// ScoreValidity tracks whether a score is usable for selection.
type ScoreValidity struct {
	// Valid indicates the score was computed from a competing response.
	Valid bool `json:"valid"`

	// Error explains why scoring was skipped or degraded.
	Error string `json:"error,omitempty"`
}

// ProviderScore binds a ScoreBreakdown to the response and provider it
// assessed. One is produced per successful provider per evaluation.
type ProviderScore struct {
	// ID uniquely identifies this score using UUID format.
	ID string `json:"id" validate:"required,uuid"`

	// Provider identifies the backend whose response was scored.
	Provider string `json:"provider" validate:"required,min=1"`

	// ResponseID references the scored ModelResponse.
	ResponseID string `json:"response_id" validate:"required,uuid"`

	// Breakdown holds the four sub-scores and their total.
	Breakdown ScoreBreakdown `json:"breakdown"`

	ScoreProvenance
	ScoreValidity
}

// NewProviderScore creates a valid score for a response with a generated ID.
// Not safe inside workflow code.
func NewProviderScore(provider, responseID, rubricVersion string, breakdown ScoreBreakdown) *ProviderScore {
	return &ProviderScore{
		ID:         uuid.New().String(),
		Provider:   provider,
		ResponseID: responseID,
		Breakdown:  breakdown,
		ScoreProvenance: ScoreProvenance{
			RubricVersion: rubricVersion,
			ScoredAt:      time.Now(),
		},
		ScoreValidity: ScoreValidity{Valid: true},
	}
}

// Validate checks the score structure and its breakdown invariant.
func (s *ProviderScore) Validate() error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	return s.Breakdown.Validate()
}

// IsValid reports whether the score can participate in winner selection.
func (s *ProviderScore) IsValid() bool { return s.Valid && s.Error == "" }

// ScoreResponsesInput carries the responses to score and the diet tags that
// parameterize the rubric.
type ScoreResponsesInput struct {
	// EvaluationID ties scores back to their evaluation.
	EvaluationID string `json:"evaluation_id" validate:"required,uuid"`

	// SessionID groups scores belonging to one conversation.
	SessionID string `json:"session_id,omitempty"`

	// Tags are the diet signals detected in the originating prompt.
	Tags DietTagSet `json:"tags,omitempty"`

	// Responses are the successful provider replies to score.
	Responses []ModelResponse `json:"responses" validate:"required,min=1,dive"`
}

// Validate checks the input structure.
func (i *ScoreResponsesInput) Validate() error {
	if err := i.Tags.Validate(); err != nil {
		return err
	}
	return validate.Struct(i)
}

// ScoreResponsesOutput carries one ProviderScore per scored response.
type ScoreResponsesOutput struct {
	// Scores are the per-provider breakdowns, in input order.
	Scores []ProviderScore `json:"scores" validate:"required,min=1,dive"`
}

// Validate checks the output structure.
func (o *ScoreResponsesOutput) Validate() error { return validate.Struct(o) }
