package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-mealmatch/internal/domain"
)

func sampleResult() *domain.EvaluationResult {
	return &domain.EvaluationResult{
		EvaluationID:    uuid.New().String(),
		WinningProvider: "openai",
		WinningText:     "Start the day with a spinach and lentil bowl for iron.",
		Breakdowns: map[string]domain.ScoreBreakdown{
			"openai":    domain.NewScoreBreakdown(9, 4, 5, 5),
			"anthropic": domain.NewScoreBreakdown(3, 2, 0, 4),
		},
		TieBreak:    domain.TieBreakTotal,
		Tags:        domain.NewDietTagSet(domain.TagVegan),
		EvaluatedAt: time.Now(),
	}
}

func TestRenderResultMarksWinner(t *testing.T) {
	var out bytes.Buffer
	result := sampleResult()

	renderResult(&out, result, []string{"openai", "anthropic"})
	display := out.String()

	assert.Contains(t, display, "openai 🏆")
	assert.NotContains(t, display, "anthropic 🏆")
	for _, header := range scoreTableHeaders {
		assert.Contains(t, display, header)
	}
	assert.Contains(t, display, result.WinningText)
	assert.Contains(t, display, "Diet: vegan")
}

func TestRenderResultShowsProviderOutages(t *testing.T) {
	var out bytes.Buffer
	result := sampleResult()
	delete(result.Breakdowns, "anthropic")
	result.Degraded = true
	result.FailedProviders = []domain.ProviderFailure{
		{Provider: "anthropic", Reason: "rate limited after retries", Kind: "rate_limit"},
	}

	renderResult(&out, result, []string{"openai", "anthropic"})
	display := out.String()

	assert.Contains(t, display, "anthropic unavailable: rate limited after retries")
	assert.Contains(t, display, "openai 🏆")
}

func TestRenderResultEchoesGeneralDiet(t *testing.T) {
	var out bytes.Buffer
	result := sampleResult()
	result.Tags = domain.DietTagSet{}

	renderResult(&out, result, []string{"openai", "anthropic"})

	assert.Contains(t, out.String(), "Diet: general")
}

func TestOrderedProvidersFollowsPriority(t *testing.T) {
	result := sampleResult()
	result.Breakdowns["mistral"] = domain.NewScoreBreakdown(1, 1, 1, 1)

	got := orderedProviders(result, []string{"anthropic", "openai"})

	require.Equal(t, []string{"anthropic", "openai", "mistral"}, got,
		"configured priority first, stragglers sorted after")
}
