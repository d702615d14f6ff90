// Package signal extracts diet-related signals from free-form user prompts.
//
// Extraction is pure text matching: no network calls, no configuration, and
// deterministic output for a given input. The detected tags feed both prompt
// enrichment and response scoring, so the vocabulary here is the single
// source of truth for what the system considers a recognizable dietary
// context.
package signal

import (
	"regexp"

	"github.com/ahrav/go-mealmatch/internal/domain"
)

// rule binds one diet tag to the pattern that detects it.
// Patterns match whole words only and tolerate hyphen or space variants,
// so "gluten-free" and "gluten free" both set the same tag.
type rule struct {
	tag     domain.DietTag
	pattern *regexp.Regexp
}

var rules = []rule{
	{domain.TagVegan, regexp.MustCompile(`(?i)\bvegans?\b`)},
	{domain.TagVegetarian, regexp.MustCompile(`(?i)\bvegetarians?\b`)},
	{domain.TagKeto, regexp.MustCompile(`(?i)\bketo(?:genic)?\b`)},
	{domain.TagPaleo, regexp.MustCompile(`(?i)\bpaleo\b`)},
	{domain.TagGlutenFree, regexp.MustCompile(`(?i)\bgluten[-\s]?free\b`)},
	{domain.TagDairyFree, regexp.MustCompile(`(?i)\b(?:dairy[-\s]?free|lactose\s+intoleran(?:t|ce))\b`)},
	{domain.TagLowCarb, regexp.MustCompile(`(?i)\blow[-\s]?carbs?\b`)},
	{domain.TagHighProtein, regexp.MustCompile(`(?i)\bhigh[-\s]?protein\b`)},
	{domain.TagMediterranean, regexp.MustCompile(`(?i)\bmediterranean\b`)},
	{domain.TagAnemia, regexp.MustCompile(`(?i)\bana?emi[ac]\b`)},
	{domain.TagDiabetes, regexp.MustCompile(`(?i)\bdiabet(?:es|ic)\b`)},
	{domain.TagHypertension, regexp.MustCompile(`(?i)\b(?:hypertension|high\s+blood\s+pressure)\b`)},
}

// Extract returns the set of diet tags present in prompt.
//
// Matching is case-insensitive and whole-word: "ketogenic" sets the keto tag
// while "ketosis" does not. An empty or unrecognized prompt yields an empty
// set, which downstream components treat as general dietary advice.
func Extract(prompt string) domain.DietTagSet {
	if prompt == "" {
		return domain.DietTagSet{}
	}

	var tags []domain.DietTag
	for _, r := range rules {
		if r.pattern.MatchString(prompt) {
			tags = append(tags, r.tag)
		}
	}
	return domain.NewDietTagSet(tags...)
}
