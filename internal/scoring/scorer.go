// Package scoring grades model responses with a deterministic four-dimension
// rubric: nutritional accuracy, personalization, supplement integration, and
// readability. Scoring is pure text analysis against the versioned vocabulary
// in this package, so identical inputs always produce identical breakdowns
// and the durable pipeline can replay it safely.
package scoring

import (
	"math"
	"regexp"
	"strings"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/internal/signal"
)

// Score grades one response text for the given diet context. Every sub-score
// lands in [0,10] and the total is exactly their sum.
func Score(text string, tags domain.DietTagSet) domain.ScoreBreakdown {
	return domain.NewScoreBreakdown(
		scoreNutrition(text, tags),
		scorePersonalization(text, tags),
		scoreSupplements(text),
		scoreReadability(text),
	)
}

// scoreNutrition measures coverage of the nutrient concepts expected for the
// tag set: 10 when every expected term appears, 0 when none do, linear in
// between.
func scoreNutrition(text string, tags domain.DietTagSet) int {
	expected := expectedNutrients(tags)
	if len(expected) == 0 {
		return 0
	}
	found := 0
	for _, t := range expected {
		if t.matches(text) {
			found++
		}
	}
	return int(math.Round(10 * float64(found) / float64(len(expected))))
}

// scorePersonalization counts signals that the response addresses this user
// rather than anyone: detected tags echoed back, personal-language markers,
// and echoed numeric stats (weight, height, energy, age). Two points per
// signal, capped at 10.
func scorePersonalization(text string, tags domain.DietTagSet) int {
	signals := 0
	echoed := signal.Extract(text)
	for _, tag := range tags {
		if echoed.Has(tag) {
			signals++
		}
	}
	for _, p := range markerPatterns {
		if p.MatchString(text) {
			signals++
		}
	}
	for _, p := range statPatterns {
		if p.MatchString(text) {
			signals++
		}
	}
	return min(10, 2*signals)
}

// scoreSupplements rewards concrete supplement guidance: any recognized
// supplement mention scores the base band of 5, and each further distinct
// supplement adds 2, capped at 10. No mention scores 0.
func scoreSupplements(text string) int {
	distinct := 0
	for _, t := range supplementTerms {
		if t.matches(text) {
			distinct++
		}
	}
	if distinct == 0 {
		return 0
	}
	return min(10, 5+2*(distinct-1))
}

var (
	listMarker    = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+`)
	headerMarker  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
)

// scoreReadability adds a fixed band per structural property: substantial
// length (>30 words) +2, paragraph breaks (three or more newlines) +2,
// bulleted or numbered lists +2, markdown headers +1, table markup +1, and
// average sentence length between 8 and 24 words +2.
func scoreReadability(text string) int {
	score := 0
	if len(strings.Fields(text)) > 30 {
		score += 2
	}
	if strings.Count(text, "\n") >= 3 {
		score += 2
	}
	if listMarker.MatchString(text) {
		score += 2
	}
	if headerMarker.MatchString(text) {
		score++
	}
	if hasTable(text) {
		score++
	}
	if avg := averageSentenceLength(text); avg >= 8 && avg <= 24 {
		score += 2
	}
	return min(10, score)
}

func hasTable(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.Count(line, "|") >= 2 {
			return true
		}
	}
	return false
}

func averageSentenceLength(text string) float64 {
	total, count := 0, 0
	for _, part := range sentenceSplit.Split(text, -1) {
		if w := len(strings.Fields(part)); w > 0 {
			total += w
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count)
}
