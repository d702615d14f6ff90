// Package selection determines the winning provider among scored responses.
//
// Winner determination is pure and deterministic: identical responses,
// scores, and priority order always pick the same winner, which keeps the
// durable pipeline replay-safe and the CLI reproducible.
package selection

import (
	"github.com/ahrav/go-mealmatch/internal/domain"
)

// Winner is the selected provider together with its winning response and the
// rule that settled the decision.
type Winner struct {
	Provider string
	Response domain.ModelResponse
	TieBreak domain.TieBreakReason
}

type candidate struct {
	score    domain.ProviderScore
	response domain.ModelResponse
	length   int
}

// DetermineWinner picks the winner from scored responses.
//
// A single scored response wins by default with no comparison. With two or
// more, the strictly greatest total wins; equal totals fall through to the
// longer response text, then to the earliest provider in the configured
// priority order. Scores without a valid matching response are ignored;
// no usable candidates at all returns domain.ErrNoScores.
func DetermineWinner(responses []domain.ModelResponse, scores []domain.ProviderScore, priority []string) (*Winner, error) {
	byID := make(map[string]domain.ModelResponse, len(responses))
	for _, r := range responses {
		byID[r.ID] = r
	}

	var candidates []candidate
	for _, s := range scores {
		if !s.IsValid() {
			continue
		}
		r, ok := byID[s.ResponseID]
		if !ok || !r.IsValid() {
			continue
		}
		candidates = append(candidates, candidate{score: s, response: r, length: r.Length()})
	}

	if len(candidates) == 0 {
		return nil, domain.ErrNoScores
	}
	if len(candidates) == 1 {
		only := candidates[0]
		return &Winner{Provider: only.score.Provider, Response: only.response, TieBreak: domain.TieBreakDefault}, nil
	}

	tied := maxBy(candidates, func(c candidate) int { return c.score.Breakdown.Total })
	if len(tied) == 1 {
		return &Winner{Provider: tied[0].score.Provider, Response: tied[0].response, TieBreak: domain.TieBreakTotal}, nil
	}

	tied = maxBy(tied, func(c candidate) int { return c.length })
	if len(tied) == 1 {
		return &Winner{Provider: tied[0].score.Provider, Response: tied[0].response, TieBreak: domain.TieBreakLength}, nil
	}

	best := tied[0]
	bestRank := priorityRank(priority, best.score.Provider)
	for _, c := range tied[1:] {
		if rank := priorityRank(priority, c.score.Provider); rank < bestRank {
			best, bestRank = c, rank
		}
	}
	return &Winner{Provider: best.score.Provider, Response: best.response, TieBreak: domain.TieBreakPriority}, nil
}

// maxBy returns every candidate sharing the maximum key, preserving input
// order so later tie-breaks stay stable.
func maxBy(candidates []candidate, key func(candidate) int) []candidate {
	best := key(candidates[0])
	tied := candidates[:1:1]
	for _, c := range candidates[1:] {
		switch k := key(c); {
		case k > best:
			best = k
			tied = []candidate{c}
		case k == best:
			tied = append(tied, c)
		}
	}
	return tied
}

// priorityRank places providers missing from the priority list after every
// configured one, so an unexpected provider never beats a configured one on
// the final tie-break.
func priorityRank(priority []string, provider string) int {
	for i, p := range priority {
		if p == provider {
			return i
		}
	}
	return len(priority)
}
