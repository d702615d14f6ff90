package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/ahrav/go-mealmatch/internal/domain"
)

// scoreTableHeaders lists the comparison columns in rubric order.
var scoreTableHeaders = []string{
	"Provider", "Nutrition", "Personalization", "Supplements", "Readability", "Total",
}

// newScoreTable creates a table writer with the formatting shared by every
// comparison table the CLI prints.
func newScoreTable(w io.Writer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(scoreTableHeaders),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{
				Left:   tw.On,
				Top:    tw.Off,
				Right:  tw.On,
				Bottom: tw.Off,
			},
		}),
	)
}

// renderResult prints one evaluation outcome: the score comparison table
// with the winner marked, any provider outages, and the winning response
// with the detected diet context echoed.
func renderResult(w io.Writer, result *domain.EvaluationResult, priority []string) {
	fmt.Fprintf(w, "\n📊 Scores by provider:\n")

	table := newScoreTable(w)
	for _, provider := range orderedProviders(result, priority) {
		breakdown := result.Breakdowns[provider]
		name := provider
		if provider == result.WinningProvider {
			name += " 🏆"
		}
		_ = table.Append([]string{
			name,
			strconv.Itoa(breakdown.NutritionalAccuracy),
			strconv.Itoa(breakdown.Personalization),
			strconv.Itoa(breakdown.SupplementIntegration),
			strconv.Itoa(breakdown.Readability),
			strconv.Itoa(breakdown.Total),
		})
	}
	_ = table.Render()

	for _, failure := range result.FailedProviders {
		fmt.Fprintf(w, "⚠️  %s unavailable: %s\n", failure.Provider, failure.Reason)
	}

	fmt.Fprintf(w, "\n🤖 AI Coach (%s · Diet: %s):\n%s\n", result.WinningProvider, result.Tags, result.WinningText)
}

// orderedProviders returns the breakdown keys in configured priority order,
// with any stragglers sorted after, so output is deterministic.
func orderedProviders(result *domain.EvaluationResult, priority []string) []string {
	ordered := make([]string, 0, len(result.Breakdowns))
	seen := make(map[string]bool, len(result.Breakdowns))
	for _, provider := range priority {
		if _, ok := result.Breakdowns[provider]; ok && !seen[provider] {
			ordered = append(ordered, provider)
			seen[provider] = true
		}
	}
	var rest []string
	for provider := range result.Breakdowns {
		if !seen[provider] {
			rest = append(rest, provider)
		}
	}
	slices.Sort(rest)
	return append(ordered, rest...)
}
