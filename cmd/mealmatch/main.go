// Command mealmatch is the MyMealMatch CLI: a personalized nutrition coach
// that sends each question to multiple LLM providers, scores the competing
// responses against a dietary rubric, and answers with the winner.
//
// Subcommands:
//
//	ask     one-shot evaluation of a single prompt
//	chat    interactive coaching session with conversation memory
//	worker  Temporal worker for the durable evaluation pipeline
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
