package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-mealmatch/internal/arbiter"
	"github.com/ahrav/go-mealmatch/internal/llm"
	"github.com/ahrav/go-mealmatch/internal/memory"
)

func newAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Ask one nutrition question and print the winning response",
		Long: `Ask one nutrition question, compare every configured provider's answer,
and print the winner.

The prompt is checked for dietary signals (vegan, keto, anemia, ...) that
steer both generation and scoring. Every provider answers the same prompt;
each response is graded on nutritional accuracy, personalization,
supplement integration, and readability; and the highest total wins. The
exchange is appended to the transcript file.

Example:
  mealmatch ask "I'm vegan and anemic - plan my dinners for the week"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := loadEnvironment(ctx)
			if err != nil {
				return err
			}
			evalCfg, err := env.evalConfig()
			if err != nil {
				return err
			}

			client, err := llm.NewClient(ctx, env.clientConfig())
			if err != nil {
				return fmt.Errorf("initializing LLM client: %w", err)
			}

			arb := arbiter.New(client, nil, memory.NewTranscript(env.TranscriptPath), evalCfg)

			result, err := arb.Evaluate(ctx, "", args[0])
			if err != nil {
				return err
			}

			renderResult(cmd.OutOrStdout(), result, evalCfg.Providers)
			return nil
		},
	}
	return cmd
}
