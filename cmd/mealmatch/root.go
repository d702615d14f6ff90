package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// logLevel is shared with subcommands: interactive commands stay quiet at
// warn, the worker lowers it to info, and --debug overrides both.
var logLevel = new(slog.LevelVar)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mealmatch",
		Short: "MyMealMatch - a multi-model personalized nutrition coach",
		Long: `MyMealMatch answers nutrition questions by asking multiple LLM providers
at once, scoring every response against a dietary rubric (nutritional
accuracy, personalization, supplement integration, readability), and
replying with the winner.

Provider credentials come from the environment (or a .env file):
  OPENAI_API_KEY                   OpenAI credentials
  CLAUDE_API_KEY/ANTHROPIC_API_KEY Anthropic credentials
  REDIS_ADDR                       optional, enables caching and chat memory
  TEMPORAL_HOSTPORT                optional, for the durable pipeline worker`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		// Interactive output goes to stdout; logs stay on stderr and are
		// quiet unless --debug asks for the full picture.
		logLevel.Set(slog.LevelWarn)
		if *debugLogging {
			logLevel.Set(slog.LevelDebug)
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	}

	cmd.AddCommand(newAskCommand())
	cmd.AddCommand(newChatCommand())
	cmd.AddCommand(newWorkerCommand())

	return cmd
}

func execute() error {
	return newRootCommand().Execute()
}
