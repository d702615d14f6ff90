package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	sdkclient "go.temporal.io/sdk/client"
	sdklog "go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-mealmatch/internal/worker"
	"github.com/ahrav/go-mealmatch/internal/workflow"
)

func newWorkerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the Temporal worker for the durable evaluation pipeline",
		Long: `Run the Temporal worker for the durable evaluation pipeline.

The worker hosts the evaluation workflow and its three activities
(generation, scoring, selection) on the shared task queue. Evaluations
started through Temporal survive worker restarts and retry transient
provider failures automatically. Connects to TEMPORAL_HOSTPORT.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// A worker is a service, not an interactive command; info-level
			// logs are its normal operating record.
			if logLevel.Level() > slog.LevelInfo {
				logLevel.Set(slog.LevelInfo)
			}

			env, err := loadEnvironment(ctx)
			if err != nil {
				return err
			}
			if len(env.availableProviders()) == 0 {
				return errMissingKeys
			}

			llmClient, err := worker.InitializeLLMClient(ctx, env.clientConfig())
			if err != nil {
				return err
			}

			temporalClient, err := sdkclient.Dial(sdkclient.Options{
				HostPort: env.TemporalHostPort,
				Logger:   sdklog.NewStructuredLogger(slog.Default()),
			})
			if err != nil {
				return fmt.Errorf("connecting to Temporal at %s: %w", env.TemporalHostPort, err)
			}
			defer temporalClient.Close()

			w := sdkworker.New(temporalClient, workflow.TaskQueue, sdkworker.Options{})
			worker.RegisterAll(w, llmClient, nil)

			slog.Info("Worker starting",
				"task_queue", workflow.TaskQueue,
				"temporal", env.TemporalHostPort,
				"providers", env.availableProviders())
			return w.Run(sdkworker.InterruptCh())
		},
	}
	return cmd
}
