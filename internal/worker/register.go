// Package worker exposes helpers to register workflows/activities with a Temporal worker.
package worker

import (
	sdkactivity "go.temporal.io/sdk/activity"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-mealmatch/internal/generation"
	"github.com/ahrav/go-mealmatch/internal/llm"
	"github.com/ahrav/go-mealmatch/internal/scoring"
	"github.com/ahrav/go-mealmatch/internal/selection"
	"github.com/ahrav/go-mealmatch/internal/workflow"
	"github.com/ahrav/go-mealmatch/pkg/activity"
	"github.com/ahrav/go-mealmatch/pkg/events"
)

// RegisterAll registers the evaluation workflow and every pipeline activity
// with the Temporal worker. This function must be called during worker
// initialization before starting the worker. The registration is not
// thread-safe and should only be called once during application startup.
//
// Activities register under the names the workflow executes them by, so the
// explicit RegisterOptions below are load-bearing: a method rename must not
// change the wire name. A nil sink falls back to the logging sink.
func RegisterAll(w sdkworker.Worker, llmClient llm.Client, sink events.EventSink) {
	if sink == nil {
		sink = events.NewLogSink(nil)
	}

	base := activity.NewBaseActivities(sink)

	// Domain-specific activity instances share the base infrastructure for
	// event emission and logging.
	generationActivities := generation.NewActivities(base, llmClient)
	scoringActivities := scoring.NewActivities(base)
	selectionActivities := selection.NewActivities(base)

	w.RegisterWorkflow(workflow.EvaluationWorkflow)

	w.RegisterActivityWithOptions(generationActivities.GenerateResponses,
		sdkactivity.RegisterOptions{Name: workflow.GenerateResponsesActivity})
	w.RegisterActivityWithOptions(scoringActivities.ScoreResponses,
		sdkactivity.RegisterOptions{Name: workflow.ScoreResponsesActivity})
	w.RegisterActivityWithOptions(selectionActivities.SelectWinner,
		sdkactivity.RegisterOptions{Name: workflow.SelectWinnerActivity})
}
