// Package workflow implements the Temporal workflow for multi-model meal
// plan evaluation.
//
// EvaluationWorkflow coordinates the three pipeline stages as activities:
// generation fans the prompt out to every configured provider, scoring grades
// each reply with the deterministic rubric, and selection picks the winner.
// The workflow owns retry policies, timeouts, and the decision to proceed
// degraded when some providers fail.
//
// All workflows in this package follow Temporal best practices:
//
//   - Deterministic execution
//   - Proper error handling
//   - Versioning support
//   - Observability integration
//
// Workflows should not contain any non-deterministic operations
// such as random number generation, system time access, or external I/O.
// Such operations should be delegated to activities.
package workflow
