package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/pkg/activity"
	"github.com/ahrav/go-mealmatch/pkg/events"
)

const (
	eventSource        = "generation-activity"
	eventSchemaVersion = "1.0.0"
)

// responseProducedEvent records one successful provider response. The event
// carries metadata only; response text stays in the activity output and the
// transcript, never in the event stream.
type responseProducedEvent struct {
	ResponseID         string    `json:"response_id"`
	Provider           string    `json:"provider"`
	Model              string    `json:"model"`
	TextLength         int       `json:"text_length"`
	FinishReason       string    `json:"finish_reason,omitempty"`
	Truncated          bool      `json:"truncated"`
	LatencyMillis      int64     `json:"latency_millis"`
	TotalTokens        int64     `json:"total_tokens"`
	ProviderRequestIDs []string  `json:"provider_request_ids,omitempty"`
	ProducedAt         time.Time `json:"produced_at"`
}

// llmUsageEvent aggregates resource consumption across one generation
// fan-out: total tokens and calls, which providers answered, which failed,
// and the request IDs for vendor-side correlation.
type llmUsageEvent struct {
	TokensUsed         int64    `json:"tokens_used"`
	CallsMade          int64    `json:"calls_made"`
	Providers          []string `json:"providers"`
	Models             []string `json:"models"`
	FailedProviders    []string `json:"failed_providers,omitempty"`
	ProviderRequestIDs []string `json:"provider_request_ids,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	ClientIdemKey      string   `json:"client_idem_key"`
}

// EventEmitter emits generation domain events through the base activity
// infrastructure. Emission is best-effort: failures are logged and never
// fail the owning activity.
type EventEmitter struct{ base activity.BaseActivities }

// NewEventEmitter creates an emitter bound to the given base activities.
func NewEventEmitter(base activity.BaseActivities) *EventEmitter {
	return &EventEmitter{base: base}
}

// EmitResponseProduced emits the event for one successful provider response.
// The idempotency key is derived from the client idempotency key and the
// provider, so activity retries re-emit identical keys.
func (e *EventEmitter) EmitResponseProduced(
	ctx context.Context,
	response *domain.ModelResponse,
	wfCtx activity.WorkflowContext,
	clientIdemKey string,
) {
	event := responseProducedEvent{
		ResponseID:         response.ID,
		Provider:           response.Provider,
		Model:              response.Model,
		TextLength:         response.Length(),
		FinishReason:       string(response.FinishReason),
		Truncated:          response.Truncated,
		LatencyMillis:      response.LatencyMillis,
		TotalTokens:        response.TotalTokens,
		ProviderRequestIDs: response.ProviderRequestIDs,
		ProducedAt:         time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		activity.SafeLogError(ctx, "Failed to marshal response-produced event",
			"response_id", response.ID,
			"error", err)
		return
	}

	envelope := events.Envelope{
		ID:             uuid.New().String(),
		Type:           domain.EventTypeResponseProduced,
		Source:         eventSource,
		Version:        eventSchemaVersion,
		Timestamp:      time.Now(),
		IdempotencyKey: domain.ResponseProducedIdempotencyKey(clientIdemKey, response.Provider),
		TenantID:       wfCtx.TenantID,
		WorkflowID:     wfCtx.WorkflowID,
		RunID:          wfCtx.RunID,
		Payload:        payload,
	}

	e.base.EmitEventSafe(ctx, envelope, fmt.Sprintf("ResponseProduced[%s]", response.Provider))
}

// EmitLLMUsage emits the aggregated usage event for one fan-out.
func (e *EventEmitter) EmitLLMUsage(
	ctx context.Context,
	output *domain.GenerateResponsesOutput,
	wfCtx activity.WorkflowContext,
) {
	event := llmUsageEvent{
		TokensUsed:         output.TokensUsed,
		CallsMade:          output.CallsMade,
		Providers:          succeededProviders(output.Responses),
		Models:             collectModels(output.Responses),
		FailedProviders:    failedProviders(output.Failures),
		ProviderRequestIDs: collectRequestIDs(output.Responses),
		Tags:               output.Tags.Strings(),
		ClientIdemKey:      output.ClientIdemKey,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		activity.SafeLogError(ctx, "Failed to marshal usage event", "error", err)
		return
	}

	envelope := events.Envelope{
		ID:             uuid.New().String(),
		Type:           domain.EventTypeLLMUsage,
		Source:         eventSource,
		Version:        eventSchemaVersion,
		Timestamp:      time.Now(),
		IdempotencyKey: domain.LLMUsageIdempotencyKey(output.ClientIdemKey),
		TenantID:       wfCtx.TenantID,
		WorkflowID:     wfCtx.WorkflowID,
		RunID:          wfCtx.RunID,
		Payload:        payload,
	}

	e.base.EmitEventSafe(ctx, envelope, "LLMUsage")
}

// succeededProviders lists responding providers in response order.
func succeededProviders(responses []domain.ModelResponse) []string {
	providers := make([]string, 0, len(responses))
	for i := range responses {
		providers = append(providers, responses[i].Provider)
	}
	return providers
}

// collectModels deduplicates model names across responses, sorted so event
// payloads stay byte-stable across runs.
func collectModels(responses []domain.ModelResponse) []string {
	set := make(map[string]struct{})
	for i := range responses {
		if m := responses[i].Model; m != "" {
			set[m] = struct{}{}
		}
	}
	models := make([]string, 0, len(set))
	for m := range set {
		models = append(models, m)
	}
	slices.Sort(models)
	return models
}

// collectRequestIDs flattens provider request IDs across responses for
// vendor support escalations.
func collectRequestIDs(responses []domain.ModelResponse) []string {
	var ids []string
	for i := range responses {
		ids = append(ids, responses[i].ProviderRequestIDs...)
	}
	return ids
}

// failedProviders lists the providers recorded as failed, in failure order.
func failedProviders(failures []domain.ProviderFailure) []string {
	if len(failures) == 0 {
		return nil
	}
	names := make([]string, 0, len(failures))
	for _, f := range failures {
		names = append(names, f.Provider)
	}
	return names
}
