// Package resilience provides observability middleware for the LLM request
// pipeline. It wraps transport handlers with structured logging, latency and
// token metrics, and error classification so that every provider call made
// during an evaluation is traceable. Prompt content can be redacted for
// deployments that must not log user meal requests.
package resilience

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-mealmatch/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

// ContentTruncationLimit caps how many characters of a response body are
// included in log previews.
const ContentTruncationLimit = 200

// Metrics collects observability data from LLM operations. Implementations
// receive counters, histograms, and gauges with tag-based dimensionality so
// request volume, latency, and token usage can be sliced per provider and
// model.
type Metrics interface {
	// IncrementCounter increases a counter metric by the given value.
	IncrementCounter(name string, tags map[string]string, value float64)
	// RecordHistogram records a value in a histogram metric, used for
	// distributions such as request latency or completion token counts.
	RecordHistogram(name string, tags map[string]string, value float64)
	// SetGauge sets a gauge metric to a specific value.
	SetGauge(name string, tags map[string]string, value float64)
}

// NoOpMetrics discards all metric data. It keeps the observability path
// allocation-free when metrics collection is disabled.
type NoOpMetrics struct{}

// NewNoOpMetrics returns a metrics collector that discards all data.
func NewNoOpMetrics() *NoOpMetrics { return &NoOpMetrics{} }

// IncrementCounter discards the counter update.
func (n *NoOpMetrics) IncrementCounter(_ string, _ map[string]string, _ float64) {}

// RecordHistogram discards the histogram sample.
func (n *NoOpMetrics) RecordHistogram(_ string, _ map[string]string, _ float64) {}

// SetGauge discards the gauge update.
func (n *NoOpMetrics) SetGauge(_ string, _ map[string]string, _ float64) {}

// LoggingMiddleware captures the full request lifecycle for each provider
// call: a structured start event, latency and token metrics, and a completion
// or failure event with a classified error type. When RedactPrompts is set,
// prompt and response content are replaced with their lengths.
type LoggingMiddleware struct {
	logger        *slog.Logger
	metrics       Metrics
	config        configuration.ObservabilityConfig
	redactPrompts bool
}

// NewLoggingMiddleware creates the observability middleware from config.
// Nil logger and metrics fall back to slog.Default and a no-op collector.
func NewLoggingMiddleware(config configuration.ObservabilityConfig, logger *slog.Logger, metrics Metrics) (transport.Middleware, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewNoOpMetrics()
	}

	lm := &LoggingMiddleware{
		logger:        logger,
		metrics:       metrics,
		config:        config,
		redactPrompts: config.RedactPrompts,
	}

	return lm.Middleware(), nil
}

// Middleware returns a transport.Middleware that logs request start and
// completion, measures latency, and records usage metrics tagged by provider,
// model, operation, and tenant.
func (m *LoggingMiddleware) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			requestID := req.TraceID
			if requestID == "" {
				requestID = uuid.New().String()
			}

			baseTags := map[string]string{
				"provider":  req.Provider,
				"model":     req.Model,
				"operation": string(req.Operation),
				"tenant":    req.TenantID,
			}

			m.logRequest(ctx, req, requestID)

			m.metrics.IncrementCounter("llm.requests.total", baseTags, 1)

			start := time.Now()
			resp, err := next.Handle(ctx, req)
			duration := time.Since(start)

			m.metrics.RecordHistogram("llm.request.duration_ms", baseTags, float64(duration.Milliseconds()))

			if err != nil {
				m.handleError(ctx, req, err, requestID, duration, baseTags)
			} else if resp != nil {
				m.handleSuccess(ctx, req, resp, requestID, duration, baseTags)
			}

			return resp, err
		})
	}
}

// logRequest emits the structured start event for a provider call. Prompt and
// system prompt content are logged only when redaction is off; otherwise their
// lengths stand in so request shape stays visible without the content.
func (m *LoggingMiddleware) logRequest(_ context.Context, req *transport.Request, requestID string) {
	fields := []any{
		"request_id", requestID,
		"provider", req.Provider,
		"model", req.Model,
		"operation", req.Operation,
		"tenant_id", req.TenantID,
		"max_tokens", req.MaxTokens,
		"temperature", req.Temperature,
		"timeout_seconds", req.Timeout.Seconds(),
	}

	if req.Prompt != "" {
		if m.redactPrompts {
			fields = append(fields, "prompt_length", len(req.Prompt))
		} else {
			fields = append(fields, "prompt", req.Prompt)
		}
	}

	if req.SystemPrompt != "" {
		if m.redactPrompts {
			fields = append(fields, "system_prompt_length", len(req.SystemPrompt))
		} else {
			fields = append(fields, "system_prompt", req.SystemPrompt)
		}
	}

	m.logger.Info("LLM request started", fields...)
}

// handleError logs the failure with a classified error type and records the
// per-type error counter used for alerting.
func (m *LoggingMiddleware) handleError(
	_ context.Context,
	req *transport.Request,
	err error,
	requestID string,
	duration time.Duration,
	baseTags map[string]string,
) {
	errorType := "unknown"
	if wfErr := llmerrors.ClassifyLLMError(err); wfErr != nil {
		errorType = string(wfErr.Type)
	}

	errorTags := copyTags(baseTags)
	errorTags["error_type"] = errorType

	m.metrics.IncrementCounter("llm.requests.errors", errorTags, 1)

	fields := []any{
		"request_id", requestID,
		"provider", req.Provider,
		"model", req.Model,
		"operation", req.Operation,
		"tenant_id", req.TenantID,
		"duration_ms", duration.Milliseconds(),
		"error_type", errorType,
		"error", err.Error(),
	}

	m.logger.Error("LLM request failed", fields...)
}

// handleSuccess logs the completion event with token usage and a truncated
// response preview, subject to redaction.
func (m *LoggingMiddleware) handleSuccess(
	_ context.Context,
	req *transport.Request,
	resp *transport.Response,
	requestID string,
	duration time.Duration,
	baseTags map[string]string,
) {
	m.metrics.IncrementCounter("llm.requests.success", baseTags, 1)

	tokenTags := copyTags(baseTags)
	m.metrics.RecordHistogram("llm.tokens.prompt", tokenTags, float64(resp.Usage.PromptTokens))
	m.metrics.RecordHistogram("llm.tokens.completion", tokenTags, float64(resp.Usage.CompletionTokens))
	m.metrics.RecordHistogram("llm.tokens.total", tokenTags, float64(resp.Usage.TotalTokens))

	fields := []any{
		"request_id", requestID,
		"provider", req.Provider,
		"model", req.Model,
		"operation", req.Operation,
		"tenant_id", req.TenantID,
		"duration_ms", duration.Milliseconds(),
		"finish_reason", resp.FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"total_tokens", resp.Usage.TotalTokens,
		"provider_request_ids", strings.Join(resp.ProviderRequestIDs, ","),
	}

	if m.redactPrompts {
		fields = append(fields, "response_length", len(resp.Content))
	} else {
		content := resp.Content
		if len(content) > ContentTruncationLimit {
			content = content[:ContentTruncationLimit] + "..."
		}
		fields = append(fields, "response_preview", content)
	}

	m.logger.Info("LLM request completed", fields...)
}

// copyTags clones a metric tag map so per-call additions never mutate the
// shared base tags.
func copyTags(original map[string]string) map[string]string {
	tagsCopy := make(map[string]string, len(original))
	for k, v := range original {
		tagsCopy[k] = v
	}
	return tagsCopy
}

// ObservabilityStats is a snapshot of in-memory request statistics.
type ObservabilityStats struct {
	// RequestsTotal is the total number of requests processed.
	RequestsTotal int64 `json:"requests_total"`
	// RequestsSuccess is the number of requests that completed without error.
	RequestsSuccess int64 `json:"requests_success"`
	// RequestsError is the number of failed requests.
	RequestsError int64 `json:"requests_error"`
	// ErrorsByType maps classified error types to occurrence counts.
	ErrorsByType map[string]int64 `json:"errors_by_type"`
	// AverageLatencyMs is the running average request latency.
	AverageLatencyMs float64 `json:"average_latency_ms"`
	// TotalTokens is the cumulative token count across all requests.
	TotalTokens int64 `json:"total_tokens"`
	// RequestsByStatus maps finish reasons to occurrence counts.
	RequestsByStatus map[string]int64 `json:"requests_by_status"`
}

// observabilityMiddleware accumulates request statistics in memory. A mutex
// guards the counters because provider calls within one evaluation run
// concurrently.
type observabilityMiddleware struct {
	mu    sync.Mutex
	stats *ObservabilityStats
}

// NewObservabilityMiddleware creates a middleware that tracks request
// statistics in memory, for environments without an external metrics backend.
func NewObservabilityMiddleware() (transport.Middleware, error) {
	om := &observabilityMiddleware{
		stats: &ObservabilityStats{
			ErrorsByType:     make(map[string]int64),
			RequestsByStatus: make(map[string]int64),
		},
	}

	return om.middleware(), nil
}

func (o *observabilityMiddleware) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			start := time.Now()
			resp, err := next.Handle(ctx, req)
			duration := time.Since(start)

			o.record(resp, err, duration)

			return resp, err
		})
	}
}

// record folds one completed request into the running statistics.
func (o *observabilityMiddleware) record(resp *transport.Response, err error, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stats.RequestsTotal++

	if err != nil {
		o.stats.RequestsError++

		errorType := "unknown"
		if wfErr := llmerrors.ClassifyLLMError(err); wfErr != nil {
			errorType = string(wfErr.Type)
		}
		o.stats.ErrorsByType[errorType]++
	} else {
		o.stats.RequestsSuccess++

		if resp != nil {
			o.stats.TotalTokens += resp.Usage.TotalTokens
			o.stats.RequestsByStatus[string(resp.FinishReason)]++
		}
	}

	// Running average over all requests seen so far.
	currentAvg := o.stats.AverageLatencyMs
	newLatency := float64(duration.Milliseconds())
	totalRequests := float64(o.stats.RequestsTotal)
	o.stats.AverageLatencyMs = (currentAvg*(totalRequests-1) + newLatency) / totalRequests
}

// GetStats returns a snapshot of the current statistics. The copy shares no
// memory with the middleware's internal state.
func (o *observabilityMiddleware) GetStats() *ObservabilityStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	statsCopy := &ObservabilityStats{
		RequestsTotal:    o.stats.RequestsTotal,
		RequestsSuccess:  o.stats.RequestsSuccess,
		RequestsError:    o.stats.RequestsError,
		AverageLatencyMs: o.stats.AverageLatencyMs,
		TotalTokens:      o.stats.TotalTokens,
		ErrorsByType:     make(map[string]int64),
		RequestsByStatus: make(map[string]int64),
	}

	for k, v := range o.stats.ErrorsByType {
		statsCopy.ErrorsByType[k] = v
	}
	for k, v := range o.stats.RequestsByStatus {
		statsCopy.RequestsByStatus[k] = v
	}

	return statsCopy
}
