// Package worker provides initialization and setup utilities for Temporal workers.
// This package contains initialization logic that should be executed during
// worker startup, keeping activity packages focused on pure activity logic.
package worker

import (
	"context"
	"fmt"

	"github.com/ahrav/go-mealmatch/internal/llm"
	"github.com/ahrav/go-mealmatch/internal/llm/configuration"
)

// InitializeLLMClient creates the resilient LLM client used by the generation
// activity. Returns the client for dependency injection rather than setting
// global state. The middleware pipeline includes rate limiting, retries,
// circuit breaking, and observability; the context bounds any provider
// handshakes performed during assembly.
func InitializeLLMClient(ctx context.Context, cfg *configuration.Config) (llm.Client, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}

	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	return client, nil
}
