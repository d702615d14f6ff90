package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluationRequest(t *testing.T) {
	principal := Principal{Type: PrincipalUser, ID: "user-1"}

	req, err := NewEvaluationRequest("what should I eat for breakfast?", principal, DefaultEvalConfig())
	require.NoError(t, err)

	assert.NoError(t, uuid.Validate(req.ID))
	assert.Equal(t, "what should I eat for breakfast?", req.Prompt)
	assert.Equal(t, principal, req.RequestedBy)
	assert.False(t, req.RequestedAt.IsZero())
	assert.NoError(t, req.Validate())
}

func TestNewEvaluationRequest_InvalidPrompt(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
	}{
		{name: "empty", prompt: ""},
		{name: "whitespace only", prompt: "   \t\n  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEvaluationRequest(tt.prompt, Principal{Type: PrincipalUser, ID: "u"}, DefaultEvalConfig())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPrompt)
		})
	}
}

func TestMakeEvaluationRequest_Deterministic(t *testing.T) {
	const id = "550e8400-e29b-41d4-a716-446655440000"
	at := mustParseTime(t, "2025-06-01T12:00:00Z")

	req, err := MakeEvaluationRequest(id, at, "plan my meals", Principal{Type: PrincipalService, ID: "wf"}, DefaultEvalConfig())
	require.NoError(t, err)

	assert.Equal(t, id, req.ID)
	assert.Equal(t, at, req.RequestedAt)
}

func TestEvaluationRequest_WithMeta(t *testing.T) {
	req, err := NewEvaluationRequest("hello", Principal{Type: PrincipalUser, ID: "u"}, DefaultEvalConfig())
	require.NoError(t, err)

	updated := req.WithMeta("channel", "cli")

	assert.Equal(t, "cli", updated.Metadata["channel"])
	assert.Empty(t, req.Metadata["channel"], "original request must not be mutated")
}

func TestDefaultEvalConfig(t *testing.T) {
	cfg := DefaultEvalConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"openai", "anthropic"}, cfg.Providers)
	assert.Equal(t, defaultMaxResponseTokens, cfg.MaxResponseTokens)
	assert.Equal(t, defaultTemperature, cfg.Temperature)
}

func TestEvalConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EvalConfig)
		wantErr bool
	}{
		{name: "default valid", mutate: func(*EvalConfig) {}, wantErr: false},
		{name: "no providers", mutate: func(c *EvalConfig) { c.Providers = nil }, wantErr: true},
		{name: "blank provider name", mutate: func(c *EvalConfig) { c.Providers = []string{""} }, wantErr: true},
		{name: "tokens too low", mutate: func(c *EvalConfig) { c.MaxResponseTokens = 10 }, wantErr: true},
		{name: "tokens too high", mutate: func(c *EvalConfig) { c.MaxResponseTokens = 9000 }, wantErr: true},
		{name: "temperature zero is valid", mutate: func(c *EvalConfig) { c.Temperature = 0 }, wantErr: false},
		{name: "temperature above range", mutate: func(c *EvalConfig) { c.Temperature = 2.5 }, wantErr: true},
		{name: "timeout too short", mutate: func(c *EvalConfig) { c.Timeout = 1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEvalConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvalConfig_ModelFor(t *testing.T) {
	cfg := DefaultEvalConfig()

	assert.Equal(t, DefaultOpenAIModel, cfg.ModelFor("openai"))
	assert.Equal(t, DefaultAnthropicModel, cfg.ModelFor("anthropic"))
	assert.Equal(t, "", cfg.ModelFor("mistral"))

	cfg.Models = map[string]string{"openai": "gpt-4o"}
	assert.Equal(t, "gpt-4o", cfg.ModelFor("openai"))
	assert.Equal(t, DefaultAnthropicModel, cfg.ModelFor("anthropic"))
}

func TestEvalConfig_SummarizerProvider(t *testing.T) {
	cfg := DefaultEvalConfig()
	assert.Equal(t, "openai", cfg.SummarizerProvider(), "falls back to first provider")

	cfg.SummaryProvider = "anthropic"
	assert.Equal(t, "anthropic", cfg.SummarizerProvider())
}
