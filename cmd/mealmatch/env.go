package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/internal/llm/configuration"
	"github.com/ahrav/go-mealmatch/internal/llm/providers"
)

// errMissingKeys rejects a run with no usable provider credentials.
var errMissingKeys = errors.New(
	"missing provider API keys: set OPENAI_API_KEY and/or CLAUDE_API_KEY (or ANTHROPIC_API_KEY)")

// environment holds the CLI's process-level settings, parsed from
// environment variables after a .env file (when present) has been merged
// in. Anthropic credentials are accepted under both CLAUDE_API_KEY and the
// vendor-standard ANTHROPIC_API_KEY.
type environment struct {
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	ClaudeAPIKey    string `env:"CLAUDE_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	// Optional per-provider model overrides.
	OpenAIModel    string `env:"OPENAI_MODEL"`
	AnthropicModel string `env:"ANTHROPIC_MODEL"`

	// Redis enables response caching, global rate limiting, and chat
	// memory. Everything works without it, just without those layers.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	TemporalHostPort string `env:"TEMPORAL_HOSTPORT,default=127.0.0.1:7233"`

	TranscriptPath string `env:"TRANSCRIPT_PATH,default=chat_history.txt"`
}

// loadEnvironment merges a .env file into the process environment and
// parses the CLI settings from it. A missing .env file is fine; a malformed
// one is not.
func loadEnvironment(ctx context.Context) (*environment, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	var env environment
	if err := envconfig.Process(ctx, &env); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &env, nil
}

// anthropicKey resolves the Anthropic credential, preferring CLAUDE_API_KEY.
func (e *environment) anthropicKey() string {
	if e.ClaudeAPIKey != "" {
		return e.ClaudeAPIKey
	}
	return e.AnthropicAPIKey
}

// availableProviders returns the providers holding credentials, in priority
// order. An empty result means the CLI cannot evaluate anything.
func (e *environment) availableProviders() []string {
	var available []string
	if e.OpenAIAPIKey != "" {
		available = append(available, providers.ProviderOpenAI)
	}
	if e.anthropicKey() != "" {
		available = append(available, providers.ProviderAnthropic)
	}
	return available
}

// clientConfig builds the LLM client configuration: default resilience
// settings, credentials for every keyed provider, and Redis-backed layers
// only when an address is configured.
func (e *environment) clientConfig() *configuration.Config {
	cfg := configuration.DefaultConfig()

	cfg.Providers = make(map[string]configuration.ProviderConfig)
	if e.OpenAIAPIKey != "" {
		cfg.Providers[providers.ProviderOpenAI] = configuration.ProviderConfig{APIKey: e.OpenAIAPIKey}
	}
	if key := e.anthropicKey(); key != "" {
		cfg.Providers[providers.ProviderAnthropic] = configuration.ProviderConfig{APIKey: key}
	}

	if e.RedisAddr != "" {
		cfg.Cache.RedisAddr = e.RedisAddr
		cfg.Cache.RedisPassword = e.RedisPassword
		cfg.RateLimit.Global.RedisAddr = e.RedisAddr
		cfg.RateLimit.Global.RedisPassword = e.RedisPassword
	} else {
		cfg.Cache.Enabled = false
		cfg.RateLimit.Global.Enabled = false
	}

	return cfg
}

// evalConfig builds the evaluation settings: the default rubric
// configuration restricted to keyed providers, with any model overrides
// applied. Fails when no provider has credentials.
func (e *environment) evalConfig() (domain.EvalConfig, error) {
	available := e.availableProviders()
	if len(available) == 0 {
		return domain.EvalConfig{}, errMissingKeys
	}

	cfg := domain.DefaultEvalConfig()
	cfg.Providers = available

	if e.OpenAIModel != "" || e.AnthropicModel != "" {
		cfg.Models = make(map[string]string)
		if e.OpenAIModel != "" {
			cfg.Models[providers.ProviderOpenAI] = e.OpenAIModel
		}
		if e.AnthropicModel != "" {
			cfg.Models[providers.ProviderAnthropic] = e.AnthropicModel
		}
	}

	// Summarization must run on a provider we can actually call.
	if !slices.Contains(available, cfg.SummaryProvider) {
		cfg.SummaryProvider = available[0]
	}

	return cfg, nil
}
