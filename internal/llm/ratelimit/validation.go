package ratelimit

import (
	"errors"
	"fmt"

	"github.com/ahrav/go-mealmatch/internal/llm/configuration"
)

// errNegativeRequestsPerSecond backs the runtime re-check in
// checkGlobalLimit; validation here should make it unreachable.
var errNegativeRequestsPerSecond = errors.New("global rate limit: RequestsPerSecond cannot be negative")

// validateRateLimitConfig rejects limiter settings that would misbehave at
// runtime. Disabled layers are not validated; their values are never read.
func validateRateLimitConfig(cfg *configuration.RateLimitConfig) error {
	if err := validateLocalRateLimitConfig(cfg.Local); err != nil {
		return err
	}

	return validateGlobalRateLimitConfig(&cfg.Global)
}

// validateLocalRateLimitConfig checks the token bucket settings. A zero rate
// with a positive burst is rejected: such a bucket would grant its burst
// once and then deny forever, which is a misconfiguration rather than a
// meaningful limit.
func validateLocalRateLimitConfig(cfg configuration.LocalRateLimitConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.TokensPerSecond < 0 {
		return fmt.Errorf("invalid local rate limit: TokensPerSecond cannot be negative (got %f)", cfg.TokensPerSecond)
	}
	if cfg.BurstSize < 0 {
		return fmt.Errorf("invalid local rate limit: BurstSize cannot be negative (got %d)", cfg.BurstSize)
	}
	if cfg.TokensPerSecond == 0 && cfg.BurstSize > 0 {
		return fmt.Errorf("invalid local rate limit: BurstSize must be 0 when TokensPerSecond is 0")
	}

	return nil
}

func validateGlobalRateLimitConfig(cfg *configuration.GlobalRateLimitConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid global rate limit: RequestsPerSecond cannot be negative (got %d)", cfg.RequestsPerSecond)
	}

	return nil
}
