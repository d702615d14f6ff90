package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-mealmatch/internal/domain"
)

const (
	defaultWindow = 6
	defaultTTL    = 24 * time.Hour

	keyPrefix = "mealmatch:session:"
)

// Summarizer folds conversation lines into a rolling summary. The LLM client
// satisfies this interface; memory needs nothing else from it.
type Summarizer interface {
	Summarize(ctx context.Context, in domain.SummarizeInput) (*domain.SummarizeOutput, error)
}

// RedisConfig tunes the Redis-backed conversation store.
type RedisConfig struct {
	// Window is the number of recent turns kept verbatim. Turns beyond the
	// window fold into the rolling summary. Zero selects the default of 6.
	Window int

	// TTL bounds the lifetime of session keys and is refreshed on every
	// append, so idle sessions expire on their own. Zero selects 24h.
	TTL time.Duration

	// Eval supplies the summarizer provider and token limit for folds.
	Eval domain.EvalConfig
}

// RedisStore keeps conversation context in Redis: recent turns in a list,
// the rolling summary in a string, both TTL-bound per session.
//
// Folding is progressive: when the list outgrows the window, the oldest
// turns and the existing summary go through the Summarizer and the result
// replaces the summary. With a nil Summarizer the store degrades to a plain
// sliding window and the oldest turns are dropped instead of folded.
type RedisStore struct {
	client     *redis.Client
	summarizer Summarizer

	window int
	ttl    time.Duration
	eval   domain.EvalConfig

	logger *slog.Logger
}

// NewRedisStore creates a conversation store on an established Redis client.
// Connection management stays with the caller; unreachable Redis should be
// handled there by substituting a NoopStore.
func NewRedisStore(client *redis.Client, summarizer Summarizer, cfg RedisConfig) *RedisStore {
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		client:     client,
		summarizer: summarizer,
		window:     window,
		ttl:        ttl,
		eval:       cfg.Eval,
		logger:     slog.Default().With("component", "memory"),
	}
}

func turnsKey(sessionID string) string   { return keyPrefix + sessionID + ":turns" }
func summaryKey(sessionID string) string { return keyPrefix + sessionID + ":summary" }

// History renders the session context: the rolling summary first, then the
// recent turns, newline-separated. Empty when the session has no history.
func (s *RedisStore) History(ctx context.Context, sessionID string) (string, error) {
	summary, err := s.client.Get(ctx, summaryKey(sessionID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("load summary: %w", err)
	}

	turns, err := s.client.LRange(ctx, turnsKey(sessionID), 0, -1).Result()
	if err != nil {
		return "", fmt.Errorf("load turns: %w", err)
	}

	parts := make([]string, 0, 2)
	if summary != "" {
		parts = append(parts, summary)
	}
	if len(turns) > 0 {
		parts = append(parts, strings.Join(turns, "\n"))
	}
	return strings.Join(parts, "\n"), nil
}

// Append records the exchange and refreshes the session TTL, then folds any
// overflow into the summary. A fold failure is logged, not returned: the turn
// itself is safely stored and the next append retries the fold.
func (s *RedisStore) Append(ctx context.Context, sessionID string, exchange Exchange) error {
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, turnsKey(sessionID), renderTurn(exchange))
	pipe.Expire(ctx, turnsKey(sessionID), s.ttl)
	pipe.Expire(ctx, summaryKey(sessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	if err := s.fold(ctx, sessionID); err != nil {
		s.logger.Warn("Folding conversation history failed, retrying on next append",
			"session_id", sessionID,
			"error", err)
	}
	return nil
}

// Clear removes all stored context for the session.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, turnsKey(sessionID), summaryKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// fold moves turns beyond the window into the rolling summary. The summary
// write lands before the list trim, so a failure at any point leaves every
// turn in place for the next attempt.
func (s *RedisStore) fold(ctx context.Context, sessionID string) error {
	count, err := s.client.LLen(ctx, turnsKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("count turns: %w", err)
	}
	overflow := count - int64(s.window)
	if overflow <= 0 {
		return nil
	}

	if s.summarizer == nil {
		// Sliding window only: drop the oldest turns.
		if err := s.client.LTrim(ctx, turnsKey(sessionID), overflow, -1).Err(); err != nil {
			return fmt.Errorf("trim turns: %w", err)
		}
		return nil
	}

	oldest, err := s.client.LRange(ctx, turnsKey(sessionID), 0, overflow-1).Result()
	if err != nil {
		return fmt.Errorf("load overflow turns: %w", err)
	}

	current, err := s.client.Get(ctx, summaryKey(sessionID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("load summary: %w", err)
	}

	out, err := s.summarizer.Summarize(ctx, domain.SummarizeInput{
		SessionID: sessionID,
		Summary:   current,
		NewLines:  strings.Join(oldest, "\n"),
		Config:    s.eval,
	})
	if err != nil {
		return fmt.Errorf("summarize overflow turns: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, summaryKey(sessionID), out.Summary, s.ttl)
	pipe.LTrim(ctx, turnsKey(sessionID), overflow, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	return nil
}

// renderTurn formats an exchange the way the summarizer and the generation
// context consume it.
func renderTurn(exchange Exchange) string {
	return fmt.Sprintf("User: %s\nCoach: %s", exchange.UserInput, exchange.Response)
}
