package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-mealmatch/internal/arbiter"
	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/internal/llm"
	"github.com/ahrav/go-mealmatch/internal/memory"
)

const welcomeBanner = `👋 Welcome to MyMealMatch! Your Personalized Path to Healthy Eating Starts Here!

Maintaining a balanced diet has never been easier! At MyMealMatch, we tailor meal plans and supplements to your unique health goals, dietary needs, and lifestyle—so you can enjoy nutritious, delicious meals without the hassle of meal planning or grocery shopping.

✨ Here’s how it works:
✅ Personalized meal & supplement recommendations based on your preferences
✅ Seamless integration with fitness & health apps for real-time adjustments
✅ Flexible subscriptions—adjust, pause, or swap meals anytime
✅ Eco-friendly packaging & portion-controlled servings for sustainability

💡 Let’s get started! Tell us about your health goals & food preferences, and we’ll craft your perfect meal plan! 🍽️🚀

Would you like a step-by-step guide or jump straight into building your first meal plan? 😊
`

const farewell = "\nGoodbye! Stay healthy! 🏋️‍♂️🥗"

func newChatCommand() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive coaching session",
		Long: `Start an interactive coaching session.

Every question is answered by the winning provider response, scored the
same way as "ask". With Redis configured (REDIS_ADDR), the session keeps a
rolling conversation memory: older turns are folded into a summary so
follow-up questions stay grounded in what you already said. Exchanges are
appended to the transcript file. Type "exit" to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := loadEnvironment(ctx)
			if err != nil {
				return err
			}
			evalCfg, err := env.evalConfig()
			if err != nil {
				return err
			}

			client, err := llm.NewClient(ctx, env.clientConfig())
			if err != nil {
				return fmt.Errorf("initializing LLM client: %w", err)
			}

			store, closeStore := newSessionStore(ctx, env, client, evalCfg)
			defer closeStore()

			if sessionID == "" {
				sessionID = uuid.New().String()
			}

			arb := arbiter.New(client, store, memory.NewTranscript(env.TranscriptPath), evalCfg)
			return runChatLoop(ctx, arb, evalCfg, sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "",
		"Session ID to resume an earlier conversation (default: a fresh session)")

	return cmd
}

// runChatLoop drives the REPL: prompt, evaluate, render, repeat until the
// user types "exit" or input ends. Evaluation failures are reported and the
// session continues; one provider outage should not end the conversation.
func runChatLoop(
	ctx context.Context,
	arb *arbiter.Arbiter,
	evalCfg domain.EvalConfig,
	sessionID string,
	in io.Reader,
	out io.Writer,
) error {
	fmt.Fprint(out, welcomeBanner)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nUser: ")
		if !scanner.Scan() {
			fmt.Fprintln(out, farewell)
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(input, "exit") {
			fmt.Fprintln(out, farewell)
			return nil
		}

		result, err := arb.Evaluate(ctx, sessionID, input)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidPrompt):
				fmt.Fprintln(out, "Please tell me about your meals, goals, or preferences (or type \"exit\" to leave).")
			case errors.Is(err, domain.ErrNoProviderAvailable):
				fmt.Fprintf(out, "😕 No provider could answer right now: %v\n", err)
			default:
				fmt.Fprintf(out, "😕 Something went wrong: %v\n", err)
			}
			continue
		}

		renderResult(out, result, evalCfg.Providers)
	}
}

// newSessionStore builds the conversation memory for the session: a
// Redis-backed store with progressive summarization when Redis is
// configured and reachable, a no-op store otherwise. The returned func
// releases the Redis connection.
func newSessionStore(
	ctx context.Context,
	env *environment,
	client llm.Client,
	evalCfg domain.EvalConfig,
) (memory.Store, func()) {
	if env.RedisAddr == "" {
		slog.Info("REDIS_ADDR not set, conversation memory disabled for this session")
		return memory.NewNoopStore(), func() {}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     env.RedisAddr,
		Password: env.RedisPassword,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// Degrade to a memoryless session rather than refusing to chat.
		slog.Warn("Redis connection failed, conversation memory disabled", "error", err)
		_ = redisClient.Close()
		return memory.NewNoopStore(), func() {}
	}

	store := memory.NewRedisStore(redisClient, client, memory.RedisConfig{Eval: evalCfg})
	return store, func() { _ = redisClient.Close() }
}
