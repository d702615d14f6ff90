package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-mealmatch/internal/arbiter"
	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/internal/llm"
	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

// chatArbiter builds a real arbiter over a stubbed transport, so the loop
// test exercises the full evaluate-and-render path without network calls.
func chatArbiter(evalCfg domain.EvalConfig) *arbiter.Arbiter {
	handler := transport.HandlerFunc(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		content := "Lentil curry with spinach over brown rice, plus a vitamin B12 supplement."
		if req.Provider == "anthropic" {
			content = "Eat food."
		}
		return &transport.Response{
			Content:      content,
			FinishReason: domain.FinishStop,
			Usage:        transport.NormalizedUsage{TotalTokens: 40},
		}, nil
	})
	client := llm.NewClientWithHandler(nil, handler)
	return arbiter.New(client, nil, nil, evalCfg)
}

func TestRunChatLoop(t *testing.T) {
	evalCfg := domain.DefaultEvalConfig()

	t.Run("answers then exits on command", func(t *testing.T) {
		in := strings.NewReader("I'm vegan, plan my dinners\nexit\n")
		var out bytes.Buffer

		err := runChatLoop(context.Background(), chatArbiter(evalCfg), evalCfg, "session-test", in, &out)
		require.NoError(t, err)

		display := out.String()
		assert.Contains(t, display, "Welcome to MyMealMatch")
		assert.Contains(t, display, "User: ")
		assert.Contains(t, display, "openai 🏆")
		assert.Contains(t, display, "Lentil curry")
		assert.Contains(t, display, "Diet: vegan")
		assert.Contains(t, display, "Goodbye! Stay healthy!")
	})

	t.Run("nudges on blank input and keeps going", func(t *testing.T) {
		in := strings.NewReader("   \nexit\n")
		var out bytes.Buffer

		err := runChatLoop(context.Background(), chatArbiter(evalCfg), evalCfg, "session-test", in, &out)
		require.NoError(t, err)

		display := out.String()
		assert.Contains(t, display, "tell me about your meals")
		assert.Contains(t, display, "Goodbye! Stay healthy!")
	})

	t.Run("end of input closes the session", func(t *testing.T) {
		in := strings.NewReader("")
		var out bytes.Buffer

		err := runChatLoop(context.Background(), chatArbiter(evalCfg), evalCfg, "session-test", in, &out)
		require.NoError(t, err)
		assert.Contains(t, out.String(), "Goodbye! Stay healthy!")
	})

	t.Run("exit is case-insensitive", func(t *testing.T) {
		in := strings.NewReader("EXIT\n")
		var out bytes.Buffer

		err := runChatLoop(context.Background(), chatArbiter(evalCfg), evalCfg, "session-test", in, &out)
		require.NoError(t, err)

		display := out.String()
		assert.Contains(t, display, "Goodbye! Stay healthy!")
		assert.NotContains(t, display, "🏆", "exit must not trigger an evaluation")
	})
}
