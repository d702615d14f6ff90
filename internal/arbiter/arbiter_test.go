package arbiter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/internal/memory"
)

// stubClient returns a canned fan-out outcome and records every Generate
// input it receives.
type stubClient struct {
	mu     sync.Mutex
	inputs []domain.GenerateResponsesInput
	output *domain.GenerateResponsesOutput
	err    error
}

func (s *stubClient) Generate(
	_ context.Context, in domain.GenerateResponsesInput,
) (*domain.GenerateResponsesOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	if s.err != nil {
		return nil, s.err
	}
	out := *s.output
	out.Tags = in.Tags
	return &out, nil
}

func (s *stubClient) Summarize(
	_ context.Context, _ domain.SummarizeInput,
) (*domain.SummarizeOutput, error) {
	return &domain.SummarizeOutput{Summary: "stub summary"}, nil
}

func (s *stubClient) calls() []domain.GenerateResponsesInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.GenerateResponsesInput(nil), s.inputs...)
}

// stubStore is an in-memory Store that can be primed with history and
// forced to fail, so memory degradation is testable without Redis.
type stubStore struct {
	mu         sync.Mutex
	history    string
	historyErr error
	appendErr  error
	historyFor []string
	appends    []memory.Exchange
}

func (s *stubStore) History(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyFor = append(s.historyFor, sessionID)
	if s.historyErr != nil {
		return "", s.historyErr
	}
	return s.history, nil
}

func (s *stubStore) Append(_ context.Context, _ string, exchange memory.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appends = append(s.appends, exchange)
	return nil
}

func (s *stubStore) Clear(context.Context, string) error { return nil }

func (s *stubStore) appended() []memory.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.Exchange(nil), s.appends...)
}

func success(provider, model, text string, tokens int64) domain.ModelResponse {
	resp := domain.NewModelResponse(provider, model, text)
	resp.TotalTokens = tokens
	return *resp
}

func fanout(responses []domain.ModelResponse, failures []domain.ProviderFailure) *domain.GenerateResponsesOutput {
	out := &domain.GenerateResponsesOutput{
		Responses:     responses,
		Failures:      failures,
		ClientIdemKey: "stub-idem-key",
	}
	for i := range responses {
		out.TokensUsed += responses[i].TotalTokens
		out.CallsMade++
	}
	return out
}

const (
	richAnemiaText = "Build meals around iron-rich beef, lentils, and spinach, " +
		"pair them with vitamin C, and consider an iron supplement plus B12."
	genericText = "Just eat whatever feels right and drink some water."
)

func TestEvaluate_BlankPromptFailsBeforeProviders(t *testing.T) {
	client := &stubClient{output: fanout([]domain.ModelResponse{
		success("openai", "gpt-4-turbo", richAnemiaText, 60),
	}, nil)}
	arb := New(client, nil, nil, domain.DefaultEvalConfig())

	result, err := arb.Evaluate(context.Background(), "session-1", "   \n\t")

	require.ErrorIs(t, err, domain.ErrInvalidPrompt)
	assert.Nil(t, result)
	assert.Empty(t, client.calls(), "no provider call for a blank prompt")
}

func TestEvaluate_EveryProviderFailing(t *testing.T) {
	client := &stubClient{output: fanout(nil, []domain.ProviderFailure{
		{Provider: "openai", Reason: "request timed out", Kind: "timeout"},
		{Provider: "anthropic", Reason: "rate limited after retries", Kind: "rate_limit"},
	})}
	arb := New(client, nil, nil, domain.DefaultEvalConfig())

	result, err := arb.Evaluate(context.Background(), "", "I have anemia, what should I eat?")

	require.ErrorIs(t, err, domain.ErrNoProviderAvailable)
	assert.Nil(t, result, "no breakdowns when every provider failed")
	assert.Contains(t, err.Error(), "openai: request timed out")
	assert.Contains(t, err.Error(), "anthropic: rate limited after retries")
}

func TestEvaluate_SingleSuccessWinsByDefault(t *testing.T) {
	client := &stubClient{output: fanout(
		[]domain.ModelResponse{success("openai", "gpt-4-turbo", richAnemiaText, 60)},
		[]domain.ProviderFailure{{Provider: "anthropic", Reason: "connection refused", Kind: "network"}},
	)}
	arb := New(client, nil, nil, domain.DefaultEvalConfig())

	result, err := arb.Evaluate(context.Background(), "", "I have anemia, what should I eat?")

	require.NoError(t, err)
	assert.Equal(t, "openai", result.WinningProvider)
	assert.Equal(t, domain.TieBreakDefault, result.TieBreak)
	assert.True(t, result.Degraded)
	require.Len(t, result.FailedProviders, 1)
	assert.Equal(t, "anthropic", result.FailedProviders[0].Provider)
	require.NoError(t, result.Validate())
}

func TestEvaluate_NutrientRichResponseWins(t *testing.T) {
	client := &stubClient{output: fanout([]domain.ModelResponse{
		success("openai", "gpt-4-turbo", genericText, 20),
		success("anthropic", "claude-3-opus-20240229", richAnemiaText, 60),
	}, nil)}
	arb := New(client, nil, nil, domain.DefaultEvalConfig())

	result, err := arb.Evaluate(context.Background(), "",
		"I'm 5'4\", 140lbs, and have anemia. Build me a meal plan to not feel tired all day.")

	require.NoError(t, err)
	assert.Equal(t, "anthropic", result.WinningProvider,
		"the response covering the anemia nutrients must outscore the generic one")
	assert.Equal(t, domain.TieBreakTotal, result.TieBreak)
	assert.Equal(t, richAnemiaText, result.WinningText)
	assert.False(t, result.Degraded)

	require.Len(t, result.Breakdowns, 2)
	assert.Greater(t,
		result.Breakdowns["anthropic"].Total,
		result.Breakdowns["openai"].Total)
	assert.True(t, result.Tags.Has(domain.TagAnemia))
}

func TestEvaluate_ThreadsContextAndSignals(t *testing.T) {
	store := &stubStore{history: "Summary: user is vegan.\nUser: Breakfast ideas?\nCoach: Try oatmeal."}
	client := &stubClient{output: fanout([]domain.ModelResponse{
		success("openai", "gpt-4-turbo", richAnemiaText, 60),
	}, nil)}
	cfg := domain.DefaultEvalConfig()
	arb := New(client, store, nil, cfg)

	_, err := arb.Evaluate(context.Background(), "session-42", "I also have anemia, adjust my plan.")
	require.NoError(t, err)

	calls := client.calls()
	require.Len(t, calls, 1)
	in := calls[0]
	assert.Equal(t, "session-42", in.SessionID)
	assert.Equal(t, store.history, in.Context, "prior context rides the generation input")
	assert.Equal(t, "I also have anemia, adjust my plan.", in.Prompt,
		"the prompt itself stays bare; the client does the prefixing")
	assert.Equal(t, domain.NewDietTagSet(domain.TagAnemia), in.Tags,
		"signals come from the user's turn, not the vegan history")
	assert.Equal(t, cfg, in.Config)
	assert.NotEmpty(t, in.EvaluationID)
}

func TestEvaluate_RecordsExchange(t *testing.T) {
	store := &stubStore{}
	path := filepath.Join(t.TempDir(), "transcript.txt")
	client := &stubClient{output: fanout([]domain.ModelResponse{
		success("openai", "gpt-4-turbo", richAnemiaText, 60),
	}, nil)}
	arb := New(client, store, memory.NewTranscript(path), domain.DefaultEvalConfig())

	prompt := "I have anemia, what should I eat?"
	result, err := arb.Evaluate(context.Background(), "session-7", prompt)
	require.NoError(t, err)

	appends := store.appended()
	require.Len(t, appends, 1)
	assert.Equal(t, prompt, appends[0].UserInput)
	assert.Equal(t, "openai (gpt-4-turbo)", appends[0].Winner)
	assert.Equal(t, result.WinningText, appends[0].Response)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	transcript := string(raw)
	assert.Contains(t, transcript, fmt.Sprintf("User: %s", prompt))
	assert.Contains(t, transcript, "Best Model: openai (gpt-4-turbo)")
	assert.Contains(t, transcript, result.WinningText)
}

func TestEvaluate_SessionlessSkipsMemory(t *testing.T) {
	store := &stubStore{}
	client := &stubClient{output: fanout([]domain.ModelResponse{
		success("openai", "gpt-4-turbo", richAnemiaText, 60),
	}, nil)}
	arb := New(client, store, nil, domain.DefaultEvalConfig())

	_, err := arb.Evaluate(context.Background(), "", "I have anemia, what should I eat?")

	require.NoError(t, err)
	assert.Empty(t, store.historyFor, "no history lookup without a session")
	assert.Empty(t, store.appended(), "no memory write without a session")
}

func TestEvaluate_MemoryFailureDoesNotFailEvaluation(t *testing.T) {
	store := &stubStore{
		historyErr: errors.New("redis: connection refused"),
		appendErr:  errors.New("redis: connection refused"),
	}
	client := &stubClient{output: fanout([]domain.ModelResponse{
		success("openai", "gpt-4-turbo", richAnemiaText, 60),
	}, nil)}
	arb := New(client, store, nil, domain.DefaultEvalConfig())

	result, err := arb.Evaluate(context.Background(), "session-9", "I have anemia, what should I eat?")

	require.NoError(t, err, "memory is best-effort; its failures never fail the turn")
	require.NotNil(t, result)
	assert.Equal(t, "openai", result.WinningProvider)

	calls := client.calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Context, "failed history load degrades to no context")
}

func TestEvaluate_GenerateErrorPropagates(t *testing.T) {
	cause := errors.New("canonical payload rejected")
	client := &stubClient{err: cause}
	arb := New(client, nil, nil, domain.DefaultEvalConfig())

	result, err := arb.Evaluate(context.Background(), "", "I have anemia, what should I eat?")

	require.ErrorIs(t, err, cause)
	assert.Nil(t, result)
}

func TestEvaluate_UnscoreableSuccessesFail(t *testing.T) {
	empty := success("openai", "gpt-4-turbo", "", 0)
	client := &stubClient{output: fanout([]domain.ModelResponse{empty}, nil)}
	arb := New(client, nil, nil, domain.DefaultEvalConfig())

	result, err := arb.Evaluate(context.Background(), "", "I have anemia, what should I eat?")

	require.ErrorIs(t, err, domain.ErrNoProviderAvailable)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "no scoreable response")
}

func TestEvaluate_UsageAggregatesGeneration(t *testing.T) {
	client := &stubClient{output: fanout([]domain.ModelResponse{
		success("openai", "gpt-4-turbo", richAnemiaText, 60),
		success("anthropic", "claude-3-opus-20240229", genericText, 55),
	}, nil)}
	arb := New(client, nil, nil, domain.DefaultEvalConfig())

	result, err := arb.Evaluate(context.Background(), "", "I have anemia, what should I eat?")

	require.NoError(t, err)
	assert.Equal(t, int64(115), result.Usage.TotalTokens)
	assert.Equal(t, int64(2), result.Usage.CallsMade)
	assert.GreaterOrEqual(t, result.Usage.LatencyMillis, int64(0))
}
