// Package memory persists conversation history between evaluations. A Store
// keeps per-session context: recent turns verbatim plus a rolling summary
// that older turns are folded into, so the generation prompt carries long
// conversations without unbounded growth. Memory is a best-effort
// collaborator: callers log store failures and continue, because a lost
// context line must never fail an evaluation.
package memory

import "context"

// Exchange is one completed conversation turn: the user's prompt, the label
// of the model that won, and the winning response text.
type Exchange struct {
	// UserInput is the raw prompt for this turn.
	UserInput string

	// Winner labels the model whose response was selected, as shown to the
	// user (for example "openai (gpt-4-turbo)").
	Winner string

	// Response is the winning response body.
	Response string
}

// Store keeps conversation context per session.
type Store interface {
	// History returns the rendered context for a session: the rolling
	// summary, then the recent turns. Empty string when the session has no
	// history yet.
	History(ctx context.Context, sessionID string) (string, error)

	// Append records a completed exchange for the session.
	Append(ctx context.Context, sessionID string, exchange Exchange) error

	// Clear removes all stored context for the session.
	Clear(ctx context.Context, sessionID string) error
}

// NoopStore is a Store that remembers nothing. Used when memory is disabled
// or Redis is unreachable.
type NoopStore struct{}

// NewNoopStore creates a no-op conversation store.
func NewNoopStore() *NoopStore { return &NoopStore{} }

// History always returns empty context.
func (*NoopStore) History(context.Context, string) (string, error) { return "", nil }

// Append discards the exchange.
func (*NoopStore) Append(context.Context, string, Exchange) error { return nil }

// Clear is a no-op.
func (*NoopStore) Clear(context.Context, string) error { return nil }
