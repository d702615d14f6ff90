package domain

import "fmt"

// SummarizeInput asks the LLM layer to fold conversation turns into a
// rolling summary. Progressive summarization: the existing summary and the
// lines being folded in are both provided, and the model produces a new
// summary covering both.
type SummarizeInput struct {
	// SessionID identifies the conversation being summarized.
	SessionID string `json:"session_id,omitempty"`

	// Summary is the existing rolling summary. Empty on first fold.
	Summary string `json:"summary"`

	// NewLines are the conversation turns to fold into the summary.
	NewLines string `json:"new_lines" validate:"required"`

	// Config supplies the summarizer provider and token limit.
	Config EvalConfig `json:"config" validate:"required"`
}

// Validate checks the input, rejecting blank turn text.
func (i *SummarizeInput) Validate() error {
	if isBlank(i.NewLines) {
		return fmt.Errorf("%w: no lines to summarize", ErrInvalidPrompt)
	}
	return validate.Struct(i)
}

// SummarizeOutput carries the updated rolling summary.
type SummarizeOutput struct {
	// Summary is the new summary covering prior summary and folded lines.
	Summary string `json:"summary"`

	// TokensUsed is the token count consumed by the summarization call.
	TokensUsed int64 `json:"tokens_used"`

	// CallsMade is the number of provider calls that completed.
	CallsMade int64 `json:"calls_made"`
}
