package llm

import (
	"fmt"
	"strings"

	"github.com/ahrav/go-mealmatch/internal/domain"
)

// coachPersona is the system prompt shared by every generation request.
// Each competing provider receives the same persona so responses differ only
// in the model, not in the instructions.
const coachPersona = "You are MyMealMatch, a personalized nutrition and health coach. " +
	"You tailor meal plans and supplement recommendations to each user's health goals, " +
	"dietary needs, and lifestyle. Give practical, specific guidance with concrete meals, " +
	"portions, and nutrients rather than generic advice."

// summaryInstruction drives progressive conversation summarization: the model
// receives the current summary plus new turns and returns a replacement
// summary covering both.
const summaryInstruction = "Progressively summarize the conversation between a user and their " +
	"nutrition coach. You are given the current summary and new lines of conversation. " +
	"Return a single updated summary that covers both, preserving the user's dietary " +
	"preferences, health conditions, goals, and any recommendations already made. " +
	"Respond with the summary text only."

// buildCoachSystemPrompt renders the generation system prompt. Detected diet
// signals are appended so every provider grounds its response in the same
// constraints. Tag sets are sorted, which keeps the prompt (and therefore the
// idempotency key) deterministic for a given input.
func buildCoachSystemPrompt(tags domain.DietTagSet) string {
	if tags.IsEmpty() {
		return coachPersona
	}

	var b strings.Builder
	b.WriteString(coachPersona)
	b.WriteString("\n\nThe user has these dietary preferences or health conditions: ")
	b.WriteString(strings.Join(tags.Strings(), ", "))
	b.WriteString(". Every recommendation must respect them.")
	return b.String()
}

// buildSummaryUserPrompt renders the user-role content for a summarization
// call: the current summary followed by the lines to fold in.
func buildSummaryUserPrompt(summary, newLines string) string {
	if summary == "" {
		return fmt.Sprintf("Current summary:\n(none yet)\n\nNew lines of conversation:\n%s", newLines)
	}
	return fmt.Sprintf("Current summary:\n%s\n\nNew lines of conversation:\n%s", summary, newLines)
}

// effectivePrompt prepends prior-conversation context to the user's turn.
// Context comes from the memory collaborator; generation sees it, while
// diet-signal extraction always runs on the bare prompt upstream.
func effectivePrompt(context, prompt string) string {
	if context == "" {
		return prompt
	}
	return fmt.Sprintf("Conversation so far:\n%s\n\nUser: %s", context, prompt)
}
