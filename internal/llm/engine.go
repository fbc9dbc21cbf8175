// Package llm abstracts the summarization model: the completion
// interface workers call, the decoding profile, prompt construction,
// and token budgeting.
package llm

import (
	"context"
	"errors"
)

// FinishLength is the finish reason reported when a completion stopped
// because it hit the token budget rather than finishing naturally.
const FinishLength = "length"

// FinishStop is the finish reason for a naturally terminated completion.
const FinishStop = "stop"

// ErrEngineFailed indicates the model backend failed to produce a
// completion. Workers translate it into a failure response.
var ErrEngineFailed = errors.New("llm: engine failed")

// Options is the decoding profile for one completion call.
type Options struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	MinP          float64
	RepeatPenalty float64
	Echo          bool
}

// AnalysisProfile is the decoding profile used for every analysis and
// re-query call. Low temperature keeps the JSON structure stable.
func AnalysisProfile() Options {
	return Options{
		Temperature:   0.3,
		TopP:          0.8,
		TopK:          20,
		MinP:          0.1,
		RepeatPenalty: 1.05,
		Echo:          false,
	}
}

// Completion is the result of one model call.
type Completion struct {
	Text         string
	FinishReason string
}

// Engine produces completions. Implementations that are not safe for
// concurrent use are serialized by the worker pool.
type Engine interface {
	// Complete runs one synchronous inference call.
	Complete(ctx context.Context, prompt string, opts Options) (Completion, error)

	// ContextWindow returns the model context size in tokens.
	ContextWindow() int
}

// Token budgeting constants.
const (
	minCompletionTokens = 500
	maxCompletionTokens = 4000
	promptSafetyMargin  = 100

	// RetryTokenCeiling bounds the single automatic retry: a length
	// finish only triggers a doubled re-run below this budget.
	RetryTokenCeiling = 1200

	// bytesPerToken approximates tokens from UTF-8 byte length. Korean
	// syllables are 3 bytes and mostly one token each under the model
	// tokenizer, so bytes/3 is close for Korean-heavy prompts and
	// conservative for ASCII.
	bytesPerToken = 3
)

// EstimateTokens approximates the token count of a prompt.
func EstimateTokens(text string) int {
	return len(text) / bytesPerToken
}

// BudgetTokens computes the completion budget for a prompt:
// max(500, min(4000, context - promptTokens - 100)).
func BudgetTokens(contextWindow, promptTokens int) int {
	budget := contextWindow - promptTokens - promptSafetyMargin

	if budget > maxCompletionTokens {
		budget = maxCompletionTokens
	}

	if budget < minCompletionTokens {
		budget = minCompletionTokens
	}

	return budget
}
