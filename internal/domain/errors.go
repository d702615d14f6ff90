package domain

import "errors"

// ErrInvalidPrompt indicates that the user prompt is empty or unusable.
// Surfaced before any provider is invoked.
var ErrInvalidPrompt = errors.New("invalid prompt")

// ErrNoProviderAvailable indicates that every configured provider failed.
// Terminal for the evaluation; no winner can be produced.
var ErrNoProviderAvailable = errors.New("no provider available")

// ErrInvalidRequest indicates that an evaluation request contains invalid data.
var ErrInvalidRequest = errors.New("invalid evaluation request")

// ErrInvalidConfig indicates that the evaluation configuration is invalid.
var ErrInvalidConfig = errors.New("invalid evaluation configuration")

// ErrNoScores indicates that no scored responses were provided for selection.
var ErrNoScores = errors.New("no scores provided")

// ErrScoreTotalMismatch indicates that a breakdown total does not equal the
// sum of its sub-scores.
var ErrScoreTotalMismatch = errors.New("score total does not equal sum of sub-scores")
