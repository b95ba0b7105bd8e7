package campaign

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrPermission     = errors.New("permission denied")
	ErrConflict       = errors.New("already exists")
	ErrCIDTaken       = errors.New("cid already taken")
	ErrExhaustedRetry = errors.New("exhausted retries generating a unique code")
	ErrExpired        = errors.New("link expired")

	// ErrPartialAggregation marks a run in which at least one metric or upsert failed.
	ErrPartialAggregation = errors.New("partial aggregation")
	// ErrLoggingFailure is always swallowed by the caller that produces it.
	ErrLoggingFailure = errors.New("access logging failed")
)
