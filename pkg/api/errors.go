package api

import (
	"context"
	"errors"
)

var (
	// ErrConfigInvalid is returned before any external call when the
	// configuration is out of range or malformed.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrContextOverflow is returned when the required document content
	// cannot fit the token budget.
	ErrContextOverflow = errors.New("context overflow")

	// ErrGenerationFailed is returned when every generation attempt was
	// rejected or failed.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrUnplannableTrigger is returned when no valid action sequence can be
	// derived for a demo trigger.
	ErrUnplannableTrigger = errors.New("unplannable trigger")

	// ErrExecutionStepFailed marks a step that kept failing after its retries.
	ErrExecutionStepFailed = errors.New("execution step failed")

	// ErrRunNotFound is returned when a run id is unknown to a store.
	ErrRunNotFound = errors.New("run not found")
)

// IsFatal reports whether err aborts a whole run.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrConfigInvalid),
		errors.Is(err, ErrContextOverflow),
		errors.Is(err, ErrGenerationFailed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}
