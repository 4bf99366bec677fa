package domain

import "errors"

// OutcomeKind classifies the result of processing one item.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeRetryable OutcomeKind = "retryable"
	OutcomeFatal     OutcomeKind = "fatal"
)

// Outcome is the per-item result of a stage step.
type Outcome struct {
	Kind     OutcomeKind
	Err      error
	Attempts int
}

// Classify maps an error to an outcome kind. A nil error is success and a missing
// precondition is a skip; everything else may be retried.
func Classify(err error) OutcomeKind {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, ErrContentMissing), errors.Is(err, ErrTooSmall):
		return OutcomeSkipped
	default:
		return OutcomeRetryable
	}
}

// ErrorKind returns a short label for logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedOutput):
		return "malformed"
	case errors.Is(err, ErrContentMissing):
		return "missing_content"
	case errors.Is(err, ErrTooSmall):
		return "too_small"
	default:
		return "transient"
	}
}
