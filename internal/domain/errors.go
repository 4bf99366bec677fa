package domain

import "errors"

var (
	// ErrContentMissing means the local image content for a record is absent.
	// Stages treat it as a skip, never as a failure.
	ErrContentMissing = errors.New("local content missing")

	// ErrMalformedOutput means an external service answered with output that does
	// not satisfy its contract. Retried like a transient error.
	ErrMalformedOutput = errors.New("malformed service output")

	// ErrRetrieval wraps every failure of the retrieval pipeline.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrInvalidRequest marks caller input that can never succeed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidCandidate marks a candidate that cannot become a record.
	ErrInvalidCandidate = errors.New("invalid candidate")

	// ErrInvalidTransition is returned when a status change would regress a record.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTooSmall marks an image below the configured minimum size.
	ErrTooSmall = errors.New("image below minimum size")
)
