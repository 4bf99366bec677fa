package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, carried on the context logger through a call chain.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldRunID is the stage run ID (UUID)
	FieldRunID = "run_id"

	// FieldStage is the pipeline stage name
	FieldStage = "stage"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldSource is the candidate source identifier
	FieldSource = "source"
)

// Entry-level fields used for aggregation and alerting.
const (
	// FieldImageID is the image record id being processed
	FieldImageID = "image_id"

	// FieldBatch is the 1-based batch index within a run
	FieldBatch = "batch"

	// FieldRound is the retry round within a run
	FieldRound = "round"

	// FieldAttempt is the attempt number of an external call
	FieldAttempt = "attempt"

	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldSize is a response size in bytes
	FieldSize = "size"

	// FieldErrorKind separates transient failures from contract mismatches
	FieldErrorKind = "error_kind"
)
