package domain

import "time"

// Stage names a pipeline stage.
type Stage string

const (
	StageIngest  Stage = "ingest"
	StageFetch   Stage = "fetch"
	StageCaption Stage = "caption"
	StageEmbed   Stage = "embed"
	StagePublish Stage = "publish"
	StageExport  Stage = "export"
)

// ParseStage converts a string into a Stage.
func ParseStage(s string) (Stage, bool) {
	switch Stage(s) {
	case StageIngest, StageFetch, StageCaption, StageEmbed, StagePublish, StageExport:
		return Stage(s), true
	}
	return "", false
}

// JobStatus represents the status of a stage run.
// Values include JobStatusRunning, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// StageRun records one execution of a pipeline stage and its counters.
type StageRun struct {
	ID           string     `gorm:"type:text;primaryKey" json:"id"`
	Stage        Stage      `gorm:"type:varchar(16);not null;index" json:"stage"`
	Status       JobStatus  `gorm:"type:varchar(16);default:running" json:"status"`
	Total        int        `gorm:"default:0" json:"total"`
	Succeeded    int        `gorm:"default:0" json:"succeeded"`
	Skipped      int        `gorm:"default:0" json:"skipped"`
	Failed       int        `gorm:"default:0" json:"failed"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// TableName returns the database table name for StageRun.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (StageRun) TableName() string {
	return "stage_runs"
}

// RunCounters is implemented by stage stats so runs can be journaled uniformly.
type RunCounters interface {
	Counters() (total, succeeded, skipped, failed int)
}
