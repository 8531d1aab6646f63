package core

import "time"

// Flow identifies the orchestrator entry point that started a run.
type Flow string

// Flow constants.
const (
	FlowBootstrap Flow = "bootstrap"
	FlowUpdate    Flow = "update"
	FlowPromote   Flow = "promote"
	FlowRecache   Flow = "recache"
)

// RunStatus represents the status of an ingestion run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run represents one orchestrator invocation.
type Run struct {
	ID          string
	Flow        Flow
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// DatasetRunStatus represents the outcome of one dataset job.
type DatasetRunStatus string

// Dataset run status constants.
const (
	DatasetRunStatusSuccess DatasetRunStatus = "success"
	DatasetRunStatusFailed  DatasetRunStatus = "failed"
)

// DatasetRun records the outcome of a single dataset job within a run.
type DatasetRun struct {
	RunID            string
	Dataset          string
	Status           DatasetRunStatus
	Rows             int64
	Partitions       int
	FailedPartitions int
	Error            string
	DurationMS       int64
	RecordedAt       time.Time
}

// Store defines the interface for the run journal.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Run operations
	CreateRun(flow Flow) (*Run, error)
	GetRun(id string) (*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error
	GetLatestRun(flow Flow) (*Run, error)
	ListRuns(limit int) ([]*Run, error)

	// Dataset job operations
	RecordDatasetRun(dr *DatasetRun) error
	GetDatasetRuns(runID string) ([]*DatasetRun, error)
}
