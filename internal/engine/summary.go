package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/statlake/pkg/core"
)

// DatasetSummary describes a dataset whose job completed.
type DatasetSummary struct {
	Name string `json:"dataset"`
	// Rows is the fetched batch size, or the promoted row count for
	// promote-only runs.
	Rows       int      `json:"rows"`
	Partitions []string `json:"partitions"`
	// FailedPartitions were not promoted; their cleaned data is unchanged.
	FailedPartitions []string      `json:"failed_partitions,omitempty"`
	Duration         time.Duration `json:"duration_ns"`
}

// FailedDataset describes a dataset whose job failed.
type FailedDataset struct {
	Name  string `json:"dataset"`
	Error string `json:"error"`
	err   error
}

// Unwrap returns the job error.
func (f FailedDataset) Unwrap() error { return f.err }

// Summary is the outcome of a run.
type Summary struct {
	RunID      string           `json:"run_id"`
	Flow       core.Flow        `json:"flow"`
	Status     core.RunStatus   `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Succeeded  []DatasetSummary `json:"succeeded"`
	Failed     []FailedDataset  `json:"failed"`
}

// Err joins the dataset failures, or returns nil when every job succeeded.
func (s *Summary) Err() error {
	errs := make([]error, 0, len(s.Failed))
	for _, f := range s.Failed {
		err := f.err
		if err == nil {
			err = errors.New(f.Error)
		}
		errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
	}
	return errors.Join(errs...)
}

// FailedPartitions counts failed partitions across succeeded datasets.
func (s *Summary) FailedPartitions() int {
	n := 0
	for _, d := range s.Succeeded {
		n += len(d.FailedPartitions)
	}
	return n
}

func (s *Summary) status() core.RunStatus {
	switch {
	case len(s.Failed) == 0 && s.FailedPartitions() == 0:
		return core.RunStatusCompleted
	case len(s.Succeeded) == 0:
		return core.RunStatusFailed
	default:
		return core.RunStatusPartial
	}
}
