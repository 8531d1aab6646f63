package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/leapstack-labs/statlake/pkg/core"
)

// RecordDatasetRun stores the outcome of one dataset job. Recording the same
// dataset twice in a run keeps the latest outcome.
func (s *SQLiteStore) RecordDatasetRun(dr *core.DatasetRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if dr.RecordedAt.IsZero() {
		dr.RecordedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx(), `
		INSERT INTO dataset_runs
			(run_id, dataset, status, rows, partitions, failed_partitions, error, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, dataset) DO UPDATE SET
			status = excluded.status,
			rows = excluded.rows,
			partitions = excluded.partitions,
			failed_partitions = excluded.failed_partitions,
			error = excluded.error,
			duration_ms = excluded.duration_ms,
			recorded_at = excluded.recorded_at`,
		dr.RunID, dr.Dataset, string(dr.Status), dr.Rows, dr.Partitions, dr.FailedPartitions,
		nullString(dr.Error), dr.DurationMS, formatTime(dr.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record dataset run %s/%s: %w", dr.RunID, dr.Dataset, err)
	}
	return nil
}

// GetDatasetRuns returns the dataset jobs of a run ordered by dataset name.
func (s *SQLiteStore) GetDatasetRuns(runID string) ([]*core.DatasetRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx(), `
		SELECT run_id, dataset, status, rows, partitions, failed_partitions, error, duration_ms, recorded_at
		FROM dataset_runs WHERE run_id = ? ORDER BY dataset`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset runs: %w", err)
	}
	defer rows.Close()

	var out []*core.DatasetRun
	for rows.Next() {
		var (
			dr       core.DatasetRun
			status   string
			errMsg   sql.NullString
			recorded string
		)
		if err := rows.Scan(&dr.RunID, &dr.Dataset, &status, &dr.Rows, &dr.Partitions,
			&dr.FailedPartitions, &errMsg, &dr.DurationMS, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan dataset run: %w", err)
		}
		dr.Status = core.DatasetRunStatus(status)
		dr.Error = errMsg.String
		if dr.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		out = append(out, &dr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get dataset runs: %w", err)
	}
	return out, nil
}
