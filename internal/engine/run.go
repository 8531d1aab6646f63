package engine

// run.go - shared run lifecycle for every flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/importer"
	"github.com/leapstack-labs/statlake/internal/lineage"
	"github.com/leapstack-labs/statlake/internal/lock"
	"github.com/leapstack-labs/statlake/internal/promote"
	"github.com/leapstack-labs/statlake/pkg/core"
)

// UnknownDatasetError is returned when an allow-list names datasets the
// catalog does not define.
type UnknownDatasetError struct {
	Names     []string
	Available []string
}

func (e *UnknownDatasetError) Error() string {
	return fmt.Sprintf("unknown dataset(s) %s (available: %s)",
		strings.Join(e.Names, ", "), strings.Join(e.Available, ", "))
}

// jobEnv is what a job sees of its run.
type jobEnv struct {
	runID   string
	started time.Time
	fetcher importer.Fetcher
}

// jobResult is the outcome of one successful dataset job.
type jobResult struct {
	// rows is recorded as rows_last_batch.
	rows     int
	stats    map[string]core.PartitionStats
	failures []promote.PartitionFailure
}

// promoted returns the published partition keys, sorted.
func (r *jobResult) promoted() []string {
	keys := make([]string, 0, len(r.stats))
	for k := range r.stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *jobResult) failedPartitions() []string {
	out := make([]string, 0, len(r.failures))
	for _, f := range r.failures {
		out = append(out, f.Partition.Key())
	}
	return out
}

type jobFunc func(ctx context.Context, env jobEnv, spec catalog.DatasetSpec) (*jobResult, error)

// runPlan describes one run.
type runPlan struct {
	flow       core.Flow
	datasets   []string
	maxWorkers int
	// fetch builds fetchers for the selected datasets before the lock is taken.
	fetch bool
	job   jobFunc
	// after runs once the ledger is saved. Its error is logged, never fatal.
	after func(ctx context.Context, s *Summary) error
}

type outcome struct {
	res *jobResult
	err error
	dur time.Duration
}

// selectDatasets resolves an allow-list against the catalog.
func (e *Engine) selectDatasets(allow []string) ([]catalog.DatasetSpec, error) {
	selected, unknown := e.catalog.Select(allow)
	if len(unknown) > 0 {
		return nil, &UnknownDatasetError{Names: unknown, Available: e.catalog.Names()}
	}
	return selected, nil
}

// execute runs plan end to end. Configuration and lock errors are returned
// before any data is touched; dataset failures are reported in the summary.
func (e *Engine) execute(ctx context.Context, plan runPlan) (*Summary, error) {
	specs, err := e.selectDatasets(plan.datasets)
	if err != nil {
		return nil, err
	}

	fetchers := make([]importer.Fetcher, len(specs))
	if plan.fetch {
		for i, spec := range specs {
			f, err := e.fetchers(spec)
			if err != nil {
				return nil, fmt.Errorf("dataset %s: %w", spec.Name, err)
			}
			fetchers[i] = f
		}
	}

	l, err := lock.Acquire(ctx, e.lockPath, e.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := l.Release(); err != nil {
			e.logger.Warn("failed to release lock", "path", e.lockPath, "error", err)
		}
	}()

	summary := &Summary{Flow: plan.flow, StartedAt: e.now().UTC()}
	summary.RunID = e.startRun(plan.flow)
	logger := e.logger.With("run_id", summary.RunID, "flow", plan.flow)

	// The ledger is read before any job runs so a corrupt file aborts early.
	manifest, err := lineage.Load(e.lineagePath)
	if err != nil {
		e.finishRun(summary.RunID, core.RunStatusFailed, err.Error())
		return nil, err
	}

	events, err := openEventLog(e.logsDir, summary.RunID)
	if err != nil {
		logger.Warn("event log disabled", "error", err)
		events, _ = openEventLog("", summary.RunID)
	}
	defer func() { _ = events.Close() }()

	workers := plan.maxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}
	logger.Info("starting run", "datasets", len(specs), "max_workers", workers)

	outcomes := make([]outcome, len(specs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, spec := range specs {
		events.emit("submit", "dataset", spec.Name)
		env := jobEnv{runID: summary.RunID, started: summary.StartedAt, fetcher: fetchers[i]}
		g.Go(func() error {
			start := time.Now()
			res, err := runJob(ctx, plan.job, env, spec)
			outcomes[i] = outcome{res: res, err: err, dur: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	for i, spec := range specs {
		out := outcomes[i]
		if out.err == nil && len(out.res.stats) == 0 && len(out.res.failures) > 0 {
			out.err = out.res.err()
		}
		if out.err != nil {
			logger.Error("dataset failed", "dataset", spec.Name, "error", out.err)
			events.emit("failed", "dataset", spec.Name, "error", out.err.Error())
			summary.Failed = append(summary.Failed, FailedDataset{Name: spec.Name, Error: out.err.Error(), err: out.err})
			manifest = lineage.RecordFailure(manifest, spec.Name, summary.StartedAt)
			e.recordDataset(summary.RunID, spec.Name, out, logger)
			e.metrics.DatasetJob(string(plan.flow), spec.Name, false, 0, 0, 0, out.dur)
			continue
		}

		res := out.res
		for _, f := range res.failures {
			logger.Error("partition failed", "dataset", spec.Name, "partition", f.Partition.Key(), "error", f.Err)
			events.emit("partition_failed", "dataset", spec.Name, "partition", f.Partition.Key(), "error", f.Err.Error())
		}
		promoted := res.promoted()
		manifest = lineage.UpdateDataset(manifest, spec.Name, summary.StartedAt, res.rows, promoted, res.stats)
		summary.Succeeded = append(summary.Succeeded, DatasetSummary{
			Name:             spec.Name,
			Rows:             res.rows,
			Partitions:       promoted,
			FailedPartitions: res.failedPartitions(),
			Duration:         out.dur,
		})
		events.emit("completed", "dataset", spec.Name, "rows", res.rows, "partitions", len(promoted))
		e.recordDataset(summary.RunID, spec.Name, out, logger)
		e.metrics.DatasetJob(string(plan.flow), spec.Name, true, int64(res.rows), len(promoted), len(res.failures), out.dur)
	}

	if err := lineage.Save(e.lineagePath, manifest); err != nil {
		e.finishRun(summary.RunID, core.RunStatusFailed, err.Error())
		return nil, fmt.Errorf("failed to persist lineage: %w", err)
	}

	if plan.after != nil && len(summary.Succeeded) > 0 {
		if err := plan.after(ctx, summary); err != nil {
			logger.Warn("post-run step failed", "error", err)
		}
	}

	summary.FinishedAt = e.now().UTC()
	summary.Status = summary.status()
	if ctx.Err() != nil {
		summary.Status = core.RunStatusCancelled
	}
	errMsg := ""
	if err := summary.Err(); err != nil {
		errMsg = err.Error()
	}
	e.finishRun(summary.RunID, summary.Status, errMsg)

	e.metrics.RunFinished(summary.FinishedAt)
	if err := e.metrics.WriteTextfile(e.metricsPath); err != nil {
		logger.Warn("failed to write metrics", "path", e.metricsPath, "error", err)
	}

	succeeded := make([]string, 0, len(summary.Succeeded))
	for _, d := range summary.Succeeded {
		succeeded = append(succeeded, d.Name)
	}
	failed := make([]string, 0, len(summary.Failed))
	for _, d := range summary.Failed {
		failed = append(failed, d.Name)
	}
	events.emit("summary", "status", summary.Status, "succeeded", succeeded, "failed", failed)
	logger.Info("run finished", "status", summary.Status,
		"succeeded", len(summary.Succeeded), "failed", len(summary.Failed),
		"duration", summary.FinishedAt.Sub(summary.StartedAt))
	return summary, nil
}

// runJob calls job, converting a panic into an error.
func runJob(ctx context.Context, job jobFunc, env jobEnv, spec catalog.DatasetSpec) (res *jobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("panic in %s job: %v\n%s", spec.Name, r, debug.Stack())
		}
	}()
	res, err = job(ctx, env, spec)
	if err == nil && res == nil {
		res = &jobResult{}
	}
	return res, err
}

func (r *jobResult) err() error {
	errs := make([]error, 0, len(r.failures))
	for _, f := range r.failures {
		errs = append(errs, fmt.Errorf("partition %s: %w", f.Partition.Key(), f.Err))
	}
	return errors.Join(errs...)
}

// startRun opens a journal entry, falling back to a fresh id when the
// journal is absent or unavailable.
func (e *Engine) startRun(flow core.Flow) string {
	if e.journal != nil {
		run, err := e.journal.CreateRun(flow)
		if err == nil {
			return run.ID
		}
		e.logger.Warn("failed to journal run", "flow", flow, "error", err)
	}
	return uuid.NewString()
}

func (e *Engine) finishRun(runID string, status core.RunStatus, errMsg string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.CompleteRun(runID, status, errMsg); err != nil {
		e.logger.Warn("failed to complete journal run", "run_id", runID, "error", err)
	}
}

func (e *Engine) recordDataset(runID, dataset string, out outcome, logger *slog.Logger) {
	if e.journal == nil {
		return
	}
	dr := &core.DatasetRun{
		RunID:      runID,
		Dataset:    dataset,
		Status:     core.DatasetRunStatusSuccess,
		DurationMS: out.dur.Milliseconds(),
	}
	if out.err != nil {
		dr.Status = core.DatasetRunStatusFailed
		dr.Error = out.err.Error()
	} else {
		dr.Rows = int64(out.res.rows)
		dr.Partitions = len(out.res.stats)
		dr.FailedPartitions = len(out.res.failures)
		if err := out.res.err(); err != nil {
			dr.Error = err.Error()
		}
	}
	if err := e.journal.RecordDatasetRun(dr); err != nil {
		logger.Warn("failed to journal dataset run", "dataset", dataset, "error", err)
	}
}
