package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/importer"
	"github.com/leapstack-labs/statlake/internal/partition"
	"github.com/leapstack-labs/statlake/internal/promote"
	"github.com/leapstack-labs/statlake/internal/tableio"
	"github.com/leapstack-labs/statlake/pkg/core"
)

// BootstrapRequest loads a historical range.
type BootstrapRequest struct {
	// Years is a range ("1999-2024") or list ("2019,2020"). Empty uses each
	// dataset's catalog years.
	Years          string
	Datasets       []string
	MaxWorkers     int
	SkipValidation bool
}

// UpdateRequest refreshes one season.
type UpdateRequest struct {
	// Season defaults to the current season when zero.
	Season         int
	Datasets       []string
	MaxWorkers     int
	SkipValidation bool
	// Since limits fetched rows for importers with a since column.
	Since *time.Time
}

// PromoteRequest re-promotes raw partitions already on disk.
type PromoteRequest struct {
	Datasets        []string
	PartitionValues partition.Filter
	MaxWorkers      int
	SkipValidation  bool
}

// RecacheRequest re-fetches and re-promotes one season of one dataset.
type RecacheRequest struct {
	Dataset        string
	Season         int
	SkipValidation bool
}

// CurrentSeason returns the season in progress at t. A season starts in
// September and runs into the following calendar year.
func CurrentSeason(t time.Time) int {
	if t.Month() >= time.September {
		return t.Year()
	}
	return t.Year() - 1
}

// Bootstrap fetches, stores and promotes a range of seasons.
func (e *Engine) Bootstrap(ctx context.Context, req BootstrapRequest) (*Summary, error) {
	var years []int
	if req.Years != "" {
		y, err := importer.ParseYears(req.Years)
		if err != nil {
			return nil, err
		}
		years = y
	}

	return e.execute(ctx, runPlan{
		flow:       core.FlowBootstrap,
		datasets:   req.Datasets,
		maxWorkers: req.MaxWorkers,
		fetch:      true,
		job: e.ingestJob(func(spec catalog.DatasetSpec) (importer.Request, error) {
			if years != nil || spec.Years == "" {
				return importer.Request{Seasons: years}, nil
			}
			y, err := importer.ParseYears(spec.Years)
			if err != nil {
				return importer.Request{}, fmt.Errorf("invalid years for %s: %w", spec.Name, err)
			}
			return importer.Request{Seasons: y}, nil
		}, partition.Filter{}, !req.SkipValidation),
	})
}

// Update ingests one season and refreshes downstream tables afterwards.
func (e *Engine) Update(ctx context.Context, req UpdateRequest) (*Summary, error) {
	season := req.Season
	if season == 0 {
		season = CurrentSeason(e.now())
	}
	r := importer.Request{Seasons: []int{season}, Since: req.Since}

	return e.execute(ctx, runPlan{
		flow:       core.FlowUpdate,
		datasets:   req.Datasets,
		maxWorkers: req.MaxWorkers,
		fetch:      true,
		job: e.ingestJob(func(catalog.DatasetSpec) (importer.Request, error) {
			return r, nil
		}, partition.Filter{}, !req.SkipValidation),
		after: func(ctx context.Context, _ *Summary) error {
			if e.materializer == nil {
				return nil
			}
			return e.materializer.Materialize(ctx, season)
		},
	})
}

// PromoteOnly promotes raw partitions that are already written, without
// fetching. The ledger's rows_last_batch becomes the promoted row count.
func (e *Engine) PromoteOnly(ctx context.Context, req PromoteRequest) (*Summary, error) {
	opts := promote.Options{Validate: !req.SkipValidation}
	return e.execute(ctx, runPlan{
		flow:       core.FlowPromote,
		datasets:   req.Datasets,
		maxWorkers: req.MaxWorkers,
		job: func(ctx context.Context, _ jobEnv, spec catalog.DatasetSpec) (*jobResult, error) {
			res, err := e.promoteRaw(ctx, spec, req.PartitionValues, opts)
			if err != nil {
				return nil, err
			}
			rows := 0
			for _, st := range res.stats {
				rows += st.RowCount
			}
			res.rows = rows
			return res, nil
		},
	})
}

// RecachePartition re-fetches one season of a dataset and re-promotes every
// raw partition of that season.
func (e *Engine) RecachePartition(ctx context.Context, req RecacheRequest) (*Summary, error) {
	spec, ok := e.catalog.Dataset(req.Dataset)
	if !ok {
		return nil, &UnknownDatasetError{Names: []string{req.Dataset}, Available: e.catalog.Names()}
	}
	if !spec.Enabled {
		return nil, fmt.Errorf("dataset %s is disabled", req.Dataset)
	}
	if req.Season <= 0 {
		return nil, fmt.Errorf("recache requires a season")
	}

	return e.execute(ctx, runPlan{
		flow:       core.FlowRecache,
		datasets:   []string{req.Dataset},
		maxWorkers: 1,
		fetch:      true,
		job: e.ingestJob(func(catalog.DatasetSpec) (importer.Request, error) {
			return importer.Request{Seasons: []int{req.Season}}, nil
		}, partition.NewFilter(strconv.Itoa(req.Season)), !req.SkipValidation),
	})
}

// ingestJob builds the fetch, raw write and promote job. With an empty
// filter only the partitions the batch touched are promoted; otherwise
// every raw partition matching filter is.
func (e *Engine) ingestJob(request func(catalog.DatasetSpec) (importer.Request, error), filter partition.Filter, validate bool) jobFunc {
	return func(ctx context.Context, env jobEnv, spec catalog.DatasetSpec) (*jobResult, error) {
		req, err := request(spec)
		if err != nil {
			return nil, err
		}
		batch, err := env.fetcher.Fetch(ctx, spec, req)
		if err != nil {
			return nil, err
		}

		raw, err := e.promoter.WriteRaw(ctx, spec, batch, promote.Stamp{
			Source:          spec.Importer,
			PipelineVersion: e.pipelineVersion,
			RunID:           env.runID,
			IngestedAt:      env.started,
		})
		if err != nil {
			return nil, err
		}

		opts := promote.Options{Validate: validate}
		if !filter.Empty() {
			res, err := e.promoteRaw(ctx, spec, filter, opts)
			if err != nil {
				return nil, err
			}
			res.rows = raw.Rows
			return res, nil
		}
		if raw.Rows == 0 {
			e.logger.Info("empty batch", "dataset", spec.Name, "run_id", env.runID)
			return &jobResult{}, nil
		}
		res := e.promoter.Promote(ctx, spec, raw.Partitions, opts)
		return &jobResult{rows: raw.Rows, stats: res.Stats, failures: res.Failures}, nil
	}
}

// promoteRaw promotes every raw partition of spec that matches filter.
func (e *Engine) promoteRaw(ctx context.Context, spec catalog.DatasetSpec, filter partition.Filter, opts promote.Options) (*jobResult, error) {
	dir := tableio.DatasetDir(e.catalog.Root, core.LayerRaw, spec.Name)
	parts, err := tableio.ListPartitions(dir, spec.Partitions, filter)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		e.logger.Info("no raw partitions to promote", "dataset", spec.Name)
		return &jobResult{}, nil
	}
	res := e.promoter.Promote(ctx, spec, parts, opts)
	return &jobResult{stats: res.Stats, failures: res.Failures}, nil
}
