// Package syncengine pulls new and changed remote records for one object type
// and converges the local table within a wall-clock budget per run.
//
// A run moves through INIT (mode, filters, start offset), FETCH_BATCH,
// PROCESS_BATCH, CHECKPOINT_CHECK and ends in COMPLETE or FAILURE. Per-record
// failures are counted; only failures to fetch a page or to write the run log
// abort the run.
package syncengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/crmsync/internal/catalog"
	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/logging"
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/normalize"
	"github.com/dmitrijs2005/crmsync/internal/remote"
	"github.com/dmitrijs2005/crmsync/internal/repositories/repomanager"
	"github.com/dmitrijs2005/crmsync/internal/schema"
	"github.com/google/uuid"
)

const (
	DefaultPageSize   = 200
	DefaultTimeBudget = 50 * time.Second
)

// Validator is the pre-flight table check run at the start of every run.
type Validator interface {
	Validate(ctx context.Context, objectType string) (*schema.ValidationReport, error)
}

// DriftResolver adds the columns a record needs when its upsert hits an
// unknown column.
type DriftResolver interface {
	EvolveForRecord(ctx context.Context, objectType, table string, rec *models.Record) ([]string, error)
}

// Reporter receives every finished run log. Failures are logged, not returned.
type Reporter interface {
	Report(ctx context.Context, log *models.SyncLog) error
}

type Options struct {
	PageSize   int
	TimeBudget time.Duration
	// MaxBatches caps batches per run; zero means no cap.
	MaxBatches int
}

type FullOptions struct {
	// Resume continues from the stored checkpoint, if any.
	Resume bool
}

// Result is returned by every run, including partially failed ones.
type Result struct {
	SyncID         string `json:"sync_id"`
	SuccessCount   int    `json:"success_count"`
	ErrorCount     int    `json:"error_count"`
	TotalProcessed int    `json:"total_processed"`
	Batches        int    `json:"batches"`
	IsCompleted    bool   `json:"is_completed"`
	NextOffset     int    `json:"next_offset"`
}

type Engine struct {
	db         *sql.DB
	repos      repomanager.RepositoryManager
	remote     remote.Client
	catalog    *catalog.Catalog
	normalizer *normalize.Normalizer
	validator  Validator
	drift      DriftResolver
	reporter   Reporter
	logger     logging.Logger
	opts       Options
	now        func() time.Time
}

func NewEngine(db *sql.DB, repos repomanager.RepositoryManager, rc remote.Client, cat *catalog.Catalog,
	n *normalize.Normalizer, validator Validator, drift DriftResolver, logger logging.Logger, opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.TimeBudget <= 0 {
		opts.TimeBudget = DefaultTimeBudget
	}
	return &Engine{
		db:         db,
		repos:      repos,
		remote:     rc,
		catalog:    cat,
		normalizer: n,
		validator:  validator,
		drift:      drift,
		logger:     logger.With("module", "syncengine"),
		opts:       opts,
		now:        time.Now,
	}
}

// SetReporter installs an optional sink for finished run logs.
func (e *Engine) SetReporter(r Reporter) { e.reporter = r }

// SetClock replaces the wall clock used for budgets and timestamps.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// RunIncremental fetches records modified at or after the watermark, starting
// at offset 0. Checkpoints are neither read nor written.
func (e *Engine) RunIncremental(ctx context.Context, objectType string) (*Result, error) {
	return e.run(ctx, objectType, models.ModeIncremental, false)
}

// RunFull ignores the watermark and, with Resume, continues from the stored
// checkpoint. A checkpoint is saved after every batch while work remains and
// removed once the backlog is drained.
func (e *Engine) RunFull(ctx context.Context, objectType string, opts FullOptions) (*Result, error) {
	return e.run(ctx, objectType, models.ModeFull, opts.Resume)
}

// DemoteStale marks runs left IN_PROGRESS for longer than maxAge as FAILED.
func (e *Engine) DemoteStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	now := e.now()
	n, err := e.repos.SyncLogs(e.db).DemoteStale(ctx, now.Add(-maxAge).UnixMilli(), now.UnixMilli(),
		fmt.Sprintf("abandoned: still in progress after %s", maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Warn(ctx, "demoted stale sync logs", "count", n)
	}
	return n, nil
}

type run struct {
	ot         catalog.ObjectType
	log        *models.SyncLog
	result     *Result
	started    time.Time
	offset     int
	maxSeen    int64
	upserts    map[string]*normalize.Upsert
	errSamples []string
}

func (e *Engine) run(ctx context.Context, objectType string, mode models.SyncMode, resume bool) (*Result, error) {
	ot, err := e.catalog.Lookup(objectType)
	if err != nil {
		return nil, err
	}

	started := e.now()
	r := &run{
		ot:      ot,
		started: started,
		upserts: make(map[string]*normalize.Upsert),
		log: &models.SyncLog{
			SyncID:     uuid.NewString(),
			ObjectType: objectType,
			Mode:       mode,
			Status:     models.SyncInProgress,
			StartedAt:  started.UnixMilli(),
		},
	}
	r.result = &Result{SyncID: r.log.SyncID}

	logs := e.repos.SyncLogs(e.db)
	if err := logs.Create(ctx, r.log); err != nil {
		return nil, err
	}
	logger := e.logger.With("object_type", objectType, "mode", string(mode), "sync_id", r.log.SyncID)

	// INIT
	if _, err := e.validator.Validate(ctx, objectType); err != nil {
		return r.result, e.fail(ctx, r, "validate", err)
	}
	filters, order, err := e.plan(ctx, r, mode, resume)
	if err != nil {
		return r.result, e.fail(ctx, r, "init", err)
	}
	logger.Info(ctx, "sync started", "offset", r.offset, "filters", len(filters))

	drained := false
	for {
		// FETCH_BATCH
		page, err := e.remote.QueryPage(ctx, objectType, filters, order, r.offset, e.opts.PageSize)
		if err != nil {
			return r.result, e.fail(ctx, r, fmt.Sprintf("fetch offset %d", r.offset), err)
		}

		// PROCESS_BATCH
		e.processBatch(ctx, r, page.Records)
		r.offset += len(page.Records)
		r.result.Batches++
		drained = len(page.Records) < e.opts.PageSize
		logger.Debug(ctx, "batch processed", "batch", r.result.Batches, "records", len(page.Records),
			"next_offset", r.offset, "total", page.Total)

		// CHECKPOINT_CHECK
		if mode == models.ModeFull {
			if err := e.checkpoint(ctx, r, drained); err != nil {
				return r.result, e.fail(ctx, r, "checkpoint", err)
			}
		}
		if drained {
			break
		}
		if e.now().Sub(started) >= e.opts.TimeBudget {
			logger.Info(ctx, "time budget exhausted", "elapsed", e.now().Sub(started).String())
			break
		}
		if e.opts.MaxBatches > 0 && r.result.Batches >= e.opts.MaxBatches {
			logger.Info(ctx, "batch cap reached", "batches", r.result.Batches)
			break
		}
	}

	// COMPLETE
	r.result.IsCompleted = drained
	if !drained {
		r.result.NextOffset = r.offset
	}
	completed := e.now().UnixMilli()
	r.log.Status = models.SyncCompleted
	r.log.CompletedAt = completed
	r.log.BacklogDrained = drained
	r.log.RecordsCount = r.result.SuccessCount
	r.log.ErrorCount = r.result.ErrorCount
	r.log.Details = e.details(r)
	switch {
	case drained:
		r.log.Watermark = completed
	case mode == models.ModeIncremental:
		r.log.Watermark = r.maxSeen
	}
	if err := logs.Finish(ctx, r.log); err != nil {
		return r.result, fmt.Errorf("failed to complete sync log: %w", err)
	}
	e.report(ctx, r.log)

	logger.Info(ctx, "sync completed", "success", r.result.SuccessCount, "errors", r.result.ErrorCount,
		"batches", r.result.Batches, "drained", drained)
	return r.result, nil
}

// plan resolves filters, ordering and the starting offset.
func (e *Engine) plan(ctx context.Context, r *run, mode models.SyncMode, resume bool) ([]remote.Filter, remote.OrderBy, error) {
	var filters []remote.Filter
	if mode == models.ModeFull {
		if resume {
			cp, err := e.repos.Checkpoints(e.db).Get(ctx, r.ot.APIName)
			if err != nil {
				return nil, remote.OrderBy{}, err
			}
			if cp != nil {
				r.offset = cp.Offset
			}
		}
		return filters, remote.OrderBy{Field: common.FieldID, Ascending: true}, nil
	}

	wm, ok, err := e.repos.SyncLogs(e.db).Watermark(ctx, r.ot.APIName)
	if err != nil {
		return nil, remote.OrderBy{}, err
	}
	if ok {
		filters = append(filters, remote.Filter{Field: common.FieldLastModifiedTime, Op: remote.OpGTE, Value: wm})
	}
	if !r.ot.IncludeDeleted {
		filters = append(filters, remote.Filter{Field: common.FieldIsDeleted, Op: remote.OpNEQ, Value: true})
	}
	return filters, remote.OrderBy{Field: common.FieldLastModifiedTime, Ascending: true}, nil
}

func (e *Engine) checkpoint(ctx context.Context, r *run, drained bool) error {
	cps := e.repos.Checkpoints(e.db)
	if drained {
		return cps.Delete(ctx, r.ot.APIName)
	}
	return cps.Save(ctx, &models.SyncCheckpoint{
		ObjectType: r.ot.APIName,
		Offset:     r.offset,
		UpdatedAt:  e.now().UnixMilli(),
	})
}

func (e *Engine) processBatch(ctx context.Context, r *run, records []*models.Record) {
	order := normalize.ExtractFields(records)
	for _, rec := range records {
		err := e.processRecord(ctx, r, order, rec)
		r.result.TotalProcessed++
		if err != nil {
			r.result.ErrorCount++
			if len(r.errSamples) < 5 {
				r.errSamples = append(r.errSamples, fmt.Sprintf("%s: %v", rec.ID(), err))
			}
			e.logger.Warn(ctx, "record failed", "object_type", r.ot.APIName, "id", rec.ID(), "error", err)
			continue
		}
		r.result.SuccessCount++
		if m := rec.ModifiedTime(); m > r.maxSeen {
			r.maxSeen = m
		}
	}
}

// processRecord normalizes and upserts one record. A missing column triggers
// one evolution attempt and one retry.
func (e *Engine) processRecord(ctx context.Context, r *run, order []string, rec *models.Record) error {
	id := rec.ID()
	if id == "" {
		return common.NewValidationError(common.FieldID, "record has no id")
	}
	row := e.normalizer.Row(r.ot.APIName, rec)
	row[common.FieldID] = id

	up, err := r.upsert(e, normalize.Subset(order, row))
	if err != nil {
		return err
	}
	recs := e.repos.Records(e.db)
	now := e.now().UnixMilli()

	err = recs.Upsert(ctx, up, row, now)
	var drift *common.SchemaDriftError
	if errors.As(err, &drift) && e.drift != nil {
		added, derr := e.drift.EvolveForRecord(ctx, r.ot.APIName, r.ot.Table, rec)
		if derr != nil {
			return fmt.Errorf("%w (evolution failed: %v)", err, derr)
		}
		e.logger.Info(ctx, "schema drift resolved", "object_type", r.ot.APIName, "id", id, "added", added)
		err = recs.Upsert(ctx, up, row, now)
	}
	return err
}

func (r *run) upsert(e *Engine, fields []string) (*normalize.Upsert, error) {
	key := strings.Join(fields, ",")
	if up, ok := r.upserts[key]; ok {
		return up, nil
	}
	up, err := normalize.BuildUpsert(e.repos.Dialect(), r.ot.Table, fields)
	if err != nil {
		return nil, err
	}
	r.upserts[key] = up
	return up, nil
}

func (e *Engine) details(r *run) string {
	d := fmt.Sprintf("processed=%d success=%d errors=%d batches=%d next_offset=%d",
		r.result.TotalProcessed, r.result.SuccessCount, r.result.ErrorCount, r.result.Batches, r.offset)
	if len(r.errSamples) > 0 {
		d += "; errors: " + strings.Join(r.errSamples, "; ")
	}
	return d
}

// fail marks the run FAILED with full diagnostics and returns the cause.
func (e *Engine) fail(ctx context.Context, r *run, stage string, cause error) error {
	r.log.Status = models.SyncFailed
	r.log.CompletedAt = e.now().UnixMilli()
	r.log.RecordsCount = r.result.SuccessCount
	r.log.ErrorCount = r.result.ErrorCount
	r.log.Details = fmt.Sprintf("failed at %s: %v; %s", stage, cause, e.details(r))

	err := fmt.Errorf("sync %s failed at %s: %w", r.ot.APIName, stage, cause)
	if ferr := e.repos.SyncLogs(e.db).Finish(ctx, r.log); ferr != nil {
		err = errors.Join(err, fmt.Errorf("failed to mark sync log failed: %w", ferr))
	}
	e.logger.Error(ctx, "sync failed", "object_type", r.ot.APIName, "sync_id", r.log.SyncID,
		"stage", stage, "error", cause)
	e.report(ctx, r.log)
	return err
}

func (e *Engine) report(ctx context.Context, log *models.SyncLog) {
	if e.reporter == nil {
		return
	}
	if err := e.reporter.Report(ctx, log); err != nil {
		e.logger.Warn(ctx, "failed to archive sync report", "sync_id", log.SyncID, "error", err)
	}
}
