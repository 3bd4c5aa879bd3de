package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/crmsync/internal/catalog"
	"github.com/dmitrijs2005/crmsync/internal/logging"
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/repositories/repomanager"
)

const DefaultCacheTTL = 6 * time.Hour

// CacheKey is the bookkeeping-store key of the cached remote field list.
func CacheKey(objectType string) string { return "schema:" + objectType }

type cachedFields struct {
	FetchedAt int64                    `json:"fetched_at"`
	Source    Source                   `json:"source"`
	Fields    []models.FieldDefinition `json:"fields"`
}

// ValidationReport is the outcome of one pre-flight check.
type ValidationReport struct {
	ObjectType string   `json:"object_type"`
	Table      string   `json:"table"`
	Source     Source   `json:"source"`
	Missing    []string `json:"missing"`
	Added      []string `json:"added"`
	Extra      []string `json:"extra"`
	Failed     []string `json:"failed,omitempty"`
}

// Validator is the cheap guard run at the start of every sync: it makes sure
// the table and the known columns exist even if CompareAndEvolve never ran
// for the object type.
type Validator struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	evolver  *Evolver
	catalog  *catalog.Catalog
	logger   logging.Logger
	cacheTTL time.Duration
	now      func() time.Time
}

func NewValidator(db *sql.DB, repos repomanager.RepositoryManager, evolver *Evolver, cat *catalog.Catalog,
	cacheTTL time.Duration, logger logging.Logger) *Validator {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Validator{
		db:       db,
		repos:    repos,
		evolver:  evolver,
		catalog:  cat,
		logger:   logger.With("module", "validator"),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Validate ensures the object type's table holds at least the known fields.
// Field sources in order: cached list, introspection, sampling, baseline.
func (v *Validator) Validate(ctx context.Context, objectType string) (*ValidationReport, error) {
	ot, err := v.catalog.Lookup(objectType)
	if err != nil {
		return nil, err
	}
	if err := v.repos.Records(v.db).EnsureTable(ctx, ot.Table); err != nil {
		return nil, err
	}

	fields, source := v.knownFields(ctx, ot)

	cmp, err := v.evolver.compareWith(ctx, objectType, ot.Table, fields)
	if err != nil {
		return nil, err
	}
	report := &ValidationReport{ObjectType: objectType, Table: ot.Table, Source: source, Extra: cmp.ToRemove}
	for _, f := range cmp.ToAdd {
		report.Missing = append(report.Missing, f.APIName)
	}

	var changes []models.FieldChange
	for _, f := range cmp.ToAdd {
		changes = append(changes, v.evolver.change(ot, f.APIName, models.FieldMissing, f.CoarseType, string(source)))
	}
	if !cmp.IsUpToDate {
		applied, err := v.evolver.Apply(ctx, cmp)
		if err != nil {
			return nil, err
		}
		report.Added = applied.Added
		report.Failed = sortedKeys(applied.Failed)
		cmp.ToUpdate = nil
		changes = append(changes, v.evolver.historyFor(ot, cmp, applied)...)
	}
	for _, f := range cmp.ToRemove {
		changes = append(changes, v.evolver.change(ot, f, models.FieldExtra, "", string(source)))
	}
	if err := v.evolver.recordHistory(ctx, changes); err != nil {
		return nil, err
	}

	if len(report.Missing) > 0 || len(report.Failed) > 0 {
		v.logger.Info(ctx, "table validated", "object_type", objectType, "source", string(source),
			"missing", len(report.Missing), "added", len(report.Added), "failed", len(report.Failed))
	}
	return report, nil
}

// InvalidateCache drops the cached field list so the next run refetches it.
func (v *Validator) InvalidateCache(ctx context.Context, objectType string) error {
	return v.repos.Metadata(v.db).Delete(ctx, CacheKey(objectType))
}

func (v *Validator) knownFields(ctx context.Context, ot catalog.ObjectType) ([]models.FieldDefinition, Source) {
	kv := v.repos.Metadata(v.db)
	now := v.now().UnixMilli()

	if raw, err := kv.Get(ctx, CacheKey(ot.APIName)); err != nil {
		v.logger.Warn(ctx, "failed to read schema cache", "object_type", ot.APIName, "error", err)
	} else if raw != nil {
		var c cachedFields
		if err := json.Unmarshal(raw, &c); err == nil && now-c.FetchedAt < v.cacheTTL.Milliseconds() && len(c.Fields) > 0 {
			return c.Fields, SourceCache
		}
	}

	fields, source, err := v.evolver.FetchRemoteFields(ctx, ot.APIName)
	if err != nil {
		v.logger.Warn(ctx, "remote fields unavailable, using baseline", "object_type", ot.APIName, "error", err)
	}
	if len(fields) == 0 {
		return ot.Baseline, SourceBaseline
	}

	raw, err := json.Marshal(cachedFields{FetchedAt: now, Source: source, Fields: fields})
	if err == nil {
		err = kv.Set(ctx, CacheKey(ot.APIName), raw)
	}
	if err != nil {
		v.logger.Warn(ctx, "failed to cache schema", "object_type", ot.APIName, "error", err)
	}
	return fields, source
}
