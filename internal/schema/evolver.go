package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/crmsync/internal/catalog"
	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/logging"
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/normalize"
	"github.com/dmitrijs2005/crmsync/internal/remote"
	"github.com/dmitrijs2005/crmsync/internal/repositories/repomanager"
)

// Source tells where a remote field list came from.
type Source string

const (
	SourceIntrospection Source = "introspection"
	SourceSampling      Source = "sampling"
	SourceBaseline      Source = "baseline"
	SourceCache         Source = "cache"
	SourceNone          Source = "none"
)

const DefaultSampleSize = 50

// TypeChange is a column whose live type differs from the mapped coarse type.
// It is reported only; columns are never altered.
type TypeChange struct {
	Field    string            `json:"field"`
	LiveType string            `json:"live_type"`
	Wanted   models.CoarseType `json:"wanted"`
}

type Comparison struct {
	ObjectType string
	Table      string
	ToAdd      []models.FieldDefinition
	ToUpdate   []TypeChange
	// ToRemove lists local-only, non-reserved columns. Report only.
	ToRemove   []string
	IsUpToDate bool
}

type ApplyResult struct {
	Added []string
	// Existing were already present when the add ran (a concurrent add).
	Existing []string
	// Failed maps a field to its error text. Failures are not fatal.
	Failed map[string]string
}

// EvolveResult is the outcome of CompareAndEvolve.
type EvolveResult struct {
	ObjectType              string            `json:"object_type"`
	Table                   string            `json:"table"`
	Source                  Source            `json:"source"`
	FieldsAdded             []string          `json:"fields_added"`
	FieldsUpdated           []string          `json:"fields_updated"`
	FieldsRemovedReportOnly []string          `json:"fields_removed_report_only"`
	FieldsFailed            map[string]string `json:"fields_failed,omitempty"`
}

// Evolver compares remote and local field sets and additively migrates the
// local table.
type Evolver struct {
	db         *sql.DB
	repos      repomanager.RepositoryManager
	remote     remote.Client
	catalog    *catalog.Catalog
	normalizer *normalize.Normalizer
	logger     logging.Logger
	now        func() time.Time
	sampleSize int
}

func NewEvolver(db *sql.DB, repos repomanager.RepositoryManager, rc remote.Client, cat *catalog.Catalog,
	n *normalize.Normalizer, logger logging.Logger) *Evolver {
	return &Evolver{
		db:         db,
		repos:      repos,
		remote:     rc,
		catalog:    cat,
		normalizer: n,
		logger:     logger.With("module", "schema"),
		now:        time.Now,
		sampleSize: DefaultSampleSize,
	}
}

// SetSampleSize changes how many records are sampled when introspection fails.
func (e *Evolver) SetSampleSize(n int) {
	if n > 0 {
		e.sampleSize = n
	}
}

// FetchRemoteFields prefers introspection and falls back to sampling the most
// recently modified records. SourceNone with no error means the remote holds
// no records to sample.
func (e *Evolver) FetchRemoteFields(ctx context.Context, objectType string) ([]models.FieldDefinition, Source, error) {
	fields, err := e.remote.DescribeSchema(ctx, objectType)
	if err == nil && len(fields) > 0 {
		return fields, SourceIntrospection, nil
	}
	if err != nil && !errors.Is(err, common.ErrSchemaUnsupported) {
		e.logger.Warn(ctx, "schema introspection failed, sampling", "object_type", objectType, "error", err)
	}

	page, err := e.remote.QueryPage(ctx, objectType, nil,
		remote.OrderBy{Field: common.FieldLastModifiedTime, Ascending: false}, 0, e.sampleSize)
	if err != nil {
		return nil, SourceNone, fmt.Errorf("failed to sample %s: %w", objectType, err)
	}
	if len(page.Records) == 0 {
		return nil, SourceNone, nil
	}
	return InferFields(objectType, page.Records, e.normalizer), SourceSampling, nil
}

func (e *Evolver) FetchLocalFields(ctx context.Context, table string) ([]dbx.Column, error) {
	return e.repos.Records(e.db).Columns(ctx, table)
}

// Compare diffs remote against local fields by name.
func (e *Evolver) Compare(ctx context.Context, objectType, table string) (*Comparison, Source, error) {
	fields, source, err := e.FetchRemoteFields(ctx, objectType)
	if err != nil {
		return nil, source, err
	}
	cmp, err := e.compareWith(ctx, objectType, table, fields)
	return cmp, source, err
}

func (e *Evolver) compareWith(ctx context.Context, objectType, table string, fields []models.FieldDefinition) (*Comparison, error) {
	recs := e.repos.Records(e.db)
	live, err := recs.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	liveByName := make(map[string]string, len(live))
	for _, c := range live {
		liveByName[c.Name] = c.Type
	}

	expected, order := expectedColumns(fields)
	cmp := &Comparison{ObjectType: objectType, Table: table}
	for _, name := range order {
		f := expected[name]
		liveType, ok := liveByName[name]
		if !ok {
			cmp.ToAdd = append(cmp.ToAdd, f)
			continue
		}
		if name != common.FieldID && !recs.TypeMatches(liveType, f.CoarseType) {
			cmp.ToUpdate = append(cmp.ToUpdate, TypeChange{Field: name, LiveType: liveType, Wanted: f.CoarseType})
		}
	}
	for _, c := range live {
		if c.Name == common.FieldID || common.IsBookkeepingColumn(c.Name) {
			continue
		}
		if _, ok := expected[c.Name]; !ok {
			cmp.ToRemove = append(cmp.ToRemove, c.Name)
		}
	}
	sort.Strings(cmp.ToRemove)
	cmp.IsUpToDate = len(cmp.ToAdd) == 0
	return cmp, nil
}

// Apply adds the missing columns of cmp, relation companions included.
// "Already exists" races count as Existing; other failures are collected.
func (e *Evolver) Apply(ctx context.Context, cmp *Comparison) (*ApplyResult, error) {
	recs := e.repos.Records(e.db)
	if err := recs.EnsureTable(ctx, cmp.Table); err != nil {
		return nil, err
	}

	res := &ApplyResult{Failed: map[string]string{}}
	done := make(map[string]bool)
	var add func(f models.FieldDefinition)
	add = func(f models.FieldDefinition) {
		if done[f.APIName] || f.APIName == common.FieldID {
			return
		}
		done[f.APIName] = true

		added, err := recs.AddColumn(ctx, cmp.Table, f.APIName, f.CoarseType)
		switch {
		case err != nil:
			res.Failed[f.APIName] = err.Error()
			e.logger.Warn(ctx, "failed to add column", "table", cmp.Table, "field", f.APIName, "error", err)
		case added:
			res.Added = append(res.Added, f.APIName)
			e.logger.Info(ctx, "column added", "table", cmp.Table, "field", f.APIName, "type", string(f.CoarseType))
		default:
			res.Existing = append(res.Existing, f.APIName)
		}
		if f.IsRelation() {
			for _, c := range companions(f) {
				add(c)
			}
		}
	}
	for _, f := range cmp.ToAdd {
		add(f)
	}
	return res, nil
}

// CompareAndEvolve is the full pass for one object type: ensure the table,
// diff, add what is missing and log every observation to the field history.
func (e *Evolver) CompareAndEvolve(ctx context.Context, objectType string) (*EvolveResult, error) {
	ot, err := e.catalog.Lookup(objectType)
	if err != nil {
		return nil, err
	}
	if err := e.repos.Records(e.db).EnsureTable(ctx, ot.Table); err != nil {
		return nil, err
	}

	cmp, source, err := e.Compare(ctx, objectType, ot.Table)
	if err != nil {
		return nil, err
	}
	applied, err := e.Apply(ctx, cmp)
	if err != nil {
		return nil, err
	}

	result := &EvolveResult{
		ObjectType:              objectType,
		Table:                   ot.Table,
		Source:                  source,
		FieldsAdded:             applied.Added,
		FieldsRemovedReportOnly: cmp.ToRemove,
	}
	for _, u := range cmp.ToUpdate {
		result.FieldsUpdated = append(result.FieldsUpdated, u.Field)
	}
	if len(applied.Failed) > 0 {
		result.FieldsFailed = applied.Failed
	}

	changes := e.historyFor(ot, cmp, applied)
	for _, f := range cmp.ToRemove {
		changes = append(changes, e.change(ot, f, models.FieldExtra, "", "local-only column"))
	}
	if err := e.recordHistory(ctx, changes); err != nil {
		return nil, err
	}

	e.logger.Info(ctx, "schema evolved", "object_type", objectType, "source", string(source),
		"added", len(result.FieldsAdded), "type_changed", len(result.FieldsUpdated),
		"local_only", len(result.FieldsRemovedReportOnly), "failed", len(applied.Failed))
	return result, nil
}

// EvolveForRecord adds columns for the fields of one record that the table
// lacks, typing them from the record's own values. It backs the on-the-fly
// recovery from schema drift during a sync run.
func (e *Evolver) EvolveForRecord(ctx context.Context, objectType, table string, rec *models.Record) ([]string, error) {
	ot, err := e.catalog.Lookup(objectType)
	if err != nil {
		return nil, err
	}
	cmp, err := e.compareWith(ctx, objectType, table, InferFields(objectType, []*models.Record{rec}, e.normalizer))
	if err != nil {
		return nil, err
	}
	cmp.ToUpdate, cmp.ToRemove = nil, nil
	if cmp.IsUpToDate {
		return nil, nil
	}
	applied, err := e.Apply(ctx, cmp)
	if err != nil {
		return nil, err
	}
	if err := e.recordHistory(ctx, e.historyFor(ot, cmp, applied)); err != nil {
		return nil, err
	}
	if len(applied.Failed) > 0 && len(applied.Added) == 0 && len(applied.Existing) == 0 {
		return nil, fmt.Errorf("failed to evolve %s for record %s: %v", table, rec.ID(), applied.Failed)
	}
	return applied.Added, nil
}

func (e *Evolver) historyFor(ot catalog.ObjectType, cmp *Comparison, applied *ApplyResult) []models.FieldChange {
	types := make(map[string]models.CoarseType, len(cmp.ToAdd))
	for _, f := range cmp.ToAdd {
		types[f.APIName] = f.CoarseType
	}
	var changes []models.FieldChange
	for _, f := range applied.Added {
		changes = append(changes, e.change(ot, f, models.FieldAdded, types[f], ""))
	}
	for _, f := range sortedKeys(applied.Failed) {
		changes = append(changes, e.change(ot, f, models.FieldAddFailed, types[f], applied.Failed[f]))
	}
	for _, u := range cmp.ToUpdate {
		changes = append(changes, e.change(ot, u.Field, models.FieldTypeChanged, u.Wanted, "live type "+u.LiveType))
	}
	return changes
}

func (e *Evolver) change(ot catalog.ObjectType, field string, kind models.FieldChangeKind, t models.CoarseType, detail string) models.FieldChange {
	return models.FieldChange{
		ObjectType: ot.APIName,
		Table:      ot.Table,
		Field:      field,
		Change:     kind,
		CoarseType: t,
		Detail:     detail,
		ObservedAt: e.now().UnixMilli(),
	}
}

func (e *Evolver) recordHistory(ctx context.Context, changes []models.FieldChange) error {
	if len(changes) == 0 {
		return nil
	}
	return e.repos.FieldHistory(e.db).Append(ctx, changes)
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
