// Package reconcile moves individual field values between the local store
// and the remote according to a per-object-type, per-role direction policy.
// Bidirectional fields are decided per field by last writer wins, so two
// fields of one record may be won by opposite sides in the same pass.
package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dmitrijs2005/crmsync/internal/catalog"
	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/locks"
	"github.com/dmitrijs2005/crmsync/internal/logging"
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/normalize"
	"github.com/dmitrijs2005/crmsync/internal/remote"
	"github.com/dmitrijs2005/crmsync/internal/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	DefaultPageSize = 200

	ResolutionSkippedTie = "skipped_tie"
)

// MarkerKey is the KV key holding the last remote modification time pulled
// by SyncRemoteToLocal.
func MarkerKey(objectType string) string { return "reconcile:r2l:" + objectType }

// LockChecker is the edit gate consulted before local edits are accepted or
// pushed.
type LockChecker interface {
	ValidateEditPermission(ctx context.Context, objectType, recordID, userID string) (*locks.Permission, error)
}

// DriftResolver adds missing columns for a record whose write hit one.
type DriftResolver interface {
	EvolveForRecord(ctx context.Context, objectType, table string, rec *models.Record) ([]string, error)
}

type PushResult struct {
	Rows         int `json:"rows"`
	Pushed       int `json:"pushed"`
	FieldsPushed int `json:"fields_pushed"`
	FieldsPulled int `json:"fields_pulled"`
	Skipped      int `json:"skipped"`
	Conflicts    int `json:"conflicts"`
	Errors       int `json:"errors"`
}

type PullResult struct {
	Fetched      int `json:"fetched"`
	Inserted     int `json:"inserted"`
	Updated      int `json:"updated"`
	FieldsPulled int `json:"fields_pulled"`
	Conflicts    int `json:"conflicts"`
	Errors       int `json:"errors"`
}

// EditResult lists where the fields of an accepted local edit went.
type EditResult struct {
	Pending   []string `json:"pending"`
	LocalOnly []string `json:"local_only,omitempty"`
}

type Reconciler struct {
	db         *sql.DB
	repos      repomanager.RepositoryManager
	remote     remote.Client
	catalog    *catalog.Catalog
	normalizer *normalize.Normalizer
	policies   Policies
	locks      LockChecker
	drift      DriftResolver
	logger     logging.Logger
	pageSize   int
	now        func() time.Time
}

func NewReconciler(db *sql.DB, repos repomanager.RepositoryManager, rc remote.Client, cat *catalog.Catalog,
	n *normalize.Normalizer, policies Policies, lc LockChecker, logger logging.Logger) *Reconciler {
	return &Reconciler{
		db:         db,
		repos:      repos,
		remote:     rc,
		catalog:    cat,
		normalizer: n,
		policies:   policies,
		locks:      lc,
		logger:     logger.With("module", "reconcile"),
		pageSize:   DefaultPageSize,
		now:        time.Now,
	}
}

func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// SetDriftResolver enables column evolution when pulled fields have no
// local column yet.
func (r *Reconciler) SetDriftResolver(d DriftResolver) { r.drift = d }

func (r *Reconciler) SetPageSize(n int) {
	if n > 0 {
		r.pageSize = n
	}
}

// ApplyLocalEdit is the local write path. It checks the edit lock and the
// field policy, writes the values and queues the syncable ones for push.
func (r *Reconciler) ApplyLocalEdit(ctx context.Context, objectType, recordID, userID, role string,
	fields map[string]any) (*EditResult, error) {
	ot, err := r.catalog.Lookup(objectType)
	if err != nil {
		return nil, err
	}
	if recordID == "" || userID == "" {
		return nil, common.NewValidationError("record_id", "record id and user id are required")
	}
	if len(fields) == 0 {
		return nil, common.NewValidationError("fields", "nothing to edit")
	}

	if r.locks != nil {
		perm, err := r.locks.ValidateEditPermission(ctx, objectType, recordID, userID)
		if err != nil {
			return nil, err
		}
		if !perm.Allowed {
			return nil, fmt.Errorf("%w: %s", common.ErrEditNotPermitted, perm.Reason)
		}
	}

	policy := r.policies.For(objectType)
	now := r.now().UnixMilli()
	values := make(map[string]any, len(fields))
	res := &EditResult{}
	var queued []string
	for _, field := range sortedKeys(fields) {
		if field == common.FieldID || common.IsBookkeepingColumn(field) || !dbx.ValidIdent(field) {
			return nil, common.NewValidationError(field, "field cannot be edited")
		}
		v := models.FromAny(fields[field])
		values[field] = normalize.SQLValue(r.normalizer.Value(objectType, field, v))
		switch policy.Direction(field, role) {
		case LocalOnly:
			res.LocalOnly = append(res.LocalOnly, field)
		case LocalToRemote, Bidirectional:
			queued = append(queued, field)
		default:
			return nil, fmt.Errorf("%w: field %s is not editable by role %q", common.ErrEditNotPermitted, field, role)
		}
	}

	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		recs := r.repos.Records(tx)
		row, err := recs.Get(ctx, ot.Table, recordID)
		if err != nil {
			return err
		}
		edits := make(map[string]models.PendingEdit, len(row.Edits)+len(queued))
		for k, e := range row.Edits {
			edits[k] = e
		}
		for _, field := range queued {
			edits[field] = models.PendingEdit{Value: models.FromAny(fields[field]), Time: now, UserID: userID, Role: role}
		}
		return recs.SaveLocalEdit(ctx, ot.Table, recordID, values, edits, now, userID, role)
	})
	if err != nil {
		return nil, err
	}
	res.Pending = queued

	r.audit(ctx, objectType, recordID, "local_edit", userID, map[string]any{"fields": sortedKeys(fields), "role": role})
	return res, nil
}

// SyncLocalToRemote pushes pending local edits of one object type. Rows whose
// remote record is gone are skipped and their edits dropped; rows another
// user holds a lock on wait for the next pass.
func (r *Reconciler) SyncLocalToRemote(ctx context.Context, objectType string) (*PushResult, error) {
	ot, err := r.catalog.Lookup(objectType)
	if err != nil {
		return nil, err
	}
	recs := r.repos.Records(r.db)
	if err := recs.EnsureTable(ctx, ot.Table); err != nil {
		return nil, err
	}
	rows, err := recs.ListPendingEdits(ctx, ot.Table)
	if err != nil {
		return nil, err
	}

	res := &PushResult{Rows: len(rows)}
	for _, row := range rows {
		if err := r.pushRow(ctx, ot, row, res); err != nil {
			res.Errors++
			r.logger.Warn(ctx, "push failed", "object_type", objectType, "id", row.ID, "error", err)
		}
	}
	if res.Rows > 0 {
		r.logger.Info(ctx, "local changes pushed", "object_type", objectType, "rows", res.Rows,
			"pushed", res.Pushed, "skipped", res.Skipped, "conflicts", res.Conflicts, "errors", res.Errors)
	}
	return res, nil
}

func (r *Reconciler) pushRow(ctx context.Context, ot catalog.ObjectType, row *models.LocalRow, res *PushResult) error {
	if r.locks != nil && row.LocalModifiedBy != "" {
		perm, err := r.locks.ValidateEditPermission(ctx, ot.APIName, row.ID, row.LocalModifiedBy)
		if err != nil {
			return err
		}
		if !perm.Allowed {
			res.Skipped++
			return nil
		}
	}

	remoteRec, err := r.remote.GetRecord(ctx, ot.APIName, row.ID)
	if errors.Is(err, common.ErrorNotFound) {
		res.Skipped++
		r.audit(ctx, ot.APIName, row.ID, "push_skipped", row.LocalModifiedBy, map[string]any{"reason": "remote record not found"})
		_, err = r.settleEdits(ctx, ot.Table, row.ID, row.Edits, nil, 0)
		return err
	}
	if err != nil {
		return err
	}

	policy := r.policies.For(ot.APIName)
	remoteTime := remoteRec.ModifiedTime()
	outbound := make(map[string]any)
	pull := make(map[string]any)
	handled := make(map[string]models.PendingEdit, len(row.Edits))

	for _, field := range sortedKeys(row.Edits) {
		edit := row.Edits[field]
		switch policy.Direction(field, edit.Role) {
		case LocalToRemote:
			outbound[field] = edit.Value.Interface()
		case Bidirectional:
			rv, _ := remoteRec.Get(field)
			lsql := normalize.SQLValue(r.normalizer.Value(ot.APIName, field, edit.Value))
			rsql := normalize.SQLValue(r.normalizer.Value(ot.APIName, field, rv))
			switch Resolve(edit.Time, remoteTime, lsql, rsql) {
			case LocalWins:
				outbound[field] = edit.Value.Interface()
			case RemoteWins:
				pull[field] = rsql
			case Tie:
				res.Conflicts++
				r.conflict(ctx, ot.Table, row.ID, field, lsql, rsql, edit.Time, remoteTime)
			case Unknown:
				continue
			}
		}
		handled[field] = edit
	}

	if len(outbound) > 0 {
		err := r.remote.UpdateRecord(ctx, ot.APIName, row.ID, outbound)
		if errors.Is(err, common.ErrorNotFound) {
			res.Skipped++
			_, err = r.settleEdits(ctx, ot.Table, row.ID, row.Edits, nil, 0)
			return err
		}
		if err != nil {
			return err
		}
		res.Pushed++
		res.FieldsPushed += len(outbound)
		r.audit(ctx, ot.APIName, row.ID, "push", row.LocalModifiedBy, map[string]any{"fields": sortedKeys(outbound)})
	}

	var pulled int
	err = r.evolving(ctx, ot, remoteRec, func() (err error) {
		pulled, err = r.settleEdits(ctx, ot.Table, row.ID, handled, pull, r.now().UnixMilli())
		return err
	})
	if err != nil {
		return err
	}
	res.FieldsPulled += pulled
	return nil
}

// SyncRemoteToLocal pulls records modified since the previous pass and applies
// the fields the policy lets the remote own. Missing local rows are inserted.
func (r *Reconciler) SyncRemoteToLocal(ctx context.Context, objectType string) (*PullResult, error) {
	ot, err := r.catalog.Lookup(objectType)
	if err != nil {
		return nil, err
	}
	recs := r.repos.Records(r.db)
	if err := recs.EnsureTable(ctx, ot.Table); err != nil {
		return nil, err
	}
	kv := r.repos.Metadata(r.db)
	marker, err := readMarker(ctx, kv.Get, MarkerKey(objectType))
	if err != nil {
		return nil, err
	}

	var filters []remote.Filter
	if marker > 0 {
		filters = append(filters, remote.Filter{Field: common.FieldLastModifiedTime, Op: remote.OpGTE, Value: marker})
	}
	order := remote.OrderBy{Field: common.FieldLastModifiedTime, Ascending: true}

	res := &PullResult{}
	maxSeen := marker
	for offset := 0; ; {
		page, err := r.remote.QueryPage(ctx, objectType, filters, order, offset, r.pageSize)
		if err != nil {
			return res, fmt.Errorf("failed to fetch remote changes: %w", err)
		}
		for _, rec := range page.Records {
			res.Fetched++
			if err := r.pullRecord(ctx, ot, rec, res); err != nil {
				res.Errors++
				r.logger.Warn(ctx, "pull failed", "object_type", objectType, "id", rec.ID(), "error", err)
				continue
			}
			if m := rec.ModifiedTime(); m > maxSeen {
				maxSeen = m
			}
		}
		offset += len(page.Records)
		if len(page.Records) < r.pageSize {
			break
		}
	}

	if maxSeen > marker {
		if err := kv.Set(ctx, MarkerKey(objectType), []byte(strconv.FormatInt(maxSeen, 10))); err != nil {
			return res, err
		}
	}
	if res.Fetched > 0 {
		r.logger.Info(ctx, "remote changes pulled", "object_type", objectType, "fetched", res.Fetched,
			"inserted", res.Inserted, "updated", res.Updated, "conflicts", res.Conflicts, "errors", res.Errors)
	}
	return res, nil
}

func (r *Reconciler) pullRecord(ctx context.Context, ot catalog.ObjectType, rec *models.Record, res *PullResult) error {
	id := rec.ID()
	if id == "" {
		return common.NewValidationError(common.FieldID, "record has no id")
	}
	recs := r.repos.Records(r.db)
	incoming := r.normalizer.Row(ot.APIName, rec)
	incoming[common.FieldID] = id
	now := r.now().UnixMilli()

	row, err := recs.Get(ctx, ot.Table, id)
	if errors.Is(err, common.ErrorNotFound) {
		up, err := normalize.BuildUpsert(r.repos.Dialect(), ot.Table, normalize.Subset(normalize.ExtractFields([]*models.Record{rec}), incoming))
		if err != nil {
			return err
		}
		if err := r.evolving(ctx, ot, rec, func() error { return recs.Upsert(ctx, up, incoming, now) }); err != nil {
			return err
		}
		res.Inserted++
		return nil
	}
	if err != nil {
		return err
	}

	policy := r.policies.For(ot.APIName)
	remoteTime := rec.ModifiedTime()
	pull := make(map[string]any)
	handled := make(map[string]models.PendingEdit)

	for _, field := range sortedKeys(incoming) {
		if field == common.FieldID || !policy.Pullable(field) {
			continue
		}
		local, _ := row.Fields.Get(field)
		lsql := normalize.SQLValue(local)
		rsql := incoming[field]
		edit, queued := row.Edits[field]
		if sameValue(lsql, rsql) {
			if queued {
				handled[field] = edit
			}
			continue
		}
		if policy.Direction(field, "") != Bidirectional {
			pull[field] = rsql
			if queued {
				handled[field] = edit
			}
			continue
		}
		switch Resolve(row.FieldTime(field), remoteTime, lsql, rsql) {
		case RemoteWins:
			pull[field] = rsql
		case Tie:
			res.Conflicts++
			r.conflict(ctx, ot.Table, id, field, lsql, rsql, row.FieldTime(field), remoteTime)
		default:
			continue
		}
		if queued {
			handled[field] = edit
		}
	}

	if len(pull) == 0 && len(handled) == 0 {
		return nil
	}
	var pulled int
	err = r.evolving(ctx, ot, rec, func() (err error) {
		pulled, err = r.settleEdits(ctx, ot.Table, id, handled, pull, now)
		return err
	})
	if err != nil {
		return err
	}
	if pulled > 0 {
		res.Updated++
		res.FieldsPulled += pulled
	}
	return nil
}

// settleEdits removes the handled edits from a row's queue and applies the
// pulled fields, in one transaction against a fresh read of the row. An edit
// replaced since it was handled stays queued, and a pulled field is not
// written over a queued edit other than the handled one. It returns the
// number of fields pulled.
func (r *Reconciler) settleEdits(ctx context.Context, table, id string, handled map[string]models.PendingEdit,
	pull map[string]any, syncTime int64) (int, error) {
	var pulled int
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		recs := r.repos.Records(tx)
		row, err := recs.Get(ctx, table, id)
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		edits := make(map[string]models.PendingEdit, len(row.Edits))
		for k, e := range row.Edits {
			edits[k] = e
		}
		for field, e := range handled {
			if cur, ok := edits[field]; ok && sameEdit(cur, e) {
				delete(edits, field)
			}
		}
		apply := make(map[string]any, len(pull))
		for field, v := range pull {
			if _, ok := edits[field]; !ok {
				apply[field] = v
			}
		}

		if len(edits) != len(row.Edits) {
			if err := recs.SetPendingEdits(ctx, table, id, edits); err != nil {
				return err
			}
		}
		if len(apply) > 0 {
			if err := recs.ApplyRemote(ctx, table, id, apply, syncTime); err != nil {
				return err
			}
		}
		pulled = len(apply)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pulled, nil
}

func sameEdit(a, b models.PendingEdit) bool {
	return a.Time == b.Time && a.UserID == b.UserID && a.Role == b.Role && a.Value.Equal(b.Value)
}

// evolving runs write and, when it fails on a missing column, evolves the
// table for rec and runs it once more.
func (r *Reconciler) evolving(ctx context.Context, ot catalog.ObjectType, rec *models.Record, write func() error) error {
	err := write()
	var drift *common.SchemaDriftError
	if r.drift == nil || !errors.As(err, &drift) {
		return err
	}
	if _, derr := r.drift.EvolveForRecord(ctx, ot.APIName, ot.Table, rec); derr != nil {
		return fmt.Errorf("%w (evolution failed: %v)", err, derr)
	}
	return write()
}

func (r *Reconciler) conflict(ctx context.Context, table, id, field string, local, remote any, localTime, remoteTime int64) {
	c := &models.SyncConflict{
		Table:       table,
		RecordID:    id,
		Field:       field,
		LocalValue:  canonical(local),
		RemoteValue: canonical(remote),
		LocalTime:   localTime,
		RemoteTime:  remoteTime,
		Resolution:  ResolutionSkippedTie,
		DetectedAt:  r.now().UnixMilli(),
	}
	if err := r.repos.Conflicts(r.db).Record(ctx, c); err != nil {
		r.logger.Error(ctx, "failed to record conflict", "table", table, "id", id, "field", field, "error", err)
	}
}

// audit appends an entry; audit failures never fail the mutation itself.
func (r *Reconciler) audit(ctx context.Context, objectType, id, action, actor string, details map[string]any) {
	b, err := json.Marshal(details)
	if err != nil {
		b = []byte(fmt.Sprint(details))
	}
	entry := &models.AuditEntry{
		ID:         uuid.NewString(),
		ObjectType: objectType,
		RecordID:   id,
		Action:     action,
		Actor:      actor,
		Details:    string(b),
		CreatedAt:  r.now().UnixMilli(),
	}
	if err := r.repos.AuditLog(r.db).Append(ctx, entry); err != nil {
		r.logger.Error(ctx, "failed to write audit entry", "action", action, "id", id, "error", err)
	}
}

func readMarker(ctx context.Context, get func(context.Context, string) ([]byte, error), key string) (int64, error) {
	raw, err := get(ctx, key)
	if err != nil || raw == nil {
		return 0, err
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid marker %s: %w", key, err)
	}
	return v, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
