package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/normalize"
)

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: d}
}

func (r *SQLRepository) checkIdents(names ...string) error {
	for _, n := range names {
		if !dbx.ValidIdent(n) {
			return common.NewValidationError(n, "invalid identifier")
		}
	}
	return nil
}

func (r *SQLRepository) EnsureTable(ctx context.Context, table string) error {
	if err := r.checkIdents(table); err != nil {
		return err
	}
	q := r.dialect.QuoteIdent
	text := r.dialect.ColumnType(models.TypeText)
	ts := r.dialect.ColumnType(models.TypeTimestamp)

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s %s PRIMARY KEY,
		%s %s NOT NULL DEFAULT 0,
		%s %s,
		%s %s,
		%s %s,
		%s %s,
		%s %s
	)`,
		q(table),
		q(common.FieldID), text,
		q(common.ColumnSyncVersion), ts,
		q(common.ColumnSyncTime), ts,
		q(common.ColumnLocalModifiedTime), ts,
		q(common.ColumnLocalModifiedBy), text,
		q(common.ColumnLocalModifiedRole), text,
		q(common.ColumnLocalEdits), text,
	)
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

func (r *SQLRepository) Columns(ctx context.Context, table string) ([]dbx.Column, error) {
	if err := r.checkIdents(table); err != nil {
		return nil, err
	}
	return r.dialect.ListColumns(ctx, r.db, table)
}

func (r *SQLRepository) AddColumn(ctx context.Context, table, column string, t models.CoarseType) (bool, error) {
	if err := r.checkIdents(table, column); err != nil {
		return false, err
	}
	q := r.dialect.QuoteIdent
	ddl := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, q(table), q(column), r.dialect.ColumnType(t))
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		if r.dialect.IsDuplicateColumn(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to add column %s.%s: %w", table, column, err)
	}
	return true, nil
}

func (r *SQLRepository) TypeMatches(live string, t models.CoarseType) bool {
	return r.dialect.SameColumnType(live, r.dialect.ColumnType(t))
}

func (r *SQLRepository) Upsert(ctx context.Context, u *normalize.Upsert, row map[string]any, syncTime int64) error {
	if _, err := r.db.ExecContext(ctx, u.SQL, u.Args(row, syncTime)...); err != nil {
		if r.dialect.IsUndefinedColumn(err) {
			return &common.SchemaDriftError{Table: u.Table, Err: err}
		}
		return fmt.Errorf("failed to upsert into %s: %w", u.Table, err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, table, id string) (*models.LocalRow, error) {
	if err := r.checkIdents(table); err != nil {
		return nil, err
	}
	q := r.dialect.QuoteIdent
	query := r.dialect.Rebind(fmt.Sprintf(`SELECT * FROM %s WHERE %s = ?`, q(table), q(common.FieldID)))
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", table, id, err)
	}
	list, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", table, id, err)
	}
	if len(list) == 0 {
		return nil, common.ErrorNotFound
	}
	return list[0], nil
}

func (r *SQLRepository) ListPendingEdits(ctx context.Context, table string) ([]*models.LocalRow, error) {
	if err := r.checkIdents(table); err != nil {
		return nil, err
	}
	q := r.dialect.QuoteIdent
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s IS NOT NULL AND %s <> '' ORDER BY %s, %s`,
		q(table), q(common.ColumnLocalEdits), q(common.ColumnLocalEdits),
		q(common.ColumnLocalModifiedTime), q(common.FieldID))
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending edits of %s: %w", table, err)
	}
	list, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending edits of %s: %w", table, err)
	}
	return list, nil
}

func (r *SQLRepository) SaveLocalEdit(ctx context.Context, table, id string, fields map[string]any,
	edits map[string]models.PendingEdit, at int64, userID, role string) error {
	encoded, err := encodeEdits(edits)
	if err != nil {
		return err
	}
	extra := map[string]any{
		common.ColumnLocalEdits:        encoded,
		common.ColumnLocalModifiedTime: at,
		common.ColumnLocalModifiedBy:   userID,
		common.ColumnLocalModifiedRole: role,
	}
	return r.update(ctx, table, id, fields, extra, "")
}

func (r *SQLRepository) ApplyRemote(ctx context.Context, table, id string, fields map[string]any, syncTime int64) error {
	q := r.dialect.QuoteIdent
	bump := fmt.Sprintf("%s = %s + 1", q(common.ColumnSyncVersion), q(common.ColumnSyncVersion))
	return r.update(ctx, table, id, fields, map[string]any{common.ColumnSyncTime: syncTime}, bump)
}

func (r *SQLRepository) SetPendingEdits(ctx context.Context, table, id string, edits map[string]models.PendingEdit) error {
	encoded, err := encodeEdits(edits)
	if err != nil {
		return err
	}
	return r.update(ctx, table, id, nil, map[string]any{common.ColumnLocalEdits: encoded}, "")
}

// update writes fields (remote columns) and extra (bookkeeping columns) in a
// single statement, in sorted column order.
func (r *SQLRepository) update(ctx context.Context, table, id string, fields, extra map[string]any, raw string) error {
	if err := r.checkIdents(table); err != nil {
		return err
	}
	names := make([]string, 0, len(fields)+len(extra))
	for k := range fields {
		if common.IsBookkeepingColumn(k) || k == common.FieldID {
			return common.NewValidationError(k, "column cannot be updated")
		}
		names = append(names, k)
	}
	if err := r.checkIdents(names...); err != nil {
		return err
	}
	sort.Strings(names)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	q := r.dialect.QuoteIdent
	sets := make([]string, 0, len(names)+len(keys)+1)
	args := make([]any, 0, len(names)+len(keys)+1)
	for _, n := range names {
		sets = append(sets, q(n)+" = ?")
		args = append(args, fields[n])
	}
	for _, k := range keys {
		sets = append(sets, q(k)+" = ?")
		args = append(args, extra[k])
	}
	if raw != "" {
		sets = append(sets, raw)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := r.dialect.Rebind(fmt.Sprintf(`UPDATE %s SET %s WHERE %s = ?`,
		q(table), strings.Join(sets, ", "), q(common.FieldID)))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if r.dialect.IsUndefinedColumn(err) {
			return &common.SchemaDriftError{Table: table, Err: err}
		}
		return fmt.Errorf("failed to update %s/%s: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", table, id, err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func encodeEdits(edits map[string]models.PendingEdit) (any, error) {
	if len(edits) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(edits)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pending edits: %w", err)
	}
	return string(b), nil
}

func scanRows(rows *sql.Rows) ([]*models.LocalRow, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []*models.LocalRow
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row, err := toLocalRow(cols, values)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func toLocalRow(cols []string, values []any) (*models.LocalRow, error) {
	row := &models.LocalRow{Fields: models.NewRecord()}
	for i, c := range cols {
		v := models.FromAny(values[i])
		switch c {
		case common.ColumnSyncVersion:
			row.SyncVersion, _ = v.Int64()
		case common.ColumnSyncTime:
			row.SyncTime, _ = v.Int64()
		case common.ColumnLocalModifiedTime:
			row.LocalModifiedTime, _ = v.Int64()
		case common.ColumnLocalModifiedBy:
			row.LocalModifiedBy = v.Text()
		case common.ColumnLocalModifiedRole:
			row.LocalModifiedRole = v.Text()
		case common.ColumnLocalEdits:
			text := v.Text()
			if text == "" {
				continue
			}
			if err := json.Unmarshal([]byte(text), &row.Edits); err != nil {
				return nil, fmt.Errorf("failed to decode pending edits: %w", err)
			}
		default:
			if c == common.FieldID {
				row.ID = v.Text()
			}
			row.Fields.Set(c, v)
		}
	}
	return row, nil
}

var _ Repository = (*SQLRepository)(nil)
