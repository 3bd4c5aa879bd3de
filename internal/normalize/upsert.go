package normalize

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/dbx"
)

// Upsert is a generated statement keyed by the remote id. On conflict it
// overwrites every non-identity field, increments sync_version and stamps
// sync_time. New rows start at sync_version 1.
type Upsert struct {
	Table  string
	Fields []string
	SQL    string
}

// BuildUpsert generates the upsert for table over fields, which must include
// the identity field and contain only valid identifiers.
func BuildUpsert(d dbx.Dialect, table string, fields []string) (*Upsert, error) {
	if !dbx.ValidIdent(table) {
		return nil, common.NewValidationError("table", fmt.Sprintf("invalid table name %q", table))
	}
	hasID := false
	for _, f := range fields {
		if !dbx.ValidIdent(f) {
			return nil, common.NewValidationError(f, "invalid column name")
		}
		if common.IsBookkeepingColumn(f) {
			return nil, common.NewValidationError(f, "bookkeeping column cannot be written by sync")
		}
		if f == common.FieldID {
			hasID = true
		}
	}
	if !hasID {
		return nil, common.NewValidationError(common.FieldID, "upsert requires the identity field")
	}

	q := d.QuoteIdent
	cols := make([]string, 0, len(fields)+2)
	vals := make([]string, 0, len(fields)+2)
	sets := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		cols = append(cols, q(f))
		vals = append(vals, "?")
		if f != common.FieldID {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", q(f), q(f)))
		}
	}
	cols = append(cols, q(common.ColumnSyncVersion), q(common.ColumnSyncTime))
	vals = append(vals, "1", "?")
	sets = append(sets,
		fmt.Sprintf("%s = %s + 1", q(common.ColumnSyncVersion), d.ConflictTarget(table, common.ColumnSyncVersion)),
		fmt.Sprintf("%s = excluded.%s", q(common.ColumnSyncTime), q(common.ColumnSyncTime)),
	)

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		q(table), strings.Join(cols, ", "), strings.Join(vals, ", "), q(common.FieldID), strings.Join(sets, ", "))

	return &Upsert{
		Table:  table,
		Fields: append([]string(nil), fields...),
		SQL:    d.Rebind(sql),
	}, nil
}

// Args binds row positionally; fields absent from row bind NULL.
func (u *Upsert) Args(row map[string]any, syncTime int64) []any {
	args := make([]any, 0, len(u.Fields)+1)
	for _, f := range u.Fields {
		args = append(args, row[f])
	}
	return append(args, syncTime)
}
