package normalize

import (
	"sort"

	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/models"
)

// PinnedFields lead every generated field list, in this order, when present.
var PinnedFields = []string{
	common.FieldID,
	common.FieldName,
	common.FieldCreateTime,
	common.FieldLastModifiedTime,
	common.FieldIsDeleted,
	common.FieldLifeStatus,
}

// ExtractFields returns the union of keys over records: pinned fields first,
// the remainder alphabetical. The order drives positional binding of the
// generated upsert, so it must not depend on record or key order.
func ExtractFields(records []*models.Record) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		if r == nil {
			continue
		}
		for _, k := range r.Keys() {
			if dbx.ValidIdent(k) && !common.IsBookkeepingColumn(k) {
				seen[k] = struct{}{}
			}
		}
	}
	return orderFields(seen)
}

// Subset keeps the entries of order that are keys of row, preserving order.
func Subset(order []string, row map[string]any) []string {
	out := make([]string, 0, len(row))
	for _, f := range order {
		if _, ok := row[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

func orderFields(seen map[string]struct{}) []string {
	out := make([]string, 0, len(seen))
	for _, p := range PinnedFields {
		if _, ok := seen[p]; ok {
			out = append(out, p)
			delete(seen, p)
		}
	}
	rest := make([]string, 0, len(seen))
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(out, rest...)
}
