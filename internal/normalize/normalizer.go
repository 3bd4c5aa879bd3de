// Package normalize flattens remote records into column values, derives the
// deterministic field order used for positional binding and generates the
// parameterized upsert statements of the sync engine.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/models"
)

// Rule is an explicit per-field conversion.
type Rule string

const (
	// RuleArrayFirst keeps element 0 of an array value.
	RuleArrayFirst Rule = "array_first"
	// RuleJSONStringify stores the value as JSON text.
	RuleJSONStringify Rule = "json_stringify"
)

// Field name suffixes whose arrays are meaningful and are never unwrapped.
var reservedSuffixes = []string{models.SuffixRelationLabel, "__l", "_ids"}

// Mappings holds explicit rules per object type and field.
type Mappings map[string]map[string]Rule

type Normalizer struct {
	mappings Mappings
}

func New(mappings Mappings) *Normalizer {
	if mappings == nil {
		mappings = Mappings{}
	}
	return &Normalizer{mappings: mappings}
}

// Register adds or replaces an explicit rule.
func (n *Normalizer) Register(objectType, field string, rule Rule) {
	m, ok := n.mappings[objectType]
	if !ok {
		m = make(map[string]Rule)
		n.mappings[objectType] = m
	}
	m[field] = rule
}

// Value applies the per-field rules to one value: explicit mapping first, then
// implicit array-first for single-valued fields, else pass through.
func (n *Normalizer) Value(objectType, field string, v models.Value) models.Value {
	if rule, ok := n.mappings[objectType][field]; ok {
		switch rule {
		case RuleArrayFirst:
			return first(v)
		case RuleJSONStringify:
			if v.IsNull() {
				return v
			}
			b, err := json.Marshal(v)
			if err != nil {
				return models.Null()
			}
			return models.String(string(b))
		}
	}
	if v.Kind() == models.KindArray && !MultiValued(field) {
		return first(v)
	}
	return v
}

// MultiValued reports whether arrays under field are kept whole.
func MultiValued(field string) bool {
	if field == common.FieldRelevantTeam {
		return true
	}
	for _, s := range reservedSuffixes {
		if strings.HasSuffix(field, s) {
			return true
		}
	}
	return false
}

func first(v models.Value) models.Value {
	if v.Kind() != models.KindArray {
		return v
	}
	items := v.Items()
	if len(items) == 0 {
		return models.Null()
	}
	return items[0]
}

// Normalize returns a copy of rec with every rule applied, in the original
// key order. Fields that cannot be used as column names are dropped.
func (n *Normalizer) Normalize(objectType string, rec *models.Record) *models.Record {
	out := models.NewRecord()
	for _, k := range rec.Keys() {
		if !dbx.ValidIdent(k) || common.IsBookkeepingColumn(k) {
			continue
		}
		v, _ := rec.Get(k)
		out.Set(k, n.Value(objectType, k, v))
	}
	return out
}

// Row converts a record into bindable column values.
func (n *Normalizer) Row(objectType string, rec *models.Record) map[string]any {
	norm := n.Normalize(objectType, rec)
	row := make(map[string]any, norm.Len())
	for _, k := range norm.Keys() {
		v, _ := norm.Get(k)
		row[k] = SQLValue(v)
	}
	return row
}

// SQLValue maps a value onto a database/sql argument. Composites become JSON
// text; numbers too large for int64 keep their literal.
func SQLValue(v models.Value) any {
	switch v.Kind() {
	case models.KindNull:
		return nil
	case models.KindString:
		s, _ := v.Str()
		return s
	case models.KindBool:
		b, _ := v.BoolValue()
		return b
	case models.KindNumber:
		lit, _ := v.Literal()
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return i
		}
		if !strings.ContainsAny(lit, ".eE") {
			return lit
		}
		if f, err := strconv.ParseFloat(lit, 64); err == nil {
			return f
		}
		return lit
	default:
		return v.Text()
	}
}
