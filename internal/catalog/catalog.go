// Package catalog describes the object types this deployment syncs: their
// local table, the baseline fields used when the remote schema cannot be
// discovered, and the explicit normalization rules.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/normalize"
)

type ObjectType struct {
	APIName string
	Table   string
	// Baseline is the fallback field list when introspection and sampling
	// both fail.
	Baseline []models.FieldDefinition
	Rules    map[string]normalize.Rule
	// IncludeDeleted keeps soft-deleted records in incremental runs.
	IncludeDeleted bool
}

type Catalog struct {
	types map[string]ObjectType
}

func New(types ...ObjectType) *Catalog {
	c := &Catalog{types: make(map[string]ObjectType)}
	for _, t := range types {
		c.Register(t)
	}
	return c
}

// Register adds or replaces an object type. An empty Table is derived from
// the API name.
func (c *Catalog) Register(t ObjectType) {
	if t.Table == "" {
		t.Table = TableName(t.APIName)
	}
	c.types[t.APIName] = t
}

// Lookup returns the registered object type, or a derived definition with no
// baseline for unknown API names.
func (c *Catalog) Lookup(apiName string) (ObjectType, error) {
	if t, ok := c.types[apiName]; ok {
		return t, nil
	}
	table := TableName(apiName)
	if apiName == "" || !dbx.ValidIdent(table) {
		return ObjectType{}, common.NewValidationError("objectType", fmt.Sprintf("unsupported object type %q", apiName))
	}
	return ObjectType{APIName: apiName, Table: table}, nil
}

// Names lists registered API names in sorted order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.types))
	for n := range c.types {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Mappings collects the explicit rules of every registered object type.
func (c *Catalog) Mappings() normalize.Mappings {
	m := make(normalize.Mappings)
	for name, t := range c.types {
		if len(t.Rules) == 0 {
			continue
		}
		rules := make(map[string]normalize.Rule, len(t.Rules))
		for f, r := range t.Rules {
			rules[f] = r
		}
		m[name] = rules
	}
	return m
}

// TableName derives a snake_case table name: "AccountObj" → "account_obj",
// "object_x1__c" stays as is.
func TableName(apiName string) string {
	var b strings.Builder
	runes := []rune(apiName)
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 && runes[i-1] != '_' && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
