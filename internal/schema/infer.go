// Package schema keeps local object-type tables in step with the fields the
// remote currently exposes. Evolution is additive only: columns are added,
// type mismatches and local-only columns are reported, nothing is dropped.
package schema

import (
	"regexp"
	"strings"

	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/normalize"
)

var (
	isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}.*)?$`)
	epochMsRe = regexp.MustCompile(`^1\d{12}$`)
	integerRe = regexp.MustCompile(`^-?\d+$`)
)

func timeLike(field string) bool {
	return strings.HasSuffix(field, "_time") || strings.HasSuffix(field, "_time__c")
}

// InferType maps the shape of one normalized value onto a coarse type. The
// second result is false for nulls, which carry no shape.
func InferType(field string, v models.Value) (models.CoarseType, bool) {
	switch v.Kind() {
	case models.KindNull:
		return "", false
	case models.KindBool:
		return models.TypeBoolean, true
	case models.KindArray, models.KindObject:
		return models.TypeJSON, true
	case models.KindNumber:
		lit, _ := v.Literal()
		if integerRe.MatchString(lit) && (epochMsRe.MatchString(lit) || timeLike(field)) {
			return models.TypeTimestamp, true
		}
		return models.TypeNumber, true
	default:
		s, _ := v.Str()
		switch {
		case isoDateRe.MatchString(s):
			return models.TypeDatetime, true
		case timeLike(field) && epochMsRe.MatchString(s):
			return models.TypeTimestamp, true
		}
		return models.TypeText, true
	}
}

// widen merges two observations of the same field. Disagreement falls back to
// the type that can hold both.
func widen(a, b models.CoarseType) models.CoarseType {
	switch {
	case a == "":
		return b
	case b == "" || a == b:
		return a
	case (a == models.TypeNumber && b == models.TypeTimestamp) || (a == models.TypeTimestamp && b == models.TypeNumber):
		return models.TypeNumber
	}
	return models.TypeText
}

// InferFields derives field definitions from sampled records, applying the
// normalizer first so unwrapped singleton arrays are typed by their element.
// A field with a sibling "<field>__r" is treated as a relation.
func InferFields(objectType string, records []*models.Record, n *normalize.Normalizer) []models.FieldDefinition {
	types := make(map[string]models.CoarseType)
	for _, r := range records {
		for _, k := range r.Keys() {
			v, _ := r.Get(k)
			t, ok := InferType(k, n.Value(objectType, k, v))
			if !ok {
				if _, seen := types[k]; !seen {
					types[k] = ""
				}
				continue
			}
			types[k] = widen(types[k], t)
		}
	}

	names := normalize.ExtractFields(records)
	fields := make([]models.FieldDefinition, 0, len(names))
	for _, name := range names {
		t := types[name]
		if t == "" {
			t = models.TypeText
		}
		f := models.FieldDefinition{APIName: name, Label: name, CoarseType: t}
		if name == common.FieldID {
			f.Required = true
		}
		if _, ok := types[name+models.SuffixRelationLabel]; ok && !normalize.MultiValued(name) {
			f.RemoteType = "object_reference"
		}
		fields = append(fields, f)
	}
	return fields
}

// expectedColumns expands fields into the full set of local columns they
// require, relation companions included, keyed by column name.
func expectedColumns(fields []models.FieldDefinition) (map[string]models.FieldDefinition, []string) {
	byName := make(map[string]models.FieldDefinition)
	var order []string
	add := func(f models.FieldDefinition) {
		if !dbx.ValidIdent(f.APIName) || common.IsBookkeepingColumn(f.APIName) {
			return
		}
		if _, ok := byName[f.APIName]; ok {
			return
		}
		if !f.CoarseType.Valid() {
			f.CoarseType = models.TypeText
		}
		byName[f.APIName] = f
		order = append(order, f.APIName)
	}
	for _, f := range fields {
		add(f)
		if f.IsRelation() {
			for _, c := range companions(f) {
				add(c)
			}
		}
	}
	return byName, order
}

func companions(f models.FieldDefinition) []models.FieldDefinition {
	return []models.FieldDefinition{
		{APIName: f.APIName + models.SuffixRelationLabel, Label: f.Label, CoarseType: models.TypeText},
		{APIName: f.APIName + models.SuffixRelationIDs, Label: f.Label, CoarseType: models.TypeJSON},
	}
}
