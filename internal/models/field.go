package models

import "strings"

// CoarseType is the fixed vocabulary remote field types are mapped to before
// a local column is created.
type CoarseType string

const (
	TypeText      CoarseType = "TEXT"
	TypeNumber    CoarseType = "NUMBER"
	TypeBoolean   CoarseType = "BOOLEAN"
	TypeJSON      CoarseType = "JSON"
	TypeDatetime  CoarseType = "DATETIME"
	TypeTimestamp CoarseType = "TIMESTAMP"
)

// Valid reports whether t belongs to the vocabulary.
func (t CoarseType) Valid() bool {
	switch t {
	case TypeText, TypeNumber, TypeBoolean, TypeJSON, TypeDatetime, TypeTimestamp:
		return true
	}
	return false
}

// FieldDefinition describes one field of a remote object type, either as
// returned by introspection or inferred from sampled records.
type FieldDefinition struct {
	APIName    string     `json:"api_name"`
	Label      string     `json:"label,omitempty"`
	CoarseType CoarseType `json:"coarse_type"`
	Required   bool       `json:"required,omitempty"`
	// RemoteType is the remote system's own type name, when known.
	RemoteType string `json:"remote_type,omitempty"`
}

// IsRelation reports whether the field references other records and therefore
// comes with the __r / __relation_ids companions.
func (f FieldDefinition) IsRelation() bool {
	switch strings.ToLower(f.RemoteType) {
	case "object_reference", "object_reference_many", "master_detail", "relation", "lookup":
		return true
	}
	return false
}

// Relation companion suffixes used by the remote system.
const (
	SuffixRelationLabel = "__r"
	SuffixRelationIDs   = "__relation_ids"
)

// CoarseTypeFromRemote maps a remote describe type onto the coarse vocabulary.
func CoarseTypeFromRemote(remoteType string) CoarseType {
	switch strings.ToLower(remoteType) {
	case "number", "currency", "percentile", "count", "formula_number", "auto_number_int":
		return TypeNumber
	case "true_or_false", "boolean", "bool":
		return TypeBoolean
	case "date", "date_time", "datetime":
		return TypeDatetime
	case "time", "timestamp":
		return TypeTimestamp
	case "select_many", "image", "file_attachment", "location", "employee", "department",
		"object_reference_many", "embedded_object_list", "array", "object", "json":
		return TypeJSON
	default:
		return TypeText
	}
}
