package models

// FieldChangeKind classifies a schema observation.
type FieldChangeKind string

const (
	FieldAdded       FieldChangeKind = "added"
	FieldMissing     FieldChangeKind = "missing"
	FieldExtra       FieldChangeKind = "extra"
	FieldTypeChanged FieldChangeKind = "type_changed"
	FieldAddFailed   FieldChangeKind = "add_failed"
)

// FieldChange is one row of the schema change history.
type FieldChange struct {
	ObjectType string          `json:"object_type"`
	Table      string          `json:"table"`
	Field      string          `json:"field"`
	Change     FieldChangeKind `json:"change"`
	CoarseType CoarseType      `json:"coarse_type,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	ObservedAt int64           `json:"observed_at"`
}

// SyncConflict records a bidirectional divergence the reconciler would not
// resolve on its own.
type SyncConflict struct {
	Table       string `json:"table"`
	RecordID    string `json:"record_id"`
	Field       string `json:"field"`
	LocalValue  string `json:"local_value"`
	RemoteValue string `json:"remote_value"`
	LocalTime   int64  `json:"local_time"`
	RemoteTime  int64  `json:"remote_time"`
	Resolution  string `json:"resolution"`
	DetectedAt  int64  `json:"detected_at"`
}

// AuditEntry is one append-only mutation record.
type AuditEntry struct {
	ID         string `json:"id"`
	ObjectType string `json:"object_type"`
	RecordID   string `json:"record_id"`
	Action     string `json:"action"`
	Actor      string `json:"actor"`
	Details    string `json:"details,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}
