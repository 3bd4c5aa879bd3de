package models

// PendingEdit is a local field edit not yet pushed to the remote.
type PendingEdit struct {
	Value  Value  `json:"v"`
	Time   int64  `json:"t"`
	UserID string `json:"by,omitempty"`
	Role   string `json:"role,omitempty"`
}

// LocalRow is one row of an object-type table: the mirrored remote fields
// plus the local bookkeeping columns.
type LocalRow struct {
	ID                string
	Fields            *Record
	SyncVersion       int64
	SyncTime          int64
	LocalModifiedTime int64
	LocalModifiedBy   string
	LocalModifiedRole string
	Edits             map[string]PendingEdit
}

// FieldTime is the last known modification time of field on the local side:
// the pending edit time when there is one, otherwise the mirrored remote
// modification time. LocalModifiedTime covers the whole row and is not used.
func (r *LocalRow) FieldTime(field string) int64 {
	if e, ok := r.Edits[field]; ok {
		return e.Time
	}
	if r.Fields == nil {
		return 0
	}
	return r.Fields.ModifiedTime()
}
