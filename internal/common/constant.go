package common

// Remote field names shared by every object type of the CRM.
const (
	FieldID               = "_id"
	FieldName             = "name"
	FieldCreateTime       = "create_time"
	FieldLastModifiedTime = "last_modified_time"
	FieldIsDeleted        = "is_deleted"
	FieldLifeStatus       = "life_status"
	FieldRelevantTeam     = "relevant_team"
)

// Local bookkeeping columns present on every object-type table.
const (
	ColumnSyncVersion       = "sync_version"
	ColumnSyncTime          = "sync_time"
	ColumnLocalModifiedTime = "local_modified_time"
	ColumnLocalModifiedBy   = "local_modified_by"
	ColumnLocalModifiedRole = "local_modified_role"
	ColumnLocalEdits        = "local_edits"
)

// BookkeepingColumns lists the columns owned by this system rather than the remote.
var BookkeepingColumns = []string{
	ColumnSyncVersion,
	ColumnSyncTime,
	ColumnLocalModifiedTime,
	ColumnLocalModifiedBy,
	ColumnLocalModifiedRole,
	ColumnLocalEdits,
}

// IsBookkeepingColumn reports whether name is a local-only bookkeeping column.
func IsBookkeepingColumn(name string) bool {
	for _, c := range BookkeepingColumns {
		if c == name {
			return true
		}
	}
	return false
}
