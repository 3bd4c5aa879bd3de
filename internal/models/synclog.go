package models

// SyncStatus is the lifecycle state of one sync run.
type SyncStatus string

const (
	SyncInProgress SyncStatus = "IN_PROGRESS"
	SyncCompleted  SyncStatus = "COMPLETED"
	SyncFailed     SyncStatus = "FAILED"
)

// SyncMode distinguishes watermark-driven runs from full/backfill runs.
type SyncMode string

const (
	ModeIncremental SyncMode = "incremental"
	ModeFull        SyncMode = "full"
)

// SyncLog is the persisted record of one run. Completed runs double as the
// incremental watermark source: a run that drained its backlog records its
// completion time, an incremental run stopped by its budget records the last
// modification time it fully processed.
type SyncLog struct {
	SyncID         string     `json:"sync_id"`
	ObjectType     string     `json:"object_type"`
	Mode           SyncMode   `json:"mode"`
	Status         SyncStatus `json:"status"`
	RecordsCount   int        `json:"records_count"`
	ErrorCount     int        `json:"error_count"`
	StartedAt      int64      `json:"started_at"`
	CompletedAt    int64      `json:"completed_at,omitempty"`
	BacklogDrained bool       `json:"backlog_drained"`
	Watermark      int64      `json:"watermark,omitempty"`
	Details        string     `json:"details,omitempty"`
}

// SyncCheckpoint marks where an interrupted full sync resumes.
type SyncCheckpoint struct {
	ObjectType string `json:"object_type"`
	Offset     int    `json:"offset"`
	UpdatedAt  int64  `json:"updated_at"`
}
