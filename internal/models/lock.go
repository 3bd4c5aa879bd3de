package models

// LockStatus is the state of an edit lock.
type LockStatus string

const (
	LockActive        LockStatus = "ACTIVE"
	LockReleased      LockStatus = "RELEASED"
	LockExpired       LockStatus = "EXPIRED"
	LockForceReleased LockStatus = "FORCE_RELEASED"
)

// EditLock grants one user exclusive interactive editing of one record.
type EditLock struct {
	LockID       string     `json:"lock_id"`
	ObjectType   string     `json:"object_type"`
	RecordID     string     `json:"record_id"`
	UserID       string     `json:"user_id"`
	Role         string     `json:"role"`
	CreatedAt    int64      `json:"created_at"`
	ExpiresAt    int64      `json:"expires_at"`
	LastActivity int64      `json:"last_activity"`
	Status       LockStatus `json:"status"`
}

// ExpiredAt reports whether the lock's TTL has elapsed at nowMillis.
func (l *EditLock) ExpiredAt(nowMillis int64) bool {
	return l.ExpiresAt <= nowMillis
}
