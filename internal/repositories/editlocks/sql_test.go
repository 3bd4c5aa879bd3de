package editlocks

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeLock(id, record, user string, expires int64) *models.EditLock {
	return &models.EditLock{LockID: id, ObjectType: "Site", RecordID: record, UserID: user, Role: "sales",
		CreatedAt: 1, ExpiresAt: expires, LastActivity: 1, Status: models.LockActive}
}

func TestInsertFindActive(t *testing.T) {
	db, d := storetest.Open(t)
	r := NewSQLRepository(db, d)
	ctx := context.Background()

	_, err := r.FindActive(ctx, "Site", "r1")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, r.Insert(ctx, activeLock("l1", "r1", "alice", 100)))

	got, err := r.FindActive(ctx, "Site", "r1")
	require.NoError(t, err)
	assert.Equal(t, activeLock("l1", "r1", "alice", 100), got)
}

func TestInsert_SecondActiveLockViolatesUniqueIndex(t *testing.T) {
	db, d := storetest.Open(t)
	r := NewSQLRepository(db, d)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, activeLock("l1", "r1", "alice", 100)))
	err := r.Insert(ctx, activeLock("l2", "r1", "bob", 100))
	require.Error(t, err)
	assert.True(t, d.IsUniqueViolation(err), "got %v", err)

	// a released lock no longer occupies the slot
	require.NoError(t, r.SetStatus(ctx, "l1", models.LockReleased, 50))
	require.NoError(t, r.Insert(ctx, activeLock("l2", "r1", "bob", 100)))
}

func TestExtendAndSetStatus_OnlyActive(t *testing.T) {
	db, d := storetest.Open(t)
	r := NewSQLRepository(db, d)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, activeLock("l1", "r1", "alice", 100)))
	require.NoError(t, r.Extend(ctx, "l1", 500, 60))

	got, err := r.FindActive(ctx, "Site", "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.ExpiresAt)
	assert.Equal(t, int64(60), got.LastActivity)

	require.NoError(t, r.SetStatus(ctx, "l1", models.LockReleased, 70))
	assert.ErrorIs(t, r.SetStatus(ctx, "l1", models.LockReleased, 80), common.ErrorNotFound)
	assert.ErrorIs(t, r.Extend(ctx, "l1", 900, 80), common.ErrorNotFound)
}

func TestExpireBefore(t *testing.T) {
	db, d := storetest.Open(t)
	r := NewSQLRepository(db, d)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, activeLock("l1", "r1", "alice", 100)))
	require.NoError(t, r.Insert(ctx, activeLock("l2", "r2", "bob", 300)))

	n, err := r.ExpireBefore(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := r.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "l2", active[0].LockID)
}
