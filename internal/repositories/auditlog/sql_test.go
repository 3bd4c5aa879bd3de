package auditlog

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendListForRecord(t *testing.T) {
	db, d := storetest.Open(t)
	r := NewSQLRepository(db, d)
	ctx := context.Background()

	require.NoError(t, r.Append(ctx, &models.AuditEntry{ID: "b", ObjectType: "Site", RecordID: "r1", Action: "lock_force_released", Actor: "admin", CreatedAt: 20}))
	require.NoError(t, r.Append(ctx, &models.AuditEntry{ID: "a", ObjectType: "Site", RecordID: "r1", Action: "local_edit", Actor: "alice", Details: `{"fields":["name"]}`, CreatedAt: 10}))
	require.NoError(t, r.Append(ctx, &models.AuditEntry{ID: "c", ObjectType: "Site", RecordID: "r2", Action: "local_edit", Actor: "bob", CreatedAt: 30}))

	got, err := r.ListForRecord(ctx, "Site", "r1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, `{"fields":["name"]}`, got[0].Details)
	assert.Equal(t, "lock_force_released", got[1].Action)

	// ids are unique, the log is append-only
	require.Error(t, r.Append(ctx, &models.AuditEntry{ID: "a", ObjectType: "Site", RecordID: "r1", Action: "x", Actor: "y", CreatedAt: 40}))
}
