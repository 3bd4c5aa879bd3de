package checkpoints

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveGetDelete(t *testing.T) {
	db, d := storetest.Open(t)
	r := NewSQLRepository(db, d)
	ctx := context.Background()

	cp, err := r.Get(ctx, "Site")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, r.Save(ctx, &models.SyncCheckpoint{ObjectType: "Site", Offset: 200, UpdatedAt: 1}))
	require.NoError(t, r.Save(ctx, &models.SyncCheckpoint{ObjectType: "Site", Offset: 400, UpdatedAt: 2}))

	cp, err = r.Get(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, &models.SyncCheckpoint{ObjectType: "Site", Offset: 400, UpdatedAt: 2}, cp)

	require.NoError(t, r.Delete(ctx, "Site"))
	cp, err = r.Get(ctx, "Site")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestSave_DBError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+sync_checkpoints.*VALUES\s*\(\$1,\s*\$2,\s*\$3\)`).
		WithArgs("Site", 200, int64(5)).
		WillReturnError(errors.New("db down"))

	r := NewSQLRepository(db, dbx.Postgres())
	err = r.Save(context.Background(), &models.SyncCheckpoint{ObjectType: "Site", Offset: 200, UpdatedAt: 5})
	require.ErrorContains(t, err, "failed to save checkpoint for Site")
	require.NoError(t, mock.ExpectationsWereMet())
}
