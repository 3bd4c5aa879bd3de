package fieldhistory

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendList(t *testing.T) {
	db, d := storetest.Open(t)
	r := NewSQLRepository(db, d)
	ctx := context.Background()

	require.NoError(t, r.Append(ctx, []models.FieldChange{
		{ObjectType: "Site", Table: "sites", Field: "shift_time__c", Change: models.FieldAdded, CoarseType: models.TypeText, ObservedAt: 10},
		{ObjectType: "Site", Table: "sites", Field: "legacy__c", Change: models.FieldExtra, ObservedAt: 20},
		{ObjectType: "AccountObj", Table: "account_obj", Field: "x", Change: models.FieldMissing, ObservedAt: 30},
	}))

	got, err := r.List(ctx, "Site", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "legacy__c", got[0].Field)
	assert.Equal(t, models.FieldAdded, got[1].Change)
	assert.Equal(t, models.TypeText, got[1].CoarseType)
}
