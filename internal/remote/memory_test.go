package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id string, modified int64, deleted bool) *models.Record {
	r := models.NewRecord()
	r.Set("_id", models.String(id))
	r.Set("last_modified_time", models.Int(modified))
	r.Set("is_deleted", models.Bool(deleted))
	return r
}

func ids(p *Page) []string {
	var out []string
	for _, r := range p.Records {
		out = append(out, r.ID())
	}
	return out
}

func TestMemory_QueryPage_FiltersOrderAndPaging(t *testing.T) {
	m := NewMemory()
	m.Put("Site", rec("c", 300, false), rec("a", 100, false), rec("b", 200, true), rec("d", 300, false))
	ctx := context.Background()

	filters := []Filter{{Field: "last_modified_time", Op: OpGTE, Value: int64(150)}, {Field: "is_deleted", Op: OpNEQ, Value: true}}
	order := OrderBy{Field: "last_modified_time", Ascending: true}

	p, err := m.QueryPage(ctx, "Site", filters, order, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, []string{"c"}, ids(p))

	p, err = m.QueryPage(ctx, "Site", filters, order, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(p))

	p, err = m.QueryPage(ctx, "Site", filters, order, 2, 1)
	require.NoError(t, err)
	assert.Empty(t, p.Records)

	p, err = m.QueryPage(ctx, "Site", []Filter{{Field: "_id", Op: OpEQ, Value: "b"}}, OrderBy{}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(p))

	assert.Len(t, m.Queries(), 4)
}

func TestMemory_QueryHook(t *testing.T) {
	m := NewMemory()
	m.QueryHook = func(q Query) error {
		if q.Offset > 0 {
			return &common.TransientError{Op: "query", Err: errors.New("boom")}
		}
		return nil
	}
	_, err := m.QueryPage(context.Background(), "Site", nil, OrderBy{}, 0, 10)
	require.NoError(t, err)
	_, err = m.QueryPage(context.Background(), "Site", nil, OrderBy{}, 10, 10)
	assert.True(t, common.IsTransient(err))
}

func TestMemory_GetUpdateDescribe(t *testing.T) {
	m := NewMemory()
	m.Now = func() time.Time { return time.UnixMilli(999) }
	m.Put("Site", rec("a", 100, false))
	ctx := context.Background()

	require.NoError(t, m.UpdateRecord(ctx, "Site", "a", map[string]any{"status__c": "closed"}))
	got, err := m.GetRecord(ctx, "Site", "a")
	require.NoError(t, err)
	v, _ := got.Get("status__c")
	assert.Equal(t, "closed", v.Text())
	assert.Equal(t, int64(999), got.ModifiedTime())

	_, err = m.GetRecord(ctx, "Site", "zzz")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.ErrorIs(t, m.UpdateRecord(ctx, "Site", "zzz", nil), common.ErrorNotFound)

	_, err = m.DescribeSchema(ctx, "Site")
	assert.ErrorIs(t, err, common.ErrSchemaUnsupported)
	m.SetSchema("Site", []models.FieldDefinition{{APIName: "name", CoarseType: models.TypeText}})
	fields, err := m.DescribeSchema(ctx, "Site")
	require.NoError(t, err)
	assert.Len(t, fields, 1)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := NewMemory()
	m.Put("Site", rec("a", 100, false))

	got, err := m.GetRecord(context.Background(), "Site", "a")
	require.NoError(t, err)
	got.Set("name", models.String("mutated"))

	again, err := m.GetRecord(context.Background(), "Site", "a")
	require.NoError(t, err)
	assert.False(t, again.Has("name"))
}
