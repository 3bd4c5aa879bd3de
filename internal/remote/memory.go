package remote

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/models"
)

// Query is one QueryPage call observed by Memory.
type Query struct {
	ObjectType string
	Filters    []Filter
	OrderBy    OrderBy
	Offset     int
	Limit      int
}

// Memory is an in-process Client over a fixed record set. It backs tests
// and dry runs.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]*models.Record
	schemas map[string][]models.FieldDefinition
	queries []Query

	// Now stamps last_modified_time on UpdateRecord.
	Now func() time.Time
	// QueryHook, when set, may fail a QueryPage call.
	QueryHook func(q Query) error
}

func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string][]*models.Record),
		schemas: make(map[string][]models.FieldDefinition),
		Now:     time.Now,
	}
}

// Put inserts records, replacing any existing record with the same id.
func (m *Memory) Put(objectType string, recs ...*models.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.putLocked(objectType, r.Clone())
	}
}

func (m *Memory) putLocked(objectType string, r *models.Record) {
	list := m.objects[objectType]
	for i, existing := range list {
		if existing.ID() == r.ID() {
			list[i] = r
			return
		}
	}
	m.objects[objectType] = append(list, r)
}

// SetSchema makes DescribeSchema succeed for objectType.
func (m *Memory) SetSchema(objectType string, fields []models.FieldDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[objectType] = fields
}

// Queries returns the QueryPage calls seen so far.
func (m *Memory) Queries() []Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Query(nil), m.queries...)
}

func (m *Memory) QueryPage(ctx context.Context, objectType string, filters []Filter, orderBy OrderBy, offset, limit int) (*Page, error) {
	q := Query{ObjectType: objectType, Filters: filters, OrderBy: orderBy, Offset: offset, Limit: limit}

	m.mu.Lock()
	m.queries = append(m.queries, q)
	hook := m.QueryHook
	var matched []*models.Record
	for _, r := range m.objects[objectType] {
		if matchAll(r, filters) {
			matched = append(matched, r.Clone())
		}
	}
	m.mu.Unlock()

	if hook != nil {
		if err := hook(q); err != nil {
			return nil, err
		}
	}

	if orderBy.Field != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			c := compare(fieldValue(matched[i], orderBy.Field), fieldValue(matched[j], orderBy.Field))
			if c == 0 {
				c = compare(models.String(matched[i].ID()), models.String(matched[j].ID()))
			}
			if orderBy.Ascending {
				return c < 0
			}
			return c > 0
		})
	}

	page := &Page{Total: len(matched)}
	if offset < len(matched) {
		end := len(matched)
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		page.Records = matched[offset:end]
	}
	return page, nil
}

func (m *Memory) DescribeSchema(ctx context.Context, objectType string) ([]models.FieldDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields, ok := m.schemas[objectType]
	if !ok {
		return nil, common.ErrSchemaUnsupported
	}
	return append([]models.FieldDefinition(nil), fields...), nil
}

func (m *Memory) GetRecord(ctx context.Context, objectType, id string) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.objects[objectType] {
		if r.ID() == id {
			return r.Clone(), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *Memory) UpdateRecord(ctx context.Context, objectType, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.objects[objectType] {
		if r.ID() != id {
			continue
		}
		for k, v := range fields {
			r.Set(k, models.FromAny(v))
		}
		r.Set(common.FieldLastModifiedTime, models.Int(m.Now().UnixMilli()))
		return nil
	}
	return common.ErrorNotFound
}

func fieldValue(r *models.Record, field string) models.Value {
	v, _ := r.Get(field)
	return v
}

func matchAll(r *models.Record, filters []Filter) bool {
	for _, f := range filters {
		got := fieldValue(r, f.Field)
		want := models.FromAny(f.Value)
		switch f.Op {
		case OpEQ:
			if compare(got, want) != 0 {
				return false
			}
		case OpNEQ:
			if compare(got, want) == 0 {
				return false
			}
		case OpGTE:
			if got.IsNull() || compare(got, want) < 0 {
				return false
			}
		}
	}
	return true
}

// compare orders numbers numerically and everything else by text.
func compare(a, b models.Value) int {
	af, aok := number(a)
	bf, bok := number(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	at, bt := a.Text(), b.Text()
	switch {
	case at < bt:
		return -1
	case at > bt:
		return 1
	}
	return 0
}

func number(v models.Value) (float64, bool) {
	switch v.Kind() {
	case models.KindNumber:
		lit, _ := v.Literal()
		f, err := strconv.ParseFloat(lit, 64)
		return f, err == nil
	case models.KindBool:
		if b, _ := v.BoolValue(); b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

var _ Client = (*Memory)(nil)
