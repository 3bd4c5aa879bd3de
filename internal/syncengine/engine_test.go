package syncengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/crmsync/internal/catalog"
	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/logging"
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/normalize"
	"github.com/dmitrijs2005/crmsync/internal/remote"
	"github.com/dmitrijs2005/crmsync/internal/repositories/repomanager"
	"github.com/dmitrijs2005/crmsync/internal/schema"
	"github.com/dmitrijs2005/crmsync/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.UnixMilli(1_700_000_000_000)

type fixture struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	remote  *remote.Memory
	cat     *catalog.Catalog
	evolver *schema.Evolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, d := storetest.Open(t)
	repos := repomanager.NewRepositoryManager(d)
	cat := catalog.Default()
	rc := remote.NewMemory()
	ev := schema.NewEvolver(db, repos, rc, cat, normalize.New(cat.Mappings()), logging.NewDiscard())
	return &fixture{db: db, repos: repos, remote: rc, cat: cat, evolver: ev}
}

// engine wires the real validator and evolver.
func (f *fixture) engine(opts Options) *Engine {
	v := schema.NewValidator(f.db, f.repos, f.evolver, f.cat, time.Hour, logging.NewDiscard())
	return f.engineWith(v, f.evolver, opts)
}

func (f *fixture) engineWith(v Validator, d DriftResolver, opts Options) *Engine {
	e := NewEngine(f.db, f.repos, f.remote, f.cat, normalize.New(f.cat.Mappings()), v, d, logging.NewDiscard(), opts)
	e.SetClock(func() time.Time { return t0 })
	return e
}

// tableOnly creates the table with the baseline columns and never looks at
// the remote.
type tableOnly struct{ f *fixture }

func (v tableOnly) Validate(ctx context.Context, objectType string) (*schema.ValidationReport, error) {
	ot, err := v.f.cat.Lookup(objectType)
	if err != nil {
		return nil, err
	}
	recs := v.f.repos.Records(v.f.db)
	if err := recs.EnsureTable(ctx, ot.Table); err != nil {
		return nil, err
	}
	for _, fd := range ot.Baseline {
		if _, err := recs.AddColumn(ctx, ot.Table, fd.APIName, fd.CoarseType); err != nil {
			return nil, err
		}
	}
	return &schema.ValidationReport{ObjectType: objectType, Table: ot.Table}, nil
}

type failingDrift struct{}

func (failingDrift) EvolveForRecord(context.Context, string, string, *models.Record) ([]string, error) {
	return nil, errors.New("ddl refused")
}

type captureReporter struct{ logs []*models.SyncLog }

func (c *captureReporter) Report(_ context.Context, l *models.SyncLog) error {
	c.logs = append(c.logs, l)
	return errors.New("bucket unavailable")
}

func site(id string, modified int64, extra string) *models.Record {
	js := fmt.Sprintf(`{"_id":%q,"name":"Site %s","last_modified_time":%d,"is_deleted":false%s}`, id, id, modified, extra)
	var r models.Record
	if err := r.UnmarshalJSON([]byte(js)); err != nil {
		panic(err)
	}
	return &r
}

func (f *fixture) putSites(n int) {
	for i := 1; i <= n; i++ {
		f.remote.Put("Site", site(fmt.Sprintf("s%d", i), int64(i)*100, ""))
	}
}

func (f *fixture) syncLog(t *testing.T, id string) *models.SyncLog {
	t.Helper()
	l, err := f.repos.SyncLogs(f.db).Get(context.Background(), id)
	require.NoError(t, err)
	return l
}

func TestRunIncremental_SiteGainsShiftTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.Put("Site", site("s1", 100, `,"shift_time__c":"A12"`))

	res, err := f.engine(Options{}).RunIncremental(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 0, res.ErrorCount)
	assert.True(t, res.IsCompleted)

	row, err := f.repos.Records(f.db).Get(ctx, "sites", "s1")
	require.NoError(t, err)
	v, ok := row.Fields.Get("shift_time__c")
	require.True(t, ok)
	assert.Equal(t, "A12", v.Text())
	assert.EqualValues(t, 1, row.SyncVersion)

	l := f.syncLog(t, res.SyncID)
	assert.Equal(t, models.SyncCompleted, l.Status)
	assert.Equal(t, models.ModeIncremental, l.Mode)
	assert.True(t, l.BacklogDrained)
	assert.Equal(t, t0.UnixMilli(), l.Watermark)
	assert.Equal(t, 1, l.RecordsCount)
}

func TestRunFull_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putSites(3)
	e := f.engine(Options{PageSize: 2})

	first, err := e.RunFull(ctx, "Site", FullOptions{})
	require.NoError(t, err)
	second, err := e.RunFull(ctx, "Site", FullOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, first.SuccessCount)
	assert.Equal(t, 3, second.SuccessCount)
	assert.Equal(t, 2, second.Batches)

	var n int
	require.NoError(t, f.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "sites"`).Scan(&n))
	assert.Equal(t, 3, n)

	row, err := f.repos.Records(f.db).Get(ctx, "sites", "s2")
	require.NoError(t, err)
	name, _ := row.Fields.Get("name")
	assert.Equal(t, "Site s2", name.Text())
	assert.EqualValues(t, 2, row.SyncVersion)
}

func TestRunFull_ResumesFromCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putSites(5)
	e := f.engine(Options{PageSize: 2, MaxBatches: 1})
	cps := f.repos.Checkpoints(f.db)

	res, err := e.RunFull(ctx, "Site", FullOptions{Resume: true})
	require.NoError(t, err)
	assert.False(t, res.IsCompleted)
	assert.Equal(t, 2, res.NextOffset)
	cp, err := cps.Get(ctx, "Site")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.Offset)

	l := f.syncLog(t, res.SyncID)
	assert.False(t, l.BacklogDrained)
	assert.Zero(t, l.Watermark)

	res, err = e.RunFull(ctx, "Site", FullOptions{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 4, res.NextOffset)

	res, err = e.RunFull(ctx, "Site", FullOptions{Resume: true})
	require.NoError(t, err)
	assert.True(t, res.IsCompleted)
	assert.Equal(t, 1, res.SuccessCount)
	cp, err = cps.Get(ctx, "Site")
	require.NoError(t, err)
	assert.Nil(t, cp)

	var offsets []int
	for _, q := range f.remote.Queries() {
		if q.ObjectType == "Site" && q.OrderBy.Field == common.FieldID {
			offsets = append(offsets, q.Offset)
		}
	}
	assert.Equal(t, []int{0, 2, 4}, offsets)
}

func TestRunFull_WithoutResumeStartsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putSites(3)
	require.NoError(t, f.repos.Checkpoints(f.db).Save(ctx, &models.SyncCheckpoint{ObjectType: "Site", Offset: 2}))

	res, err := f.engine(Options{PageSize: 10}).RunFull(ctx, "Site", FullOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessCount)
}

func TestRunIncremental_WatermarkFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putSites(3)
	e := f.engine(Options{PageSize: 2, MaxBatches: 1})

	// budget-stopped run advances the watermark to the last processed record
	res, err := e.RunIncremental(ctx, "Site")
	require.NoError(t, err)
	assert.False(t, res.IsCompleted)
	assert.Equal(t, int64(200), f.syncLog(t, res.SyncID).Watermark)

	res, err = f.engine(Options{PageSize: 2}).RunIncremental(ctx, "Site")
	require.NoError(t, err)
	assert.True(t, res.IsCompleted)
	// s2 is re-fetched at the boundary, s3 is new
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 2, res.Batches)

	qs := f.remote.Queries()
	last := qs[len(qs)-1]
	assert.Equal(t, 2, last.Offset)
	assert.Equal(t, common.FieldLastModifiedTime, last.OrderBy.Field)
	require.Len(t, last.Filters, 2)
	assert.Equal(t, remote.Filter{Field: common.FieldLastModifiedTime, Op: remote.OpGTE, Value: int64(200)}, last.Filters[0])
	assert.Equal(t, remote.Filter{Field: common.FieldIsDeleted, Op: remote.OpNEQ, Value: true}, last.Filters[1])

	wm, ok, err := f.repos.SyncLogs(f.db).Watermark(ctx, "Site")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0.UnixMilli(), wm)
}

func TestRunIncremental_WatermarkNeverMovesBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putSites(1)

	_, err := f.engine(Options{}).RunIncremental(ctx, "Site")
	require.NoError(t, err)

	// an older record arriving later does not pull the watermark back
	f.remote.Put("Site", site("late", 50, ""))
	e := f.engine(Options{PageSize: 1, MaxBatches: 1})
	_, err = e.RunIncremental(ctx, "Site")
	require.NoError(t, err)

	wm, _, err := f.repos.SyncLogs(f.db).Watermark(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, t0.UnixMilli(), wm)
}

func TestRunIncremental_TimeBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putSites(6)
	e := f.engine(Options{PageSize: 2, TimeBudget: 50 * time.Second})
	tick := t0
	e.SetClock(func() time.Time {
		tick = tick.Add(20 * time.Second)
		return tick
	})

	res, err := e.RunIncremental(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Batches)
	assert.False(t, res.IsCompleted)
	assert.Equal(t, 2, res.NextOffset)
}

func TestRun_PartialFailureIsCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.Put("Site", site("s1", 100, ""))
	f.remote.Put("Site", site("s2", 200, `,"surprise__c":"x"`))
	f.remote.Put("Site", site("s3", 300, ""))
	rep := &captureReporter{}
	e := f.engineWith(tableOnly{f}, failingDrift{}, Options{})
	e.SetReporter(rep)

	res, err := e.RunIncremental(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalProcessed)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.ErrorCount)

	l := f.syncLog(t, res.SyncID)
	assert.Equal(t, models.SyncCompleted, l.Status)
	assert.Equal(t, 1, l.ErrorCount)
	assert.Contains(t, l.Details, "s2")
	require.Len(t, rep.logs, 1)
	assert.Equal(t, res.SyncID, rep.logs[0].SyncID)
}

func TestRun_DriftIsEvolvedAndRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.Put("Site", site("s1", 100, `,"surprise__c":"x"`))

	res, err := f.engineWith(tableOnly{f}, f.evolver, Options{}).RunIncremental(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)

	row, err := f.repos.Records(f.db).Get(ctx, "sites", "s1")
	require.NoError(t, err)
	v, _ := row.Fields.Get("surprise__c")
	assert.Equal(t, "x", v.Text())
}

func TestRun_PageFailureMarksLogFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putSites(4)
	f.remote.QueryHook = func(q remote.Query) error {
		if q.Offset >= 2 {
			return &common.TransientError{Err: errors.New("gateway timeout")}
		}
		return nil
	}

	res, err := f.engine(Options{PageSize: 2}).RunFull(ctx, "Site", FullOptions{Resume: true})
	require.Error(t, err)
	assert.True(t, common.IsTransient(err))
	require.NotNil(t, res)
	assert.Equal(t, 2, res.SuccessCount)

	l := f.syncLog(t, res.SyncID)
	assert.Equal(t, models.SyncFailed, l.Status)
	assert.Contains(t, l.Details, "fetch offset 2")
	assert.Contains(t, l.Details, "gateway timeout")

	// the checkpoint from the good batch survives for the next resume
	cp, err := f.repos.Checkpoints(f.db).Get(ctx, "Site")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.Offset)

	_, ok, err := f.repos.SyncLogs(f.db).Watermark(ctx, "Site")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRun_UnknownObjectTypeRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine(Options{}).RunIncremental(context.Background(), "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestDemoteStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	logs := f.repos.SyncLogs(f.db)
	require.NoError(t, logs.Create(ctx, &models.SyncLog{
		SyncID: "old", ObjectType: "Site", Mode: models.ModeFull,
		Status: models.SyncInProgress, StartedAt: t0.Add(-2 * time.Hour).UnixMilli(),
	}))
	require.NoError(t, logs.Create(ctx, &models.SyncLog{
		SyncID: "fresh", ObjectType: "Site", Mode: models.ModeFull,
		Status: models.SyncInProgress, StartedAt: t0.Add(-time.Minute).UnixMilli(),
	}))

	n, err := f.engine(Options{}).DemoteStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, models.SyncFailed, f.syncLog(t, "old").Status)
	assert.Equal(t, models.SyncInProgress, f.syncLog(t, "fresh").Status)
}
