package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/crmsync/internal/catalog"
	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/locks"
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

type fixture struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	remote *remote.Memory
	cat    *catalog.Catalog
	locks  *locks.Manager
	rec    *Reconciler
	ev     *schema.Evolver
	clock  time.Time
}

// newFixture mirrors one Site record, last modified remotely at 1000, into
// the local store.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, d := storetest.Open(t)
	repos := repomanager.NewRepositoryManager(d)
	cat := catalog.Default()
	n := normalize.New(cat.Mappings())
	f := &fixture{db: db, repos: repos, remote: remote.NewMemory(), cat: cat, clock: time.UnixMilli(2000)}
	f.remote.Now = func() time.Time { return time.UnixMilli(5000) }
	f.locks = locks.NewManager(db, repos, 0, logging.NewDiscard())
	f.locks.SetClock(f.now)
	f.ev = schema.NewEvolver(db, repos, f.remote, cat, n, logging.NewDiscard())
	f.rec = NewReconciler(db, repos, f.remote, cat, n, DefaultPolicies(), f.locks, logging.NewDiscard())
	f.rec.SetClock(f.now)
	f.rec.SetDriftResolver(f.ev)

	f.remote.Put("Site", site(t, "s1", 1000, `"name":"Depot","address__c":"Main St","shift_time__c":"A12","site_code__c":"S-1"`))
	ctx := context.Background()
	_, err := f.ev.CompareAndEvolve(ctx, "Site")
	require.NoError(t, err)
	res, err := f.rec.SyncRemoteToLocal(ctx, "Site")
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)
	return f
}

func (f *fixture) now() time.Time { return f.clock }

func site(t *testing.T, id string, modified int64, fields string) *models.Record {
	t.Helper()
	var r models.Record
	require.NoError(t, r.UnmarshalJSON([]byte(fmt.Sprintf(`{"_id":%q,"last_modified_time":%d,%s}`, id, modified, fields))))
	return &r
}

func (f *fixture) local(t *testing.T, id, field string) string {
	t.Helper()
	row, err := f.repos.Records(f.db).Get(context.Background(), "sites", id)
	require.NoError(t, err)
	v, _ := row.Fields.Get(field)
	return v.Text()
}

func (f *fixture) remoteValue(t *testing.T, id, field string) string {
	t.Helper()
	rec, err := f.remote.GetRecord(context.Background(), "Site", id)
	require.NoError(t, err)
	v, _ := rec.Get(field)
	return v.Text()
}

func (f *fixture) pending(t *testing.T, id string) map[string]models.PendingEdit {
	t.Helper()
	row, err := f.repos.Records(f.db).Get(context.Background(), "sites", id)
	require.NoError(t, err)
	return row.Edits
}

func TestSyncRemoteToLocal_InsertsAndSetsMarker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.Equal(t, "Depot", f.local(t, "s1", "name"))

	raw, err := f.repos.Metadata(f.db).Get(ctx, MarkerKey("Site"))
	require.NoError(t, err)
	assert.Equal(t, "1000", string(raw))

	res, err := f.rec.SyncRemoteToLocal(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Zero(t, res.Updated)

	qs := f.remote.Queries()
	last := qs[len(qs)-1]
	require.Len(t, last.Filters, 1)
	assert.Equal(t, int64(1000), last.Filters[0].Value)
}

func TestRoleEditableField_PushedWhenChangedLocally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"shift_time__c": "B07"})
	require.NoError(t, err)
	assert.Equal(t, []string{"shift_time__c"}, res.Pending)
	assert.Equal(t, "B07", f.local(t, "s1", "shift_time__c"))

	push, err := f.rec.SyncLocalToRemote(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, push.Pushed)
	assert.Equal(t, 1, push.FieldsPushed)
	assert.Equal(t, "B07", f.remoteValue(t, "s1", "shift_time__c"))
	assert.Empty(t, f.pending(t, "s1"))

	entries, err := f.repos.AuditLog(f.db).ListForRecord(ctx, "Site", "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "local_edit", entries[0].Action)
	assert.Equal(t, "push", entries[1].Action)
	assert.Equal(t, "dana", entries[1].Actor)
}

func TestRoleEditableField_RemoteChangeIsNeitherPushedNorPulled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.remote.UpdateRecord(ctx, "Site", "s1", map[string]any{"shift_time__c": "Z99"}))

	push, err := f.rec.SyncLocalToRemote(ctx, "Site")
	require.NoError(t, err)
	assert.Zero(t, push.Rows)
	assert.Zero(t, push.Pushed)

	pull, err := f.rec.SyncRemoteToLocal(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, pull.Updated)
	assert.Equal(t, "A12", f.local(t, "s1", "shift_time__c"))
	assert.Equal(t, "5000", f.local(t, "s1", "last_modified_time"))
}

func TestApplyLocalEdit_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"site_code__c": "X"})
	assert.ErrorIs(t, err, common.ErrEditNotPermitted)

	_, err = f.rec.ApplyLocalEdit(ctx, "Site", "s1", "sam", "site_manager", map[string]any{"shift_time__c": "X"})
	assert.ErrorIs(t, err, common.ErrEditNotPermitted)

	_, err = f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"sync_version": 9})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.rec.ApplyLocalEdit(ctx, "Site", "nope", "dana", "dispatcher", map[string]any{"name": "X"})
	assert.ErrorIs(t, err, common.ErrorNotFound)

	lock, err := f.locks.Acquire(ctx, "Site", "s1", "sam", "site_manager")
	require.NoError(t, err)
	require.True(t, lock.Success)
	_, err = f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"name": "X"})
	assert.ErrorIs(t, err, common.ErrEditNotPermitted)
	assert.Contains(t, err.Error(), "sam")

	assert.Equal(t, "Depot", f.local(t, "s1", "name"))
}

func TestApplyLocalEdit_LocalOnlyIsNeverQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.repos.Records(f.db).AddColumn(ctx, "sites", "local_notes", models.TypeText)
	require.NoError(t, err)

	res, err := f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"local_notes": "gate code 4411"})
	require.NoError(t, err)
	assert.Empty(t, res.Pending)
	assert.Equal(t, []string{"local_notes"}, res.LocalOnly)
	assert.Equal(t, "gate code 4411", f.local(t, "s1", "local_notes"))

	push, err := f.rec.SyncLocalToRemote(ctx, "Site")
	require.NoError(t, err)
	assert.Zero(t, push.Rows)
}

func TestBidirectional_LocalNewerPushes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"name": "Depot North"})
	require.NoError(t, err)
	push, err := f.rec.SyncLocalToRemote(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, push.Pushed)
	assert.Equal(t, "Depot North", f.remoteValue(t, "s1", "name"))
}

func TestBidirectional_RemoteNewerPulls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock = time.UnixMilli(500)

	_, err := f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"name": "Stale"})
	require.NoError(t, err)
	push, err := f.rec.SyncLocalToRemote(ctx, "Site")
	require.NoError(t, err)
	assert.Zero(t, push.Pushed)
	assert.Equal(t, 1, push.FieldsPulled)
	assert.Equal(t, "Depot", f.remoteValue(t, "s1", "name"))
	assert.Equal(t, "Depot", f.local(t, "s1", "name"))
	assert.Empty(t, f.pending(t, "s1"))
}

func TestBidirectional_TieIsRecordedNotPushed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock = time.UnixMilli(1000)

	_, err := f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"name": "Depot Tie"})
	require.NoError(t, err)
	push, err := f.rec.SyncLocalToRemote(ctx, "Site")
	require.NoError(t, err)
	assert.Zero(t, push.Pushed)
	assert.Equal(t, 1, push.Conflicts)
	assert.Equal(t, "Depot", f.remoteValue(t, "s1", "name"))

	conflicts, err := f.repos.Conflicts(f.db).List(ctx, "sites")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "name", conflicts[0].Field)
	assert.Equal(t, "Depot Tie", conflicts[0].LocalValue)
	assert.Equal(t, "Depot", conflicts[0].RemoteValue)
	assert.Equal(t, ResolutionSkippedTie, conflicts[0].Resolution)
}

func TestBidirectional_FieldsWonByOppositeSides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock = time.UnixMilli(500)
	_, err := f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"address__c": "Old Rd"})
	require.NoError(t, err)
	f.clock = time.UnixMilli(2000)
	_, err = f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"name": "Depot East"})
	require.NoError(t, err)

	push, err := f.rec.SyncLocalToRemote(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, push.FieldsPushed)
	assert.Equal(t, 1, push.FieldsPulled)
	assert.Equal(t, "Depot East", f.remoteValue(t, "s1", "name"))
	assert.Equal(t, "Main St", f.remoteValue(t, "s1", "address__c"))
	assert.Equal(t, "Main St", f.local(t, "s1", "address__c"))
}

func TestSyncRemoteToLocal_KeepsNewerLocalEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.Now = func() time.Time { return time.UnixMilli(1500) }
	require.NoError(t, f.remote.UpdateRecord(ctx, "Site", "s1", map[string]any{"address__c": "Harbour Way"}))

	_, err := f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"name": "Depot West"})
	require.NoError(t, err)

	pull, err := f.rec.SyncRemoteToLocal(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, pull.Updated)
	assert.Equal(t, "Depot West", f.local(t, "s1", "name"))
	assert.Equal(t, "Harbour Way", f.local(t, "s1", "address__c"))
	assert.Contains(t, f.pending(t, "s1"), "name")
}

func TestSyncLocalToRemote_SkipsLockedAndMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"name": "Depot Locked"})
	require.NoError(t, err)
	_, err = f.locks.Acquire(ctx, "Site", "s1", "sam", "site_manager")
	require.NoError(t, err)

	push, err := f.rec.SyncLocalToRemote(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, push.Skipped)
	assert.Contains(t, f.pending(t, "s1"), "name")

	_, err = f.locks.Release(ctx, "Site", "s1", "sam")
	require.NoError(t, err)

	// the same store against a remote that no longer has the record
	gone := NewReconciler(f.db, f.repos, remote.NewMemory(), f.cat, normalize.New(f.cat.Mappings()),
		DefaultPolicies(), f.locks, logging.NewDiscard())
	push, err = gone.SyncLocalToRemote(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, push.Skipped)
	assert.Zero(t, push.Errors)
	assert.Empty(t, f.pending(t, "s1"))
}

func TestSyncRemoteToLocal_EvolvesNewColumns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.Put("Site", site(t, "s2", 3000, `"name":"Yard","gate_hours__c":"06-22"`))

	pull, err := f.rec.SyncRemoteToLocal(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, pull.Inserted)
	assert.Zero(t, pull.Errors)
	assert.Equal(t, "06-22", f.local(t, "s2", "gate_hours__c"))
}

func TestBidirectional_DigitStringsAreNotNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.remote.UpdateRecord(ctx, "Site", "s1", map[string]any{"address__c": "02134"}))
	_, err := f.rec.SyncRemoteToLocal(ctx, "Site")
	require.NoError(t, err)
	require.Equal(t, "02134", f.local(t, "s1", "address__c"))

	f.clock = time.UnixMilli(6000)
	_, err = f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"address__c": "2134"})
	require.NoError(t, err)

	push, err := f.rec.SyncLocalToRemote(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, push.Pushed)
	assert.Equal(t, "2134", f.remoteValue(t, "s1", "address__c"))
	assert.Empty(t, f.pending(t, "s1"))
}

// editingRemote runs edit once, between the push reading the pending edits
// and settling them.
type editingRemote struct {
	*remote.Memory
	edit func()
}

func (c *editingRemote) GetRecord(ctx context.Context, objectType, id string) (*models.Record, error) {
	if fn := c.edit; fn != nil {
		c.edit = nil
		fn()
	}
	return c.Memory.GetRecord(ctx, objectType, id)
}

func TestSyncLocalToRemote_KeepsEditMadeDuringPush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"name": "Depot One"})
	require.NoError(t, err)

	rc := &editingRemote{Memory: f.remote}
	rc.edit = func() {
		f.clock = time.UnixMilli(6000)
		_, err := f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"name": "Depot Two"})
		require.NoError(t, err)
	}
	pusher := NewReconciler(f.db, f.repos, rc, f.cat, normalize.New(f.cat.Mappings()),
		DefaultPolicies(), f.locks, logging.NewDiscard())
	pusher.SetClock(f.now)

	push, err := pusher.SyncLocalToRemote(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, push.Pushed)
	assert.Equal(t, "Depot One", f.remoteValue(t, "s1", "name"))
	assert.Equal(t, "Depot Two", f.local(t, "s1", "name"))
	pending := f.pending(t, "s1")
	require.Contains(t, pending, "name")
	assert.Equal(t, "Depot Two", pending["name"].Value.Text())

	push, err = pusher.SyncLocalToRemote(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, push.Pushed)
	assert.Equal(t, "Depot Two", f.remoteValue(t, "s1", "name"))
	assert.Empty(t, f.pending(t, "s1"))
}

func TestBidirectional_TieOnPullIsRecordedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock = time.UnixMilli(1000)
	f.remote.Now = func() time.Time { return time.UnixMilli(1000) }

	_, err := f.rec.ApplyLocalEdit(ctx, "Site", "s1", "dana", "dispatcher", map[string]any{"name": "Depot Local"})
	require.NoError(t, err)
	require.NoError(t, f.remote.UpdateRecord(ctx, "Site", "s1", map[string]any{"name": "Depot Remote"}))

	pull, err := f.rec.SyncRemoteToLocal(ctx, "Site")
	require.NoError(t, err)
	assert.Equal(t, 1, pull.Conflicts)
	assert.Equal(t, "Depot Local", f.local(t, "s1", "name"))
	assert.Empty(t, f.pending(t, "s1"))

	push, err := f.rec.SyncLocalToRemote(ctx, "Site")
	require.NoError(t, err)
	assert.Zero(t, push.Conflicts)
	assert.Equal(t, "Depot Remote", f.remoteValue(t, "s1", "name"))

	conflicts, err := f.repos.Conflicts(f.db).List(ctx, "sites")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "name", conflicts[0].Field)
}
