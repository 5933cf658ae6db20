package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-sync/internal/job"
	"github.com/market-sync/internal/ratelimit"
	"github.com/market-sync/internal/storage"
	"github.com/market-sync/internal/types"
)

type staticRegions []int32

func (r staticRegions) ListRegionIDs(context.Context) ([]int32, error) { return r, nil }

type fakeSyncer struct {
	mu      sync.Mutex
	calls   []int32
	typeIDs []*int32
	hook    func()
	err     error
}

func (f *fakeSyncer) SyncRegion(_ context.Context, regionID int32, typeID *int32) (*SyncResult, error) {
	if f.hook != nil {
		f.hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, regionID)
	f.typeIDs = append(f.typeIDs, typeID)
	return &SyncResult{RegionID: regionID}, f.err
}

type fakeHistoryUpdater struct {
	calls      []int32
	priorities []ratelimit.Priority
}

func (f *fakeHistoryUpdater) UpdateRegion(ctx context.Context, regionID int32) (*HistoryResult, error) {
	f.calls = append(f.calls, regionID)
	f.priorities = append(f.priorities, ratelimit.PriorityFrom(ctx))
	return &HistoryResult{RegionID: regionID}, nil
}

type orchestratorFixture struct {
	orch    *FetchOrchestrator
	lock    *storage.RedisStore
	queue   *job.RedisQueue
	syncer  *fakeSyncer
	history *fakeHistoryUpdater
	mr      *miniredis.Miniredis
}

func newOrchestratorFixture(t *testing.T, regions ...int32) *orchestratorFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &orchestratorFixture{
		lock:    storage.NewRedisStoreFromClient(client),
		queue:   job.NewRedisQueue(client, ""),
		syncer:  &fakeSyncer{},
		history: &fakeHistoryUpdater{},
		mr:      mr,
	}
	f.orch = NewFetchOrchestrator(OrchestratorConfig{FanOutLockTTL: 5 * time.Minute},
		f.lock, f.queue, staticRegions(regions), f.syncer, f.history)
	return f
}

func (f *orchestratorFixture) drain(t *testing.T) []*job.Job {
	t.Helper()
	var out []*job.Job
	for {
		n, err := f.queue.Len(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return out
		}
		j, err := f.queue.Dequeue(context.Background(), time.Second)
		require.NoError(t, err)
		out = append(out, j)
	}
}

func TestRunAll_EnqueuesOneJobPerRegion(t *testing.T) {
	f := newOrchestratorFixture(t, 10000002, 10000043, 10000030)

	res, err := f.orch.RunAll(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 3, res.Enqueued)

	jobs := f.drain(t)
	require.Len(t, jobs, 3)
	for i, want := range []int32{10000002, 10000043, 10000030} {
		assert.Equal(t, want, jobs[i].RegionID)
		assert.Equal(t, types.JobOrders, jobs[i].Kind)
	}

	held, err := f.lock.Held(context.Background(), "lock:fetch_all_regions_orders")
	require.NoError(t, err)
	assert.False(t, held, "lock is released after dispatch")
}

func TestRunAll_SkipsWhenLockHeld(t *testing.T) {
	f := newOrchestratorFixture(t, 10000002)
	other := storage.NewRedisStoreFromClient(f.lock.Client())

	_, ok, err := other.TryAcquire(context.Background(), "lock:fetch_all_regions_orders", 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.orch.RunAll(context.Background())
	require.NoError(t, err, "contention is not an error")
	assert.True(t, res.Skipped)
	assert.Empty(t, f.drain(t))

	// A crashed holder's lock expires after the interval.
	f.mr.FastForward(6 * time.Minute)
	res, err = f.orch.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)
}

func TestRunHistoryAll(t *testing.T) {
	f := newOrchestratorFixture(t, 10000002, 10000043)

	res, err := f.orch.RunHistoryAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Enqueued)

	for _, j := range f.drain(t) {
		assert.Equal(t, types.JobHistory, j.Kind)
		require.NoError(t, f.orch.HandleJob(context.Background(), j))
	}
	assert.Equal(t, []int32{10000002, 10000043}, f.history.calls)
	assert.Equal(t, []ratelimit.Priority{ratelimit.PriorityLow, ratelimit.PriorityLow}, f.history.priorities)
}

func TestRefreshRegion(t *testing.T) {
	f := newOrchestratorFixture(t)
	typeID := int32(34)

	j, err := f.orch.RefreshRegion(context.Background(), 10000002, &typeID)
	require.NoError(t, err)

	jobs := f.drain(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, j.ID, jobs[0].ID)
	require.NotNil(t, jobs[0].TypeID)
	assert.Equal(t, int32(34), *jobs[0].TypeID)

	_, err = f.orch.RefreshRegion(context.Background(), 0, nil)
	require.Error(t, err)
	bad := int32(-1)
	_, err = f.orch.RefreshRegion(context.Background(), 10000002, &bad)
	require.Error(t, err)
}

func TestHandleJob_RegionLockSerializesSyncs(t *testing.T) {
	f := newOrchestratorFixture(t)
	j := job.NewOrdersJob(10000002, nil)

	// While the first sync runs, a second job for the same region is dropped.
	f.syncer.hook = func() {
		f.syncer.hook = nil
		require.NoError(t, f.orch.HandleJob(context.Background(), job.NewOrdersJob(10000002, nil)))
	}
	require.NoError(t, f.orch.HandleJob(context.Background(), j))
	assert.Equal(t, []int32{10000002}, f.syncer.calls)

	held, err := f.lock.Held(context.Background(), RegionLockKey(10000002))
	require.NoError(t, err)
	assert.False(t, held)

	// Once released, the region can sync again.
	require.NoError(t, f.orch.HandleJob(context.Background(), j))
	assert.Len(t, f.syncer.calls, 2)
}

func TestHandleJob_OverrunningSyncKeepsSuccessorLock(t *testing.T) {
	f := newOrchestratorFixture(t)
	key := RegionLockKey(10000002)

	// The sync outlives its lock and another worker takes the region.
	var successor string
	f.syncer.hook = func() {
		f.mr.FastForward(6 * time.Minute)
		token, ok, err := f.lock.TryAcquire(context.Background(), key, 5*time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		successor = token
	}
	require.NoError(t, f.orch.HandleJob(context.Background(), job.NewOrdersJob(10000002, nil)))

	held, err := f.lock.Held(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, held, "finishing the overrun sync must not free the successor's lock")

	require.NoError(t, f.lock.Release(context.Background(), key, successor))
}

func TestHandleJob_PropagatesSyncError(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.syncer.err = errors.New("page 1 failed")

	err := f.orch.HandleJob(context.Background(), job.NewOrdersJob(10000002, nil))
	require.Error(t, err)

	held, herr := f.lock.Held(context.Background(), RegionLockKey(10000002))
	require.NoError(t, herr)
	assert.False(t, held, "lock released on failure")
}

func TestHandleJob_UnknownKind(t *testing.T) {
	f := newOrchestratorFixture(t)
	err := f.orch.HandleJob(context.Background(), &job.Job{ID: "x", Kind: "bogus", RegionID: 1})
	require.Error(t, err)
}
