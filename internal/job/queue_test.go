package job

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-sync/internal/types"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, ""), mr, client
}

func TestRedisQueue_FIFO(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	typeID := int32(34)
	first := NewOrdersJob(10000002, nil)
	second := NewOrdersJob(10000043, &typeID)
	third := NewHistoryJob(10000002)
	for _, j := range []*Job{first, second, third} {
		require.NoError(t, q.Enqueue(ctx, j))
	}

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, types.JobOrders, got.Kind)
	assert.Nil(t, got.TypeID)

	got, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	require.NotNil(t, got.TypeID)
	assert.Equal(t, int32(34), *got.TypeID)

	got, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.JobHistory, got.Kind)
	assert.Equal(t, int32(10000002), got.RegionID)
}

func TestRedisQueue_RejectsMalformedJobs(t *testing.T) {
	q, _, client := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, client.LPush(ctx, DefaultQueueKey, "not json").Err())
	_, err := q.Dequeue(ctx, time.Second)
	require.Error(t, err)

	require.NoError(t, client.LPush(ctx, DefaultQueueKey, `{"id":"x","kind":"bogus","region_id":1}`).Err())
	_, err = q.Dequeue(ctx, time.Second)
	require.Error(t, err)
}

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{"valid orders", Job{ID: "a", Kind: types.JobOrders, RegionID: 1}, false},
		{"valid history", Job{ID: "a", Kind: types.JobHistory, RegionID: 1}, false},
		{"missing id", Job{Kind: types.JobOrders, RegionID: 1}, true},
		{"unknown kind", Job{ID: "a", Kind: "snapshot", RegionID: 1}, true},
		{"missing region", Job{ID: "a", Kind: types.JobOrders}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
