package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBudget(t *testing.T, total, reserved int) *SharedBudget {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b, err := NewSharedBudget(&BudgetConfig{
		Redis:      client,
		Total:      total,
		Reserved:   reserved,
		WindowSize: time.Hour, // keep every call in one window
		KeyTTL:     2 * time.Hour,
	})
	require.NoError(t, err)
	return b
}

func TestNewSharedBudgetValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *BudgetConfig
		wantErr string
	}{
		{"nil config", nil, "configuration is required"},
		{"nil redis", &BudgetConfig{Total: 10}, "redis client is required"},
		{"zero total", &BudgetConfig{Redis: redis.NewClient(&redis.Options{}), Total: 0}, "total budget must be positive"},
		{"reserved above total", &BudgetConfig{Redis: redis.NewClient(&redis.Options{}), Total: 5, Reserved: 6}, "reserved budget"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSharedBudget(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLowPriorityCappedAtSharedPool(t *testing.T) {
	b := setupBudget(t, 10, 6)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		ok, _ := b.TryConsume(ctx, 1, PriorityLow)
		require.True(t, ok, "request %d", i)
	}
	ok, wait := b.TryConsume(ctx, 1, PriorityLow)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	// order sync still has headroom
	ok, _ = b.TryConsume(ctx, 1, PriorityHigh)
	assert.True(t, ok)
}

func TestHighPriorityCappedAtTotal(t *testing.T) {
	b := setupBudget(t, 3, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _ := b.TryConsume(ctx, 1, PriorityHigh)
		require.True(t, ok)
	}
	ok, _ := b.TryConsume(ctx, 1, PriorityHigh)
	assert.False(t, ok)

	usage, err := b.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, usage.TotalUsed)
	assert.Equal(t, 3, usage.ReservedUsed)
	assert.Equal(t, 0, usage.SharedUsed)
}

func TestWaitHonoursContext(t *testing.T) {
	b := setupBudget(t, 1, 0)
	ctx := WithPriority(context.Background(), PriorityLow)

	require.NoError(t, b.Wait(ctx))

	ctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Wait(ctx), context.DeadlineExceeded)
}

func TestPriorityFromDefaultsHigh(t *testing.T) {
	assert.Equal(t, PriorityHigh, PriorityFrom(context.Background()))
	assert.Equal(t, PriorityLow, PriorityFrom(WithPriority(context.Background(), PriorityLow)))
	assert.Equal(t, "low", PriorityLow.String())
}
