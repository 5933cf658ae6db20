package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-sync/internal/models"
)

func testOrder(id int64, price string, at time.Time) *models.MarketOrder {
	return &models.MarketOrder{
		OrderID:      id,
		TypeID:       34,
		RegionID:     testRegionID,
		Price:        decimal.RequireFromString(price),
		VolumeRemain: 100,
		Issued:       at.Add(-time.Hour),
		Duration:     90,
		MinVolume:    1,
		Range:        "region",
		LocationID:   60003760,
		SystemID:     30000142,
		UpdatedAt:    at,
	}
}

func TestOrderRepository_Reconcile(t *testing.T) {
	db := setupPostgres(t)
	repo := NewOrderRepository(db)
	ctx := testContext(t)

	first := time.Now().UTC().Truncate(time.Second)
	res, err := repo.Reconcile(ctx, ReconcilePlan{
		RegionID:    testRegionID,
		FetchStart:  first,
		Orders:      []*models.MarketOrder{testOrder(1, "10.00", first), testOrder(2, "11.50", first), testOrder(2, "11.50", first)},
		DeleteStale: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Upserted, "duplicate order ids collapse to one row")
	assert.Zero(t, res.Deleted)

	// Full refetch without order 2 deletes it.
	second := first.Add(5 * time.Minute)
	res, err = repo.Reconcile(ctx, ReconcilePlan{
		RegionID:    testRegionID,
		FetchStart:  second,
		Orders:      []*models.MarketOrder{testOrder(1, "9.99", second)},
		DeleteStale: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deleted)

	n, err := repo.CountByRegion(ctx, testRegionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Partial refetch with bump keeps rows behind unchanged pages.
	third := second.Add(5 * time.Minute)
	_, err = repo.Reconcile(ctx, ReconcilePlan{
		RegionID:     testRegionID,
		FetchStart:   third,
		Orders:       []*models.MarketOrder{testOrder(3, "12.00", third)},
		BumpExisting: true,
		DeleteStale:  true,
	})
	require.NoError(t, err)

	n, err = repo.CountByRegion(ctx, testRegionID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	sells, err := repo.SellOrdersInSystem(ctx, 30000142)
	require.NoError(t, err)
	var prices []string
	for _, s := range sells {
		prices = append(prices, s.Price.StringFixed(2))
	}
	assert.Contains(t, prices, "9.99")
}

func TestValidatorRepository_PutMany(t *testing.T) {
	db := setupPostgres(t)
	repo := NewValidatorRepository(db)
	ctx := testContext(t)

	require.NoError(t, repo.PutMany(ctx, testRegionID, map[int]string{1: `"a"`, 2: `W/"b"`}))
	require.NoError(t, repo.Put(ctx, testRegionID, 1, `"c"`))

	all, err := repo.ListByRegion(ctx, testRegionID)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: `"c"`, 2: `W/"b"`}, all)

	_, ok, err := repo.Get(ctx, testRegionID, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchStatusRepository_Lifecycle(t *testing.T) {
	db := setupPostgres(t)
	repo := NewFetchStatusRepository(db)
	ctx := testContext(t)

	_, err := repo.Get(ctx, testRegionID)
	require.Error(t, err)

	start := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.MarkStarted(ctx, testRegionID, start))
	require.NoError(t, repo.MarkCompleted(ctx, testRegionID, start, 1234))

	s, err := repo.Get(ctx, testRegionID)
	require.NoError(t, err)
	assert.True(t, s.LastFetchSuccess)
	assert.Equal(t, 1234, s.OrdersFetched)
	require.NotNil(t, s.LastFetchCompleted)
	assert.True(t, s.LastFetchCompleted.Equal(start))

	require.NoError(t, repo.MarkStarted(ctx, testRegionID, start.Add(time.Minute)))
	require.NoError(t, repo.MarkFailed(ctx, testRegionID))
	s, err = repo.Get(ctx, testRegionID)
	require.NoError(t, err)
	assert.False(t, s.LastFetchSuccess)
	assert.True(t, s.LastFetchCompleted.Equal(start), "failure keeps the last completion")
}
