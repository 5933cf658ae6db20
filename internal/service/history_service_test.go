package service

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-sync/internal/adapter"
	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/retry"
)

type fakeHistoryFeed struct {
	mu       sync.Mutex
	types    []int32
	history  map[int32][]adapter.HistoryEntry
	failures map[int32]int // remaining 503s per type
	fetched  []int32
}

func (f *fakeHistoryFeed) FetchTypeIDs(_ context.Context, _ int32) ([]int32, error) {
	return f.types, nil
}

func (f *fakeHistoryFeed) FetchHistory(_ context.Context, _ int32, typeID int32) ([]adapter.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, typeID)
	if f.failures[typeID] > 0 {
		f.failures[typeID]--
		return nil, apperrors.NewUpstreamError("/markets/history/", http.StatusServiceUnavailable, nil)
	}
	return f.history[typeID], nil
}

type memHistory struct {
	mu      sync.Mutex
	records []*models.MarketHistoryRecord
}

func (m *memHistory) LatestDates(_ context.Context, regionID int32) (map[int32]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int32]time.Time)
	for _, r := range m.records {
		if r.RegionID == regionID && r.Date.After(out[r.TypeID]) {
			out[r.TypeID] = r.Date
		}
	}
	return out, nil
}

func (m *memHistory) ExistingDates(_ context.Context, regionID, typeID int32, since time.Time) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	for _, r := range m.records {
		if r.RegionID == regionID && r.TypeID == typeID && !r.Date.Before(since) {
			out[r.Date.Format(historyDateLayout)] = struct{}{}
		}
	}
	return out, nil
}

func (m *memHistory) InsertRecords(_ context.Context, records []*models.MarketHistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *memHistory) datesFor(typeID int32) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.records {
		if r.TypeID == typeID {
			out = append(out, r.Date.Format(historyDateLayout))
		}
	}
	sort.Strings(out)
	return out
}

func entry(date string) adapter.HistoryEntry {
	return adapter.HistoryEntry{
		Date:       date,
		Average:    decimal.RequireFromString("5.25"),
		Highest:    decimal.RequireFromString("5.50"),
		Lowest:     decimal.RequireFromString("5.00"),
		OrderCount: 10,
		Volume:     1000,
	}
}

func fastRetry() *retry.RetryConfig {
	cfg := retry.DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	return cfg
}

func newHistoryFixture(feed *fakeHistoryFeed, store *memHistory) *HistoryService {
	svc := NewHistoryService(feed, store, HistoryOptions{RetentionDays: 90, Concurrency: 2, Retry: fastRetry()})
	svc.now = func() time.Time { return time.Date(2026, 5, 20, 13, 0, 0, 0, time.UTC) }
	return svc
}

func TestHistoryUpdateRegion_FetchesOnlyStaleTypes(t *testing.T) {
	feed := &fakeHistoryFeed{
		types: []int32{34, 35, 36},
		history: map[int32][]adapter.HistoryEntry{
			34: {entry("2026-05-18"), entry("2026-05-19")},
			36: {entry("2026-01-01"), entry("2026-05-17"), entry("2026-05-19")},
		},
	}
	store := &memHistory{records: []*models.MarketHistoryRecord{
		// 35 is current as of yesterday and must be skipped.
		{RegionID: testRegion, TypeID: 35, Date: time.Date(2026, 5, 19, 0, 0, 0, 0, time.UTC)},
		// 36 already has the 17th.
		{RegionID: testRegion, TypeID: 36, Date: time.Date(2026, 5, 17, 0, 0, 0, 0, time.UTC)},
	}}
	svc := newHistoryFixture(feed, store)

	res, err := svc.UpdateRegion(context.Background(), testRegion)
	require.NoError(t, err)

	assert.Equal(t, 3, res.TypesListed)
	assert.Equal(t, 2, res.TypesStale)
	assert.Zero(t, res.TypesFailed)
	assert.Equal(t, 3, res.RecordsInserted)
	assert.ElementsMatch(t, []int32{34, 36}, feed.fetched)

	assert.Equal(t, []string{"2026-05-18", "2026-05-19"}, store.datesFor(34))
	// 2026-01-01 is outside the 90-day window; the 17th is not duplicated.
	assert.Equal(t, []string{"2026-05-17", "2026-05-19"}, store.datesFor(36))
}

func TestHistoryUpdateRegion_SecondRunInsertsNothing(t *testing.T) {
	feed := &fakeHistoryFeed{
		types:   []int32{34},
		history: map[int32][]adapter.HistoryEntry{34: {entry("2026-05-19")}},
	}
	store := &memHistory{}
	svc := newHistoryFixture(feed, store)

	_, err := svc.UpdateRegion(context.Background(), testRegion)
	require.NoError(t, err)
	res, err := svc.UpdateRegion(context.Background(), testRegion)
	require.NoError(t, err)

	assert.Zero(t, res.TypesStale)
	assert.Zero(t, res.RecordsInserted)
	assert.Len(t, store.records, 1)
}

func TestHistoryUpdateRegion_RetriesTransientErrors(t *testing.T) {
	feed := &fakeHistoryFeed{
		types:    []int32{34, 35},
		history:  map[int32][]adapter.HistoryEntry{34: {entry("2026-05-19")}, 35: {entry("2026-05-19")}},
		failures: map[int32]int{34: 1, 35: 10},
	}
	store := &memHistory{}
	svc := newHistoryFixture(feed, store)

	res, err := svc.UpdateRegion(context.Background(), testRegion)
	require.NoError(t, err)

	assert.Equal(t, 1, res.TypesFailed, "35 exhausts its attempts")
	assert.Equal(t, 1, res.RecordsInserted)
	assert.Equal(t, []string{"2026-05-19"}, store.datesFor(34))
	assert.Empty(t, store.datesFor(35))
}

func TestHistoryUpdateRegion_NoHistoryIsNotAnError(t *testing.T) {
	feed := &fakeHistoryFeed{types: []int32{99}, history: map[int32][]adapter.HistoryEntry{}}
	store := &memHistory{}
	svc := newHistoryFixture(feed, store)

	res, err := svc.UpdateRegion(context.Background(), testRegion)
	require.NoError(t, err)
	assert.Zero(t, res.TypesFailed)
	assert.Zero(t, res.RecordsInserted)
}
