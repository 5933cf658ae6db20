package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/market-sync/internal/adapter"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/storage"
)

// fakeFeed serves a region's pages and answers 304 when the caller presents
// the page's current ETag.
type fakeFeed struct {
	mu       sync.Mutex
	pages    map[int][]models.MarketOrder
	etags    map[int]string
	failing  map[int]int
	requests []adapter.OrdersPageRequest
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		pages:   make(map[int][]models.MarketOrder),
		etags:   make(map[int]string),
		failing: make(map[int]int),
	}
}

func (f *fakeFeed) setPage(page int, etag string, orders ...models.MarketOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[page] = orders
	f.etags[page] = etag
}

func (f *fakeFeed) FetchOrdersPage(_ context.Context, req adapter.OrdersPageRequest) adapter.PageResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	if code, ok := f.failing[req.Page]; ok {
		return adapter.Failed(code, fmt.Errorf("page %d: status %d", req.Page, code))
	}
	orders, ok := f.pages[req.Page]
	if !ok {
		return adapter.Failed(404, errors.New("no such page"))
	}
	n := len(f.pages)
	if req.Validator != "" && req.Validator == f.etags[req.Page] {
		return adapter.Unchanged(n)
	}
	if req.TypeID != nil {
		var filtered []models.MarketOrder
		for _, o := range orders {
			if o.TypeID == *req.TypeID {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	return adapter.Updated(append([]models.MarketOrder(nil), orders...), f.etags[req.Page], n)
}

// memStore is an in-memory stand-in for the Postgres repositories with the
// same watermark semantics as OrderRepository.Reconcile.
type memStore struct {
	mu         sync.Mutex
	orders     map[int64]models.MarketOrder
	validators map[int32]map[int]string
	status     map[int32]*models.FetchStatus

	mutations    int
	reconcileErr error
	plans        []storage.ReconcilePlan
}

func newMemStore() *memStore {
	return &memStore{
		orders:     make(map[int64]models.MarketOrder),
		validators: make(map[int32]map[int]string),
		status:     make(map[int32]*models.FetchStatus),
	}
}

func (m *memStore) Reconcile(_ context.Context, plan storage.ReconcilePlan) (*storage.ReconcileResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans = append(m.plans, plan)
	if m.reconcileErr != nil {
		return nil, m.reconcileErr
	}

	res := &storage.ReconcileResult{}
	if plan.BumpExisting {
		for id, o := range m.orders {
			if o.RegionID == plan.RegionID {
				o.UpdatedAt = plan.FetchStart
				m.orders[id] = o
				res.Bumped++
			}
		}
	}
	for _, o := range plan.Orders {
		m.orders[o.OrderID] = *o
		res.Upserted++
	}
	if plan.DeleteStale {
		for id, o := range m.orders {
			if o.RegionID == plan.RegionID && o.UpdatedAt.Before(plan.FetchStart) {
				delete(m.orders, id)
				res.Deleted++
			}
		}
	}
	m.mutations += int(res.Bumped + res.Upserted + res.Deleted)
	return res, nil
}

func (m *memStore) ListByRegion(_ context.Context, regionID int32) (map[int]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]string)
	for k, v := range m.validators[regionID] {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) PutMany(_ context.Context, regionID int32, validators map[int]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.validators[regionID] == nil {
		m.validators[regionID] = make(map[int]string)
	}
	for k, v := range validators {
		m.validators[regionID][k] = v
	}
	return nil
}

func (m *memStore) MarkStarted(_ context.Context, regionID int32, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.statusFor(regionID)
	s.LastFetchStarted = &at
	s.LastFetchSuccess = false
	return nil
}

func (m *memStore) MarkCompleted(_ context.Context, regionID int32, completedAt time.Time, ordersFetched int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.statusFor(regionID)
	s.LastFetchCompleted = &completedAt
	s.LastFetchSuccess = true
	s.OrdersFetched = ordersFetched
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, regionID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusFor(regionID).LastFetchSuccess = false
	return nil
}

func (m *memStore) statusFor(regionID int32) *models.FetchStatus {
	s, ok := m.status[regionID]
	if !ok {
		s = &models.FetchStatus{RegionID: regionID}
		m.status[regionID] = s
	}
	return s
}

func (m *memStore) has(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.orders[id]
	return ok
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func order(id int64, typeID int32, price string) models.MarketOrder {
	return models.MarketOrder{
		OrderID:      id,
		TypeID:       typeID,
		Price:        decimal.RequireFromString(price),
		VolumeRemain: 10,
		Issued:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Duration:     90,
		MinVolume:    1,
		Range:        "station",
		LocationID:   60003760,
		SystemID:     30000142,
	}
}

// steppingClock returns a strictly increasing time on each call.
type steppingClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{cur: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(5 * time.Minute)
	return c.cur
}
