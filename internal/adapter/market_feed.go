package adapter

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// MarketFeed is the remote market data source. Implementations never retry;
// retry policy belongs to callers.
type MarketFeed interface {
	// FetchOrdersPage performs one conditional page read of a region's order book.
	// Failures are reported through PageResult, never as a separate error.
	FetchOrdersPage(ctx context.Context, req OrdersPageRequest) PageResult

	// FetchTypeIDs lists every type with active orders in a region, following pagination.
	FetchTypeIDs(ctx context.Context, regionID int32) ([]int32, error)

	// FetchHistory returns daily aggregates for a type. A type with no history
	// yields (nil, nil).
	FetchHistory(ctx context.Context, regionID, typeID int32) ([]HistoryEntry, error)
}

// OrdersPageRequest identifies one page of a region's orders
type OrdersPageRequest struct {
	RegionID int32
	Page     int
	// TypeID narrows the feed to one item type when set.
	TypeID *int32
	// Validator is the stored ETag for this page, sent as If-None-Match.
	Validator string
}

// PageResult is the outcome of FetchOrdersPage: exactly one of
// Unchanged, Updated(Orders, Validator) or Failed(StatusCode, Err).
type PageResult struct {
	Status     types.PageStatus
	Orders     []models.MarketOrder
	Validator  string
	Pages      int // total page count from X-Pages; 0 when absent
	StatusCode int
	Err        error
}

// Unchanged builds a not-modified result
func Unchanged(pages int) PageResult {
	return PageResult{Status: types.PageUnchanged, Pages: pages, StatusCode: 304}
}

// Updated builds a fresh-data result
func Updated(orders []models.MarketOrder, validator string, pages int) PageResult {
	return PageResult{Status: types.PageUpdated, Orders: orders, Validator: validator, Pages: pages, StatusCode: 200}
}

// Failed builds a failure result. code is 0 when no response was received.
func Failed(code int, err error) PageResult {
	if err == nil {
		err = fmt.Errorf("unexpected status %d", code)
	}
	return PageResult{Status: types.PageFailed, StatusCode: code, Err: err}
}

// HistoryEntry is one daily aggregate as served by the history endpoint
type HistoryEntry struct {
	Date       string          `json:"date"`
	Average    decimal.Decimal `json:"average"`
	Highest    decimal.Decimal `json:"highest"`
	Lowest     decimal.Decimal `json:"lowest"`
	OrderCount int64           `json:"order_count"`
	Volume     int64           `json:"volume"`
}
