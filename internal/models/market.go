package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketOrder is one live order in a region. UpdatedAt is the sync watermark,
// stamped by this system rather than the feed.
type MarketOrder struct {
	OrderID      int64           `json:"order_id"`
	TypeID       int32           `json:"type_id"`
	RegionID     int32           `json:"region_id"`
	Price        decimal.Decimal `json:"price"`
	VolumeRemain int32           `json:"volume_remain"`
	IsBuyOrder   bool            `json:"is_buy_order"`
	Issued       time.Time       `json:"issued"`
	Duration     int32           `json:"duration"`
	MinVolume    int32           `json:"min_volume"`
	Range        string          `json:"range"`
	LocationID   int64           `json:"location_id"`
	SystemID     int32           `json:"system_id,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// MarketHistoryRecord is one day of aggregated trading for a type in a region.
type MarketHistoryRecord struct {
	RegionID   int32           `json:"region_id"`
	TypeID     int32           `json:"type_id"`
	Date       time.Time       `json:"date"`
	Average    decimal.Decimal `json:"average"`
	Highest    decimal.Decimal `json:"highest"`
	Lowest     decimal.Decimal `json:"lowest"`
	OrderCount int64           `json:"order_count"`
	Volume     int64           `json:"volume"`
}

// CacheValidator is the ETag last seen for one page of a region's order feed.
type CacheValidator struct {
	RegionID    int32     `json:"region_id"`
	Page        int       `json:"page"`
	Validator   string    `json:"etag"`
	LastUpdated time.Time `json:"last_updated"`
}

// FetchStatus is the durable per-region record of order sync runs.
type FetchStatus struct {
	RegionID           int32      `json:"region_id"`
	LastFetchStarted   *time.Time `json:"last_fetch_started,omitempty"`
	LastFetchCompleted *time.Time `json:"last_fetch_completed,omitempty"`
	LastFetchSuccess   bool       `json:"last_fetch_success"`
	OrdersFetched      int        `json:"orders_fetched"`
}

// TradeOpportunity is a computed buy-here, sell-there trade. It is never stored.
type TradeOpportunity struct {
	TypeID              int32           `json:"type_id"`
	ItemName            string          `json:"item"`
	BuyFrom             string          `json:"buy_from"`
	SellTo              string          `json:"sell_to"`
	DestinationSystemID int32           `json:"destination_system_id"`
	BuyPrice            decimal.Decimal `json:"buy_price"`
	SellPrice           decimal.Decimal `json:"sell_price"`
	Quantity            int64           `json:"quantity"`
	TotalCost           decimal.Decimal `json:"total_cost"`
	TotalProfit         decimal.Decimal `json:"total_profit"`
	Jumps               int             `json:"jumps"`
}
