package models

import "github.com/shopspring/decimal"

// SellQuote is the cheapest sell price for a type in one system, with the
// volume offered at exactly that price.
type SellQuote struct {
	TypeID int32
	Price  decimal.Decimal
	Volume int64
}

// BuyQuote is one buy order a trader could sell into.
type BuyQuote struct {
	OrderID      int64
	TypeID       int32
	Price        decimal.Decimal
	Volume       int64
	SystemID     int32
	LocationID   int64
	LocationName string
}
