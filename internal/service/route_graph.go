package service

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/market-sync/internal/models"
)

// ReachableSystems runs a breadth-first search over the directed jump graph
// and returns every system within maxJumps of start with its hop count.
// start itself is always present at distance 0.
func ReachableSystems(adj map[int32][]int32, start int32, maxJumps int) map[int32]int {
	dist := map[int32]int{start: 0}
	queue := []int32{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		d := dist[current]
		if d >= maxJumps {
			continue
		}
		for _, next := range adj[current] {
			if _, seen := dist[next]; seen {
				continue
			}
			dist[next] = d + 1
			queue = append(queue, next)
		}
	}
	return dist
}

// BestSells reduces sell orders to the cheapest price per type, with the
// volume of every order offered at exactly that price.
func BestSells(sells []models.SellQuote) map[int32]models.SellQuote {
	best := make(map[int32]models.SellQuote)
	for _, s := range sells {
		cur, ok := best[s.TypeID]
		switch {
		case !ok || s.Price.LessThan(cur.Price):
			best[s.TypeID] = s
		case s.Price.Equal(cur.Price):
			cur.Volume += s.Volume
			best[s.TypeID] = cur
		}
	}
	return best
}

// ScanArbitrage pairs the cheapest start-system sell price of each type with
// every reachable buy order paying more. Quantity is capped by both order
// volumes and by budget; pairs left with no quantity are dropped. Results are
// sorted by total profit, highest first, and cut to limit when limit > 0.
//
// SellTo carries the buy order's station name when known; item and origin
// names are left for the caller to fill.
func ScanArbitrage(sells []models.SellQuote, buys []models.BuyQuote, distances map[int32]int, budget decimal.Decimal, limit int) []models.TradeOpportunity {
	best := BestSells(sells)
	var out []models.TradeOpportunity

	for _, b := range buys {
		jumps, reachable := distances[b.SystemID]
		if !reachable {
			continue
		}
		s, ok := best[b.TypeID]
		if !ok || !b.Price.GreaterThan(s.Price) || !s.Price.IsPositive() {
			continue
		}

		qty := b.Volume
		if s.Volume < qty {
			qty = s.Volume
		}
		if cost := s.Price.Mul(decimal.NewFromInt(qty)); cost.GreaterThan(budget) {
			whole, _ := budget.QuoRem(s.Price, 0)
			qty = whole.IntPart()
		}
		if qty <= 0 {
			continue
		}

		q := decimal.NewFromInt(qty)
		out = append(out, models.TradeOpportunity{
			TypeID:              b.TypeID,
			SellTo:              b.LocationName,
			DestinationSystemID: b.SystemID,
			BuyPrice:            s.Price,
			SellPrice:           b.Price,
			Quantity:            qty,
			TotalCost:           s.Price.Mul(q),
			TotalProfit:         b.Price.Sub(s.Price).Mul(q),
			Jumps:               jumps,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TotalProfit.GreaterThan(out[j].TotalProfit)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
