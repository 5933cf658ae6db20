package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// DefaultRouteLimit is the number of opportunities returned when none is asked for.
const DefaultRouteLimit = 5

// graphLoadTimeout bounds the shared jump graph load, which runs detached
// from the request that started it.
const graphLoadTimeout = 30 * time.Second

// RouteCatalog is the read-only reference data route discovery needs
type RouteCatalog interface {
	FindSystemByName(ctx context.Context, name string) (*models.SolarSystem, error)
	LoadJumpGraph(ctx context.Context) (map[int32][]int32, error)
	SystemNames(ctx context.Context, ids []int32) (map[int32]string, error)
	TypeNames(ctx context.Context, ids []int32) (map[int32]string, error)
}

// QuoteSource reads order snapshots from the local order table
type QuoteSource interface {
	SellOrdersInSystem(ctx context.Context, systemID int32) ([]models.SellQuote, error)
	BuyOrdersInSystems(ctx context.Context, systems []int32, typeIDs []int32) ([]models.BuyQuote, error)
}

// RouteQuery is a trade-route discovery request
type RouteQuery struct {
	StartSystem string
	MaxJumps    int
	Budget      decimal.Decimal
	Limit       int
}

// Validate checks the query's parameters
func (q RouteQuery) Validate() error {
	if strings.TrimSpace(q.StartSystem) == "" {
		return apperrors.NewInvalidParameterError("start", "start system is required")
	}
	if q.MaxJumps < 0 {
		return apperrors.NewInvalidParameterError("max_jumps", "must not be negative")
	}
	if q.Budget.IsNegative() {
		return apperrors.NewInvalidParameterError("budget", "must not be negative")
	}
	if q.Limit < 0 {
		return apperrors.NewInvalidParameterError("limit", "must not be negative")
	}
	return nil
}

// RouteResult is the outcome of FindTradeRoutes. Opportunities is only
// populated when Status is RouteOK.
type RouteResult struct {
	Status        types.RouteStatus         `json:"status"`
	Message       string                    `json:"message,omitempty"`
	StartSystem   string                    `json:"start_system,omitempty"`
	Reachable     int                       `json:"reachable_systems"`
	Opportunities []models.TradeOpportunity `json:"opportunities"`
}

// RouteService discovers buy-here, sell-there trades. It only reads and is
// safe for concurrent use.
type RouteService struct {
	catalog RouteCatalog
	quotes  QuoteSource

	group singleflight.Group
	mu    sync.RWMutex
	graph map[int32][]int32
}

// NewRouteService creates a new route service
func NewRouteService(catalog RouteCatalog, quotes QuoteSource) *RouteService {
	return &RouteService{catalog: catalog, quotes: quotes}
}

// jumpGraph returns the cached adjacency list, loading it once. Concurrent
// first callers share a single load.
func (s *RouteService) jumpGraph(ctx context.Context) (map[int32][]int32, error) {
	s.mu.RLock()
	g := s.graph
	s.mu.RUnlock()
	if g != nil {
		return g, nil
	}

	v, err, _ := s.group.Do("jump_graph", func() (interface{}, error) {
		// Waiters share this load, so one caller going away must not fail it.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), graphLoadTimeout)
		defer cancel()
		adj, err := s.catalog.LoadJumpGraph(loadCtx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.graph = adj
		s.mu.Unlock()
		return adj, nil
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError("load jump graph", err)
	}
	return v.(map[int32][]int32), nil
}

// FindTradeRoutes resolves the start system, searches systems within
// MaxJumps and scans local orders for profitable trades. Unknown systems and
// empty markets are reported through Status rather than as errors.
func (s *RouteService) FindTradeRoutes(ctx context.Context, q RouteQuery) (*RouteResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Limit == 0 {
		q.Limit = DefaultRouteLimit
	}
	logger := logging.FromContext(ctx).WithField("start_system", q.StartSystem)

	start, err := s.catalog.FindSystemByName(ctx, q.StartSystem)
	if err != nil {
		return nil, apperrors.NewDatabaseError("find system", err)
	}
	if start == nil {
		return &RouteResult{
			Status:  types.RouteSystemNotFound,
			Message: fmt.Sprintf("System '%s' not found.", q.StartSystem),
		}, nil
	}

	adj, err := s.jumpGraph(ctx)
	if err != nil {
		return nil, err
	}
	distances := ReachableSystems(adj, start.SystemID, q.MaxJumps)

	sells, err := s.quotes.SellOrdersInSystem(ctx, start.SystemID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load sell orders", err)
	}
	if len(sells) == 0 {
		return &RouteResult{
			Status:      types.RouteNoSellOrders,
			Message:     "No sell orders found in start system.",
			StartSystem: start.Name,
			Reachable:   len(distances),
		}, nil
	}

	best := BestSells(sells)
	typeIDs := make([]int32, 0, len(best))
	for id := range best {
		typeIDs = append(typeIDs, id)
	}
	systems := make([]int32, 0, len(distances))
	for id := range distances {
		systems = append(systems, id)
	}

	buys, err := s.quotes.BuyOrdersInSystems(ctx, systems, typeIDs)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load buy orders", err)
	}

	opps := ScanArbitrage(sells, buys, distances, q.Budget, q.Limit)
	result := &RouteResult{
		Status:        types.RouteOK,
		StartSystem:   start.Name,
		Reachable:     len(distances),
		Opportunities: opps,
	}
	if len(opps) == 0 {
		result.Status = types.RouteNoOpportunities
		result.Message = "No profitable trades within range."
		result.Opportunities = []models.TradeOpportunity{}
		return result, nil
	}

	if err := s.label(ctx, start.Name, opps); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"reachable":     len(distances),
		"opportunities": len(opps),
	}).Debug("Trade routes computed")
	return result, nil
}

// label fills item and location names on opps in place.
func (s *RouteService) label(ctx context.Context, startName string, opps []models.TradeOpportunity) error {
	var typeIDs, systemIDs []int32
	for _, o := range opps {
		typeIDs = append(typeIDs, o.TypeID)
		systemIDs = append(systemIDs, o.DestinationSystemID)
	}

	typeNames, err := s.catalog.TypeNames(ctx, typeIDs)
	if err != nil {
		return apperrors.NewDatabaseError("load type names", err)
	}
	systemNames, err := s.catalog.SystemNames(ctx, systemIDs)
	if err != nil {
		return apperrors.NewDatabaseError("load system names", err)
	}

	for i := range opps {
		o := &opps[i]
		o.BuyFrom = startName
		o.ItemName = typeNames[o.TypeID]
		if o.ItemName == "" {
			o.ItemName = "Unknown Item"
		}
		if o.SellTo == "" {
			o.SellTo = systemNames[o.DestinationSystemID]
		}
	}
	return nil
}
