package service

import (
	"context"
	"fmt"
	"time"

	"github.com/market-sync/internal/adapter"
	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/storage"
	"github.com/market-sync/internal/types"
)

// OrderFeed is the part of the market feed the sync engine reads
type OrderFeed interface {
	FetchOrdersPage(ctx context.Context, req adapter.OrdersPageRequest) adapter.PageResult
}

// ValidatorStore persists per-page cache validators
type ValidatorStore interface {
	ListByRegion(ctx context.Context, regionID int32) (map[int]string, error)
	PutMany(ctx context.Context, regionID int32, validators map[int]string) error
}

// FetchStatusTracker records the start and outcome of every sync run
type FetchStatusTracker interface {
	MarkStarted(ctx context.Context, regionID int32, at time.Time) error
	MarkCompleted(ctx context.Context, regionID int32, completedAt time.Time, ordersFetched int) error
	MarkFailed(ctx context.Context, regionID int32) error
}

// OrderReconciler applies a region's write set atomically
type OrderReconciler interface {
	Reconcile(ctx context.Context, plan storage.ReconcilePlan) (*storage.ReconcileResult, error)
}

// SyncResult summarizes one run of SyncRegion
type SyncResult struct {
	RegionID       int32           `json:"region_id"`
	TypeID         *int32          `json:"type_id,omitempty"`
	Phase          types.SyncPhase `json:"phase"`
	FetchStart     time.Time       `json:"fetch_start"`
	Pages          int             `json:"pages"`
	PagesUpdated   int             `json:"pages_updated"`
	PagesUnchanged int             `json:"pages_unchanged"`
	PagesFailed    int             `json:"pages_failed"`
	OrdersFetched  int             `json:"orders_fetched"`
	OrdersUpserted int64           `json:"orders_upserted"`
	OrdersDeleted  int64           `json:"orders_deleted"`
	Reconciled     bool            `json:"reconciled"`
}

// MarketSyncService runs differential order syncs for one region at a time.
// Callers serialize runs per region; see FetchOrchestrator.
type MarketSyncService struct {
	feed       OrderFeed
	validators ValidatorStore
	status     FetchStatusTracker
	orders     OrderReconciler
	now        func() time.Time
}

// NewMarketSyncService creates a new market sync service
func NewMarketSyncService(feed OrderFeed, validators ValidatorStore, status FetchStatusTracker, orders OrderReconciler) *MarketSyncService {
	return &MarketSyncService{
		feed:       feed,
		validators: validators,
		status:     status,
		orders:     orders,
		now:        time.Now,
	}
}

// pageRun accumulates page outcomes across one sync run
type pageRun struct {
	regionID   int32
	fetchStart time.Time
	orders     []*models.MarketOrder
	validators map[int]string
	result     *SyncResult
}

func (p *pageRun) add(page int, res adapter.PageResult) {
	switch res.Status {
	case types.PageUnchanged:
		p.result.PagesUnchanged++
	case types.PageUpdated:
		p.result.PagesUpdated++
		for i := range res.Orders {
			o := res.Orders[i]
			o.RegionID = p.regionID
			o.UpdatedAt = p.fetchStart
			p.orders = append(p.orders, &o)
		}
		if res.Validator != "" {
			p.validators[page] = res.Validator
		}
	}
}

// SyncRegion fetches every page of a region's order book and reconciles the
// local table against it. A non-nil typeID narrows the run to one item type;
// such runs bypass stored validators and never bump or delete rows.
//
// A page-1 failure aborts the run. Failures on later pages are logged and the
// page is skipped. Every failure marks the region's fetch status unsuccessful.
func (s *MarketSyncService) SyncRegion(ctx context.Context, regionID int32, typeID *int32) (*SyncResult, error) {
	logger := logging.FromContext(ctx).WithRegion(regionID)
	if typeID != nil {
		logger = logger.WithField("type_id", *typeID)
	}

	fetchStart := s.now().UTC()
	result := &SyncResult{RegionID: regionID, TypeID: typeID, Phase: types.PhaseIdle, FetchStart: fetchStart}
	filtered := typeID != nil

	if err := s.status.MarkStarted(ctx, regionID, fetchStart); err != nil {
		return s.fail(ctx, logger, result, apperrors.NewDatabaseError("mark fetch started", err))
	}

	stored := map[int]string{}
	if !filtered {
		v, err := s.validators.ListByRegion(ctx, regionID)
		if err != nil {
			return s.fail(ctx, logger, result, apperrors.NewDatabaseError("load validators", err))
		}
		stored = v
	}

	result.Phase = types.PhaseFetching
	run := &pageRun{
		regionID:   regionID,
		fetchStart: fetchStart,
		validators: make(map[int]string),
		result:     result,
	}

	first := s.fetchPage(ctx, regionID, 1, typeID, stored[1])
	if first.Status == types.PageFailed {
		result.PagesFailed++
		logger.WithError(first.Err).WithField("status_code", first.StatusCode).Error("Order page 1 fetch failed, aborting region")
		return s.fail(ctx, logger, result, first.Err)
	}
	result.Pages = first.Pages
	if result.Pages < 1 {
		result.Pages = 1
	}
	run.add(1, first)

	for page := 2; page <= result.Pages; page++ {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, logger, result, err)
		}

		res := s.fetchPage(ctx, regionID, page, typeID, stored[page])
		if res.Status == types.PageFailed {
			result.PagesFailed++
			logger.WithError(res.Err).WithFields(map[string]interface{}{
				"page":        page,
				"status_code": res.StatusCode,
			}).Warn("Order page fetch failed, skipping page")
			continue
		}
		run.add(page, res)
	}

	result.Phase = types.PhaseReconciling
	result.OrdersFetched = len(run.orders)

	if result.PagesUpdated > 0 {
		plan := storage.ReconcilePlan{
			RegionID:   regionID,
			FetchStart: fetchStart,
			Orders:     run.orders,
		}
		if !filtered {
			plan.BumpExisting = result.PagesUnchanged > 0
			plan.DeleteStale = true
		}

		rec, err := s.orders.Reconcile(ctx, plan)
		if err != nil {
			return s.fail(ctx, logger, result, apperrors.NewDatabaseError("reconcile orders", err))
		}
		result.Reconciled = true
		result.OrdersUpserted = rec.Upserted
		result.OrdersDeleted = rec.Deleted
	}

	if !filtered && len(run.validators) > 0 {
		if err := s.validators.PutMany(ctx, regionID, run.validators); err != nil {
			return s.fail(ctx, logger, result, apperrors.NewDatabaseError("store validators", err))
		}
	}

	if err := s.status.MarkCompleted(ctx, regionID, fetchStart, result.OrdersFetched); err != nil {
		return s.fail(ctx, logger, result, apperrors.NewDatabaseError("mark fetch completed", err))
	}

	result.Phase = types.PhaseDone
	logger.WithFields(map[string]interface{}{
		"pages":           result.Pages,
		"pages_updated":   result.PagesUpdated,
		"pages_unchanged": result.PagesUnchanged,
		"pages_failed":    result.PagesFailed,
		"orders_fetched":  result.OrdersFetched,
		"orders_deleted":  result.OrdersDeleted,
	}).Info("Region order sync complete")

	return result, nil
}

func (s *MarketSyncService) fetchPage(ctx context.Context, regionID int32, page int, typeID *int32, validator string) adapter.PageResult {
	return s.feed.FetchOrdersPage(ctx, adapter.OrdersPageRequest{
		RegionID:  regionID,
		Page:      page,
		TypeID:    typeID,
		Validator: validator,
	})
}

func (s *MarketSyncService) fail(ctx context.Context, logger *logging.Logger, result *SyncResult, cause error) (*SyncResult, error) {
	result.Phase = types.PhaseFailed
	if err := s.status.MarkFailed(context.WithoutCancel(ctx), result.RegionID); err != nil {
		logger.WithError(err).Error("Could not mark region fetch as failed")
	}
	return result, fmt.Errorf("sync region %d: %w", result.RegionID, cause)
}
