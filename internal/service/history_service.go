package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/market-sync/internal/adapter"
	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/retry"
)

const historyDateLayout = "2006-01-02"

// HistoryFeed is the part of the market feed the history updater reads
type HistoryFeed interface {
	FetchTypeIDs(ctx context.Context, regionID int32) ([]int32, error)
	FetchHistory(ctx context.Context, regionID, typeID int32) ([]adapter.HistoryEntry, error)
}

// HistoryStore is the append-only history table
type HistoryStore interface {
	LatestDates(ctx context.Context, regionID int32) (map[int32]time.Time, error)
	ExistingDates(ctx context.Context, regionID, typeID int32, since time.Time) (map[string]struct{}, error)
	InsertRecords(ctx context.Context, records []*models.MarketHistoryRecord) error
}

// HistoryOptions tunes the history updater
type HistoryOptions struct {
	RetentionDays int
	// Concurrency bounds parallel per-type fetches within one region.
	Concurrency int
	Retry       *retry.RetryConfig
}

// HistoryResult summarizes one region's history update
type HistoryResult struct {
	RegionID        int32 `json:"region_id"`
	TypesListed     int   `json:"types_listed"`
	TypesStale      int   `json:"types_stale"`
	TypesFailed     int   `json:"types_failed"`
	RecordsInserted int   `json:"records_inserted"`
}

// HistoryService accumulates daily market history
type HistoryService struct {
	feed  HistoryFeed
	store HistoryStore
	opts  HistoryOptions
	now   func() time.Time
}

// NewHistoryService creates a new history service
func NewHistoryService(feed HistoryFeed, store HistoryStore, opts HistoryOptions) *HistoryService {
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 90
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultRetryConfig()
	}
	return &HistoryService{
		feed:  feed,
		store: store,
		opts:  opts,
		now:   time.Now,
	}
}

func utcDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// UpdateRegion fetches history for every type in the region whose newest
// stored day is older than yesterday (UTC) and inserts the missing days
// inside the retention window. A type that keeps failing is logged and
// counted; it does not fail the region.
func (s *HistoryService) UpdateRegion(ctx context.Context, regionID int32) (*HistoryResult, error) {
	logger := logging.FromContext(ctx).WithRegion(regionID)
	result := &HistoryResult{RegionID: regionID}

	var typeIDs []int32
	err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context, _ int) error {
		ids, err := s.feed.FetchTypeIDs(ctx, regionID)
		typeIDs = ids
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list region types: %w", err)
	}
	result.TypesListed = len(typeIDs)

	latest, err := s.store.LatestDates(ctx, regionID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load latest history dates", err)
	}

	today := utcDate(s.now())
	yesterday := today.AddDate(0, 0, -1)
	cutoff := today.AddDate(0, 0, -s.opts.RetentionDays)

	var stale []int32
	for _, id := range typeIDs {
		if last, ok := latest[id]; !ok || last.Before(yesterday) {
			stale = append(stale, id)
		}
	}
	result.TypesStale = len(stale)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.opts.Concurrency)

	for _, typeID := range stale {
		typeID := typeID
		g.Go(func() error {
			n, err := s.updateType(ctx, regionID, typeID, cutoff)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.TypesFailed++
				logger.WithError(err).WithField("type_id", typeID).Warn("History update failed for type")
				return nil
			}
			result.RecordsInserted += n
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	logger.WithFields(map[string]interface{}{
		"types_listed":     result.TypesListed,
		"types_stale":      result.TypesStale,
		"types_failed":     result.TypesFailed,
		"records_inserted": result.RecordsInserted,
	}).Info("Region history update complete")
	return result, nil
}

func (s *HistoryService) updateType(ctx context.Context, regionID, typeID int32, cutoff time.Time) (int, error) {
	var entries []adapter.HistoryEntry
	err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context, _ int) error {
		e, err := s.feed.FetchHistory(ctx, regionID, typeID)
		entries = e
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	existing, err := s.store.ExistingDates(ctx, regionID, typeID, cutoff)
	if err != nil {
		return 0, apperrors.NewDatabaseError("load existing history", err)
	}

	records := make([]*models.MarketHistoryRecord, 0, len(entries))
	for _, e := range entries {
		date, err := time.Parse(historyDateLayout, e.Date)
		if err != nil {
			return 0, fmt.Errorf("invalid history date %q: %w", e.Date, err)
		}
		if date.Before(cutoff) {
			continue
		}
		key := date.Format(historyDateLayout)
		if _, ok := existing[key]; ok {
			continue
		}
		existing[key] = struct{}{}

		records = append(records, &models.MarketHistoryRecord{
			RegionID:   regionID,
			TypeID:     typeID,
			Date:       date,
			Average:    e.Average,
			Highest:    e.Highest,
			Lowest:     e.Lowest,
			OrderCount: e.OrderCount,
			Volume:     e.Volume,
		})
	}

	if err := s.store.InsertRecords(ctx, records); err != nil {
		return 0, apperrors.NewDatabaseError("insert history", err)
	}
	return len(records), nil
}
