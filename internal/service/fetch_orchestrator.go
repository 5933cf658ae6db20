package service

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/job"
	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/ratelimit"
	"github.com/market-sync/internal/types"
)

// Lock is a non-blocking mutual-exclusion primitive with expiry
type Lock interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// RegionLister lists the regions known to the catalog
type RegionLister interface {
	ListRegionIDs(ctx context.Context) ([]int32, error)
}

// JobQueue accepts work for the worker pool
type JobQueue interface {
	Enqueue(ctx context.Context, j *job.Job) error
}

// RegionSyncer runs one region's order sync
type RegionSyncer interface {
	SyncRegion(ctx context.Context, regionID int32, typeID *int32) (*SyncResult, error)
}

// RegionHistoryUpdater runs one region's history update
type RegionHistoryUpdater interface {
	UpdateRegion(ctx context.Context, regionID int32) (*HistoryResult, error)
}

// OrchestratorConfig holds lock keys and timeouts
type OrchestratorConfig struct {
	FanOutLockKey  string
	FanOutLockTTL  time.Duration
	HistoryLockKey string
	HistoryLockTTL time.Duration
	RegionLockTTL  time.Duration
	// Regions, when set, replaces the catalog's region list.
	Regions []int32
}

// RegionLockKey is the per-region sync lock key
func RegionLockKey(regionID int32) string {
	return fmt.Sprintf("lock:region_orders:%d", regionID)
}

// DispatchResult reports what a fan-out enqueued
type DispatchResult struct {
	Skipped  bool     `json:"skipped"`
	Enqueued int      `json:"enqueued"`
	JobIDs   []string `json:"job_ids,omitempty"`
}

// FetchOrchestrator turns scheduled and on-demand triggers into queued
// per-region jobs, and runs those jobs under a per-region lock.
type FetchOrchestrator struct {
	cfg     OrchestratorConfig
	lock    Lock
	queue   JobQueue
	regions RegionLister
	syncer  RegionSyncer
	history RegionHistoryUpdater
}

// NewFetchOrchestrator creates a new fetch orchestrator. syncer and history
// may be nil in processes that only enqueue.
func NewFetchOrchestrator(cfg OrchestratorConfig, lock Lock, queue JobQueue, regions RegionLister, syncer RegionSyncer, history RegionHistoryUpdater) *FetchOrchestrator {
	if cfg.FanOutLockKey == "" {
		cfg.FanOutLockKey = "lock:fetch_all_regions_orders"
	}
	if cfg.FanOutLockTTL <= 0 {
		cfg.FanOutLockTTL = 5 * time.Minute
	}
	if cfg.HistoryLockKey == "" {
		cfg.HistoryLockKey = "lock:fetch_all_regions_history"
	}
	if cfg.HistoryLockTTL <= 0 {
		cfg.HistoryLockTTL = time.Hour
	}
	if cfg.RegionLockTTL <= 0 {
		cfg.RegionLockTTL = cfg.FanOutLockTTL
	}
	return &FetchOrchestrator{
		cfg:     cfg,
		lock:    lock,
		queue:   queue,
		regions: regions,
		syncer:  syncer,
		history: history,
	}
}

// RunAll enqueues an order sync for every region. When another dispatch
// holds the fan-out lock it returns Skipped with no error.
func (o *FetchOrchestrator) RunAll(ctx context.Context) (*DispatchResult, error) {
	return o.dispatch(ctx, o.cfg.FanOutLockKey, o.cfg.FanOutLockTTL, func(regionID int32) *job.Job {
		return job.NewOrdersJob(regionID, nil)
	})
}

// RunHistoryAll enqueues a history update for every region under its own lock.
func (o *FetchOrchestrator) RunHistoryAll(ctx context.Context) (*DispatchResult, error) {
	return o.dispatch(ctx, o.cfg.HistoryLockKey, o.cfg.HistoryLockTTL, job.NewHistoryJob)
}

func (o *FetchOrchestrator) dispatch(ctx context.Context, key string, ttl time.Duration, build func(int32) *job.Job) (*DispatchResult, error) {
	logger := logging.FromContext(ctx).WithField("lock", key)

	token, ok, err := o.lock.TryAcquire(ctx, key, ttl)
	if err != nil {
		return nil, apperrors.NewCacheError("acquire dispatch lock", err)
	}
	if !ok {
		logger.Info("Dispatch already running, skipping")
		return &DispatchResult{Skipped: true}, nil
	}
	defer func() {
		if err := o.lock.Release(context.WithoutCancel(ctx), key, token); err != nil {
			logger.WithError(err).Warn("Failed to release dispatch lock")
		}
	}()

	regions, err := o.regionIDs(ctx)
	if err != nil {
		return nil, err
	}

	result := &DispatchResult{JobIDs: make([]string, 0, len(regions))}
	for _, regionID := range regions {
		j := build(regionID)
		if err := o.queue.Enqueue(ctx, j); err != nil {
			return result, apperrors.NewCacheError("enqueue job", err)
		}
		result.Enqueued++
		result.JobIDs = append(result.JobIDs, j.ID)
	}

	logger.WithField("regions", result.Enqueued).Info("Dispatched region jobs")
	return result, nil
}

func (o *FetchOrchestrator) regionIDs(ctx context.Context) ([]int32, error) {
	if len(o.cfg.Regions) > 0 {
		return o.cfg.Regions, nil
	}
	ids, err := o.regions.ListRegionIDs(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list regions", err)
	}
	return ids, nil
}

// RefreshRegion enqueues an on-demand order sync for one region
func (o *FetchOrchestrator) RefreshRegion(ctx context.Context, regionID int32, typeID *int32) (*job.Job, error) {
	if regionID <= 0 {
		return nil, apperrors.NewInvalidParameterError("region_id", "must be positive")
	}
	if typeID != nil && *typeID <= 0 {
		return nil, apperrors.NewInvalidParameterError("type_id", "must be positive")
	}

	j := job.NewOrdersJob(regionID, typeID)
	if err := o.queue.Enqueue(ctx, j); err != nil {
		return nil, apperrors.NewCacheError("enqueue job", err)
	}
	logging.FromContext(ctx).WithRegion(regionID).WithJob(j.ID).Info("Region refresh enqueued")
	return j, nil
}

// HandleJob runs a dequeued job. Order syncs hold the region's lock for
// their duration; a sync already running for the region makes this a no-op.
func (o *FetchOrchestrator) HandleJob(ctx context.Context, j *job.Job) error {
	switch j.Kind {
	case types.JobOrders:
		return o.handleOrders(ctx, j)
	case types.JobHistory:
		if o.history == nil {
			return fmt.Errorf("history updater not configured")
		}
		// history draws from the shared feed budget, leaving the reserve to order syncs
		_, err := o.history.UpdateRegion(ratelimit.WithPriority(ctx, ratelimit.PriorityLow), j.RegionID)
		return err
	default:
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
}

func (o *FetchOrchestrator) handleOrders(ctx context.Context, j *job.Job) error {
	if o.syncer == nil {
		return fmt.Errorf("order syncer not configured")
	}
	logger := logging.FromContext(ctx).WithRegion(j.RegionID)
	key := RegionLockKey(j.RegionID)

	token, ok, err := o.lock.TryAcquire(ctx, key, o.cfg.RegionLockTTL)
	if err != nil {
		return apperrors.NewCacheError("acquire region lock", err)
	}
	if !ok {
		logger.Info("Region sync already running, skipping job")
		return nil
	}
	defer func() {
		if err := o.lock.Release(context.WithoutCancel(ctx), key, token); err != nil {
			logger.WithError(err).Warn("Failed to release region lock")
		}
	}()

	syncCtx, cancel := context.WithTimeout(ctx, o.cfg.RegionLockTTL)
	defer cancel()

	_, err = o.syncer.SyncRegion(syncCtx, j.RegionID, j.TypeID)
	return err
}
