// Package worker runs the periodic triggers that feed the job queue.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/service"
)

// Dispatcher fans scheduled triggers out into per-region jobs
type Dispatcher interface {
	RunAll(ctx context.Context) (*service.DispatchResult, error)
	RunHistoryAll(ctx context.Context) (*service.DispatchResult, error)
}

// SchedulerConfig holds the trigger cadence
type SchedulerConfig struct {
	OrdersInterval time.Duration
	HistoryHourUTC int
	// RunOnStart dispatches an order sweep immediately instead of waiting
	// for the first tick.
	RunOnStart bool
}

// SchedulerStatus reports the scheduler's last and next runs
type SchedulerStatus struct {
	Running          bool      `json:"running"`
	LastOrdersRun    time.Time `json:"last_orders_run,omitempty"`
	LastHistoryRun   time.Time `json:"last_history_run,omitempty"`
	NextHistoryRun   time.Time `json:"next_history_run,omitempty"`
	OrdersSkipped    int       `json:"orders_skipped"`
	OrdersDispatched int       `json:"orders_dispatched"`
}

// Scheduler triggers the order sweep every interval and the history sweep
// once a day at a fixed UTC hour.
type Scheduler struct {
	cfg        SchedulerConfig
	dispatcher Dispatcher
	now        func() time.Time

	mu      sync.RWMutex
	running bool
	status  SchedulerStatus
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg SchedulerConfig, dispatcher Dispatcher) (*Scheduler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if cfg.OrdersInterval <= 0 {
		cfg.OrdersInterval = 5 * time.Minute
	}
	if cfg.HistoryHourUTC < 0 || cfg.HistoryHourUTC > 23 {
		return nil, fmt.Errorf("history hour must be between 0 and 23, got %d", cfg.HistoryHourUTC)
	}
	return &Scheduler{
		cfg:        cfg,
		dispatcher: dispatcher,
		now:        time.Now,
	}, nil
}

// nextDailyRun returns the first moment at hour:00 UTC strictly after now.
func nextDailyRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start launches the trigger loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.status.Running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"orders_interval":  s.cfg.OrdersInterval.String(),
		"history_hour_utc": s.cfg.HistoryHourUTC,
	}).Info("Scheduler starting")

	go s.loop(ctx)
	return nil
}

// Stop signals the loop and waits for it to exit or ctx to end
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.running = false
	s.status.Running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the scheduler's state
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)
	logger := logging.FromContext(ctx).WithField("component", "scheduler")

	ticker := time.NewTicker(s.cfg.OrdersInterval)
	defer ticker.Stop()

	nextHistory := nextDailyRun(s.now(), s.cfg.HistoryHourUTC)
	historyTimer := time.NewTimer(nextHistory.Sub(s.now()))
	defer historyTimer.Stop()
	s.setNextHistory(nextHistory)

	if s.cfg.RunOnStart {
		s.runOrders(ctx, logger)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runOrders(ctx, logger)
		case <-historyTimer.C:
			s.runHistory(ctx, logger)
			nextHistory = nextDailyRun(s.now(), s.cfg.HistoryHourUTC)
			historyTimer.Reset(nextHistory.Sub(s.now()))
			s.setNextHistory(nextHistory)
		}
	}
}

func (s *Scheduler) runOrders(ctx context.Context, logger *logging.Logger) {
	res, err := s.dispatcher.RunAll(ctx)

	s.mu.Lock()
	s.status.LastOrdersRun = s.now().UTC()
	if err == nil && res.Skipped {
		s.status.OrdersSkipped++
	} else if err == nil {
		s.status.OrdersDispatched++
	}
	s.mu.Unlock()

	if err != nil {
		logger.WithError(err).Error("Order sweep dispatch failed")
	}
}

func (s *Scheduler) runHistory(ctx context.Context, logger *logging.Logger) {
	res, err := s.dispatcher.RunHistoryAll(ctx)

	s.mu.Lock()
	s.status.LastHistoryRun = s.now().UTC()
	s.mu.Unlock()

	if err != nil {
		logger.WithError(err).Error("History sweep dispatch failed")
		return
	}
	logger.WithField("enqueued", res.Enqueued).Info("History sweep dispatched")
}

func (s *Scheduler) setNextHistory(t time.Time) {
	s.mu.Lock()
	s.status.NextHistoryRun = t
	s.mu.Unlock()
}
