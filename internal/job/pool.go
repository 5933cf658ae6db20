package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/types"
)

// Handler runs a dequeued job
type Handler interface {
	HandleJob(ctx context.Context, j *Job) error
}

// Source yields jobs; RedisQueue is the production source
type Source interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
}

// Progress describes a job a worker is currently running
type Progress struct {
	JobID     string        `json:"job_id"`
	Kind      types.JobKind `json:"kind"`
	RegionID  int32         `json:"region_id"`
	Worker    int           `json:"worker"`
	StartedAt time.Time     `json:"started_at"`
}

// Pool runs a fixed number of workers that pull jobs from a Source
type Pool struct {
	source      Source
	handler     Handler
	workers     int
	pollTimeout time.Duration
	errBackoff  time.Duration

	mu      sync.RWMutex
	active  map[string]*Progress
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPool creates a worker pool
func NewPool(source Source, handler Handler, workers int, pollTimeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &Pool{
		source:      source,
		handler:     handler,
		workers:     workers,
		pollTimeout: pollTimeout,
		errBackoff:  time.Second,
		active:      make(map[string]*Progress),
	}
}

// Start launches the workers. They run until Stop is called or ctx is done.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pool already started")
	}
	p.started = true
	p.stopCh = make(chan struct{})

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	logging.FromContext(ctx).WithField("workers", p.workers).Info("Job pool started")
	return nil
}

// Stop signals the workers and waits for in-flight jobs to finish
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

// Active returns the jobs currently running, oldest first
func (p *Pool) Active() []Progress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Progress, 0, len(p.active))
	for _, pr := range p.active {
		out = append(out, *pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (p *Pool) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func (p *Pool) run(ctx context.Context, worker int) {
	defer p.wg.Done()
	logger := logging.FromContext(ctx).WithField("worker", worker)

	for !p.stopped(ctx) {
		j, err := p.source.Dequeue(ctx, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("Dequeue failed")
			select {
			case <-time.After(p.errBackoff):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		if j == nil {
			continue
		}
		p.execute(ctx, logger, worker, j)
	}
}

func (p *Pool) execute(ctx context.Context, logger *logging.Logger, worker int, j *Job) {
	p.track(worker, j)
	defer p.untrack(j.ID)

	jobLogger := logger.WithJob(j.ID).WithRegion(j.RegionID).WithField("kind", j.Kind)
	jobCtx := logging.WithLogger(ctx, jobLogger)

	defer func() {
		if r := recover(); r != nil {
			jobLogger.WithField("panic", r).Error("Job panicked")
		}
	}()

	start := time.Now()
	if err := p.handler.HandleJob(jobCtx, j); err != nil {
		jobLogger.WithError(err).WithField("duration", time.Since(start).String()).Error("Job failed")
		return
	}
	jobLogger.WithField("duration", time.Since(start).String()).Debug("Job finished")
}

func (p *Pool) track(worker int, j *Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[j.ID] = &Progress{
		JobID:     j.ID,
		Kind:      j.Kind,
		RegionID:  j.RegionID,
		Worker:    worker,
		StartedAt: time.Now(),
	}
}

func (p *Pool) untrack(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, id)
}
