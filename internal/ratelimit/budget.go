// Package ratelimit shares the market feed request budget across every worker
// and server process through Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultWindowSize = time.Second
	DefaultKeyTTL     = 2 * time.Second
	DefaultBaseDelay  = 50 * time.Millisecond
	DefaultMaxDelay   = 2 * time.Second
)

const (
	keyPrefixTotal    = "esi:budget:total:"
	keyPrefixReserved = "esi:budget:reserved:"
	keyPrefixShared   = "esi:budget:shared:"
)

// Priority selects the budget pool a request draws from.
type Priority int

const (
	// PriorityHigh is order sync; it draws from the reserved pool.
	PriorityHigh Priority = iota
	// PriorityLow is history and type listing; it draws from the shared pool.
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority tags ctx so feed calls made under it use p's pool.
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFrom returns the pool ctx was tagged with, PriorityHigh if none.
func PriorityFrom(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityHigh
}

// consumeScript checks both the total and the pool counter and increments
// them together, so concurrent processes cannot overshoot the window.
var consumeScript = redis.NewScript(`
local totalUsed = tonumber(redis.call('GET', KEYS[1]) or '0')
local poolUsed = tonumber(redis.call('GET', KEYS[2]) or '0')
local n = tonumber(ARGV[1])
if totalUsed + n > tonumber(ARGV[2]) then
	return 0
end
if poolUsed + n > tonumber(ARGV[3]) then
	return 0
end
redis.call('INCRBY', KEYS[1], n)
redis.call('EXPIRE', KEYS[1], ARGV[4])
redis.call('INCRBY', KEYS[2], n)
redis.call('EXPIRE', KEYS[2], ARGV[4])
return 1
`)

// BudgetConfig holds configuration for SharedBudget.
type BudgetConfig struct {
	Redis redis.Cmdable
	// Total requests per window across all processes.
	Total int
	// Reserved is the part of Total only PriorityHigh may use.
	Reserved   int
	WindowSize time.Duration
	KeyTTL     time.Duration
}

// Validate checks if the configuration is valid.
func (c *BudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Total <= 0 {
		return errors.New("total budget must be positive")
	}
	if c.Reserved < 0 || c.Reserved > c.Total {
		return fmt.Errorf("reserved budget (%d) must be between 0 and total (%d)", c.Reserved, c.Total)
	}
	return nil
}

// SharedBudget is a fixed-window request counter kept in Redis.
type SharedBudget struct {
	redis      redis.Cmdable
	total      int
	reserved   int
	shared     int
	windowSize time.Duration
	keyTTL     time.Duration
}

// Usage reports consumption in the current window.
type Usage struct {
	TotalUsed    int
	ReservedUsed int
	SharedUsed   int
	WindowStart  time.Time
}

// NewSharedBudget creates a budget with the given configuration.
func NewSharedBudget(cfg *BudgetConfig) (*SharedBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	b := &SharedBudget{
		redis:      cfg.Redis,
		total:      cfg.Total,
		reserved:   cfg.Reserved,
		shared:     cfg.Total - cfg.Reserved,
		windowSize: cfg.WindowSize,
		keyTTL:     cfg.KeyTTL,
	}
	if b.windowSize == 0 {
		b.windowSize = DefaultWindowSize
	}
	if b.keyTTL == 0 {
		b.keyTTL = DefaultKeyTTL
	}
	return b, nil
}

func (b *SharedBudget) window(now time.Time) (int64, string, string, string) {
	ts := now.Truncate(b.windowSize).UnixMilli()
	s := strconv.FormatInt(ts, 10)
	return ts, keyPrefixTotal + s, keyPrefixReserved + s, keyPrefixShared + s
}

// TryConsume takes n requests from p's pool. When denied it returns the time
// left until the next window.
func (b *SharedBudget) TryConsume(ctx context.Context, n int, p Priority) (bool, time.Duration) {
	if n <= 0 {
		return true, 0
	}

	ts, totalKey, reservedKey, sharedKey := b.window(time.Now())
	poolKey, poolBudget := sharedKey, b.shared
	if p == PriorityHigh {
		// high priority may also use the shared pool, so its ceiling is the total
		poolKey, poolBudget = reservedKey, b.total
	}

	ttl := int(b.keyTTL.Seconds())
	if ttl < 1 {
		ttl = 1
	}

	ok, err := consumeScript.Run(ctx, b.redis, []string{totalKey, poolKey}, n, b.total, poolBudget, ttl).Int()
	if err != nil || ok != 1 {
		return false, b.untilNextWindow(ts)
	}
	return true, 0
}

func (b *SharedBudget) untilNextWindow(ts int64) time.Duration {
	wait := time.Until(time.UnixMilli(ts).Add(b.windowSize))
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// Wait blocks until one request is granted from the pool ctx is tagged with.
func (b *SharedBudget) Wait(ctx context.Context) error {
	p := PriorityFrom(ctx)
	delay := DefaultBaseDelay
	for {
		ok, wait := b.TryConsume(ctx, 1, p)
		if ok {
			return nil
		}
		if wait < delay {
			wait = delay
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if delay *= 2; delay > DefaultMaxDelay {
			delay = DefaultMaxDelay
		}
	}
}

// Usage returns current window usage.
func (b *SharedBudget) Usage(ctx context.Context) (*Usage, error) {
	ts, totalKey, reservedKey, sharedKey := b.window(time.Now())

	pipe := b.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read budget usage: %w", err)
	}

	return &Usage{
		TotalUsed:    intOrZero(totalCmd),
		ReservedUsed: intOrZero(reservedCmd),
		SharedUsed:   intOrZero(sharedCmd),
		WindowStart:  time.UnixMilli(ts),
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	v, err := cmd.Int()
	if err != nil {
		return 0
	}
	return v
}
