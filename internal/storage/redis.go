package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/market-sync/internal/config"
)

// releaseScript deletes a lock only while it still holds our token, so a
// holder whose TTL lapsed cannot free a lock someone else now owns.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore wraps the Redis client and provides the distributed locks that
// keep scheduled and manual syncs from overlapping.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a new Redis connection
func NewRedisStore(cfg *config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client. Tests pass a miniredis-backed one.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisStore) Client() redis.UniversalClient {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// TryAcquire takes key for ttl if nobody holds it. It never blocks: false
// means another holder has the lock. The returned token identifies this
// acquisition and must be passed back to Release.
func (r *RedisStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees key if it is still held under token. Releasing a lock that
// expired, was taken over, or was never acquired is a no-op.
func (r *RedisStore) Release(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// Held reports whether anyone currently holds key.
func (r *RedisStore) Held(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lock %s: %w", key, err)
	}
	return n > 0, nil
}
