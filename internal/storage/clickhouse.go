package storage

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/market-sync/internal/config"
)

// ClickHouseDB holds the connection to the market history store.
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB connects to ClickHouse and verifies the connection.
// History inserts are batched and LZ4 compressed.
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	opts := &clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:     connectTimeout,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse at %s: %w", opts.Addr[0], err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close releases the connection
func (db *ClickHouseDB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Conn returns the driver connection used by HistoryRepository
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Ping reports whether ClickHouse answers; used by /health.
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Exec runs a statement that returns no rows, such as a migration step.
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}
