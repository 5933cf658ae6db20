package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/market-sync/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "market_sync",
		User:           "market",
		Password:       "market_dev_password",
		MaxConnections: 10,
	}
}

// testRegionID keeps integration rows clear of real region ids.
const testRegionID int32 = -42

func setupPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	require.NoError(t, RunMigrations(PostgresURL(cfg), "../../migrations/postgres"))

	clean := func() {
		ctx := context.Background()
		_, _ = db.Pool().Exec(ctx, `DELETE FROM market_orders WHERE region_id = $1`, testRegionID)
		_, _ = db.Pool().Exec(ctx, `DELETE FROM region_etags WHERE region_id = $1`, testRegionID)
		_, _ = db.Pool().Exec(ctx, `DELETE FROM region_fetch_status WHERE region_id = $1`, testRegionID)
	}
	clean()
	t.Cleanup(clean)
	return db
}
