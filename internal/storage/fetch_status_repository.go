package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/models"
)

// FetchStatusRepository tracks the start and outcome of each region's sync runs.
type FetchStatusRepository struct {
	pool *pgxpool.Pool
}

// NewFetchStatusRepository creates a new fetch status repository
func NewFetchStatusRepository(db *PostgresDB) *FetchStatusRepository {
	return &FetchStatusRepository{pool: db.Pool()}
}

// MarkStarted records an in-progress run: started = at, success = false.
func (r *FetchStatusRepository) MarkStarted(ctx context.Context, regionID int32, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO region_fetch_status (region_id, last_fetch_started, last_fetch_success)
		VALUES ($1, $2, false)
		ON CONFLICT (region_id) DO UPDATE SET
			last_fetch_started = EXCLUDED.last_fetch_started,
			last_fetch_success = false`,
		regionID, at)
	if err != nil {
		return fmt.Errorf("failed to mark fetch started: %w", err)
	}
	return nil
}

// MarkCompleted records a successful run. completedAt is the run's fetch start.
func (r *FetchStatusRepository) MarkCompleted(ctx context.Context, regionID int32, completedAt time.Time, ordersFetched int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO region_fetch_status (region_id, last_fetch_completed, last_fetch_success, orders_fetched)
		VALUES ($1, $2, true, $3)
		ON CONFLICT (region_id) DO UPDATE SET
			last_fetch_completed = EXCLUDED.last_fetch_completed,
			last_fetch_success = true,
			orders_fetched = EXCLUDED.orders_fetched`,
		regionID, completedAt, ordersFetched)
	if err != nil {
		return fmt.Errorf("failed to mark fetch completed: %w", err)
	}
	return nil
}

// MarkFailed records a failed run without touching the completion time.
func (r *FetchStatusRepository) MarkFailed(ctx context.Context, regionID int32) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO region_fetch_status (region_id, last_fetch_success)
		VALUES ($1, false)
		ON CONFLICT (region_id) DO UPDATE SET last_fetch_success = false`,
		regionID)
	if err != nil {
		return fmt.Errorf("failed to mark fetch failed: %w", err)
	}
	return nil
}

const selectFetchStatus = `
	SELECT region_id, last_fetch_started, last_fetch_completed, last_fetch_success, orders_fetched
	FROM region_fetch_status`

func scanFetchStatus(row pgx.Row) (*models.FetchStatus, error) {
	var s models.FetchStatus
	if err := row.Scan(&s.RegionID, &s.LastFetchStarted, &s.LastFetchCompleted, &s.LastFetchSuccess, &s.OrdersFetched); err != nil {
		return nil, err
	}
	return &s, nil
}

// Get returns a region's fetch status.
func (r *FetchStatusRepository) Get(ctx context.Context, regionID int32) (*models.FetchStatus, error) {
	s, err := scanFetchStatus(r.pool.QueryRow(ctx, selectFetchStatus+` WHERE region_id = $1`, regionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("fetch status", fmt.Sprintf("%d", regionID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fetch status: %w", err)
	}
	return s, nil
}

// List returns every region's fetch status ordered by region.
func (r *FetchStatusRepository) List(ctx context.Context) ([]*models.FetchStatus, error) {
	rows, err := r.pool.Query(ctx, selectFetchStatus+` ORDER BY region_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list fetch status: %w", err)
	}
	defer rows.Close()

	var out []*models.FetchStatus
	for rows.Next() {
		s, err := scanFetchStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fetch status: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fetch status: %w", err)
	}
	return out, nil
}
