package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ValidatorRepository stores the per-page ETags of each region's order feed.
type ValidatorRepository struct {
	pool *pgxpool.Pool
}

// NewValidatorRepository creates a new validator repository
func NewValidatorRepository(db *PostgresDB) *ValidatorRepository {
	return &ValidatorRepository{pool: db.Pool()}
}

const upsertValidatorSQL = `
	INSERT INTO region_etags (region_id, page, etag, last_updated)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (region_id, page) DO UPDATE SET
		etag = EXCLUDED.etag,
		last_updated = EXCLUDED.last_updated`

// Get returns the stored validator for one page.
func (r *ValidatorRepository) Get(ctx context.Context, regionID int32, page int) (string, bool, error) {
	var etag string
	err := r.pool.QueryRow(ctx,
		`SELECT etag FROM region_etags WHERE region_id = $1 AND page = $2`,
		regionID, page).Scan(&etag)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get validator: %w", err)
	}
	return etag, true, nil
}

// ListByRegion returns every stored validator for a region keyed by page.
func (r *ValidatorRepository) ListByRegion(ctx context.Context, regionID int32) (map[int]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT page, etag FROM region_etags WHERE region_id = $1`, regionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list validators: %w", err)
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var (
			page int
			etag string
		)
		if err := rows.Scan(&page, &etag); err != nil {
			return nil, fmt.Errorf("failed to scan validator: %w", err)
		}
		out[page] = etag
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating validators: %w", err)
	}
	return out, nil
}

// Put stores the validator for one page.
func (r *ValidatorRepository) Put(ctx context.Context, regionID int32, page int, validator string) error {
	if _, err := r.pool.Exec(ctx, upsertValidatorSQL, regionID, page, validator); err != nil {
		return fmt.Errorf("failed to put validator: %w", err)
	}
	return nil
}

// PutMany stores several page validators in one round trip.
func (r *ValidatorRepository) PutMany(ctx context.Context, regionID int32, validators map[int]string) error {
	if len(validators) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for page, v := range validators {
		batch.Queue(upsertValidatorSQL, regionID, page, v)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer func() {
		_ = results.Close()
	}()

	for i := 0; i < len(validators); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to put validators: %w", err)
		}
	}
	return nil
}
