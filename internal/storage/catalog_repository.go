package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/market-sync/internal/models"
)

// CatalogRepository reads the static reference tables. It never writes.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *PostgresDB) *CatalogRepository {
	return &CatalogRepository{pool: db.Pool()}
}

// ListRegionIDs returns every known region id in ascending order.
func (r *CatalogRepository) ListRegionIDs(ctx context.Context) ([]int32, error) {
	rows, err := r.pool.Query(ctx, `SELECT region_id FROM sde_regions ORDER BY region_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return nil, fmt.Errorf("failed to scan regions: %w", err)
	}
	return ids, nil
}

// FindSystemByName resolves a solar system name case-insensitively.
// A nil system with a nil error means no match.
func (r *CatalogRepository) FindSystemByName(ctx context.Context, name string) (*models.SolarSystem, error) {
	var s models.SolarSystem
	err := r.pool.QueryRow(ctx, `
		SELECT system_id, region_id, name, security
		FROM sde_solar_systems
		WHERE lower(name) = lower($1)
		LIMIT 1`, name).Scan(&s.SystemID, &s.RegionID, &s.Name, &s.Security)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find system: %w", err)
	}
	return &s, nil
}

// LoadJumpGraph returns the directed adjacency list of the jump graph.
func (r *CatalogRepository) LoadJumpGraph(ctx context.Context) (map[int32][]int32, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT from_solar_system_id, to_solar_system_id
		FROM sde_solar_system_jumps`)
	if err != nil {
		return nil, fmt.Errorf("failed to load jumps: %w", err)
	}
	defer rows.Close()

	adj := make(map[int32][]int32)
	for rows.Next() {
		var e models.JumpEdge
		if err := rows.Scan(&e.FromSystemID, &e.ToSystemID); err != nil {
			return nil, fmt.Errorf("failed to scan jump: %w", err)
		}
		adj[e.FromSystemID] = append(adj[e.FromSystemID], e.ToSystemID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jumps: %w", err)
	}
	return adj, nil
}

// SystemNames maps system ids to names.
func (r *CatalogRepository) SystemNames(ctx context.Context, ids []int32) (map[int32]string, error) {
	return r.names(ctx, `SELECT system_id, name FROM sde_solar_systems WHERE system_id = ANY($1)`, ids)
}

// TypeNames maps item type ids to names.
func (r *CatalogRepository) TypeNames(ctx context.Context, ids []int32) (map[int32]string, error) {
	return r.names(ctx, `SELECT type_id, name FROM sde_types WHERE type_id = ANY($1)`, ids)
}

func (r *CatalogRepository) names(ctx context.Context, query string, ids []int32) (map[int32]string, error) {
	out := make(map[int32]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int32
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		out[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating names: %w", err)
	}
	return out, nil
}
