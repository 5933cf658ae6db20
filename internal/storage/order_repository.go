package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/market-sync/internal/models"
)

// ReconcilePlan describes one region's write set for a sync cycle.
type ReconcilePlan struct {
	RegionID   int32
	FetchStart time.Time
	Orders     []*models.MarketOrder
	// BumpExisting stamps every stored order of the region with FetchStart
	// before the upsert, so rows behind unchanged pages survive DeleteStale.
	BumpExisting bool
	DeleteStale  bool
}

// ReconcileResult counts the rows a reconcile touched.
type ReconcileResult struct {
	Bumped   int64
	Upserted int64
	Deleted  int64
}

// OrderRepository handles market order persistence
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *PostgresDB) *OrderRepository {
	return &OrderRepository{pool: db.Pool()}
}

var orderCopyColumns = []string{
	"order_id", "type_id", "region_id", "price", "volume_remain", "is_buy_order",
	"issued", "duration", "min_volume", "range", "location_id", "system_id", "updated_at",
}

// Reconcile applies plan in a single transaction: optional bump, bulk upsert
// through a temp table, optional delete of rows older than FetchStart.
// Any failure rolls the whole plan back.
func (r *OrderRepository) Reconcile(ctx context.Context, plan ReconcilePlan) (*ReconcileResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	result := &ReconcileResult{}

	if plan.BumpExisting {
		tag, err := tx.Exec(ctx,
			`UPDATE market_orders SET updated_at = $2 WHERE region_id = $1`,
			plan.RegionID, plan.FetchStart)
		if err != nil {
			return nil, fmt.Errorf("failed to bump order watermarks: %w", err)
		}
		result.Bumped = tag.RowsAffected()
	}

	if len(plan.Orders) > 0 {
		n, err := upsertOrders(ctx, tx, plan.Orders)
		if err != nil {
			return nil, err
		}
		result.Upserted = n
	}

	if plan.DeleteStale {
		tag, err := tx.Exec(ctx,
			`DELETE FROM market_orders WHERE region_id = $1 AND updated_at < $2`,
			plan.RegionID, plan.FetchStart)
		if err != nil {
			return nil, fmt.Errorf("failed to delete stale orders: %w", err)
		}
		result.Deleted = tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reconcile: %w", err)
	}
	return result, nil
}

func upsertOrders(ctx context.Context, tx pgx.Tx, orders []*models.MarketOrder) (int64, error) {
	if _, err := tx.Exec(ctx, `
		CREATE TEMP TABLE tmp_market_orders (LIKE market_orders INCLUDING DEFAULTS)
		ON COMMIT DROP`); err != nil {
		return 0, fmt.Errorf("failed to create staging table: %w", err)
	}

	rows := make([][]any, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, []any{
			o.OrderID, o.TypeID, o.RegionID, o.Price.String(), o.VolumeRemain, o.IsBuyOrder,
			o.Issued, o.Duration, o.MinVolume, o.Range, o.LocationID, o.SystemID, o.UpdatedAt,
		})
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"tmp_market_orders"}, orderCopyColumns, pgx.CopyFromRows(rows)); err != nil {
		return 0, fmt.Errorf("failed to copy orders: %w", err)
	}

	// Pages can shift while being walked, so one order may arrive twice.
	tag, err := tx.Exec(ctx, `
		INSERT INTO market_orders (order_id, type_id, region_id, price, volume_remain, is_buy_order,
			issued, duration, min_volume, "range", location_id, system_id, updated_at)
		SELECT DISTINCT ON (order_id) order_id, type_id, region_id, price, volume_remain, is_buy_order,
			issued, duration, min_volume, "range", location_id, system_id, updated_at
		FROM tmp_market_orders
		ORDER BY order_id, issued DESC
		ON CONFLICT (order_id) DO UPDATE SET
			price = EXCLUDED.price,
			volume_remain = EXCLUDED.volume_remain,
			issued = EXCLUDED.issued,
			updated_at = EXCLUDED.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByRegion returns the number of stored orders in a region.
func (r *OrderRepository) CountByRegion(ctx context.Context, regionID int32) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM market_orders WHERE region_id = $1`, regionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return n, nil
}

// SellOrdersInSystem returns every live sell order in a solar system.
func (r *OrderRepository) SellOrdersInSystem(ctx context.Context, systemID int32) ([]models.SellQuote, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT type_id, price, volume_remain
		FROM market_orders
		WHERE system_id = $1 AND NOT is_buy_order AND volume_remain > 0
		ORDER BY type_id, order_id`, systemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sell orders: %w", err)
	}
	defer rows.Close()

	var quotes []models.SellQuote
	for rows.Next() {
		var (
			q     models.SellQuote
			price string
		)
		if err := rows.Scan(&q.TypeID, &price, &q.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan sell order: %w", err)
		}
		if q.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid stored price %q: %w", price, err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sell orders: %w", err)
	}
	return quotes, nil
}

// BuyOrdersInSystems returns live buy orders for typeIDs located in any of systems.
func (r *OrderRepository) BuyOrdersInSystems(ctx context.Context, systems []int32, typeIDs []int32) ([]models.BuyQuote, error) {
	if len(systems) == 0 || len(typeIDs) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT o.order_id, o.type_id, o.price, o.volume_remain, o.system_id, o.location_id,
			COALESCE(st.name, '')
		FROM market_orders o
		LEFT JOIN sde_stations st ON st.station_id = o.location_id
		WHERE o.is_buy_order AND o.volume_remain > 0
			AND o.system_id = ANY($1) AND o.type_id = ANY($2)`, systems, typeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query buy orders: %w", err)
	}
	defer rows.Close()

	var quotes []models.BuyQuote
	for rows.Next() {
		var (
			q     models.BuyQuote
			price string
		)
		if err := rows.Scan(&q.OrderID, &q.TypeID, &price, &q.Volume, &q.SystemID, &q.LocationID, &q.LocationName); err != nil {
			return nil, fmt.Errorf("failed to scan buy order: %w", err)
		}
		if q.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid stored price %q: %w", price, err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating buy orders: %w", err)
	}
	return quotes, nil
}
