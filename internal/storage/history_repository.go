package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/market-sync/internal/models"
)

const historyDateLayout = "2006-01-02"

// HistoryRepository stores daily market aggregates in ClickHouse. Rows are
// only ever inserted.
type HistoryRepository struct {
	db *ClickHouseDB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *ClickHouseDB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// LatestDates returns the newest stored date per type in a region.
func (r *HistoryRepository) LatestDates(ctx context.Context, regionID int32) (map[int32]time.Time, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT type_id, max(date)
		FROM market_history
		WHERE region_id = ?
		GROUP BY type_id`, regionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest history dates: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make(map[int32]time.Time)
	for rows.Next() {
		var (
			typeID int32
			date   time.Time
		)
		if err := rows.Scan(&typeID, &date); err != nil {
			return nil, fmt.Errorf("failed to scan history date: %w", err)
		}
		out[typeID] = date.UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history dates: %w", err)
	}
	return out, nil
}

// ExistingDates returns the stored dates (YYYY-MM-DD) for one type on or after since.
func (r *HistoryRepository) ExistingDates(ctx context.Context, regionID, typeID int32, since time.Time) (map[string]struct{}, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT DISTINCT date
		FROM market_history
		WHERE region_id = ? AND type_id = ? AND date >= ?`,
		regionID, typeID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing history: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make(map[string]struct{})
	for rows.Next() {
		var date time.Time
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("failed to scan history date: %w", err)
		}
		out[date.UTC().Format(historyDateLayout)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return out, nil
}

// InsertRecords appends history rows in one batch.
func (r *HistoryRepository) InsertRecords(ctx context.Context, records []*models.MarketHistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO market_history (region_id, type_id, date, average, highest, lowest, order_count, volume)`)
	if err != nil {
		return fmt.Errorf("failed to prepare history batch: %w", err)
	}

	for _, rec := range records {
		if err := batch.Append(
			rec.RegionID,
			rec.TypeID,
			rec.Date,
			rec.Average,
			rec.Highest,
			rec.Lowest,
			rec.OrderCount,
			rec.Volume,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append history record: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send history batch: %w", err)
	}
	return nil
}

// ListHistory returns one type's history in a region, oldest first.
func (r *HistoryRepository) ListHistory(ctx context.Context, regionID, typeID int32, since time.Time) ([]*models.MarketHistoryRecord, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT region_id, type_id, date, average, highest, lowest, order_count, volume
		FROM market_history FINAL
		WHERE region_id = ? AND type_id = ? AND date >= ?
		ORDER BY date`, regionID, typeID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*models.MarketHistoryRecord
	for rows.Next() {
		var rec models.MarketHistoryRecord
		if err := rows.Scan(&rec.RegionID, &rec.TypeID, &rec.Date, &rec.Average, &rec.Highest,
			&rec.Lowest, &rec.OrderCount, &rec.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		rec.Date = rec.Date.UTC()
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return out, nil
}
