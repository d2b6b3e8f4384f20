// Package holdings provides the repositories for disclosed snapshots,
// daily bars, and the derived cost-basis and valuation records.
package holdings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quantfold/holdwatch/internal/database"
	"github.com/quantfold/holdwatch/internal/domain"
)

// BarRepository stores and queries daily trade bars. It backs both the
// VWAP estimator (windowed sums) and the quote source (latest close).
type BarRepository struct {
	db *sql.DB
}

// NewBarRepository creates a new bar repository.
func NewBarRepository(db *sql.DB) *BarRepository {
	return &BarRepository{db: db}
}

// UpsertBatch inserts or replaces a batch of bars in one transaction.
func (r *BarRepository) UpsertBatch(ctx context.Context, bars []domain.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO daily_bars (instrument_id, trade_date, open, high, low, close, volume, turnover)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instrument_id, trade_date) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume,
				turnover = excluded.turnover`)
		if err != nil {
			return fmt.Errorf("failed to prepare bar upsert: %w", err)
		}
		defer stmt.Close()

		for _, bar := range bars {
			if _, err := stmt.ExecContext(ctx,
				bar.InstrumentID,
				bar.TradeDate.Unix(),
				bar.Open, bar.High, bar.Low, bar.Close,
				bar.Volume, bar.Turnover,
			); err != nil {
				return fmt.Errorf("failed to upsert bar %s/%s: %w",
					bar.InstrumentID, bar.TradeDate.Format("2006-01-02"), err)
			}
		}
		return nil
	})
}

// SumWindow returns summed turnover and volume for bars with trade dates in
// [start, end] inclusive. Implements the estimator's BarSummer.
func (r *BarRepository) SumWindow(ctx context.Context, instrumentID string, start, end time.Time) (float64, float64, error) {
	var turnover, volume sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT SUM(turnover), SUM(volume)
		FROM daily_bars
		WHERE instrument_id = ? AND trade_date >= ? AND trade_date <= ?`,
		instrumentID, start.Unix(), end.Unix(),
	).Scan(&turnover, &volume)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum bar window for %s: %w", instrumentID, err)
	}

	// NULL sums mean no rows in range; that is a data gap, not an error.
	return turnover.Float64, volume.Float64, nil
}

// LatestClose returns the most recent close for an instrument.
// ok is false when no bars exist at all.
func (r *BarRepository) LatestClose(ctx context.Context, instrumentID string) (float64, bool, error) {
	var close float64
	err := r.db.QueryRowContext(ctx, `
		SELECT close FROM daily_bars
		WHERE instrument_id = ?
		ORDER BY trade_date DESC
		LIMIT 1`, instrumentID).Scan(&close)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query latest close for %s: %w", instrumentID, err)
	}
	return close, true, nil
}

// LatestPrice adapts LatestClose to the orchestrator's quote source.
func (r *BarRepository) LatestPrice(ctx context.Context, instrumentID string) (float64, bool, error) {
	return r.LatestClose(ctx, instrumentID)
}

// Closes returns up to limit closes for an instrument in ascending trade
// date order, for technical indicator calculations.
func (r *BarRepository) Closes(ctx context.Context, instrumentID string, limit int) ([]float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT close FROM (
			SELECT trade_date, close FROM daily_bars
			WHERE instrument_id = ?
			ORDER BY trade_date DESC
			LIMIT ?
		) ORDER BY trade_date ASC`, instrumentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query closes for %s: %w", instrumentID, err)
	}
	defer rows.Close()

	var closes []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		closes = append(closes, c)
	}
	return closes, rows.Err()
}

// LatestTradeDate returns the newest trade date stored for an instrument.
func (r *BarRepository) LatestTradeDate(ctx context.Context, instrumentID string) (time.Time, bool, error) {
	var unix int64
	err := r.db.QueryRowContext(ctx, `
		SELECT trade_date FROM daily_bars
		WHERE instrument_id = ?
		ORDER BY trade_date DESC
		LIMIT 1`, instrumentID).Scan(&unix)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest trade date for %s: %w", instrumentID, err)
	}
	return time.Unix(unix, 0).UTC(), true, nil
}
