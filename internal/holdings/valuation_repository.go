package holdings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quantfold/holdwatch/internal/database"
	"github.com/quantfold/holdwatch/internal/domain"
)

// ValuationRepository stores per-period valuation records. A pair's series
// is always replaced wholesale; records are never patched in place.
type ValuationRepository struct {
	db *sql.DB
}

// NewValuationRepository creates a new valuation repository.
func NewValuationRepository(db *sql.DB) *ValuationRepository {
	return &ValuationRepository{db: db}
}

// ReplaceForPair deletes a pair's valuations and writes the new series in
// one transaction. Pairs own disjoint keys, so concurrent replacements for
// different pairs never contend on rows.
func (r *ValuationRepository) ReplaceForPair(ctx context.Context, pair domain.PairKey, recs []domain.ValuationRecord) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM valuations WHERE instrument_id = ? AND holder_id = ?",
			pair.InstrumentID, pair.HolderID,
		); err != nil {
			return fmt.Errorf("failed to clear valuations for %s/%s: %w", pair.InstrumentID, pair.HolderID, err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO valuations
				(instrument_id, holder_id, period_end, held_quantity, average_cost, cost_source,
				 current_price, profit_rate, has_profit_rate, status,
				 change_kind, previous_period, previous_quantity, quantity_delta, percent_change,
				 period_price, period_price_has_data,
				 vs_average_cost, has_vs_average_cost, vs_current_price, has_vs_current_price,
				 is_latest, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare valuation insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range recs {
			var prevPeriod interface{}
			if rec.Change.PreviousPeriod != nil {
				prevPeriod = rec.Change.PreviousPeriod.Unix()
			}
			if _, err := stmt.ExecContext(ctx,
				rec.InstrumentID, rec.HolderID, rec.PeriodEnd.Unix(), rec.HeldQuantity,
				rec.AverageCost, string(rec.CostSource),
				rec.CurrentPrice, rec.ProfitRate, boolToInt(rec.HasProfitRate), string(rec.Status),
				string(rec.Change.Kind), prevPeriod, rec.Change.PreviousQuantity,
				rec.Change.QuantityDelta, rec.Change.PercentChange,
				rec.Change.PeriodPrice, boolToInt(rec.Change.PeriodPriceHasData),
				rec.Change.VsAverageCost, boolToInt(rec.Change.HasVsAverageCost),
				rec.Change.VsCurrentPrice, boolToInt(rec.Change.HasVsCurrentPrice),
				boolToInt(rec.IsLatest), rec.ComputedAt.Unix(),
			); err != nil {
				return fmt.Errorf("failed to insert valuation %s/%s/%s: %w",
					rec.InstrumentID, rec.HolderID, rec.PeriodEnd.Format("2006-01-02"), err)
			}
		}
		return nil
	})
}

// Latest returns the most recent valuation of every pair.
func (r *ValuationRepository) Latest(ctx context.Context) ([]domain.ValuationRecord, error) {
	return r.query(ctx, selectValuations+`
		WHERE is_latest = 1
		ORDER BY instrument_id, holder_id`)
}

// ForInstrument returns all periods of all holders for one instrument.
func (r *ValuationRepository) ForInstrument(ctx context.Context, instrumentID string) ([]domain.ValuationRecord, error) {
	return r.query(ctx, selectValuations+`
		WHERE instrument_id = ?
		ORDER BY holder_id, period_end`, instrumentID)
}

const selectValuations = `
	SELECT instrument_id, holder_id, period_end, held_quantity, average_cost, cost_source,
	       current_price, profit_rate, has_profit_rate, status,
	       change_kind, previous_period, previous_quantity, quantity_delta, percent_change,
	       period_price, period_price_has_data,
	       vs_average_cost, has_vs_average_cost, vs_current_price, has_vs_current_price,
	       is_latest, computed_at
	FROM valuations`

func (r *ValuationRepository) query(ctx context.Context, q string, args ...interface{}) ([]domain.ValuationRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query valuations: %w", err)
	}
	defer rows.Close()

	var recs []domain.ValuationRecord
	for rows.Next() {
		var (
			rec        domain.ValuationRecord
			periodEnd  int64
			prevPeriod sql.NullInt64
			costSource string
			status     string
			changeKind string
			hasRate    int
			priceHas   int
			hasVsCost  int
			hasVsPrice int
			isLatest   int
			computedAt int64
		)
		if err := rows.Scan(
			&rec.InstrumentID, &rec.HolderID, &periodEnd, &rec.HeldQuantity,
			&rec.AverageCost, &costSource,
			&rec.CurrentPrice, &rec.ProfitRate, &hasRate, &status,
			&changeKind, &prevPeriod, &rec.Change.PreviousQuantity,
			&rec.Change.QuantityDelta, &rec.Change.PercentChange,
			&rec.Change.PeriodPrice, &priceHas,
			&rec.Change.VsAverageCost, &hasVsCost,
			&rec.Change.VsCurrentPrice, &hasVsPrice,
			&isLatest, &computedAt,
		); err != nil {
			return nil, err
		}

		rec.PeriodEnd = time.Unix(periodEnd, 0).UTC()
		rec.CostSource = domain.CostSource(costSource)
		rec.Status = domain.Status(status)
		rec.Change.Kind = domain.ChangeKind(changeKind)
		rec.Change.CurrentQuantity = rec.HeldQuantity
		rec.HasProfitRate = hasRate != 0
		rec.Change.PeriodPriceHasData = priceHas != 0
		rec.Change.HasVsAverageCost = hasVsCost != 0
		rec.Change.HasVsCurrentPrice = hasVsPrice != 0
		rec.IsLatest = isLatest != 0
		rec.ComputedAt = time.Unix(computedAt, 0).UTC()
		if prevPeriod.Valid {
			t := time.Unix(prevPeriod.Int64, 0).UTC()
			rec.Change.PreviousPeriod = &t
		}

		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
