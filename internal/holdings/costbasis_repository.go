package holdings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quantfold/holdwatch/internal/domain"
)

// CostBasisRepository stores reconstructed cost-basis records, one per
// (instrument, holder) pair. Writes are full replacements, never patches.
type CostBasisRepository struct {
	db *sql.DB
}

// NewCostBasisRepository creates a new cost-basis repository.
func NewCostBasisRepository(db *sql.DB) *CostBasisRepository {
	return &CostBasisRepository{db: db}
}

// Upsert writes a record, replacing any previous one for the pair.
func (r *CostBasisRepository) Upsert(ctx context.Context, rec domain.CostBasisRecord) error {
	var first interface{}
	if rec.FirstAcquisition != nil {
		first = rec.FirstAcquisition.Unix()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cost_basis
			(instrument_id, holder_id, average_cost, total_invested, total_shares,
			 first_acquisition, unpriced_windows, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instrument_id, holder_id) DO UPDATE SET
			average_cost = excluded.average_cost,
			total_invested = excluded.total_invested,
			total_shares = excluded.total_shares,
			first_acquisition = excluded.first_acquisition,
			unpriced_windows = excluded.unpriced_windows,
			computed_at = excluded.computed_at`,
		rec.InstrumentID, rec.HolderID,
		rec.AverageCost, rec.TotalInvested, rec.TotalShares,
		first, rec.UnpricedWindows, rec.ComputedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cost basis %s/%s: %w", rec.InstrumentID, rec.HolderID, err)
	}
	return nil
}

// Get returns the record for a pair; ok is false when none exists.
func (r *CostBasisRepository) Get(ctx context.Context, pair domain.PairKey) (domain.CostBasisRecord, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT instrument_id, holder_id, average_cost, total_invested, total_shares,
		       first_acquisition, unpriced_windows, computed_at
		FROM cost_basis
		WHERE instrument_id = ? AND holder_id = ?`,
		pair.InstrumentID, pair.HolderID)

	rec, err := scanCostBasis(row)
	if err == sql.ErrNoRows {
		return domain.CostBasisRecord{}, false, nil
	}
	if err != nil {
		return domain.CostBasisRecord{}, false, fmt.Errorf("failed to query cost basis %s/%s: %w",
			pair.InstrumentID, pair.HolderID, err)
	}
	return rec, true, nil
}

// ForInstrument returns all records for one instrument ordered by holder.
func (r *CostBasisRepository) ForInstrument(ctx context.Context, instrumentID string) ([]domain.CostBasisRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT instrument_id, holder_id, average_cost, total_invested, total_shares,
		       first_acquisition, unpriced_windows, computed_at
		FROM cost_basis
		WHERE instrument_id = ?
		ORDER BY holder_id`, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost basis for %s: %w", instrumentID, err)
	}
	defer rows.Close()

	var recs []domain.CostBasisRecord
	for rows.Next() {
		rec, err := scanCostBasis(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCostBasis(s scanner) (domain.CostBasisRecord, error) {
	var (
		rec        domain.CostBasisRecord
		first      sql.NullInt64
		computedAt int64
	)
	if err := s.Scan(
		&rec.InstrumentID, &rec.HolderID,
		&rec.AverageCost, &rec.TotalInvested, &rec.TotalShares,
		&first, &rec.UnpricedWindows, &computedAt,
	); err != nil {
		return domain.CostBasisRecord{}, err
	}
	if first.Valid {
		t := time.Unix(first.Int64, 0).UTC()
		rec.FirstAcquisition = &t
	}
	rec.ComputedAt = time.Unix(computedAt, 0).UTC()
	return rec, nil
}
