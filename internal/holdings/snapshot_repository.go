package holdings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quantfold/holdwatch/internal/database"
	"github.com/quantfold/holdwatch/internal/domain"
)

// SnapshotRepository stores disclosed holding snapshots. Snapshots are
// immutable observations; upserts only matter when an upstream correction
// re-publishes a period.
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// UpsertBatch inserts or replaces snapshots in one transaction.
func (r *SnapshotRepository) UpsertBatch(ctx context.Context, snaps []domain.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO snapshots (instrument_id, holder_id, period_end, held_quantity, announced_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (instrument_id, holder_id, period_end) DO UPDATE SET
				held_quantity = excluded.held_quantity,
				announced_at = excluded.announced_at`)
		if err != nil {
			return fmt.Errorf("failed to prepare snapshot upsert: %w", err)
		}
		defer stmt.Close()

		for _, snap := range snaps {
			if snap.HeldQuantity < 0 {
				return fmt.Errorf("%w: negative held quantity for %s/%s",
					domain.ErrContractViolation, snap.InstrumentID, snap.HolderID)
			}
			var announced interface{}
			if !snap.AnnouncedAt.IsZero() {
				announced = snap.AnnouncedAt.Unix()
			}
			if _, err := stmt.ExecContext(ctx,
				snap.InstrumentID,
				snap.HolderID,
				snap.PeriodEnd.Unix(),
				snap.HeldQuantity,
				announced,
			); err != nil {
				return fmt.Errorf("failed to upsert snapshot %s/%s/%s: %w",
					snap.InstrumentID, snap.HolderID, snap.PeriodEnd.Format("2006-01-02"), err)
			}
		}
		return nil
	})
}

// All returns every snapshot ordered by instrument, holder and period end.
// The reconciliation run consumes this as its full input set.
func (r *SnapshotRepository) All(ctx context.Context) ([]domain.Snapshot, error) {
	return r.query(ctx, `
		SELECT instrument_id, holder_id, period_end, held_quantity, announced_at
		FROM snapshots
		ORDER BY instrument_id, holder_id, period_end`)
}

// ForInstrument returns one instrument's snapshots ordered by holder and
// period end.
func (r *SnapshotRepository) ForInstrument(ctx context.Context, instrumentID string) ([]domain.Snapshot, error) {
	return r.query(ctx, `
		SELECT instrument_id, holder_id, period_end, held_quantity, announced_at
		FROM snapshots
		WHERE instrument_id = ?
		ORDER BY holder_id, period_end`, instrumentID)
}

func (r *SnapshotRepository) query(ctx context.Context, q string, args ...interface{}) ([]domain.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []domain.Snapshot
	for rows.Next() {
		var (
			snap      domain.Snapshot
			periodEnd int64
			announced sql.NullInt64
		)
		if err := rows.Scan(&snap.InstrumentID, &snap.HolderID, &periodEnd, &snap.HeldQuantity, &announced); err != nil {
			return nil, err
		}
		snap.PeriodEnd = time.Unix(periodEnd, 0).UTC()
		if announced.Valid {
			snap.AnnouncedAt = time.Unix(announced.Int64, 0).UTC()
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// LatestPeriodEnd returns the newest disclosed period end across all
// snapshots; ok is false when the table is empty.
func (r *SnapshotRepository) LatestPeriodEnd(ctx context.Context) (time.Time, bool, error) {
	return r.maxDate(ctx, "SELECT MAX(period_end) FROM snapshots")
}

// LatestAnnouncedAt returns the newest announcement date across all
// snapshots; ok is false when none carry one.
func (r *SnapshotRepository) LatestAnnouncedAt(ctx context.Context) (time.Time, bool, error) {
	return r.maxDate(ctx, "SELECT MAX(announced_at) FROM snapshots")
}

func (r *SnapshotRepository) maxDate(ctx context.Context, q string) (time.Time, bool, error) {
	var unix sql.NullInt64
	if err := r.db.QueryRowContext(ctx, q).Scan(&unix); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query max date: %w", err)
	}
	if !unix.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(unix.Int64, 0).UTC(), true, nil
}

// InstrumentsWithPeriodEnd lists the instruments whose snapshots carry the
// given period end date, for disclosure-day notifications.
func (r *SnapshotRepository) InstrumentsWithPeriodEnd(ctx context.Context, periodEnd time.Time) ([]string, error) {
	return r.instrumentList(ctx,
		"SELECT DISTINCT instrument_id FROM snapshots WHERE period_end = ? ORDER BY instrument_id",
		periodEnd.Unix())
}

// InstrumentsWithAnnouncedAt lists the instruments announced on a given day.
func (r *SnapshotRepository) InstrumentsWithAnnouncedAt(ctx context.Context, announced time.Time) ([]string, error) {
	return r.instrumentList(ctx,
		"SELECT DISTINCT instrument_id FROM snapshots WHERE announced_at = ? ORDER BY instrument_id",
		announced.Unix())
}

func (r *SnapshotRepository) instrumentList(ctx context.Context, q string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
