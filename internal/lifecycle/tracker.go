// Package lifecycle reconstructs a holder's average acquisition cost from
// its ordered disclosure snapshots. Each accumulation is priced at the VWAP
// of the trailing accumulation window; reductions remove invested capital
// proportionally at the running average cost (average-cost-out, not FIFO).
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/holdwatch/internal/config"
	"github.com/quantfold/holdwatch/internal/domain"
	"github.com/quantfold/holdwatch/internal/vwap"
)

// WindowPricer estimates the accumulation price for a disclosure period.
type WindowPricer interface {
	TrailingWindow(ctx context.Context, instrumentID string, end time.Time, windowDays int) (vwap.Estimate, error)
}

// Tracker replays one (instrument, holder) snapshot sequence into a
// CostBasisRecord. It holds no per-pair state between calls; all state
// lives on the stack of Reconstruct.
type Tracker struct {
	prices WindowPricer
	cfg    config.EngineConfig
	log    zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a new lifecycle tracker.
func NewTracker(prices WindowPricer, cfg config.EngineConfig, log zerolog.Logger) *Tracker {
	return &Tracker{
		prices: prices,
		cfg:    cfg,
		log:    log.With().Str("component", "lifecycle").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the wall clock. Tests use it to make ComputedAt
// deterministic.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Reconstruct replays snapshots in increasing period-end order and returns
// the resulting cost basis. Input must already be sorted and all snapshots
// must belong to the same (instrument, holder) pair; violating either is a
// caller contract violation, not a recoverable condition. Sorting is the
// orchestrator's job and is deliberately not duplicated here.
func (t *Tracker) Reconstruct(ctx context.Context, snapshots []domain.Snapshot) (domain.CostBasisRecord, error) {
	if len(snapshots) == 0 {
		return domain.CostBasisRecord{}, fmt.Errorf("reconstruct: %w", domain.ErrNoData)
	}

	if err := validate(snapshots); err != nil {
		return domain.CostBasisRecord{}, err
	}

	pair := domain.PairKey{
		InstrumentID: snapshots[0].InstrumentID,
		HolderID:     snapshots[0].HolderID,
	}

	var (
		runningShares int64
		runningCost   float64
		firstAcquired *time.Time
		lastPeriodEnd *time.Time
		unpricedCount int
	)

	gapThreshold := time.Duration(t.cfg.GapThresholdDays) * 24 * time.Hour

	for _, snap := range snapshots {
		// A disclosure gap longer than the threshold reads as a full exit
		// and later re-entry; the stale cost basis must not blend into the
		// new one.
		if lastPeriodEnd != nil && snap.PeriodEnd.Sub(*lastPeriodEnd) > gapThreshold {
			t.log.Debug().
				Str("instrument", pair.InstrumentID).
				Str("holder", pair.HolderID).
				Time("last_period", *lastPeriodEnd).
				Time("period", snap.PeriodEnd).
				Msg("Disclosure gap exceeds threshold, resetting lifecycle")

			runningShares = 0
			runningCost = 0
			firstAcquired = nil
			unpricedCount = 0
		}

		delta := snap.HeldQuantity - runningShares

		switch {
		case delta > 0:
			if firstAcquired == nil {
				d := snap.PeriodEnd
				firstAcquired = &d
			}

			est, err := t.prices.TrailingWindow(ctx, snap.InstrumentID, snap.PeriodEnd, t.cfg.AccumulationWindowDays)
			if err != nil {
				return domain.CostBasisRecord{}, fmt.Errorf("pricing window ending %s: %w",
					snap.PeriodEnd.Format("2006-01-02"), err)
			}
			if !est.HasData {
				// Price 0 drags the estimate down; count it so callers can
				// tell a degraded figure from an exact one.
				unpricedCount++
			}

			runningCost += float64(delta) * est.Price
			runningShares += delta

		case delta < 0 && runningShares > 0:
			// Remove capital proportionally at the current average cost so
			// the per-share average of the remainder is unchanged.
			avgCost := runningCost / float64(runningShares)
			runningCost += float64(delta) * avgCost
			runningShares += delta

		default:
			// delta == 0, or a reduction with nothing held (malformed
			// upstream data); only the period pointer advances.
		}

		d := snap.PeriodEnd
		lastPeriodEnd = &d
	}

	record := domain.CostBasisRecord{
		InstrumentID:     pair.InstrumentID,
		HolderID:         pair.HolderID,
		TotalInvested:    runningCost,
		TotalShares:      runningShares,
		FirstAcquisition: firstAcquired,
		UnpricedWindows:  unpricedCount,
		ComputedAt:       t.now().UTC(),
	}
	if runningShares > 0 {
		record.AverageCost = runningCost / float64(runningShares)
	}

	return record, nil
}

// validate rejects input that breaks the tracker's preconditions.
func validate(snapshots []domain.Snapshot) error {
	first := snapshots[0]
	for i, snap := range snapshots {
		if snap.HeldQuantity < 0 {
			return fmt.Errorf("%w: negative held quantity %d at %s",
				domain.ErrContractViolation, snap.HeldQuantity, snap.PeriodEnd.Format("2006-01-02"))
		}
		if snap.InstrumentID != first.InstrumentID || snap.HolderID != first.HolderID {
			return fmt.Errorf("%w: mixed pairs in one sequence (%s/%s vs %s/%s)",
				domain.ErrContractViolation,
				first.InstrumentID, first.HolderID, snap.InstrumentID, snap.HolderID)
		}
		if i > 0 && !snapshots[i-1].PeriodEnd.Before(snap.PeriodEnd) {
			return fmt.Errorf("%w: snapshots not strictly increasing at %s",
				domain.ErrContractViolation, snap.PeriodEnd.Format("2006-01-02"))
		}
	}
	return nil
}
