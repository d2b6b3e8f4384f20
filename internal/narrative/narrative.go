// Package narrative compares consecutive snapshots of one position and
// emits a structured description of the holding change. The quantitative
// record is the source of truth; prose is derived from it for display.
package narrative

import (
	"fmt"
	"time"

	"github.com/quantfold/holdwatch/internal/domain"
	"github.com/quantfold/holdwatch/internal/vwap"
)

// Input carries everything needed to describe one snapshot-to-snapshot
// change. Previous is nil for the first observed snapshot of a pair.
type Input struct {
	Current  domain.Snapshot
	Previous *domain.Snapshot
	Basis    domain.CostBasisRecord
	// CurrentPrice is the live quote; HasPrice is false when no quote exists.
	CurrentPrice float64
	HasPrice     bool
	// PeriodPrice is the VWAP estimate over the change's accumulation window.
	PeriodPrice vwap.Estimate
	// NewPositionWindowDays bounds how old a first acquisition may be for a
	// freshly observed pair to still count as a new position.
	NewPositionWindowDays int
}

// Describe classifies the change and fills in the quantitative deltas.
func Describe(in Input) domain.ChangeRecord {
	rec := domain.ChangeRecord{
		CurrentQuantity:    in.Current.HeldQuantity,
		PeriodPrice:        in.PeriodPrice.Price,
		PeriodPriceHasData: in.PeriodPrice.HasData,
	}

	if in.Previous == nil {
		rec.QuantityDelta = in.Current.HeldQuantity

		// Without an earlier snapshot the pair is new to the observed
		// window, not necessarily a new position: a first acquisition well
		// before the period means the earlier history simply fell outside
		// the data we have.
		window := time.Duration(in.NewPositionWindowDays) * 24 * time.Hour
		if in.Basis.FirstAcquisition == nil ||
			in.Current.PeriodEnd.Sub(*in.Basis.FirstAcquisition) <= window {
			rec.Kind = domain.ChangeNewPosition
			fillComparisons(&rec, in)
		} else {
			rec.Kind = domain.ChangeUnchanged
			rec.QuantityDelta = 0
		}
		return rec
	}

	prev := *in.Previous
	prevPeriod := prev.PeriodEnd
	rec.PreviousPeriod = &prevPeriod
	rec.PreviousQuantity = prev.HeldQuantity
	rec.QuantityDelta = in.Current.HeldQuantity - prev.HeldQuantity

	switch {
	case rec.QuantityDelta == 0:
		rec.Kind = domain.ChangeUnchanged

	case rec.QuantityDelta > 0:
		rec.Kind = domain.ChangeIncrease
		if prev.HeldQuantity > 0 {
			rec.PercentChange = float64(rec.QuantityDelta) / float64(prev.HeldQuantity)
		}
		fillComparisons(&rec, in)

	default:
		rec.Kind = domain.ChangeDecrease
		if prev.HeldQuantity > 0 {
			rec.PercentChange = float64(rec.QuantityDelta) / float64(prev.HeldQuantity)
		}
		fillComparisons(&rec, in)
	}

	return rec
}

// fillComparisons sets the period-price comparisons against the all-time
// average cost and the live price, when both sides are known.
func fillComparisons(rec *domain.ChangeRecord, in Input) {
	if !in.PeriodPrice.HasData || in.PeriodPrice.Price <= 0 {
		return
	}
	if in.Basis.HasCost() {
		rec.VsAverageCost = (in.PeriodPrice.Price - in.Basis.AverageCost) / in.Basis.AverageCost
		rec.HasVsAverageCost = true
	}
	if in.HasPrice && in.CurrentPrice > 0 {
		rec.VsCurrentPrice = (in.PeriodPrice.Price - in.CurrentPrice) / in.CurrentPrice
		rec.HasVsCurrentPrice = true
	}
}

// Render produces display prose for a change record. Downstream consumers
// that need different phrasing should work from the record fields instead.
func Render(rec domain.ChangeRecord) string {
	switch rec.Kind {
	case domain.ChangeNewPosition:
		s := fmt.Sprintf("New position of %d shares", rec.CurrentQuantity)
		if rec.PeriodPriceHasData {
			s += fmt.Sprintf(" (period VWAP %.2f)", rec.PeriodPrice)
		}
		return s

	case domain.ChangeIncrease:
		s := fmt.Sprintf("Increased by %d shares", rec.QuantityDelta)
		if rec.PreviousQuantity > 0 {
			s += fmt.Sprintf(" (%+.1f%%)", rec.PercentChange*100)
		}
		if rec.PeriodPriceHasData {
			s += fmt.Sprintf(" around %.2f", rec.PeriodPrice)
		}
		if rec.HasVsCurrentPrice {
			s += fmt.Sprintf(", %+.1f%% vs current price", rec.VsCurrentPrice*100)
		}
		return s

	case domain.ChangeDecrease:
		s := fmt.Sprintf("Reduced by %d shares", -rec.QuantityDelta)
		if rec.PreviousQuantity > 0 {
			s += fmt.Sprintf(" (%.1f%%)", rec.PercentChange*100)
		}
		return s

	default:
		if rec.PreviousPeriod != nil {
			return fmt.Sprintf("Unchanged since %s", rec.PreviousPeriod.Format("2006-01-02"))
		}
		return "Unchanged"
	}
}
