// Package valuation turns a reconstructed or estimated cost plus a live
// price into a profit rate and a profitability status.
package valuation

import (
	"github.com/quantfold/holdwatch/internal/domain"
	"github.com/quantfold/holdwatch/internal/vwap"
)

// Classification thresholds. These are a business rule, preserved exactly:
// the -10% and +20% boundaries are inclusive on the sides written below.
const (
	deepLockBelow = -0.10
	profitUpTo    = 0.20
)

// Classify computes the profit rate and status for a position. The rate is
// defined only when both cost and price are positive; otherwise the status
// is Unknown and ok is false.
func Classify(averageCost, currentPrice float64) (profitRate float64, ok bool, status domain.Status) {
	if averageCost <= 0 || currentPrice <= 0 {
		return 0, false, domain.StatusUnknown
	}

	rate := (currentPrice - averageCost) / averageCost

	switch {
	case rate < deepLockBelow:
		return rate, true, domain.StatusDeepLock
	case rate <= 0:
		return rate, true, domain.StatusTrapped
	case rate <= profitUpTo:
		return rate, true, domain.StatusProfit
	default:
		return rate, true, domain.StatusHighProfit
	}
}

// Valuer resolves the cost figure a valuation should use.
type Valuer struct {
	// discount is applied to single-window VWAP fallbacks: large buyers
	// tend to accumulate below the period's volume-weighted price.
	discount float64
}

// NewValuer creates a valuer with the configured accumulation discount.
func NewValuer(discount float64) *Valuer {
	return &Valuer{discount: discount}
}

// ResolveCost picks the cost basis for a valuation. A non-zero full-history
// reconstruction wins; otherwise the period's own VWAP estimate, discounted,
// stands in; with neither, the cost is unknown.
func (v *Valuer) ResolveCost(basis domain.CostBasisRecord, window vwap.Estimate) (float64, domain.CostSource) {
	if basis.HasCost() {
		return basis.AverageCost, domain.CostSourceBacktrace
	}
	if window.HasData && window.Price > 0 {
		return window.Price * v.discount, domain.CostSourceWindowEstimate
	}
	return 0, domain.CostSourceUnknown
}
