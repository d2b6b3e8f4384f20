// Package domain provides core domain models and types.
package domain

import "time"

// Snapshot is one disclosed holding observation: how many shares a holder
// reported at the end of a disclosure period. Snapshots are immutable once
// ingested and are unique per (instrument, holder, period end).
type Snapshot struct {
	InstrumentID string    `json:"instrument_id"`
	HolderID     string    `json:"holder_id"`
	PeriodEnd    time.Time `json:"period_end"`
	HeldQuantity int64     `json:"held_quantity"` // shares, never negative
	AnnouncedAt  time.Time `json:"announced_at"`  // disclosure publication date
}

// DailyBar is one trading day's aggregate for an instrument.
// Volume is denominated in exchange lots; Turnover is in currency units
// per whole share. The lot size conversion lives in config, not here.
type DailyBar struct {
	InstrumentID string    `json:"instrument_id"`
	TradeDate    time.Time `json:"trade_date"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`   // lots
	Turnover     float64   `json:"turnover"` // currency
}

// CostBasisRecord is the reconstructed cost state for one (instrument, holder)
// pair after replaying its full snapshot history. AverageCost of 0 means
// "unknown", never "free shares".
type CostBasisRecord struct {
	InstrumentID     string     `json:"instrument_id"`
	HolderID         string     `json:"holder_id"`
	AverageCost      float64    `json:"average_cost"`
	TotalInvested    float64    `json:"total_invested"`
	TotalShares      int64      `json:"total_shares"`
	FirstAcquisition *time.Time `json:"first_acquisition,omitempty"`
	// UnpricedWindows counts accumulation steps where no bar data existed in
	// the pricing window. Any value above zero means AverageCost understates
	// the true cost and callers must not treat it as exact.
	UnpricedWindows int       `json:"unpriced_windows"`
	ComputedAt      time.Time `json:"computed_at"`
}

// HasCost reports whether the record carries a usable reconstructed cost.
func (r CostBasisRecord) HasCost() bool {
	return r.TotalShares > 0 && r.AverageCost > 0
}

// Status classifies the profitability of a position at current prices.
type Status string

const (
	// StatusUnknown - cost or price unavailable, no classification possible
	StatusUnknown Status = "UNKNOWN"
	// StatusDeepLock - losing more than 10%
	StatusDeepLock Status = "DEEP_LOCK"
	// StatusTrapped - between -10% and break-even (both inclusive)
	StatusTrapped Status = "TRAPPED"
	// StatusProfit - gaining up to 20% (inclusive)
	StatusProfit Status = "PROFIT"
	// StatusHighProfit - gaining more than 20%
	StatusHighProfit Status = "HIGH_PROFIT"
)

// Label returns the human-readable form used in reports.
func (s Status) Label() string {
	switch s {
	case StatusDeepLock:
		return "Deep Lock"
	case StatusTrapped:
		return "Trapped"
	case StatusProfit:
		return "Profit"
	case StatusHighProfit:
		return "High Profit"
	default:
		return "Unknown"
	}
}

// CostSource identifies how a valuation's cost figure was derived.
type CostSource string

const (
	// CostSourceBacktrace - full-history lifecycle reconstruction
	CostSourceBacktrace CostSource = "HISTORICAL_BACKTRACE"
	// CostSourceWindowEstimate - single-window VWAP with accumulation discount
	CostSourceWindowEstimate CostSource = "WINDOW_ESTIMATE"
	// CostSourceUnknown - no usable cost could be derived
	CostSourceUnknown CostSource = "UNKNOWN"
)

// ChangeKind classifies a holding change between consecutive snapshots.
type ChangeKind string

const (
	ChangeNewPosition ChangeKind = "NEW_POSITION"
	ChangeUnchanged   ChangeKind = "UNCHANGED"
	ChangeIncrease    ChangeKind = "INCREASE"
	ChangeDecrease    ChangeKind = "DECREASE"
)

// ChangeRecord is the structured description of one snapshot-to-snapshot
// holding change. All deltas are carried as numbers so downstream consumers
// can re-render or test against them independently of any phrasing.
type ChangeRecord struct {
	Kind             ChangeKind `json:"kind"`
	PreviousPeriod   *time.Time `json:"previous_period,omitempty"`
	PreviousQuantity int64      `json:"previous_quantity"`
	CurrentQuantity  int64      `json:"current_quantity"`
	QuantityDelta    int64      `json:"quantity_delta"`
	// PercentChange is (current-previous)/previous; 0 when previous is 0.
	PercentChange float64 `json:"percent_change"`
	// PeriodPrice is the VWAP estimate for the change's accumulation window.
	PeriodPrice        float64 `json:"period_price"`
	PeriodPriceHasData bool    `json:"period_price_has_data"`
	// VsAverageCost / VsCurrentPrice compare the period price against the
	// all-time average cost and the live price, as fractional deltas.
	VsAverageCost     float64 `json:"vs_average_cost"`
	HasVsAverageCost  bool    `json:"has_vs_average_cost"`
	VsCurrentPrice    float64 `json:"vs_current_price"`
	HasVsCurrentPrice bool    `json:"has_vs_current_price"`
}

// ValuationRecord is one period's valuation for a (instrument, holder) pair.
// Records are regenerated in full on every reconciliation pass.
type ValuationRecord struct {
	InstrumentID  string       `json:"instrument_id"`
	HolderID      string       `json:"holder_id"`
	PeriodEnd     time.Time    `json:"period_end"`
	HeldQuantity  int64        `json:"held_quantity"`
	AverageCost   float64      `json:"average_cost"`
	CostSource    CostSource   `json:"cost_source"`
	CurrentPrice  float64      `json:"current_price"`
	ProfitRate    float64      `json:"profit_rate"`
	HasProfitRate bool         `json:"has_profit_rate"`
	Status        Status       `json:"status"`
	Change        ChangeRecord `json:"change"`
	IsLatest      bool         `json:"is_latest"`
	ComputedAt    time.Time    `json:"computed_at"`
}

// PairKey identifies one (instrument, holder) reconciliation group.
type PairKey struct {
	InstrumentID string `json:"instrument_id"`
	HolderID     string `json:"holder_id"`
}
