// Package vwap estimates the per-share average trade price over a date
// range from daily bar aggregates. The estimate is used as a proxy for the
// price at which a disclosed accumulation occurred.
package vwap

import (
	"context"
	"fmt"
	"time"
)

// BarSummer provides windowed turnover and volume sums for an instrument.
// Volume is in exchange lots; turnover is in currency units per share.
type BarSummer interface {
	SumWindow(ctx context.Context, instrumentID string, start, end time.Time) (turnover, volume float64, err error)
}

// Estimate is a volume-weighted price estimate. HasData is false when no
// bars existed in the window or the summed volume was zero; Price is 0 in
// that case and must never be mistaken for a real price.
type Estimate struct {
	Price   float64 `json:"price"`
	HasData bool    `json:"has_data"`
}

// Estimator computes volume-weighted average prices over inclusive date
// ranges. It is a pure function of the bar source and carries no state.
type Estimator struct {
	bars    BarSummer
	lotSize float64
}

// NewEstimator creates a new estimator. lotSize converts lot-denominated
// volume into a per-share denominator and comes from configuration because
// unit conventions vary between bar feeds.
func NewEstimator(bars BarSummer, lotSize float64) *Estimator {
	return &Estimator{
		bars:    bars,
		lotSize: lotSize,
	}
}

// Window estimates the VWAP over [start, end] inclusive.
// Missing bars inside the window are not interpolated; a partially covered
// window silently underestimates cost, which is why callers get HasData
// instead of a bare zero.
func (e *Estimator) Window(ctx context.Context, instrumentID string, start, end time.Time) (Estimate, error) {
	if end.Before(start) {
		return Estimate{}, fmt.Errorf("invalid window: end %s before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	turnover, volume, err := e.bars.SumWindow(ctx, instrumentID, start, end)
	if err != nil {
		return Estimate{}, fmt.Errorf("bar window sum failed for %s: %w", instrumentID, err)
	}

	if volume <= 0 || turnover <= 0 {
		return Estimate{}, nil
	}

	return Estimate{
		Price:   turnover / (volume * e.lotSize),
		HasData: true,
	}, nil
}

// TrailingWindow estimates the VWAP over the windowDays ending at end,
// the accumulation window used to price a disclosure period.
func (e *Estimator) TrailingWindow(ctx context.Context, instrumentID string, end time.Time, windowDays int) (Estimate, error) {
	start := end.AddDate(0, 0, -windowDays)
	return e.Window(ctx, instrumentID, start, end)
}
