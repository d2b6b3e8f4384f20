package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/quantfold/holdwatch/internal/domain"
	"github.com/quantfold/holdwatch/internal/narrative"
	"github.com/quantfold/holdwatch/internal/reconcile"
)

// ValuationReader exposes the stored valuation records.
type ValuationReader interface {
	Latest(ctx context.Context) ([]domain.ValuationRecord, error)
	ForInstrument(ctx context.Context, instrumentID string) ([]domain.ValuationRecord, error)
}

// CostBasisReader exposes the stored cost-basis records.
type CostBasisReader interface {
	ForInstrument(ctx context.Context, instrumentID string) ([]domain.CostBasisRecord, error)
}

// CloseReader exposes close series for indicator calculations.
type CloseReader interface {
	Closes(ctx context.Context, instrumentID string, limit int) ([]float64, error)
}

// SnapshotSource loads the snapshot set for on-demand reconciliation.
type SnapshotSource interface {
	All(ctx context.Context) ([]domain.Snapshot, error)
}

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context, snapshots []domain.Snapshot) reconcile.Report
}

// PositionHandlers serves the position analytics endpoints.
type PositionHandlers struct {
	valuations ValuationReader
	costBasis  CostBasisReader
	closes     CloseReader
	snapshots  SnapshotSource
	reconciler Reconciler
	log        zerolog.Logger
}

// NewPositionHandlers creates position handlers.
func NewPositionHandlers(
	valuations ValuationReader,
	costBasis CostBasisReader,
	closes CloseReader,
	snapshots SnapshotSource,
	reconciler Reconciler,
	log zerolog.Logger,
) *PositionHandlers {
	return &PositionHandlers{
		valuations: valuations,
		costBasis:  costBasis,
		closes:     closes,
		snapshots:  snapshots,
		reconciler: reconciler,
		log:        log.With().Str("component", "position_handlers").Logger(),
	}
}

// PositionsSummary aggregates the latest valuations across all pairs.
type PositionsSummary struct {
	Pairs          int            `json:"pairs"`
	WithProfitRate int            `json:"with_profit_rate"`
	MeanProfitRate float64        `json:"mean_profit_rate"`
	StdDevRate     float64        `json:"stddev_profit_rate"`
	StatusCounts   map[string]int `json:"status_counts"`
	UnpricedPairs  int            `json:"unpriced_pairs"`
}

// PositionsResponse is the latest-valuations listing.
type PositionsResponse struct {
	Summary   PositionsSummary         `json:"summary"`
	Positions []domain.ValuationRecord `json:"positions"`
}

// HandleLatest returns every pair's latest valuation plus summary stats.
func (h *PositionHandlers) HandleLatest(w http.ResponseWriter, r *http.Request) {
	records, err := h.valuations.Latest(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load latest valuations")
		respondError(w, http.StatusInternalServerError, "failed to load valuations")
		return
	}

	respondJSON(w, http.StatusOK, PositionsResponse{
		Summary:   summarize(records),
		Positions: records,
	})
}

// summarize computes the aggregate stats over latest valuations.
func summarize(records []domain.ValuationRecord) PositionsSummary {
	summary := PositionsSummary{
		Pairs:        len(records),
		StatusCounts: make(map[string]int),
	}

	var rates []float64
	for _, rec := range records {
		summary.StatusCounts[string(rec.Status)]++
		if rec.HasProfitRate {
			rates = append(rates, rec.ProfitRate)
		} else {
			summary.UnpricedPairs++
		}
	}

	summary.WithProfitRate = len(rates)
	if len(rates) > 0 {
		summary.MeanProfitRate = stat.Mean(rates, nil)
	}
	if len(rates) > 1 {
		summary.StdDevRate = stat.StdDev(rates, nil)
	}
	return summary
}

// HolderHistory is one holder's valuation series with rendered narratives.
type HolderHistory struct {
	HolderID   string                   `json:"holder_id"`
	CostBasis  *domain.CostBasisRecord  `json:"cost_basis,omitempty"`
	Valuations []domain.ValuationRecord `json:"valuations"`
	Narratives []string                 `json:"narratives"`
}

// TechnicalSnapshot carries indicator values over the stored close series.
type TechnicalSnapshot struct {
	MA20  *float64 `json:"ma20,omitempty"`
	MA60  *float64 `json:"ma60,omitempty"`
	RSI14 *float64 `json:"rsi14,omitempty"`
}

// InstrumentResponse is the per-instrument detail payload.
type InstrumentResponse struct {
	InstrumentID string            `json:"instrument_id"`
	Holders      []HolderHistory   `json:"holders"`
	Technical    TechnicalSnapshot `json:"technical"`
}

// HandleInstrument returns per-holder histories and a technical snapshot
// for one instrument.
func (h *PositionHandlers) HandleInstrument(w http.ResponseWriter, r *http.Request) {
	instrumentID := chi.URLParam(r, "instrument")

	valuations, err := h.valuations.ForInstrument(r.Context(), instrumentID)
	if err != nil {
		h.log.Error().Err(err).Str("instrument", instrumentID).Msg("Failed to load valuations")
		respondError(w, http.StatusInternalServerError, "failed to load valuations")
		return
	}
	if len(valuations) == 0 {
		respondError(w, http.StatusNotFound, "no valuations for instrument")
		return
	}

	bases, err := h.costBasis.ForInstrument(r.Context(), instrumentID)
	if err != nil {
		h.log.Error().Err(err).Str("instrument", instrumentID).Msg("Failed to load cost basis")
		respondError(w, http.StatusInternalServerError, "failed to load cost basis")
		return
	}
	basisByHolder := make(map[string]domain.CostBasisRecord, len(bases))
	for _, b := range bases {
		basisByHolder[b.HolderID] = b
	}

	byHolder := make(map[string][]domain.ValuationRecord)
	for _, v := range valuations {
		byHolder[v.HolderID] = append(byHolder[v.HolderID], v)
	}

	holderIDs := make([]string, 0, len(byHolder))
	for id := range byHolder {
		holderIDs = append(holderIDs, id)
	}
	sort.Strings(holderIDs)

	holders := make([]HolderHistory, 0, len(holderIDs))
	for _, id := range holderIDs {
		recs := byHolder[id]
		narratives := make([]string, len(recs))
		for i, rec := range recs {
			narratives[i] = narrative.Render(rec.Change)
		}

		history := HolderHistory{
			HolderID:   id,
			Valuations: recs,
			Narratives: narratives,
		}
		if basis, ok := basisByHolder[id]; ok {
			history.CostBasis = &basis
		}
		holders = append(holders, history)
	}

	respondJSON(w, http.StatusOK, InstrumentResponse{
		InstrumentID: instrumentID,
		Holders:      holders,
		Technical:    h.technicalSnapshot(r.Context(), instrumentID),
	})
}

// technicalSnapshot computes moving averages and RSI from stored closes.
// Missing history leaves the affected indicators nil.
func (h *PositionHandlers) technicalSnapshot(ctx context.Context, instrumentID string) TechnicalSnapshot {
	closes, err := h.closes.Closes(ctx, instrumentID, 120)
	if err != nil {
		h.log.Warn().Err(err).Str("instrument", instrumentID).Msg("Failed to load closes for indicators")
		return TechnicalSnapshot{}
	}

	var snap TechnicalSnapshot
	if len(closes) >= 20 {
		snap.MA20 = lastValue(talib.Sma(closes, 20))
	}
	if len(closes) >= 60 {
		snap.MA60 = lastValue(talib.Sma(closes, 60))
	}
	if len(closes) >= 15 {
		snap.RSI14 = lastValue(talib.Rsi(closes, 14))
	}
	return snap
}

func lastValue(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	return &v
}

// HandleReconcile runs a reconciliation pass synchronously and returns the
// run report. Runs are idempotent, so concurrent triggers are safe.
func (h *PositionHandlers) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.snapshots.All(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load snapshots")
		respondError(w, http.StatusInternalServerError, "failed to load snapshots")
		return
	}

	report := h.reconciler.Run(r.Context(), snaps)

	groupErrors := make([]string, 0, len(report.Errors))
	for _, ge := range report.Errors {
		groupErrors = append(groupErrors, ge.Error())
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"report": report,
		"errors": groupErrors,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
