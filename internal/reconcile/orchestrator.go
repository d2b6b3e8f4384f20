// Package reconcile fans the cost-basis pipeline out across all
// (instrument, holder) groups. Groups are independent: each one's state
// machine runs sequentially by period end, groups run concurrently on a
// bounded worker pool, and one group's failure never aborts its siblings.
package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantfold/holdwatch/internal/config"
	"github.com/quantfold/holdwatch/internal/domain"
	"github.com/quantfold/holdwatch/internal/lifecycle"
	"github.com/quantfold/holdwatch/internal/narrative"
	"github.com/quantfold/holdwatch/internal/valuation"
	"github.com/quantfold/holdwatch/internal/vwap"
)

// QuoteSource provides the latest trade price for an instrument.
// ok is false when no quote is available; that degrades the valuation to
// Unknown, it is not an error.
type QuoteSource interface {
	LatestPrice(ctx context.Context, instrumentID string) (price float64, ok bool, err error)
}

// Sink receives reconciliation output. Writes are keyed per pair, so the
// orchestrator issues them concurrently without cross-pair locking.
type Sink interface {
	UpsertCostBasis(ctx context.Context, rec domain.CostBasisRecord) error
	ReplaceValuations(ctx context.Context, pair domain.PairKey, recs []domain.ValuationRecord) error
}

// Report summarizes one reconciliation run.
type Report struct {
	RunID     string               `json:"run_id"`
	StartedAt time.Time            `json:"started_at"`
	Duration  time.Duration        `json:"duration"`
	Groups    int                  `json:"groups"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Canceled  int                  `json:"canceled"`
	Errors    []*domain.GroupError `json:"-"`
}

// Orchestrator wires the estimator, tracker, valuer and narrative generator
// into one pipeline per group.
type Orchestrator struct {
	tracker   *lifecycle.Tracker
	estimator *vwap.Estimator
	valuer    *valuation.Valuer
	quotes    QuoteSource
	sink      Sink
	cfg       config.EngineConfig
	log       zerolog.Logger
	now       func() time.Time
}

// New creates a reconciliation orchestrator.
func New(
	tracker *lifecycle.Tracker,
	estimator *vwap.Estimator,
	valuer *valuation.Valuer,
	quotes QuoteSource,
	sink Sink,
	cfg config.EngineConfig,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		tracker:   tracker,
		estimator: estimator,
		valuer:    valuer,
		quotes:    quotes,
		sink:      sink,
		cfg:       cfg,
		log:       log.With().Str("component", "reconcile").Logger(),
		now:       time.Now,
	}
}

// SetClock overrides the wall clock for deterministic test output.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Run groups the snapshots by (instrument, holder), sorts each group by
// period end ascending, and processes the groups on the worker pool.
// Cancelling ctx stops dispatch of new groups; in-flight groups finish.
// Re-running over identical inputs reproduces identical output records.
func (o *Orchestrator) Run(ctx context.Context, snapshots []domain.Snapshot) Report {
	started := o.now().UTC()
	report := Report{
		RunID:     uuid.New().String(),
		StartedAt: started,
	}

	groups := groupByPair(snapshots)
	report.Groups = len(groups)

	keys := make([]domain.PairKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	// Stable dispatch order; between-group completion order is unspecified.
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].InstrumentID != keys[j].InstrumentID {
			return keys[i].InstrumentID < keys[j].InstrumentID
		}
		return keys[i].HolderID < keys[j].HolderID
	})

	o.log.Info().
		Str("run_id", report.RunID).
		Int("groups", len(keys)).
		Int("workers", o.cfg.Workers).
		Msg("Starting reconciliation run")

	jobs := make(chan domain.PairKey) // unbuffered: cancel stops dispatch
	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		dispatched int
	)

	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range jobs {
				err := o.processGroup(ctx, key, groups[key])

				mu.Lock()
				if err != nil {
					report.Failed++
					report.Errors = append(report.Errors, &domain.GroupError{Pair: key, Err: err})
				} else {
					report.Succeeded++
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, key := range keys {
		select {
		case jobs <- key:
			dispatched++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	report.Canceled = len(keys) - dispatched
	report.Duration = o.now().UTC().Sub(started)

	// Deterministic error order for reporting.
	sort.Slice(report.Errors, func(i, j int) bool {
		a, b := report.Errors[i].Pair, report.Errors[j].Pair
		if a.InstrumentID != b.InstrumentID {
			return a.InstrumentID < b.InstrumentID
		}
		return a.HolderID < b.HolderID
	})

	o.log.Info().
		Str("run_id", report.RunID).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("canceled", report.Canceled).
		Dur("duration", report.Duration).
		Msg("Reconciliation run finished")

	return report
}

// processGroup runs the full pipeline for one pair: reconstruct the cost
// basis, resolve a live price, build one valuation per period, and write
// both outputs through the sink.
func (o *Orchestrator) processGroup(ctx context.Context, pair domain.PairKey, snaps []domain.Snapshot) error {
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].PeriodEnd.Before(snaps[j].PeriodEnd)
	})

	basis, err := o.tracker.Reconstruct(ctx, snaps)
	if err != nil {
		return err
	}

	price, havePrice, err := o.quotes.LatestPrice(ctx, pair.InstrumentID)
	if err != nil {
		// Quote failures degrade to "no price" per the data-gap policy;
		// the group still produces records with Unknown status.
		o.log.Warn().
			Err(err).
			Str("instrument", pair.InstrumentID).
			Msg("Quote lookup failed, valuing without a live price")
		havePrice = false
	}

	computedAt := o.now().UTC()
	valuations := make([]domain.ValuationRecord, 0, len(snaps))

	var previous *domain.Snapshot
	for i := range snaps {
		snap := snaps[i]

		periodEst, err := o.estimator.TrailingWindow(ctx, snap.InstrumentID, snap.PeriodEnd, o.cfg.AccumulationWindowDays)
		if err != nil {
			return err
		}

		cost, source := o.valuer.ResolveCost(basis, periodEst)

		quote := 0.0
		if havePrice {
			quote = price
		}
		rate, okRate, status := valuation.Classify(cost, quote)

		change := narrative.Describe(narrative.Input{
			Current:               snap,
			Previous:              previous,
			Basis:                 basis,
			CurrentPrice:          price,
			HasPrice:              havePrice,
			PeriodPrice:           periodEst,
			NewPositionWindowDays: o.cfg.GapThresholdDays,
		})

		valuations = append(valuations, domain.ValuationRecord{
			InstrumentID:  snap.InstrumentID,
			HolderID:      snap.HolderID,
			PeriodEnd:     snap.PeriodEnd,
			HeldQuantity:  snap.HeldQuantity,
			AverageCost:   cost,
			CostSource:    source,
			CurrentPrice:  quote,
			ProfitRate:    rate,
			HasProfitRate: okRate,
			Status:        status,
			Change:        change,
			IsLatest:      i == len(snaps)-1,
			ComputedAt:    computedAt,
		})

		previous = &snaps[i]
	}

	if err := o.sink.UpsertCostBasis(ctx, basis); err != nil {
		return err
	}
	return o.sink.ReplaceValuations(ctx, pair, valuations)
}

// groupByPair buckets snapshots by (instrument, holder).
func groupByPair(snapshots []domain.Snapshot) map[domain.PairKey][]domain.Snapshot {
	groups := make(map[domain.PairKey][]domain.Snapshot)
	for _, snap := range snapshots {
		key := domain.PairKey{InstrumentID: snap.InstrumentID, HolderID: snap.HolderID}
		groups[key] = append(groups[key], snap)
	}
	return groups
}
