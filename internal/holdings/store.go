package holdings

import (
	"context"
	"database/sql"

	"github.com/quantfold/holdwatch/internal/domain"
)

// Store bundles the four repositories over one database handle and acts
// as the reconciliation run's output sink.
type Store struct {
	Snapshots  *SnapshotRepository
	Bars       *BarRepository
	CostBasis  *CostBasisRepository
	Valuations *ValuationRepository
}

// NewStore creates a store with all repositories bound to db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		Snapshots:  NewSnapshotRepository(db),
		Bars:       NewBarRepository(db),
		CostBasis:  NewCostBasisRepository(db),
		Valuations: NewValuationRepository(db),
	}
}

// UpsertCostBasis satisfies the reconciliation sink.
func (s *Store) UpsertCostBasis(ctx context.Context, rec domain.CostBasisRecord) error {
	return s.CostBasis.Upsert(ctx, rec)
}

// ReplaceValuations satisfies the reconciliation sink.
func (s *Store) ReplaceValuations(ctx context.Context, pair domain.PairKey, recs []domain.ValuationRecord) error {
	return s.Valuations.ReplaceForPair(ctx, pair, recs)
}
