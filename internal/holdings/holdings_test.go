package holdings

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/holdwatch/internal/domain"
)

// testSchema mirrors schemas/holdings_schema.sql so tests run against an
// in-memory database without touching the filesystem.
const testSchema = `
CREATE TABLE snapshots (
    instrument_id   TEXT NOT NULL,
    holder_id       TEXT NOT NULL,
    period_end      INTEGER NOT NULL,
    held_quantity   INTEGER NOT NULL CHECK (held_quantity >= 0),
    announced_at    INTEGER,
    PRIMARY KEY (instrument_id, holder_id, period_end)
);

CREATE TABLE daily_bars (
    instrument_id   TEXT NOT NULL,
    trade_date      INTEGER NOT NULL,
    open            REAL NOT NULL,
    high            REAL NOT NULL,
    low             REAL NOT NULL,
    close           REAL NOT NULL,
    volume          REAL NOT NULL,
    turnover        REAL NOT NULL,
    PRIMARY KEY (instrument_id, trade_date)
);

CREATE TABLE cost_basis (
    instrument_id       TEXT NOT NULL,
    holder_id           TEXT NOT NULL,
    average_cost        REAL NOT NULL,
    total_invested      REAL NOT NULL,
    total_shares        INTEGER NOT NULL,
    first_acquisition   INTEGER,
    unpriced_windows    INTEGER NOT NULL DEFAULT 0,
    computed_at         INTEGER NOT NULL,
    PRIMARY KEY (instrument_id, holder_id)
);

CREATE TABLE valuations (
    instrument_id        TEXT NOT NULL,
    holder_id            TEXT NOT NULL,
    period_end           INTEGER NOT NULL,
    held_quantity        INTEGER NOT NULL,
    average_cost         REAL NOT NULL,
    cost_source          TEXT NOT NULL,
    current_price        REAL NOT NULL,
    profit_rate          REAL NOT NULL,
    has_profit_rate      INTEGER NOT NULL,
    status               TEXT NOT NULL,
    change_kind          TEXT NOT NULL,
    previous_period      INTEGER,
    previous_quantity    INTEGER NOT NULL,
    quantity_delta       INTEGER NOT NULL,
    percent_change       REAL NOT NULL,
    period_price         REAL NOT NULL,
    period_price_has_data INTEGER NOT NULL,
    vs_average_cost      REAL NOT NULL,
    has_vs_average_cost  INTEGER NOT NULL,
    vs_current_price     REAL NOT NULL,
    has_vs_current_price INTEGER NOT NULL,
    is_latest            INTEGER NOT NULL,
    computed_at          INTEGER NOT NULL,
    PRIMARY KEY (instrument_id, holder_id, period_end)
);
`

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return db
}

func utcDay(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBarRepositorySumWindow(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBarRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.UpsertBatch(ctx, []domain.DailyBar{
		{InstrumentID: "601318", TradeDate: utcDay(2024, 3, 1), Close: 10, Volume: 500, Turnover: 500_000},
		{InstrumentID: "601318", TradeDate: utcDay(2024, 3, 15), Close: 11, Volume: 300, Turnover: 330_000},
		{InstrumentID: "601318", TradeDate: utcDay(2024, 6, 1), Close: 12, Volume: 200, Turnover: 240_000},
		{InstrumentID: "000001", TradeDate: utcDay(2024, 3, 1), Close: 9, Volume: 100, Turnover: 90_000},
	}))

	turnover, volume, err := repo.SumWindow(ctx, "601318", utcDay(2024, 3, 1), utcDay(2024, 3, 31))
	require.NoError(t, err)
	assert.Equal(t, 830_000.0, turnover)
	assert.Equal(t, 800.0, volume)

	// Inclusive bounds.
	turnover, volume, err = repo.SumWindow(ctx, "601318", utcDay(2024, 3, 15), utcDay(2024, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, 570_000.0, turnover)
	assert.Equal(t, 500.0, volume)
}

func TestBarRepositorySumWindowEmpty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBarRepository(db)

	// No rows in range is a data gap, reported as zero sums with no error.
	turnover, volume, err := repo.SumWindow(context.Background(), "601318", utcDay(2024, 1, 1), utcDay(2024, 1, 31))
	require.NoError(t, err)
	assert.Zero(t, turnover)
	assert.Zero(t, volume)
}

func TestBarRepositoryUpsertReplaces(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBarRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.UpsertBatch(ctx, []domain.DailyBar{
		{InstrumentID: "601318", TradeDate: utcDay(2024, 3, 1), Close: 10, Volume: 500, Turnover: 500_000},
	}))
	require.NoError(t, repo.UpsertBatch(ctx, []domain.DailyBar{
		{InstrumentID: "601318", TradeDate: utcDay(2024, 3, 1), Close: 10.5, Volume: 600, Turnover: 630_000},
	}))

	price, ok, err := repo.LatestClose(ctx, "601318")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10.5, price)
}

func TestBarRepositoryLatestCloseMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBarRepository(db)

	_, ok, err := repo.LatestClose(context.Background(), "999999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBarRepositoryClosesAscending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBarRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.UpsertBatch(ctx, []domain.DailyBar{
		{InstrumentID: "601318", TradeDate: utcDay(2024, 3, 1), Close: 10},
		{InstrumentID: "601318", TradeDate: utcDay(2024, 3, 2), Close: 11},
		{InstrumentID: "601318", TradeDate: utcDay(2024, 3, 3), Close: 12},
		{InstrumentID: "601318", TradeDate: utcDay(2024, 3, 4), Close: 13},
	}))

	closes, err := repo.Closes(ctx, "601318", 3)
	require.NoError(t, err)
	// Limit keeps the newest rows but output stays in ascending date order.
	assert.Equal(t, []float64{11, 12, 13}, closes)
}

func TestSnapshotRepositoryRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSnapshotRepository(db)
	ctx := context.Background()

	snaps := []domain.Snapshot{
		{InstrumentID: "601318", HolderID: "huijin", PeriodEnd: utcDay(2024, 3, 31), HeldQuantity: 2000, AnnouncedAt: utcDay(2024, 4, 25)},
		{InstrumentID: "601318", HolderID: "ssf-combo-101", PeriodEnd: utcDay(2024, 3, 31), HeldQuantity: 1000},
		{InstrumentID: "601318", HolderID: "ssf-combo-101", PeriodEnd: utcDay(2024, 6, 30), HeldQuantity: 1500, AnnouncedAt: utcDay(2024, 8, 20)},
	}
	require.NoError(t, repo.UpsertBatch(ctx, snaps))

	got, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "huijin", got[0].HolderID)
	assert.Equal(t, utcDay(2024, 3, 31), got[1].PeriodEnd)
	assert.True(t, got[1].AnnouncedAt.IsZero())
	assert.Equal(t, utcDay(2024, 8, 20), got[2].AnnouncedAt)
}

func TestSnapshotRepositoryRejectsNegativeQuantity(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSnapshotRepository(db)

	err := repo.UpsertBatch(context.Background(), []domain.Snapshot{
		{InstrumentID: "601318", HolderID: "huijin", PeriodEnd: utcDay(2024, 3, 31), HeldQuantity: -5},
	})
	assert.ErrorIs(t, err, domain.ErrContractViolation)

	// Transaction rolled back, nothing written.
	got, qerr := repo.All(context.Background())
	require.NoError(t, qerr)
	assert.Empty(t, got)
}

func TestSnapshotRepositoryLatestDates(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSnapshotRepository(db)
	ctx := context.Background()

	_, ok, err := repo.LatestPeriodEnd(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.UpsertBatch(ctx, []domain.Snapshot{
		{InstrumentID: "601318", HolderID: "huijin", PeriodEnd: utcDay(2024, 3, 31), HeldQuantity: 2000, AnnouncedAt: utcDay(2024, 4, 25)},
		{InstrumentID: "000001", HolderID: "huijin", PeriodEnd: utcDay(2024, 6, 30), HeldQuantity: 500, AnnouncedAt: utcDay(2024, 8, 20)},
	}))

	latest, ok, err := repo.LatestPeriodEnd(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, utcDay(2024, 6, 30), latest)

	announced, ok, err := repo.LatestAnnouncedAt(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, utcDay(2024, 8, 20), announced)

	ids, err := repo.InstrumentsWithAnnouncedAt(ctx, utcDay(2024, 8, 20))
	require.NoError(t, err)
	assert.Equal(t, []string{"000001"}, ids)
}

func TestCostBasisRepositoryUpsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCostBasisRepository(db)
	ctx := context.Background()

	pair := domain.PairKey{InstrumentID: "601318", HolderID: "huijin"}

	_, ok, err := repo.Get(ctx, pair)
	require.NoError(t, err)
	assert.False(t, ok)

	first := utcDay(2024, 3, 31)
	rec := domain.CostBasisRecord{
		InstrumentID:     "601318",
		HolderID:         "huijin",
		AverageCost:      10.5,
		TotalInvested:    21_000,
		TotalShares:      2000,
		FirstAcquisition: &first,
		ComputedAt:       utcDay(2024, 7, 1),
	}
	require.NoError(t, repo.Upsert(ctx, rec))

	got, ok, err := repo.Get(ctx, pair)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	// Second upsert replaces, never duplicates.
	rec.AverageCost = 11.0
	rec.UnpricedWindows = 1
	require.NoError(t, repo.Upsert(ctx, rec))

	got, ok, err = repo.Get(ctx, pair)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 11.0, got.AverageCost)
	assert.Equal(t, 1, got.UnpricedWindows)

	all, err := repo.ForInstrument(ctx, "601318")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCostBasisRepositoryNullFirstAcquisition(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCostBasisRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.CostBasisRecord{
		InstrumentID: "601318",
		HolderID:     "unknown-history",
		ComputedAt:   utcDay(2024, 7, 1),
	}))

	got, ok, err := repo.Get(ctx, domain.PairKey{InstrumentID: "601318", HolderID: "unknown-history"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, got.FirstAcquisition)
	assert.False(t, got.HasCost())
}

func testValuation(holder string, periodEnd time.Time, latest bool) domain.ValuationRecord {
	prev := utcDay(2024, 3, 31)
	return domain.ValuationRecord{
		InstrumentID:  "601318",
		HolderID:      holder,
		PeriodEnd:     periodEnd,
		HeldQuantity:  1500,
		AverageCost:   10.5,
		CostSource:    domain.CostSourceBacktrace,
		CurrentPrice:  11.0,
		ProfitRate:    0.0476,
		HasProfitRate: true,
		Status:        domain.StatusProfit,
		Change: domain.ChangeRecord{
			Kind:               domain.ChangeIncrease,
			PreviousPeriod:     &prev,
			PreviousQuantity:   1000,
			CurrentQuantity:    1500,
			QuantityDelta:      500,
			PercentChange:      0.5,
			PeriodPrice:        10.8,
			PeriodPriceHasData: true,
			VsAverageCost:      0.0286,
			HasVsAverageCost:   true,
			VsCurrentPrice:     -0.0182,
			HasVsCurrentPrice:  true,
		},
		IsLatest:   latest,
		ComputedAt: utcDay(2024, 7, 1),
	}
}

func TestValuationRepositoryReplaceRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewValuationRepository(db)
	ctx := context.Background()

	pair := domain.PairKey{InstrumentID: "601318", HolderID: "huijin"}
	recs := []domain.ValuationRecord{
		testValuation("huijin", utcDay(2024, 3, 31), false),
		testValuation("huijin", utcDay(2024, 6, 30), true),
	}
	require.NoError(t, repo.ReplaceForPair(ctx, pair, recs))

	got, err := repo.ForInstrument(ctx, "601318")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, recs[0].Change, got[0].Change)
	assert.Equal(t, recs[1], got[1])
}

func TestValuationRepositoryReplaceIsWholesale(t *testing.T) {
	db := setupTestDB(t)
	repo := NewValuationRepository(db)
	ctx := context.Background()

	pair := domain.PairKey{InstrumentID: "601318", HolderID: "huijin"}
	require.NoError(t, repo.ReplaceForPair(ctx, pair, []domain.ValuationRecord{
		testValuation("huijin", utcDay(2024, 3, 31), false),
		testValuation("huijin", utcDay(2024, 6, 30), true),
	}))

	// A shorter regenerated series removes the stale period.
	require.NoError(t, repo.ReplaceForPair(ctx, pair, []domain.ValuationRecord{
		testValuation("huijin", utcDay(2024, 6, 30), true),
	}))

	got, err := repo.ForInstrument(ctx, "601318")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, utcDay(2024, 6, 30), got[0].PeriodEnd)
}

func TestValuationRepositoryLatest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewValuationRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.ReplaceForPair(ctx,
		domain.PairKey{InstrumentID: "601318", HolderID: "huijin"},
		[]domain.ValuationRecord{
			testValuation("huijin", utcDay(2024, 3, 31), false),
			testValuation("huijin", utcDay(2024, 6, 30), true),
		}))
	require.NoError(t, repo.ReplaceForPair(ctx,
		domain.PairKey{InstrumentID: "601318", HolderID: "ssf-combo-101"},
		[]domain.ValuationRecord{
			testValuation("ssf-combo-101", utcDay(2024, 6, 30), true),
		}))

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	for _, rec := range latest {
		assert.True(t, rec.IsLatest)
		assert.Equal(t, utcDay(2024, 6, 30), rec.PeriodEnd)
	}
}

func TestStoreImplementsSink(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.UpsertCostBasis(ctx, domain.CostBasisRecord{
		InstrumentID: "601318",
		HolderID:     "huijin",
		AverageCost:  10.5,
		TotalShares:  2000,
		ComputedAt:   utcDay(2024, 7, 1),
	}))
	require.NoError(t, store.ReplaceValuations(ctx,
		domain.PairKey{InstrumentID: "601318", HolderID: "huijin"},
		[]domain.ValuationRecord{testValuation("huijin", utcDay(2024, 6, 30), true)}))

	_, ok, err := store.CostBasis.Get(ctx, domain.PairKey{InstrumentID: "601318", HolderID: "huijin"})
	require.NoError(t, err)
	assert.True(t, ok)
}
