// Package services contains the application services gluing feeds,
// repositories and notifications together.
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/holdwatch/internal/clients/eastmoney"
	"github.com/quantfold/holdwatch/internal/config"
	"github.com/quantfold/holdwatch/internal/domain"
	"github.com/quantfold/holdwatch/internal/feedcache"
)

// Feed is the upstream market data source consumed by ingest runs.
type Feed interface {
	FetchHolders(ctx context.Context, code string, report eastmoney.HolderReportType) ([]eastmoney.HolderRow, error)
	FetchKlines(ctx context.Context, code, beg, end string) ([]eastmoney.KlineBar, error)
}

// SnapshotWriter persists disclosed snapshots.
type SnapshotWriter interface {
	UpsertBatch(ctx context.Context, snaps []domain.Snapshot) error
}

// BarWriter persists daily bars and exposes the resume point for
// incremental kline fetches.
type BarWriter interface {
	UpsertBatch(ctx context.Context, bars []domain.DailyBar) error
	LatestTradeDate(ctx context.Context, instrumentID string) (time.Time, bool, error)
}

// IngestResult summarizes one ingest pass.
type IngestResult struct {
	Instruments int
	Snapshots   int
	Bars        int
	Errors      []error
}

// IngestService pulls holder disclosures and daily bars for the configured
// instruments, keeps only holders matching the tracked keywords, and writes
// everything through the repositories. Per-instrument failures are collected
// and never abort the whole pass.
type IngestService struct {
	feed  Feed
	cache *feedcache.Cache
	snaps SnapshotWriter
	bars  BarWriter
	cfg   config.FeedConfig
	log   zerolog.Logger
	now   func() time.Time
}

// NewIngestService creates a new ingest service.
func NewIngestService(feed Feed, cache *feedcache.Cache, snaps SnapshotWriter, bars BarWriter, cfg config.FeedConfig, log zerolog.Logger) *IngestService {
	return &IngestService{
		feed:  feed,
		cache: cache,
		snaps: snaps,
		bars:  bars,
		cfg:   cfg,
		log:   log.With().Str("component", "ingest").Logger(),
		now:   time.Now,
	}
}

// Run ingests all configured instruments.
func (s *IngestService) Run(ctx context.Context) IngestResult {
	var result IngestResult
	result.Instruments = len(s.cfg.Instruments)

	for _, code := range s.cfg.Instruments {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ctx.Err())
			break
		}

		n, err := s.ingestHolders(ctx, code)
		if err != nil {
			s.log.Error().Err(err).Str("instrument", code).Msg("Holder ingest failed")
			result.Errors = append(result.Errors, fmt.Errorf("holders %s: %w", code, err))
		}
		result.Snapshots += n

		n, err = s.ingestBars(ctx, code)
		if err != nil {
			s.log.Error().Err(err).Str("instrument", code).Msg("Bar ingest failed")
			result.Errors = append(result.Errors, fmt.Errorf("bars %s: %w", code, err))
		}
		result.Bars += n
	}

	if s.cache != nil {
		if pruned, err := s.cache.PruneExpired(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Cache prune failed")
		} else if pruned > 0 {
			s.log.Debug().Int64("pruned", pruned).Msg("Pruned expired cache entries")
		}
	}

	s.log.Info().
		Int("instruments", result.Instruments).
		Int("snapshots", result.Snapshots).
		Int("bars", result.Bars).
		Int("errors", len(result.Errors)).
		Msg("Ingest pass complete")
	return result
}

// ingestHolders fetches both disclosure tables, merges them, filters by the
// tracked keywords and upserts the surviving snapshots.
func (s *IngestService) ingestHolders(ctx context.Context, code string) (int, error) {
	// Some tracked holders only appear in the free-float table while their
	// lockup runs, others only in the top-ten table. Fetch both.
	free, err := s.fetchHoldersCached(ctx, code, eastmoney.ReportFreeHolders)
	if err != nil {
		return 0, err
	}
	top, err := s.fetchHoldersCached(ctx, code, eastmoney.ReportTopHolders)
	if err != nil {
		return 0, err
	}

	merged := mergeHolderRows(free, top)

	var snaps []domain.Snapshot
	for _, row := range merged {
		if !s.matchesKeywords(row.HolderName) {
			continue
		}

		periodEnd, err := parseFeedDate(row.EndDate)
		if err != nil {
			s.log.Warn().Str("instrument", code).Str("end_date", row.EndDate).Msg("Skipping row with unparseable period end")
			continue
		}

		snap := domain.Snapshot{
			InstrumentID: code,
			HolderID:     strings.TrimSpace(row.HolderName),
			PeriodEnd:    periodEnd,
			HeldQuantity: int64(row.HoldNum),
		}
		if announced, err := parseFeedDate(row.NoticeDate); err == nil {
			snap.AnnouncedAt = announced
		}
		snaps = append(snaps, snap)
	}

	if len(snaps) == 0 {
		return 0, nil
	}
	if err := s.snaps.UpsertBatch(ctx, snaps); err != nil {
		return 0, err
	}
	return len(snaps), nil
}

// ingestBars fetches daily bars from the stored resume point forward.
func (s *IngestService) ingestBars(ctx context.Context, code string) (int, error) {
	beg := s.now().AddDate(-6, 0, 0)
	if latest, ok, err := s.bars.LatestTradeDate(ctx, code); err != nil {
		return 0, err
	} else if ok {
		// Refetch the latest stored day in case it was a partial session.
		beg = latest
	}

	end := s.now()
	klines, err := s.fetchKlinesCached(ctx, code, beg.Format("20060102"), end.Format("20060102"))
	if err != nil {
		return 0, err
	}

	var bars []domain.DailyBar
	for _, k := range klines {
		tradeDate, err := time.ParseInLocation("2006-01-02", k.Date, time.UTC)
		if err != nil {
			s.log.Warn().Str("instrument", code).Str("date", k.Date).Msg("Skipping bar with unparseable date")
			continue
		}
		bars = append(bars, domain.DailyBar{
			InstrumentID: code,
			TradeDate:    tradeDate,
			Open:         k.Open,
			High:         k.High,
			Low:          k.Low,
			Close:        k.Close,
			Volume:       k.Volume,
			Turnover:     k.Turnover,
		})
	}

	if len(bars) == 0 {
		return 0, nil
	}
	if err := s.bars.UpsertBatch(ctx, bars); err != nil {
		return 0, err
	}
	return len(bars), nil
}

func (s *IngestService) fetchHoldersCached(ctx context.Context, code string, report eastmoney.HolderReportType) ([]eastmoney.HolderRow, error) {
	key := fmt.Sprintf("holders:%s:%s", code, report)
	if s.cache != nil {
		var rows []eastmoney.HolderRow
		if s.cache.Get(ctx, key, &rows) {
			return rows, nil
		}
	}

	rows, err := s.feed.FetchHolders(ctx, code, report)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, rows)
	}
	return rows, nil
}

func (s *IngestService) fetchKlinesCached(ctx context.Context, code, beg, end string) ([]eastmoney.KlineBar, error) {
	key := fmt.Sprintf("kline:%s:%s:%s", code, beg, end)
	if s.cache != nil {
		var bars []eastmoney.KlineBar
		if s.cache.Get(ctx, key, &bars) {
			return bars, nil
		}
	}

	bars, err := s.feed.FetchKlines(ctx, code, beg, end)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, bars)
	}
	return bars, nil
}

func (s *IngestService) matchesKeywords(holderName string) bool {
	for _, kw := range s.cfg.HolderKeywords {
		if strings.Contains(holderName, kw) {
			return true
		}
	}
	return false
}

// mergeHolderRows combines both disclosure tables, deduplicating on
// (period end, holder name). The first occurrence wins.
func mergeHolderRows(lists ...[]eastmoney.HolderRow) []eastmoney.HolderRow {
	type rowKey struct {
		endDate string
		holder  string
	}

	seen := make(map[rowKey]struct{})
	var merged []eastmoney.HolderRow
	for _, rows := range lists {
		for _, row := range rows {
			k := rowKey{endDate: row.EndDate, holder: row.HolderName}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			merged = append(merged, row)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].HolderName != merged[j].HolderName {
			return merged[i].HolderName < merged[j].HolderName
		}
		return merged[i].EndDate < merged[j].EndDate
	})
	return merged
}

// parseFeedDate accepts the feed's datetime and plain date forms.
func parseFeedDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.Truncate(24 * time.Hour), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}
