package main

import (
	"context"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/holdwatch/internal/clients/eastmoney"
	"github.com/quantfold/holdwatch/internal/clients/pushplus"
	"github.com/quantfold/holdwatch/internal/config"
	"github.com/quantfold/holdwatch/internal/database"
	"github.com/quantfold/holdwatch/internal/feedcache"
	"github.com/quantfold/holdwatch/internal/holdings"
	"github.com/quantfold/holdwatch/internal/lifecycle"
	"github.com/quantfold/holdwatch/internal/reconcile"
	"github.com/quantfold/holdwatch/internal/reliability"
	"github.com/quantfold/holdwatch/internal/scheduler"
	"github.com/quantfold/holdwatch/internal/server"
	"github.com/quantfold/holdwatch/internal/services"
	"github.com/quantfold/holdwatch/internal/valuation"
	"github.com/quantfold/holdwatch/internal/vwap"
	"github.com/quantfold/holdwatch/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; fall back to a bare one.
		fallback := logger.New(logger.Config{Level: "info"})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting holdwatch")

	holdingsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "holdings.db"),
		Profile: database.ProfileStandard,
		Name:    "holdings",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open holdings database")
	}
	defer holdingsDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	for _, db := range []*database.DB{holdingsDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to run migrations")
		}
	}

	store := holdings.NewStore(holdingsDB.Conn())

	// Reconciliation pipeline.
	estimator := vwap.NewEstimator(store.Bars, cfg.Engine.LotSize)
	tracker := lifecycle.NewTracker(estimator, cfg.Engine, log)
	valuer := valuation.NewValuer(cfg.Engine.CostDiscount)
	orchestrator := reconcile.New(tracker, estimator, valuer, store.Bars, store, cfg.Engine, log)

	// Feed ingestion.
	feed := eastmoney.NewClient(log)
	cache := feedcache.New(cacheDB.Conn(), 6*time.Hour, log)
	ingest := services.NewIngestService(feed, cache, store.Snapshots, store.Bars, cfg.Feed, log)

	// Disclosure watcher.
	notifier := pushplus.NewClient(cfg.Notify.PushPlusToken, log)
	watcher := services.NewReportWatcher(store.Snapshots, notifier, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(ctx, log)
	registerJobs(ctx, sched, cfg, ingest, store, orchestrator, watcher, holdingsDB, cacheDB, log)
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Port:    cfg.Port,
		Log:     log,
		DevMode: cfg.DevMode,
		Positions: server.NewPositionHandlers(
			store.Valuations, store.CostBasis, store.Bars, store.Snapshots, orchestrator, log),
		System: server.NewSystemHandlers(holdingsDB, cacheDB, cfg.DataDir, log),
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shut down")
	}

	log.Info().Msg("Stopped")
}

func registerJobs(
	ctx context.Context,
	sched *scheduler.Scheduler,
	cfg *config.Config,
	ingest *services.IngestService,
	store *holdings.Store,
	orchestrator *reconcile.Orchestrator,
	watcher *services.ReportWatcher,
	holdingsDB, cacheDB *database.DB,
	log zerolog.Logger,
) {
	mustAdd := func(schedule string, job scheduler.Job) {
		if err := sched.AddJob(schedule, job); err != nil {
			log.Fatal().Err(err).Str("job", job.Name()).Msg("Failed to register job")
		}
	}

	// Ingest after the session close, reconcile once fresh data landed.
	mustAdd("30 16 * * MON-FRI", scheduler.NewIngestJob(ingest, log))
	mustAdd("30 17 * * MON-FRI", scheduler.NewReconcileJob(store.Snapshots, orchestrator, log))
	mustAdd("0 18 * * *", scheduler.NewReportCheckJob(watcher))

	if cfg.Backup.Enabled() {
		s3, err := reliability.NewS3Client(ctx, cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup storage")
		}
		backup := reliability.NewBackupService(s3,
			[]reliability.DatabaseBackuper{holdingsDB, cacheDB},
			cfg.DataDir, cfg.Backup.Keep, log)
		mustAdd("0 3 * * *", scheduler.NewBackupJob(backup))
	} else {
		log.Info().Msg("Cloud backups disabled, no storage configured")
	}
}
