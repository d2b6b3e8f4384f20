package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quantfold/holdwatch/internal/domain"
	"github.com/quantfold/holdwatch/internal/reconcile"
	"github.com/quantfold/holdwatch/internal/services"
)

// Ingester runs one feed ingest pass.
type Ingester interface {
	Run(ctx context.Context) services.IngestResult
}

// SnapshotSource loads the full snapshot set for reconciliation.
type SnapshotSource interface {
	All(ctx context.Context) ([]domain.Snapshot, error)
}

// Reconciler replays snapshot histories into cost-basis and valuations.
type Reconciler interface {
	Run(ctx context.Context, snapshots []domain.Snapshot) reconcile.Report
}

// Watcher scans for fresh disclosures.
type Watcher interface {
	Check(ctx context.Context) (int, error)
}

// BackupRunner performs one database backup.
type BackupRunner interface {
	Run(ctx context.Context) error
}

// IngestJob pulls holder disclosures and daily bars from the feed.
type IngestJob struct {
	ingester Ingester
	log      zerolog.Logger
}

// NewIngestJob creates an ingest job.
func NewIngestJob(ingester Ingester, log zerolog.Logger) *IngestJob {
	return &IngestJob{ingester: ingester, log: log.With().Str("job", "ingest").Logger()}
}

func (j *IngestJob) Name() string { return "ingest" }

// Run executes one ingest pass. Partial failures are logged, not fatal;
// the job only errors when every instrument failed.
func (j *IngestJob) Run(ctx context.Context) error {
	result := j.ingester.Run(ctx)
	if len(result.Errors) > 0 && result.Snapshots == 0 && result.Bars == 0 {
		return fmt.Errorf("ingest produced nothing: %w", errors.Join(result.Errors...))
	}
	return nil
}

// ReconcileJob replays all stored snapshots into fresh analytics.
type ReconcileJob struct {
	snapshots  SnapshotSource
	reconciler Reconciler
	log        zerolog.Logger
}

// NewReconcileJob creates a reconcile job.
func NewReconcileJob(snapshots SnapshotSource, reconciler Reconciler, log zerolog.Logger) *ReconcileJob {
	return &ReconcileJob{
		snapshots:  snapshots,
		reconciler: reconciler,
		log:        log.With().Str("job", "reconcile").Logger(),
	}
}

func (j *ReconcileJob) Name() string { return "reconcile" }

func (j *ReconcileJob) Run(ctx context.Context) error {
	snaps, err := j.snapshots.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshots: %w", err)
	}
	if len(snaps) == 0 {
		j.log.Debug().Msg("No snapshots stored, nothing to reconcile")
		return nil
	}

	report := j.reconciler.Run(ctx, snaps)
	j.log.Info().
		Str("run_id", report.RunID).
		Int("groups", report.Groups).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("canceled", report.Canceled).
		Dur("duration", report.Duration).
		Msg("Reconciliation finished")

	if report.Failed > 0 && report.Succeeded == 0 {
		return fmt.Errorf("all %d groups failed", report.Failed)
	}
	return nil
}

// ReportCheckJob scans for disclosures dated today.
type ReportCheckJob struct {
	watcher Watcher
}

// NewReportCheckJob creates a report check job.
func NewReportCheckJob(watcher Watcher) *ReportCheckJob {
	return &ReportCheckJob{watcher: watcher}
}

func (j *ReportCheckJob) Name() string { return "report_check" }

func (j *ReportCheckJob) Run(ctx context.Context) error {
	_, err := j.watcher.Check(ctx)
	return err
}

// BackupJob snapshots the databases to remote storage.
type BackupJob struct {
	backup BackupRunner
}

// NewBackupJob creates a backup job.
func NewBackupJob(backup BackupRunner) *BackupJob {
	return &BackupJob{backup: backup}
}

func (j *BackupJob) Name() string { return "backup" }

func (j *BackupJob) Run(ctx context.Context) error {
	return j.backup.Run(ctx)
}
