package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/holdwatch/internal/domain"
	"github.com/quantfold/holdwatch/internal/reconcile"
	"github.com/quantfold/holdwatch/internal/services"
)

type stubIngester struct {
	result services.IngestResult
}

func (s *stubIngester) Run(context.Context) services.IngestResult {
	return s.result
}

type stubSnapshots struct {
	snaps []domain.Snapshot
	err   error
}

func (s *stubSnapshots) All(context.Context) ([]domain.Snapshot, error) {
	return s.snaps, s.err
}

type stubReconciler struct {
	report reconcile.Report
	runs   int
}

func (s *stubReconciler) Run(context.Context, []domain.Snapshot) reconcile.Report {
	s.runs++
	return s.report
}

func TestIngestJobPartialFailureIsNotFatal(t *testing.T) {
	job := NewIngestJob(&stubIngester{result: services.IngestResult{
		Snapshots: 4,
		Errors:    []error{errors.New("bars 601318: timeout")},
	}}, zerolog.Nop())

	assert.NoError(t, job.Run(context.Background()))
}

func TestIngestJobErrorsWhenNothingProduced(t *testing.T) {
	job := NewIngestJob(&stubIngester{result: services.IngestResult{
		Errors: []error{errors.New("holders 601318: timeout")},
	}}, zerolog.Nop())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "produced nothing")
}

func TestReconcileJobSkipsEmptyStore(t *testing.T) {
	rec := &stubReconciler{}
	job := NewReconcileJob(&stubSnapshots{}, rec, zerolog.Nop())

	assert.NoError(t, job.Run(context.Background()))
	assert.Zero(t, rec.runs)
}

func TestReconcileJobErrorsWhenAllGroupsFail(t *testing.T) {
	snaps := &stubSnapshots{snaps: []domain.Snapshot{
		{InstrumentID: "601318", HolderID: "huijin", PeriodEnd: time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), HeldQuantity: 100},
	}}
	rec := &stubReconciler{report: reconcile.Report{Groups: 2, Failed: 2}}
	job := NewReconcileJob(snaps, rec, zerolog.Nop())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, rec.runs)
}

func TestReconcileJobSucceedsWithPartialFailures(t *testing.T) {
	snaps := &stubSnapshots{snaps: []domain.Snapshot{
		{InstrumentID: "601318", HolderID: "huijin", PeriodEnd: time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), HeldQuantity: 100},
	}}
	rec := &stubReconciler{report: reconcile.Report{Groups: 2, Succeeded: 1, Failed: 1}}
	job := NewReconcileJob(snaps, rec, zerolog.Nop())

	assert.NoError(t, job.Run(context.Background()))
}

func TestSchedulerRunNowUsesBaseContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sched := New(ctx, zerolog.Nop())
	job := NewReconcileJob(&stubSnapshots{err: ctx.Err()}, &stubReconciler{}, zerolog.Nop())

	err := sched.RunNow(job)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	sched := New(context.Background(), zerolog.Nop())
	err := sched.AddJob("not a schedule", NewReportCheckJob(nil))
	assert.Error(t, err)
}
