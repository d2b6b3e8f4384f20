package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotDates exposes the stored disclosure dates the watcher scans.
type SnapshotDates interface {
	LatestPeriodEnd(ctx context.Context) (time.Time, bool, error)
	LatestAnnouncedAt(ctx context.Context) (time.Time, bool, error)
	InstrumentsWithPeriodEnd(ctx context.Context, periodEnd time.Time) ([]string, error)
	InstrumentsWithAnnouncedAt(ctx context.Context, announced time.Time) ([]string, error)
}

// Notifier delivers disclosure alerts.
type Notifier interface {
	Send(ctx context.Context, title, content string) error
}

// maxListedInstruments caps how many instruments one alert names.
const maxListedInstruments = 50

// ReportWatcher checks whether the newest stored period end or announcement
// date falls on the current day and sends an alert when it does.
type ReportWatcher struct {
	dates    SnapshotDates
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewReportWatcher creates a new report watcher.
func NewReportWatcher(dates SnapshotDates, notifier Notifier, log zerolog.Logger) *ReportWatcher {
	return &ReportWatcher{
		dates:    dates,
		notifier: notifier,
		log:      log.With().Str("component", "report_watcher").Logger(),
		now:      time.Now,
	}
}

// Check runs one scan. It returns the number of alerts sent.
func (w *ReportWatcher) Check(ctx context.Context) (int, error) {
	today := w.today()

	var sections []string

	if msg, err := w.checkDate(ctx, today, "period end",
		w.dates.LatestPeriodEnd, w.dates.InstrumentsWithPeriodEnd); err != nil {
		return 0, err
	} else if msg != "" {
		sections = append(sections, msg)
	}

	if msg, err := w.checkDate(ctx, today, "announcement",
		w.dates.LatestAnnouncedAt, w.dates.InstrumentsWithAnnouncedAt); err != nil {
		return 0, err
	} else if msg != "" {
		sections = append(sections, msg)
	}

	if len(sections) == 0 {
		w.log.Debug().Msg("No fresh disclosures today")
		return 0, nil
	}

	title := fmt.Sprintf("Fresh holder disclosures (%s)", today.Format("2006-01-02"))
	if err := w.notifier.Send(ctx, title, strings.Join(sections, "\n\n")); err != nil {
		return 0, fmt.Errorf("failed to send disclosure alert: %w", err)
	}
	w.log.Info().Int("sections", len(sections)).Msg("Disclosure alert sent")
	return len(sections), nil
}

func (w *ReportWatcher) checkDate(
	ctx context.Context,
	today time.Time,
	label string,
	latest func(context.Context) (time.Time, bool, error),
	instruments func(context.Context, time.Time) ([]string, error),
) (string, error) {
	date, ok, err := latest(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read latest %s date: %w", label, err)
	}
	if !ok || !date.Equal(today) {
		return "", nil
	}

	ids, err := instruments(ctx, date)
	if err != nil {
		return "", fmt.Errorf("failed to list instruments for %s date: %w", label, err)
	}
	if len(ids) == 0 {
		return "", nil
	}

	listed := ids
	truncated := 0
	if len(listed) > maxListedInstruments {
		truncated = len(listed) - maxListedInstruments
		listed = listed[:maxListedInstruments]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Newest %s date is today, %d instrument(s):\n", label, len(ids))
	for _, id := range listed {
		fmt.Fprintf(&b, "- %s\n", id)
	}
	if truncated > 0 {
		fmt.Fprintf(&b, "... and %d more\n", truncated)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (w *ReportWatcher) today() time.Time {
	n := w.now().UTC()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}
