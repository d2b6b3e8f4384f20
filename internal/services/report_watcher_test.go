package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDates struct {
	periodEnd   time.Time
	announced   time.Time
	byPeriodEnd map[time.Time][]string
	byAnnounced map[time.Time][]string
}

func (s *stubDates) LatestPeriodEnd(context.Context) (time.Time, bool, error) {
	return s.periodEnd, !s.periodEnd.IsZero(), nil
}

func (s *stubDates) LatestAnnouncedAt(context.Context) (time.Time, bool, error) {
	return s.announced, !s.announced.IsZero(), nil
}

func (s *stubDates) InstrumentsWithPeriodEnd(_ context.Context, d time.Time) ([]string, error) {
	return s.byPeriodEnd[d], nil
}

func (s *stubDates) InstrumentsWithAnnouncedAt(_ context.Context, d time.Time) ([]string, error) {
	return s.byAnnounced[d], nil
}

type memNotifier struct {
	titles   []string
	contents []string
}

func (m *memNotifier) Send(_ context.Context, title, content string) error {
	m.titles = append(m.titles, title)
	m.contents = append(m.contents, content)
	return nil
}

func TestWatcherAlertsOnTodaysAnnouncement(t *testing.T) {
	today := time.Date(2024, 8, 23, 0, 0, 0, 0, time.UTC)
	dates := &stubDates{
		periodEnd: time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		announced: today,
		byAnnounced: map[time.Time][]string{
			today: {"601318", "000001"},
		},
	}
	notifier := &memNotifier{}

	w := NewReportWatcher(dates, notifier, zerolog.Nop())
	w.now = func() time.Time { return today.Add(9 * time.Hour) }

	sent, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, notifier.contents, 1)
	assert.Contains(t, notifier.contents[0], "announcement")
	assert.Contains(t, notifier.contents[0], "601318")
	assert.Contains(t, notifier.contents[0], "000001")
}

func TestWatcherQuietWhenNothingFresh(t *testing.T) {
	dates := &stubDates{
		periodEnd: time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		announced: time.Date(2024, 8, 20, 0, 0, 0, 0, time.UTC),
	}
	notifier := &memNotifier{}

	w := NewReportWatcher(dates, notifier, zerolog.Nop())
	w.now = func() time.Time { return time.Date(2024, 8, 23, 10, 0, 0, 0, time.UTC) }

	sent, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, notifier.titles)
}

func TestWatcherAlertsOnBothDates(t *testing.T) {
	today := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	dates := &stubDates{
		periodEnd:   today,
		announced:   today,
		byPeriodEnd: map[time.Time][]string{today: {"601318"}},
		byAnnounced: map[time.Time][]string{today: {"601318"}},
	}
	notifier := &memNotifier{}

	w := NewReportWatcher(dates, notifier, zerolog.Nop())
	w.now = func() time.Time { return today }

	sent, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	// Both findings travel in one message.
	require.Len(t, notifier.titles, 1)
}

func TestWatcherEmptyDatabase(t *testing.T) {
	notifier := &memNotifier{}
	w := NewReportWatcher(&stubDates{}, notifier, zerolog.Nop())

	sent, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}
