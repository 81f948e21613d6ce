package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheduleCanonicalForms(t *testing.T) {
	cases := []struct {
		text string
		expr string
	}{
		{"every day at 9am", "0 9 * * *"},
		{"daily at 09:30", "30 9 * * *"},
		{"daily at 6pm", "0 18 * * *"},
		{"every day at 12 am", "0 0 * * *"},
		{"every weekday at 8:15 am", "15 8 * * 1-5"},
		{"every 15 minutes", "*/15 * * * *"},
		{"every 1 minute", "*/1 * * * *"},
		{"every 2 hours", "0 */2 * * *"},
		{"every monday at 10am", "0 10 * * 1"},
		{"every sunday at 7:45 pm", "45 19 * * 0"},
		{"first day of month at 9am", "0 9 1 * *"},
		{"last day of month at 6pm", "0 18 28-31 * *"},
		{"30 4 * * 2", "30 4 * * 2"},
	}
	for _, tc := range cases {
		s, err := ParseSchedule(tc.text)
		require.NoError(t, err, tc.text)
		assert.Equal(t, tc.expr, s.CronExpr, tc.text)
	}
}

func TestParseScheduleRejectsGarbage(t *testing.T) {
	for _, text := range []string{
		"",
		"whenever you feel like it",
		"every 0 minutes",
		"every 99 hours",
		"daily at 25:00",
		"61 4 * * 2",
	} {
		_, err := ParseSchedule(text)
		assert.Error(t, err, text)
	}
}

func TestNextIsStrictlyFuture(t *testing.T) {
	s, err := ParseSchedule("daily at 9:00")
	require.NoError(t, err)

	after := time.Date(2025, 11, 4, 9, 0, 5, 0, time.UTC)
	next := s.Next(after)
	assert.Equal(t, time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC), next)

	// One second before the window still fires the same day.
	next = s.Next(time.Date(2025, 11, 4, 8, 59, 59, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 11, 4, 9, 0, 0, 0, time.UTC), next)
}

func TestLastDayOfMonthGuard(t *testing.T) {
	s, err := ParseSchedule("last day of month at 12pm")
	require.NoError(t, err)

	next := s.Next(time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC), next)

	next = s.Next(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC), next)

	// Leap year.
	next = s.Next(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC), next)
}

func TestNextRunUsesLocation(t *testing.T) {
	after := time.Date(2025, 11, 4, 9, 0, 5, 0, time.UTC)
	next, err := NextRun("0 9 * * *", "daily at 9:00", time.UTC, after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC), next)

	_, err = NextRun("not cron", "broken", time.UTC, after)
	assert.Error(t, err)
}
