package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func dailyAt(hour, minute int) *Automation {
	return &Automation{
		ID:             "a1",
		UserID:         "u1",
		Name:           "daily",
		Enabled:        true,
		AgentRef:       "agent-1",
		TargetStatuses: []ContactStatus{ContactStatusNew},
		Frequency:      FrequencyDaily,
		RunTime:        RunTime{Hour: hour, Minute: minute},
		MaxCallsPerRun: 10,
	}
}

func TestIsDueDailyTolerance(t *testing.T) {
	t.Parallel()
	a := dailyAt(9, 0)

	cases := []struct {
		now  string
		want bool
	}{
		{"2026-10-15T08:54:59Z", false},
		{"2026-10-15T08:55:00Z", true},
		{"2026-10-15T08:58:30Z", true},
		{"2026-10-15T09:00:00Z", true},
		{"2026-10-15T09:02:00Z", true},
		{"2026-10-15T09:05:00Z", true},
		{"2026-10-15T09:05:01Z", false},
		{"2026-10-15T21:00:00Z", false},
		// Independent of the date.
		{"2027-02-28T08:55:00Z", true},
		{"2025-06-01T09:05:00Z", true},
		{"2025-06-01T09:06:00Z", false},
	}
	for _, tc := range cases {
		t.Run(tc.now, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDue(a, at(t, tc.now), DefaultDueTolerance, time.UTC))
		})
	}
}

func TestIsDueWeeklyDayGate(t *testing.T) {
	t.Parallel()
	a := dailyAt(9, 0)
	a.Frequency = FrequencyWeekly
	a.RunDays = []time.Weekday{time.Monday, time.Wednesday}

	// 2026-10-12 is a Monday.
	start := at(t, "2026-10-12T09:00:00Z")
	for i := 0; i < 7; i++ {
		now := start.AddDate(0, 0, i)
		want := now.Weekday() == time.Monday || now.Weekday() == time.Wednesday
		assert.Equal(t, want, IsDue(a, now, DefaultDueTolerance, time.UTC), now.Weekday().String())
		assert.False(t, IsDue(a, now.Add(3*time.Hour), DefaultDueTolerance, time.UTC), "off-window %s", now.Weekday())
	}
}

func TestIsDueOnceFiresUntilFirstRun(t *testing.T) {
	t.Parallel()
	a := dailyAt(9, 0)
	a.Frequency = FrequencyOnce
	now := at(t, "2026-10-15T17:42:00Z")

	assert.True(t, IsDue(a, now, DefaultDueTolerance, time.UTC))
	assert.True(t, IsDue(a, now.Add(24*time.Hour), DefaultDueTolerance, time.UTC))

	ran := now.Add(time.Minute)
	a.LastRunAt = &ran
	for _, offset := range []time.Duration{0, 5 * time.Minute, 24 * time.Hour, 30 * 24 * time.Hour} {
		assert.False(t, IsDue(a, now.Add(offset), DefaultDueTolerance, time.UTC))
	}
}

func TestIsDueDisabledAndNextRunGate(t *testing.T) {
	t.Parallel()
	now := at(t, "2026-10-15T09:02:00Z")

	disabled := dailyAt(9, 0)
	disabled.Enabled = false
	assert.False(t, IsDue(disabled, now, DefaultDueTolerance, time.UTC))

	// Already ran today: NextRunAt moved to tomorrow.
	done := dailyAt(9, 0)
	tomorrow := at(t, "2026-10-16T09:00:00Z")
	done.NextRunAt = &tomorrow
	assert.False(t, IsDue(done, now, DefaultDueTolerance, time.UTC))

	// A NextRunAt still ahead blocks the early part of the window; once it
	// has passed the tolerance check decides.
	pending := dailyAt(9, 0)
	today := at(t, "2026-10-15T09:00:00Z")
	pending.NextRunAt = &today
	assert.False(t, IsDue(pending, at(t, "2026-10-15T08:55:00Z"), DefaultDueTolerance, time.UTC))
	assert.False(t, IsDue(pending, at(t, "2026-10-15T08:59:59Z"), DefaultDueTolerance, time.UTC))
	assert.True(t, IsDue(pending, today, DefaultDueTolerance, time.UTC))
	assert.True(t, IsDue(pending, now, DefaultDueTolerance, time.UTC))
	assert.False(t, IsDue(pending, at(t, "2026-10-15T09:05:01Z"), DefaultDueTolerance, time.UTC))
}

func TestIsDueUsesAutomationTimezone(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	a := dailyAt(9, 0)
	a.Timezone = "America/New_York"
	nineInNewYork := time.Date(2026, 10, 15, 9, 1, 0, 0, loc)

	assert.True(t, IsDue(a, nineInNewYork.UTC(), DefaultDueTolerance, time.UTC))
	assert.False(t, IsDue(a, at(t, "2026-10-15T09:01:00Z"), DefaultDueTolerance, time.UTC))
}

func TestIsDueWindowDoesNotWrapMidnight(t *testing.T) {
	t.Parallel()
	a := dailyAt(23, 58)
	assert.True(t, IsDue(a, at(t, "2026-10-15T23:59:59Z"), DefaultDueTolerance, time.UTC))
	assert.False(t, IsDue(a, at(t, "2026-10-16T00:01:00Z"), DefaultDueTolerance, time.UTC))
}

func TestComputeNextRun(t *testing.T) {
	t.Parallel()

	t.Run("daily moves to tomorrow", func(t *testing.T) {
		next := ComputeNextRun(dailyAt(9, 0), at(t, "2026-10-15T09:02:00Z"), time.UTC)
		require.NotNil(t, next)
		assert.Equal(t, at(t, "2026-10-16T09:00:00Z"), *next)
	})

	t.Run("daily early finish still moves to tomorrow", func(t *testing.T) {
		next := ComputeNextRun(dailyAt(9, 0), at(t, "2026-10-15T08:56:00Z"), time.UTC)
		require.NotNil(t, next)
		assert.Equal(t, at(t, "2026-10-16T09:00:00Z"), *next)
	})

	t.Run("weekly picks the next configured day after today", func(t *testing.T) {
		a := dailyAt(9, 0)
		a.Frequency = FrequencyWeekly
		a.RunDays = []time.Weekday{time.Monday, time.Thursday}
		// Thursday run: next is Monday.
		next := ComputeNextRun(a, at(t, "2026-10-15T09:02:00Z"), time.UTC)
		require.NotNil(t, next)
		assert.Equal(t, at(t, "2026-10-19T09:00:00Z"), *next)
	})

	t.Run("weekly single day wraps a full week", func(t *testing.T) {
		a := dailyAt(9, 0)
		a.Frequency = FrequencyWeekly
		a.RunDays = []time.Weekday{time.Thursday}
		next := ComputeNextRun(a, at(t, "2026-10-15T09:02:00Z"), time.UTC)
		require.NotNil(t, next)
		assert.Equal(t, at(t, "2026-10-22T09:00:00Z"), *next)
	})

	t.Run("once has no next run", func(t *testing.T) {
		a := dailyAt(9, 0)
		a.Frequency = FrequencyOnce
		assert.Nil(t, ComputeNextRun(a, at(t, "2026-10-15T09:02:00Z"), time.UTC))
	})

	t.Run("timezone wall clock", func(t *testing.T) {
		loc, err := time.LoadLocation("Europe/Berlin")
		require.NoError(t, err)
		a := dailyAt(9, 0)
		a.Timezone = "Europe/Berlin"
		// Day before the end of DST in Berlin (2026-10-25).
		now := time.Date(2026, 10, 24, 9, 1, 0, 0, loc)
		next := ComputeNextRun(a, now, time.UTC)
		require.NotNil(t, next)
		assert.Equal(t, time.Date(2026, 10, 25, 9, 0, 0, 0, loc).UTC(), *next)
		assert.Equal(t, 8, next.Hour(), "09:00 CET is 08:00 UTC")
	})
}

func TestInitialNextRun(t *testing.T) {
	t.Parallel()

	next := InitialNextRun(dailyAt(9, 0), at(t, "2026-10-15T08:00:00Z"), time.UTC)
	require.NotNil(t, next)
	assert.Equal(t, at(t, "2026-10-15T09:00:00Z"), *next, "today when still ahead")

	next = InitialNextRun(dailyAt(9, 0), at(t, "2026-10-15T10:00:00Z"), time.UTC)
	require.NotNil(t, next)
	assert.Equal(t, at(t, "2026-10-16T09:00:00Z"), *next, "tomorrow when passed")

	weekly := dailyAt(9, 0)
	weekly.Frequency = FrequencyWeekly
	weekly.RunDays = []time.Weekday{time.Thursday, time.Saturday}
	next = InitialNextRun(weekly, at(t, "2026-10-15T07:00:00Z"), time.UTC)
	require.NotNil(t, next)
	assert.Equal(t, at(t, "2026-10-15T09:00:00Z"), *next, "weekly includes today")

	once := dailyAt(9, 0)
	once.Frequency = FrequencyOnce
	now := at(t, "2026-10-15T17:00:00Z")
	next = InitialNextRun(once, now, time.UTC)
	require.NotNil(t, next)
	assert.Equal(t, now, *next)
}

func TestPreviewRuns(t *testing.T) {
	t.Parallel()
	a := dailyAt(9, 0)
	a.Frequency = FrequencyWeekly
	a.RunDays = []time.Weekday{time.Monday, time.Wednesday}

	times := PreviewRuns(a, at(t, "2026-10-15T12:00:00Z"), time.UTC, 3)
	assert.Equal(t, []time.Time{
		at(t, "2026-10-19T09:00:00Z"),
		at(t, "2026-10-21T09:00:00Z"),
		at(t, "2026-10-26T09:00:00Z"),
	}, times)
}

func TestCronSpec(t *testing.T) {
	t.Parallel()
	spec, ok := CronSpec(dailyAt(7, 30))
	require.True(t, ok)
	assert.Equal(t, "30 7 * * *", spec)

	weekly := dailyAt(18, 5)
	weekly.Frequency = FrequencyWeekly
	weekly.RunDays = []time.Weekday{time.Sunday, time.Friday}
	spec, ok = CronSpec(weekly)
	require.True(t, ok)
	assert.Equal(t, "5 18 * * 0,5", spec)

	_, err := ParseCron(spec)
	assert.NoError(t, err)
}
