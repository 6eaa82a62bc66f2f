package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dialcron/internal/audit"
	"dialcron/internal/core"
	"dialcron/internal/dialer"
)

// TestDailyAutomationEndToEnd drives the scheduler against SQLite: a daily
// 09:00 automation ticked at 09:02 calls the eligible contacts once and is not
// due again until tomorrow.
func TestDailyAutomationEndToEnd(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	now := time.Date(2026, 10, 15, 9, 2, 0, 0, time.UTC)
	clock := core.ClockFunc(func() time.Time { return now })

	a := testAutomation("a1")
	a.Frequency = core.FrequencyDaily
	a.RunDays = nil
	a.RunTime = core.RunTime{Hour: 9}
	a.Timezone = ""
	a.MaxCallsPerRun = 10
	require.NoError(t, s.InsertAutomation(ctx, a))

	created := now.Add(-48 * time.Hour)
	lastWeek := now.Add(-7 * 24 * time.Hour)
	recent := now.Add(-time.Hour)
	for _, c := range []*core.Contact{
		{ID: "c1", UserID: "u1", FullName: "Ada", PhoneNumber: "+15550000001", CreatedAt: created},
		{ID: "c2", UserID: "u1", FullName: "Bob", PhoneNumber: "555-0102", CreatedAt: created.Add(time.Minute)},
		{ID: "c3", UserID: "u1", FullName: "Cy", PhoneNumber: "+15550000003", Status: core.ContactStatusContacted, LastContactedAt: &lastWeek, CreatedAt: created},
		{ID: "c4", UserID: "u1", FullName: "Di", PhoneNumber: "+15550000004", Status: core.ContactStatusContacted, LastContactedAt: &recent, CreatedAt: created},
	} {
		require.NoError(t, s.InsertContact(ctx, c))
	}

	auditLog := audit.New(s, logger)
	executor := core.NewExecutor(core.ExecutorDeps{
		Automations: s,
		Runs:        s,
		Contacts:    s,
		Dialer:      dialer.NewDryRun(logger),
		Audit:       auditLog,
		Clock:       clock,
		Logger:      logger,
	}, core.ExecutorConfig{Location: time.UTC, HistoryKeep: 50})

	tick := func(at time.Time) core.TickReport {
		sched := core.NewScheduler(s, s, executor, logger, core.SchedulerConfig{
			Location: time.UTC,
		}, core.WithClock(core.ClockFunc(func() time.Time { return at })), core.WithAudit(auditLog))
		report, err := sched.Tick(ctx)
		require.NoError(t, err)
		return report
	}

	report := tick(now)
	assert.Equal(t, core.TickReport{Due: 1, Completed: 1}, report)

	runs, err := s.ListRuns(ctx, "a1", 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, core.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.ContactsProcessed)
	assert.Equal(t, 2, run.CallsInitiated)
	assert.Equal(t, 1, run.CallsFailed, "c2 has no E.164 number")

	c1, err := s.GetContact(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, core.ContactStatusContacted, c1.Status)
	c2, err := s.GetContact(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, core.ContactStatusNew, c2.Status)
	assert.Nil(t, c2.LastContactedAt)

	stored, err := s.GetAutomation(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.Equal(time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)))
	require.NotNil(t, stored.LastRunAt)
	assert.True(t, stored.LastRunAt.Equal(now))

	// Same window, five minutes later: already handled.
	assert.Zero(t, tick(now.Add(3*time.Minute)).Due)
	// Tomorrow morning it is due again and only the failed contact is left.
	tomorrow := now.Add(24 * time.Hour)
	assert.Equal(t, 1, tick(tomorrow).Due)

	entries, err := s.ListAuditEntries(ctx, "run-executor", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
	schedulerEntries, err := s.ListAuditEntries(ctx, "scheduler", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, schedulerEntries)
}

// runBetweenReadAndWrite completes a run right after an automation is loaded,
// so a concurrent PATCH sees the schedule from before the run.
type runBetweenReadAndWrite struct {
	*Store
	run func()
}

func (s *runBetweenReadAndWrite) GetAutomation(ctx context.Context, id string) (*core.Automation, error) {
	a, err := s.Store.GetAutomation(ctx, id)
	if run := s.run; run != nil {
		s.run = nil
		run()
	}
	return a, err
}

func TestPatchDuringRunKeepsAdvancedSchedule(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 10, 15, 9, 2, 0, 0, time.UTC)
	clock := core.ClockFunc(func() time.Time { return now })

	a := testAutomation("a1")
	a.Frequency = core.FrequencyDaily
	a.RunDays = nil
	a.RunTime = core.RunTime{Hour: 9}
	a.Timezone = ""
	today := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	a.NextRunAt = &today
	require.NoError(t, s.InsertAutomation(ctx, a))
	require.NoError(t, s.InsertContact(ctx, &core.Contact{
		ID: "c1", UserID: "u1", FullName: "Ada", PhoneNumber: "+15550000001", CreatedAt: now.Add(-time.Hour),
	}))

	executor := core.NewExecutor(core.ExecutorDeps{
		Automations: s,
		Runs:        s,
		Contacts:    s,
		Dialer:      dialer.NewDryRun(logger),
		Clock:       clock,
		Logger:      logger,
	}, core.ExecutorConfig{Location: time.UTC})

	wrapped := &runBetweenReadAndWrite{Store: s, run: func() {
		run, err := executor.Execute(ctx, a)
		require.NoError(t, err)
		require.Equal(t, core.RunStatusCompleted, run.Status)
	}}
	svc := core.NewService(wrapped, s, nil, clock, time.UTC, logger)

	name := "Renamed"
	updated, err := svc.UpdateAutomation(ctx, "a1", core.AutomationPatch{Name: &name})
	require.NoError(t, err)

	tomorrow := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.Equal(tomorrow))

	stored, err := s.GetAutomation(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.Equal(tomorrow))
	require.NotNil(t, stored.LastRunAt)
	assert.True(t, stored.LastRunAt.Equal(now))
	assert.False(t, core.IsDue(stored, now.Add(time.Minute), core.DefaultDueTolerance, time.UTC))
}

// hangUpDialer accepts the call and then cancels the run's context.
type hangUpDialer struct {
	cancel context.CancelFunc
}

func (d hangUpDialer) Place(context.Context, string, string) (core.CallHandle, error) {
	d.cancel()
	return core.CallHandle{SID: "CA123"}, nil
}

func TestCancelAfterPlacementStillMarksContact(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 10, 15, 9, 2, 0, 0, time.UTC)

	a := testAutomation("a1")
	a.Frequency = core.FrequencyDaily
	a.RunDays = nil
	a.Timezone = ""
	require.NoError(t, s.InsertAutomation(context.Background(), a))
	require.NoError(t, s.InsertContact(context.Background(), &core.Contact{
		ID: "c1", UserID: "u1", FullName: "Ada", PhoneNumber: "+15550000001", CreatedAt: now.Add(-time.Hour),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	executor := core.NewExecutor(core.ExecutorDeps{
		Automations: s,
		Runs:        s,
		Contacts:    s,
		Dialer:      hangUpDialer{cancel: cancel},
		Audit:       audit.New(s, logger),
		Clock:       core.ClockFunc(func() time.Time { return now }),
		Logger:      logger,
	}, core.ExecutorConfig{Location: time.UTC})

	run, err := executor.Execute(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.CallsInitiated)

	c, err := s.GetContact(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, core.ContactStatusContacted, c.Status)
	require.NotNil(t, c.LastContactedAt)
	assert.True(t, c.LastContactedAt.Equal(now))

	warnings, err := s.ListAuditEntries(context.Background(), "run-executor", 100)
	require.NoError(t, err)
	for _, e := range warnings {
		assert.NotEqual(t, core.AuditWarn, e.Level, e.Message)
	}
}

func TestStoreOutageSurfacesErrors(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := &Store{DB: db}
	ctx := context.Background()
	outage := errors.New("database is locked")

	mock.ExpectQuery(regexp.QuoteMeta("FROM automations")).WillReturnError(outage)
	_, err = s.ListAutomations(ctx, core.AutomationFilter{EnabledOnly: true})
	assert.ErrorIs(t, err, outage)

	mock.ExpectQuery(regexp.QuoteMeta("FROM contacts")).
		WithArgs("u1", "new", sqlmock.AnyArg()).
		WillReturnError(outage)
	_, err = s.QueryEligible(ctx, "u1", []core.ContactStatus{core.ContactStatusNew}, time.Now())
	assert.ErrorIs(t, err, outage)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ended := time.Now()
	require.NoError(t, s.FinishRun(ctx, &core.Run{ID: "r1", Status: core.RunStatusCompleted, EndedAt: &ended}))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(1) FROM runs")).
		WithArgs("a1", "running", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	active, err := s.HasActiveRun(ctx, "a1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, active)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_logs")).
		WillReturnResult(sqlmock.NewResult(0, 7))
	n, err := s.PruneAuditEntries(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}
