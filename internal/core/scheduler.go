package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const schedulerAuditSource = "scheduler"

// Runner executes automations. *Executor implements it.
type Runner interface {
	Execute(ctx context.Context, a *Automation) (*Run, error)
	Begin(ctx context.Context, a *Automation) (*Run, FinishFunc, error)
}

// Trigger fires the scheduler's tick job on a recurring basis.
type Trigger interface {
	Schedule(job func())
	Start()
	Stop() context.Context
}

// SchedulerConfig tunes the tick loop.
type SchedulerConfig struct {
	Interval      time.Duration
	Tolerance     time.Duration
	Location      *time.Location
	MaxConcurrent int
	StaleAfter    time.Duration
}

// DefaultSchedulerConfig returns the production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:      5 * time.Minute,
		Tolerance:     DefaultDueTolerance,
		Location:      time.Local,
		MaxConcurrent: 2,
		StaleAfter:    time.Hour,
	}
}

// TickReport summarises one tick.
type TickReport struct {
	Due       int
	Completed int
	Failed    int
	Skipped   int
}

// Scheduler polls for due automations and hands them to the runner.
type Scheduler struct {
	automations AutomationStore
	runs        RunStore
	runner      Runner
	audit       AuditLog
	clock       Clock
	trigger     Trigger
	logger      *slog.Logger
	cfg         SchedulerConfig

	ctx      context.Context
	inflight sync.WaitGroup
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock overrides the wall clock.
func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithTrigger overrides the cron-backed tick trigger.
func WithTrigger(t Trigger) SchedulerOption {
	return func(s *Scheduler) { s.trigger = t }
}

// WithAudit sets the audit log.
func WithAudit(a AuditLog) SchedulerOption {
	return func(s *Scheduler) { s.audit = a }
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(automations AutomationStore, runs RunStore, runner Runner, logger *slog.Logger, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultDueTolerance
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		automations: automations,
		runs:        runs,
		runner:      runner,
		audit:       discardAudit{},
		clock:       SystemClock,
		logger:      logger.With("component", "scheduler"),
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.trigger == nil {
		s.trigger = NewCronTrigger(cfg.Interval, cfg.Location, s.logger)
	}
	return s
}

// Start recovers abandoned runs and begins ticking. ctx is used for
// background work (ticks and manual runs) until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	if n, err := s.RecoverStaleRuns(ctx); err != nil {
		s.logger.Error("recover stale runs", "err", err)
	} else if n > 0 {
		s.logger.Warn("marked interrupted runs as failed", "count", n)
	}
	s.trigger.Schedule(func() {
		if _, err := s.Tick(s.ctxOrBackground()); err != nil {
			s.logger.Error("tick error", "err", err)
		}
	})
	s.trigger.Start()
	s.logger.Info("scheduler started", "interval", s.cfg.Interval, "tolerance", s.cfg.Tolerance)
}

// Stop halts ticking. The returned context is done once the in-flight tick
// and any manually triggered runs have finished.
func (s *Scheduler) Stop() context.Context {
	tickDone := s.trigger.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-tickDone.Done()
		s.inflight.Wait()
		cancel()
	}()
	return ctx
}

// Tick runs a single scheduling iteration: load enabled automations, keep the
// due ones and execute each, isolating failures per automation.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport
	now := s.clock.Now()
	automations, err := s.automations.ListAutomations(ctx, AutomationFilter{EnabledOnly: true})
	if err != nil {
		s.audit.Append(ctx, AuditError, schedulerAuditSource, fmt.Sprintf("Error getting due automations: %v", err))
		return report, fmt.Errorf("list automations: %w", err)
	}

	var due []*Automation
	for _, a := range automations {
		if IsDue(a, now, s.cfg.Tolerance, s.cfg.Location) {
			due = append(due, a)
		}
	}
	report.Due = len(due)
	if len(due) == 0 {
		s.logger.Debug("no automations due", "enabled", len(automations))
		return report, nil
	}
	s.audit.Append(ctx, AuditInfo, schedulerAuditSource, fmt.Sprintf("Starting execution of %d due automations", len(due)))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.MaxConcurrent)
	for _, a := range due {
		g.Go(func() error {
			result := s.runOne(ctx, a)
			mu.Lock()
			defer mu.Unlock()
			switch result {
			case runCompleted:
				report.Completed++
			case runSkipped:
				report.Skipped++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.audit.Append(ctx, AuditInfo, schedulerAuditSource,
		fmt.Sprintf("Completed execution of %d automations: %d completed, %d failed, %d skipped",
			report.Due, report.Completed, report.Failed, report.Skipped))
	s.logger.Info("tick finished", "due", report.Due, "completed", report.Completed, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

type runResult int

const (
	runCompleted runResult = iota
	runFailed
	runSkipped
)

// runOne executes one automation. Panics are contained here so one
// automation never blocks the others; it is simply retried next tick.
func (s *Scheduler) runOne(ctx context.Context, a *Automation) (result runResult) {
	logger := s.logger.With("automation_id", a.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic executing automation", "panic", r)
			s.audit.Append(ctx, AuditError, schedulerAuditSource,
				fmt.Sprintf("Panic executing automation %s (%s): %v\n%s", a.ID, a.Name, r, debug.Stack()))
			result = runFailed
		}
	}()

	_, err := s.runner.Execute(ctx, a)
	switch {
	case errors.Is(err, ErrRunInProgress):
		logger.Info("skipping automation, run already in progress")
		return runSkipped
	case err != nil:
		logger.Error("execute automation", "err", err)
		s.audit.Append(ctx, AuditError, schedulerAuditSource,
			fmt.Sprintf("Error executing automation %s (%s): %v", a.ID, a.Name, err))
		return runFailed
	default:
		return runCompleted
	}
}

// RunNow starts a run immediately, bypassing the due check. The returned run
// is the freshly opened record; processing continues in the background.
func (s *Scheduler) RunNow(ctx context.Context, automationID string) (*Run, error) {
	a, err := s.automations.GetAutomation(ctx, automationID)
	if err != nil {
		return nil, err
	}
	run, finish, err := s.runner.Begin(ctx, a)
	if err != nil {
		return nil, err
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if _, err := finish(s.ctxOrBackground()); err != nil {
			s.logger.Error("manual run", "automation_id", a.ID, "run_id", run.ID, "err", err)
		}
	}()
	return run, nil
}

// RecoverStaleRuns fails running records older than the stale threshold; they
// belong to a process that died mid-run.
func (s *Scheduler) RecoverStaleRuns(ctx context.Context) (int, error) {
	now := s.clock.Now()
	return s.runs.FailStaleRuns(ctx, now.Add(-s.cfg.StaleAfter), now, "run interrupted before completion")
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// CronTrigger fires the tick job every interval using robfig/cron. Ticks that
// would overlap a still-running tick are skipped.
type CronTrigger struct {
	cron     *cron.Cron
	interval time.Duration
}

// NewCronTrigger creates a cron-backed trigger.
func NewCronTrigger(interval time.Duration, location *time.Location, logger *slog.Logger) *CronTrigger {
	cl := cronLogger{logger: logger}
	return &CronTrigger{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		interval: interval,
	}
}

func (t *CronTrigger) Schedule(job func()) {
	t.cron.Schedule(cron.Every(t.interval), cron.FuncJob(job))
}

func (t *CronTrigger) Start() { t.cron.Start() }

func (t *CronTrigger) Stop() context.Context { return t.cron.Stop() }

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "err", err)...)
}
