package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const executorAuditSource = "run-executor"

// ExecutorConfig tunes run execution.
type ExecutorConfig struct {
	Location    *time.Location
	Cooldown    time.Duration
	CallPacing  time.Duration
	CallTimeout time.Duration
	// StaleAfter bounds how long a persisted running marker blocks new runs.
	// It is raised to LongestRun when shorter.
	StaleAfter  time.Duration
	HistoryKeep int
}

// DefaultExecutorConfig returns the production defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Location:    time.Local,
		Cooldown:    DefaultCooldown,
		CallPacing:  2 * time.Second,
		CallTimeout: 30 * time.Second,
		StaleAfter:  time.Hour,
		HistoryKeep: 50,
	}
}

// ExecutorDeps wires the executor's collaborators. Audit, Guard, Notifier,
// Clock and NewPacer are optional.
type ExecutorDeps struct {
	Automations AutomationStore
	Runs        RunStore
	Contacts    ContactStore
	Dialer      CallInitiator
	Audit       AuditLog
	Guard       RunGuard
	Notifier    Notifier
	Clock       Clock
	NewPacer    func() Pacer
	Logger      *slog.Logger
}

// FinishFunc completes a run started by Executor.Begin.
type FinishFunc func(ctx context.Context) (*Run, error)

// Executor drives one run of one automation.
type Executor struct {
	automations AutomationStore
	runs        RunStore
	contacts    ContactStore
	selector    *Selector
	dialer      CallInitiator
	audit       AuditLog
	guard       RunGuard
	notifier    Notifier
	clock       Clock
	newPacer    func() Pacer
	logger      *slog.Logger
	cfg         ExecutorConfig
}

// NewExecutor creates a run executor.
func NewExecutor(deps ExecutorDeps, cfg ExecutorConfig) *Executor {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	// A run still inside its worst-case duration is never treated as stale.
	if longest := LongestRun(cfg.CallPacing, cfg.CallTimeout); cfg.StaleAfter < longest {
		cfg.StaleAfter = longest
	}
	e := &Executor{
		automations: deps.Automations,
		runs:        deps.Runs,
		contacts:    deps.Contacts,
		selector:    NewSelector(deps.Contacts, cfg.Cooldown),
		dialer:      deps.Dialer,
		audit:       deps.Audit,
		guard:       deps.Guard,
		notifier:    deps.Notifier,
		clock:       deps.Clock,
		newPacer:    deps.NewPacer,
		logger:      deps.Logger,
		cfg:         cfg,
	}
	if e.audit == nil {
		e.audit = discardAudit{}
	}
	if e.guard == nil {
		e.guard = NewLocalGuard()
	}
	if e.notifier == nil {
		e.notifier = noopNotifier{}
	}
	if e.clock == nil {
		e.clock = SystemClock
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "executor")
	if e.newPacer == nil {
		pacing := cfg.CallPacing
		e.newPacer = func() Pacer {
			if pacing <= 0 {
				return rate.NewLimiter(rate.Inf, 1)
			}
			return rate.NewLimiter(rate.Every(pacing), 1)
		}
	}
	return e
}

// Execute runs the automation to completion and returns the closed run.
// A non-nil run with a non-nil error means the run was recorded as failed.
func (e *Executor) Execute(ctx context.Context, a *Automation) (*Run, error) {
	_, finish, err := e.Begin(ctx, a)
	if err != nil {
		return nil, err
	}
	return finish(ctx)
}

// Begin claims the automation and opens a running run record. The returned
// run is a snapshot; call finish exactly once to process candidates and close
// the record. Begin fails with ErrRunInProgress when another run holds the
// automation, either in memory, in the guard, or as a persisted running row.
func (e *Executor) Begin(ctx context.Context, a *Automation) (*Run, FinishFunc, error) {
	release, err := e.guard.Acquire(ctx, a.ID)
	if err != nil {
		return nil, nil, err
	}
	now := e.clock.Now()
	active, err := e.runs.HasActiveRun(ctx, a.ID, now.Add(-e.cfg.StaleAfter))
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("check active run: %w", err)
	}
	if active {
		release()
		return nil, nil, ErrRunInProgress
	}

	run := &Run{
		ID:           NewID(),
		AutomationID: a.ID,
		Status:       RunStatusRunning,
		StartedAt:    now,
	}
	if err := e.runs.InsertRun(ctx, run); err != nil {
		release()
		return nil, nil, fmt.Errorf("insert run: %w", err)
	}
	e.audit.Append(ctx, AuditInfo, executorAuditSource,
		fmt.Sprintf("Starting automation run %s for automation %s (%s)", run.ID, a.ID, a.Name))

	snapshot := *run
	var once sync.Once
	finish := func(ctx context.Context) (*Run, error) {
		var (
			closed *Run
			err    error
		)
		once.Do(func() {
			defer release()
			closed, err = e.finish(ctx, a, run)
		})
		if closed == nil && err == nil {
			return nil, errors.New("run already finished")
		}
		return closed, err
	}
	return &snapshot, finish, nil
}

func (e *Executor) finish(ctx context.Context, a *Automation, run *Run) (*Run, error) {
	logger := e.logger.With("automation_id", a.ID, "run_id", run.ID)
	tally, runErr := e.drive(ctx, a, run.ID, logger)

	// Terminal bookkeeping must land even if the caller is shutting down.
	persistCtx := context.WithoutCancel(ctx)
	endedAt := e.clock.Now()
	run.apply(tally)
	run.EndedAt = &endedAt

	if runErr != nil {
		msg := runErr.Error()
		run.Status = RunStatusFailed
		run.ErrorMessage = &msg
		if err := e.runs.FinishRun(persistCtx, run); err != nil {
			logger.Error("mark run failed", "err", err)
		}
		detail := fmt.Sprintf("Error in automation run %s: %v", run.ID, runErr)
		var panicErr *PanicError
		if errors.As(runErr, &panicErr) {
			detail += "\n" + string(panicErr.Stack)
		}
		e.audit.Append(persistCtx, AuditError, executorAuditSource, detail)
		logger.Error("run failed", "err", runErr)
		if err := e.notifier.Send(persistCtx, fmt.Sprintf("Automation %q failed", a.Name), msg); err != nil {
			logger.Warn("send failure notification", "err", err)
		}
		e.prune(persistCtx, a.ID, logger)
		return run, fmt.Errorf("run %s: %w", run.ID, runErr)
	}

	run.Status = RunStatusCompleted
	if err := e.runs.FinishRun(persistCtx, run); err != nil {
		e.audit.Append(persistCtx, AuditError, executorAuditSource,
			fmt.Sprintf("Error closing automation run %s: %v", run.ID, err))
		return run, fmt.Errorf("finish run %s: %w", run.ID, err)
	}

	next := ComputeNextRun(a, endedAt, e.cfg.Location)
	if err := e.automations.UpdateAutomationSchedule(persistCtx, a.ID, &endedAt, next); err != nil {
		logger.Error("update automation schedule", "err", err)
		e.audit.Append(persistCtx, AuditError, executorAuditSource,
			fmt.Sprintf("Error updating automation schedule for %s: %v", a.ID, err))
	}

	e.audit.Append(persistCtx, AuditInfo, executorAuditSource,
		fmt.Sprintf("Completed automation run %s: Processed %d, Initiated %d, Failed %d",
			run.ID, run.ContactsProcessed, run.CallsInitiated, run.CallsFailed))
	logger.Info("run completed",
		"processed", run.ContactsProcessed,
		"initiated", run.CallsInitiated,
		"failed", run.CallsFailed,
		"next_run_at", next)
	e.prune(persistCtx, a.ID, logger)
	return run, nil
}

// drive processes candidates sequentially. Per-call failures are folded into
// the tally; only errors that abort the run are returned.
func (e *Executor) drive(ctx context.Context, a *Automation, runID string, logger *slog.Logger) (tally Tally, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	candidates, err := e.selector.Select(ctx, a, e.clock.Now())
	if err != nil {
		return tally, err
	}
	if len(candidates) > a.MaxCallsPerRun {
		candidates = candidates[:a.MaxCallsPerRun]
	}
	logger.Debug("candidates selected", "count", len(candidates))

	pacer := e.newPacer()
	for _, c := range candidates {
		if err := pacer.Wait(ctx); err != nil {
			return tally, fmt.Errorf("wait for call pacing: %w", err)
		}
		outcome := e.place(ctx, a, c)
		tally = tally.Add(outcome)
		e.record(ctx, runID, outcome, logger)
	}
	return tally, nil
}

func (e *Executor) place(ctx context.Context, a *Automation, c Contact) CallOutcome {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	handle, err := e.dialer.Place(callCtx, a.AgentRef, c.PhoneNumber)
	at := e.clock.Now()
	if err == nil && handle.SID == "" {
		err = errors.New("call initiator returned no call id")
	}
	if err != nil {
		return FailedCall(c, err, at)
	}
	return PlacedCall(c, handle, at)
}

func (e *Executor) record(ctx context.Context, runID string, o CallOutcome, logger *slog.Logger) {
	if !o.OK() {
		logger.Warn("call failed", "contact_id", o.Contact.ID, "err", o.Err)
		e.audit.Append(ctx, AuditError, executorAuditSource,
			fmt.Sprintf("Failed to initiate automated call to %s (%s): %v", o.Contact.FullName, o.Contact.PhoneNumber, o.Err))
		return
	}
	// The call is already placed: the contact update must land even when the
	// run is being cancelled, and a failed write does not turn the outcome
	// into a failure.
	persistCtx := context.WithoutCancel(ctx)
	if err := e.contacts.MarkContacted(persistCtx, o.Contact.ID, o.At); err != nil {
		logger.Error("mark contact contacted", "contact_id", o.Contact.ID, "err", err)
		e.audit.Append(persistCtx, AuditWarn, executorAuditSource,
			fmt.Sprintf("Call %s placed but contact %s was not updated: %v", o.Handle.SID, o.Contact.ID, err))
	}
	logger.Info("call initiated", "contact_id", o.Contact.ID, "call_sid", o.Handle.SID)
	e.audit.Append(persistCtx, AuditInfo, executorAuditSource,
		fmt.Sprintf("Automated call initiated: %s to %s (%s) for run %s", o.Handle.SID, o.Contact.FullName, o.Contact.PhoneNumber, runID))
}

func (e *Executor) prune(ctx context.Context, automationID string, logger *slog.Logger) {
	if e.cfg.HistoryKeep <= 0 {
		return
	}
	if err := e.runs.PruneRuns(ctx, automationID, e.cfg.HistoryKeep); err != nil {
		logger.Warn("prune run history", "err", err)
	}
}
