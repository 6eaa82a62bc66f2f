package core

import (
	"context"
	"time"
)

// AutomationFilter narrows ListAutomations.
type AutomationFilter struct {
	UserID      string
	EnabledOnly bool
}

// AutomationStore persists automation configuration and scheduling fields.
type AutomationStore interface {
	GetAutomation(ctx context.Context, id string) (*Automation, error)
	ListAutomations(ctx context.Context, filter AutomationFilter) ([]*Automation, error)
	InsertAutomation(ctx context.Context, a *Automation) error
	// UpdateAutomation writes a's configuration. NextRunAt is written only when
	// reschedule is set; LastRunAt never is.
	UpdateAutomation(ctx context.Context, a *Automation, reschedule bool) error
	DeleteAutomation(ctx context.Context, id string) error
	UpdateAutomationSchedule(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error
}

// RunStore persists run records.
type RunStore interface {
	InsertRun(ctx context.Context, run *Run) error
	// FinishRun moves a running run to its terminal status with final counters.
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, automationID string, limit, offset int) ([]*Run, error)
	// HasActiveRun reports a running run for the automation started at or after since.
	HasActiveRun(ctx context.Context, automationID string, since time.Time) (bool, error)
	FailStaleRuns(ctx context.Context, startedBefore, endedAt time.Time, message string) (int, error)
	PruneRuns(ctx context.Context, automationID string, keep int) error
}

// ContactStore is the external contact repository. It must provide
// read-after-write consistency so the cooldown filter sees MarkContacted.
type ContactStore interface {
	QueryEligible(ctx context.Context, userID string, statuses []ContactStatus, cooldownBefore time.Time) ([]Contact, error)
	MarkContacted(ctx context.Context, contactID string, at time.Time) error
}

// CallHandle identifies a placed call at the provider.
type CallHandle struct {
	SID string
}

// CallInitiator places one outbound call. Any error counts as a call failure.
type CallInitiator interface {
	Place(ctx context.Context, agentRef, phoneNumber string) (CallHandle, error)
}

// AuditLog is an append-only operational log. Append never fails a caller.
type AuditLog interface {
	Append(ctx context.Context, level AuditLevel, source, message string)
}

// RunGuard serialises runs of the same automation. Acquire returns
// ErrRunInProgress when another holder owns the automation.
type RunGuard interface {
	Acquire(ctx context.Context, automationID string) (release func(), err error)
}

// Notifier delivers user-facing failure notices.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Pacer spaces consecutive calls within one run. *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

type discardAudit struct{}

func (discardAudit) Append(context.Context, AuditLevel, string, string) {}

type noopNotifier struct{}

func (noopNotifier) Send(context.Context, string, string) error { return nil }
