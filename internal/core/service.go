package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Dispatcher starts runs outside the regular tick. *Scheduler implements it.
type Dispatcher interface {
	RunNow(ctx context.Context, automationID string) (*Run, error)
	Tick(ctx context.Context) (TickReport, error)
}

// AutomationConfig is the user-supplied part of an automation.
type AutomationConfig struct {
	UserID         string
	Name           string
	Enabled        bool
	AgentRef       string
	TargetStatuses []ContactStatus
	Frequency      Frequency
	RunDays        []time.Weekday
	RunTime        RunTime
	Timezone       string
	MaxCallsPerRun int
}

// AutomationPatch holds optional field updates; nil fields are left as is.
type AutomationPatch struct {
	Name           *string
	Enabled        *bool
	AgentRef       *string
	TargetStatuses *[]ContactStatus
	Frequency      *Frequency
	RunDays        *[]time.Weekday
	RunTime        *RunTime
	Timezone       *string
	MaxCallsPerRun *int
}

func (p AutomationPatch) reschedules() bool {
	return p.Frequency != nil || p.RunDays != nil || p.RunTime != nil || p.Timezone != nil
}

// Service is the management surface used by the HTTP API and MCP tools.
type Service struct {
	automations AutomationStore
	runs        RunStore
	dispatcher  Dispatcher
	clock       Clock
	location    *time.Location
	logger      *slog.Logger
}

// NewService creates the management service.
func NewService(automations AutomationStore, runs RunStore, dispatcher Dispatcher, clock Clock, location *time.Location, logger *slog.Logger) *Service {
	if clock == nil {
		clock = SystemClock
	}
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		automations: automations,
		runs:        runs,
		dispatcher:  dispatcher,
		clock:       clock,
		location:    location,
		logger:      logger.With("component", "service"),
	}
}

// Location is the default timezone for automations without one.
func (s *Service) Location() *time.Location {
	return s.location
}

// ListAutomations returns the user's automations, newest first. An empty
// userID lists every automation.
func (s *Service) ListAutomations(ctx context.Context, userID string) ([]*Automation, error) {
	return s.automations.ListAutomations(ctx, AutomationFilter{UserID: userID})
}

// GetAutomation loads one automation.
func (s *Service) GetAutomation(ctx context.Context, id string) (*Automation, error) {
	return s.automations.GetAutomation(ctx, id)
}

// CreateAutomation validates and stores a new automation, computing its first
// fire time when enabled.
func (s *Service) CreateAutomation(ctx context.Context, cfg AutomationConfig) (*Automation, error) {
	a := &Automation{
		ID:             NewID(),
		UserID:         strings.TrimSpace(cfg.UserID),
		Name:           strings.TrimSpace(cfg.Name),
		Enabled:        cfg.Enabled,
		AgentRef:       strings.TrimSpace(cfg.AgentRef),
		TargetStatuses: cfg.TargetStatuses,
		Frequency:      cfg.Frequency,
		RunDays:        cfg.RunDays,
		RunTime:        cfg.RunTime,
		Timezone:       strings.TrimSpace(cfg.Timezone),
		MaxCallsPerRun: cfg.MaxCallsPerRun,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if a.Enabled {
		a.NextRunAt = InitialNextRun(a, s.clock.Now(), s.location)
	}
	if err := s.automations.InsertAutomation(ctx, a); err != nil {
		return nil, fmt.Errorf("insert automation: %w", err)
	}
	s.logger.Info("automation created", "automation_id", a.ID, "frequency", a.Frequency, "next_run_at", a.NextRunAt)
	return a, nil
}

// UpdateAutomation applies patch. Changing scheduling fields or re-enabling
// recomputes NextRunAt; disabling clears it.
func (s *Service) UpdateAutomation(ctx context.Context, id string, patch AutomationPatch) (*Automation, error) {
	a, err := s.automations.GetAutomation(ctx, id)
	if err != nil {
		return nil, err
	}
	wasEnabled := a.Enabled

	if patch.Name != nil {
		a.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Enabled != nil {
		a.Enabled = *patch.Enabled
	}
	if patch.AgentRef != nil {
		a.AgentRef = strings.TrimSpace(*patch.AgentRef)
	}
	if patch.TargetStatuses != nil {
		a.TargetStatuses = *patch.TargetStatuses
	}
	if patch.Frequency != nil {
		a.Frequency = *patch.Frequency
		if a.Frequency != FrequencyWeekly && patch.RunDays == nil {
			a.RunDays = nil
		}
	}
	if patch.RunDays != nil {
		a.RunDays = *patch.RunDays
	}
	if patch.RunTime != nil {
		a.RunTime = *patch.RunTime
	}
	if patch.Timezone != nil {
		a.Timezone = strings.TrimSpace(*patch.Timezone)
	}
	if patch.MaxCallsPerRun != nil {
		a.MaxCallsPerRun = *patch.MaxCallsPerRun
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}

	reschedule := true
	switch {
	case !a.Enabled:
		a.NextRunAt = nil
	case !wasEnabled || patch.reschedules():
		a.NextRunAt = InitialNextRun(a, s.clock.Now(), s.location)
	default:
		// A run may have advanced NextRunAt since the read above.
		reschedule = false
	}

	if err := s.automations.UpdateAutomation(ctx, a, reschedule); err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteAutomation removes an automation and its run history.
func (s *Service) DeleteAutomation(ctx context.Context, id string) error {
	return s.automations.DeleteAutomation(ctx, id)
}

// TriggerRunNow starts a run immediately, bypassing the due check.
func (s *Service) TriggerRunNow(ctx context.Context, id string) (*Run, error) {
	return s.dispatcher.RunNow(ctx, id)
}

// RunSchedulerNow performs one tick outside the regular interval.
func (s *Service) RunSchedulerNow(ctx context.Context) (TickReport, error) {
	return s.dispatcher.Tick(ctx)
}

// ListRuns returns the automation's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, automationID string, limit, offset int) ([]*Run, error) {
	if _, err := s.automations.GetAutomation(ctx, automationID); err != nil {
		return nil, err
	}
	return s.runs.ListRuns(ctx, automationID, limit, offset)
}

// GetRun loads one run.
func (s *Service) GetRun(ctx context.Context, id string) (*Run, error) {
	return s.runs.GetRun(ctx, id)
}

// PreviewSchedule lists the next count planned fire times for an automation.
func (s *Service) PreviewSchedule(ctx context.Context, id string, count int) ([]time.Time, error) {
	a, err := s.automations.GetAutomation(ctx, id)
	if err != nil {
		return nil, err
	}
	if count <= 0 || count > 10 {
		count = 5
	}
	if !a.Enabled {
		return nil, nil
	}
	return PreviewRuns(a, s.clock.Now(), s.location, count), nil
}
