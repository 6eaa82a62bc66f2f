package core

import (
	"fmt"
	"strings"
	"time"
)

// Frequency describes how often an automation fires.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
	FrequencyOnce   Frequency = "once"
)

// RunStatus describes the state of an individual run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the run can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ContactStatus is the lifecycle state of a contact in the contact store.
type ContactStatus string

const (
	ContactStatusNew       ContactStatus = "new"
	ContactStatusContacted ContactStatus = "contacted"
	ContactStatusQualified ContactStatus = "qualified"
	ContactStatusConverted ContactStatus = "converted"
	ContactStatusRejected  ContactStatus = "rejected"
)

// Valid reports whether s is a known contact status.
func (s ContactStatus) Valid() bool {
	switch s {
	case ContactStatusNew, ContactStatusContacted, ContactStatusQualified, ContactStatusConverted, ContactStatusRejected:
		return true
	}
	return false
}

// RunTime is a wall-clock time of day.
type RunTime struct {
	Hour   int
	Minute int
}

// ParseRunTime parses "HH:MM" in 24h format.
func ParseRunTime(value string) (RunTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return RunTime{}, fmt.Errorf("run time %q must be HH:MM: %w", value, err)
	}
	return RunTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (r RunTime) String() string {
	return fmt.Sprintf("%02d:%02d", r.Hour, r.Minute)
}

// Offset returns the run time as a duration since midnight.
func (r RunTime) Offset() time.Duration {
	return time.Duration(r.Hour)*time.Hour + time.Duration(r.Minute)*time.Minute
}

var weekdayNames = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// ParseWeekday accepts short ("mon") or long ("monday") English day names.
func ParseWeekday(value string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if len(v) >= 3 {
		for i, name := range weekdayNames {
			if strings.HasPrefix(v, name) && strings.HasPrefix(strings.ToLower(time.Weekday(i).String()), v) {
				return time.Weekday(i), nil
			}
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", value)
}

// ParseWeekdays parses a list of day names, reporting the first bad one.
func ParseWeekdays(values []string) ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(values))
	for _, v := range values {
		d, err := ParseWeekday(v)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, nil
}

// ContactStatuses converts raw status names. Unknown names are kept so
// validation can report them.
func ContactStatuses(values []string) []ContactStatus {
	out := make([]ContactStatus, 0, len(values))
	for _, v := range values {
		out = append(out, ContactStatus(strings.ToLower(strings.TrimSpace(v))))
	}
	return out
}

// WeekdayName returns the short lowercase name used in storage and APIs.
func WeekdayName(d time.Weekday) string {
	return weekdayNames[d]
}

// Automation is a user-configured recurring or one-shot calling campaign.
type Automation struct {
	ID             string
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
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Targets reports whether status is one of the automation's target statuses.
func (a *Automation) Targets(status ContactStatus) bool {
	for _, s := range a.TargetStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// RunsOn reports whether the weekly day set contains d.
func (a *Automation) RunsOn(d time.Weekday) bool {
	for _, day := range a.RunDays {
		if day == d {
			return true
		}
	}
	return false
}

// Run captures a single execution attempt of an automation.
type Run struct {
	ID                string
	AutomationID      string
	Status            RunStatus
	StartedAt         time.Time
	EndedAt           *time.Time
	ContactsProcessed int
	CallsInitiated    int
	CallsFailed       int
	ErrorMessage      *string
}

// Contact is a callable record owned by the contact store.
type Contact struct {
	ID              string
	UserID          string
	FullName        string
	PhoneNumber     string
	Status          ContactStatus
	LastContactedAt *time.Time
	CreatedAt       time.Time
}

// AuditLevel is the severity of an audit entry.
type AuditLevel string

const (
	AuditInfo  AuditLevel = "INFO"
	AuditWarn  AuditLevel = "WARN"
	AuditError AuditLevel = "ERROR"
)

// AuditEntry is one append-only operational log record.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	Level     AuditLevel
	Source    string
	Message   string
}
