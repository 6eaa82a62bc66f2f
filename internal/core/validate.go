package core

import (
	"fmt"
	"strings"
	"time"
)

// MaxCallsPerRunLimit caps max_calls_per_run and with it the length of a run.
const MaxCallsPerRunLimit = 500

// LongestRun is the worst-case duration of one run: every call waits out its
// pacing slot and then runs into the call timeout.
func LongestRun(pacing, callTimeout time.Duration) time.Duration {
	return time.Duration(MaxCallsPerRunLimit) * (pacing + callTimeout)
}

// Validate rejects configurations the scheduler cannot act on. It is applied
// at create and update time so bad configuration never reaches a tick.
func (a *Automation) Validate() error {
	var problems []string
	if strings.TrimSpace(a.UserID) == "" {
		problems = append(problems, "user_id is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(a.AgentRef) == "" {
		problems = append(problems, "agent_ref is required")
	}
	if len(a.TargetStatuses) == 0 {
		problems = append(problems, "at least one target status is required")
	}
	for _, s := range a.TargetStatuses {
		if !s.Valid() {
			problems = append(problems, fmt.Sprintf("unknown contact status %q", s))
		}
	}
	switch a.Frequency {
	case FrequencyDaily, FrequencyOnce:
		if len(a.RunDays) > 0 {
			problems = append(problems, fmt.Sprintf("run_days only apply to weekly automations, not %s", a.Frequency))
		}
	case FrequencyWeekly:
		if len(a.RunDays) == 0 {
			problems = append(problems, "weekly automations need at least one run day")
		}
		seen := make(map[time.Weekday]bool, len(a.RunDays))
		for _, d := range a.RunDays {
			if d < time.Sunday || d > time.Saturday {
				problems = append(problems, fmt.Sprintf("invalid weekday %d", d))
				continue
			}
			if seen[d] {
				problems = append(problems, fmt.Sprintf("duplicate run day %s", WeekdayName(d)))
			}
			seen[d] = true
		}
	default:
		problems = append(problems, fmt.Sprintf("frequency must be daily, weekly or once, got %q", a.Frequency))
	}
	if a.RunTime.Hour < 0 || a.RunTime.Hour > 23 || a.RunTime.Minute < 0 || a.RunTime.Minute > 59 {
		problems = append(problems, fmt.Sprintf("run_time %s is out of range", a.RunTime))
	}
	if a.MaxCallsPerRun < 1 || a.MaxCallsPerRun > MaxCallsPerRunLimit {
		problems = append(problems, fmt.Sprintf("max_calls_per_run must be between 1 and %d", MaxCallsPerRunLimit))
	}
	if a.Timezone != "" {
		if _, err := time.LoadLocation(a.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("unknown timezone %q", a.Timezone))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
