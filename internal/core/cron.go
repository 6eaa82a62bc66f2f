package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron ensures the expression is a valid 5-field cron definition and returns the underlying schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return nil, fmt.Errorf("only 5-field cron expressions are supported")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// CronSpec renders the recurring part of an automation as a 5-field cron
// expression. Once automations have no recurring spec.
func CronSpec(a *Automation) (string, bool) {
	switch a.Frequency {
	case FrequencyDaily:
		return fmt.Sprintf("%d %d * * *", a.RunTime.Minute, a.RunTime.Hour), true
	case FrequencyWeekly:
		if len(a.RunDays) == 0 {
			return "", false
		}
		days := make([]string, 0, len(a.RunDays))
		for _, d := range a.RunDays {
			days = append(days, fmt.Sprintf("%d", int(d)))
		}
		return fmt.Sprintf("%d %d * * %s", a.RunTime.Minute, a.RunTime.Hour, strings.Join(days, ",")), true
	default:
		return "", false
	}
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		if next.IsZero() {
			break
		}
		times = append(times, next)
	}
	return times
}
