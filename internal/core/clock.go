package core

import (
	"time"
)

// DefaultDueTolerance matches the scheduler's default tick interval.
const DefaultDueTolerance = 5 * time.Minute

// Clock supplies the current time. Tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns wall-clock time in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// AutomationLocation resolves the automation's timezone, falling back to def
// when it is unset or unknown.
func AutomationLocation(a *Automation, def *time.Location) *time.Location {
	if def == nil {
		def = time.Local
	}
	if a == nil || a.Timezone == "" {
		return def
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return def
	}
	return loc
}

// IsDue reports whether the automation should run at now. It is pure: the
// result depends only on its arguments.
func IsDue(a *Automation, now time.Time, tolerance time.Duration, loc *time.Location) bool {
	if a == nil || !a.Enabled {
		return false
	}
	// A completed run pushes NextRunAt to a later day, which closes today's
	// window until that moment arrives.
	if a.NextRunAt != nil && a.NextRunAt.After(now) {
		return false
	}
	local := now.In(AutomationLocation(a, loc))
	switch a.Frequency {
	case FrequencyDaily:
		return withinRunWindow(local, a.RunTime, tolerance)
	case FrequencyWeekly:
		return a.RunsOn(local.Weekday()) && withinRunWindow(local, a.RunTime, tolerance)
	case FrequencyOnce:
		// Fires on the first tick after it is enabled; run time is ignored.
		return a.LastRunAt == nil
	default:
		return false
	}
}

// withinRunWindow compares wall-clock time of day, so DST transitions do not
// shift the window. The window does not wrap across midnight.
func withinRunWindow(local time.Time, rt RunTime, tolerance time.Duration) bool {
	sinceMidnight := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())
	diff := sinceMidnight - rt.Offset()
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// ComputeNextRun returns the next scheduled run after a run finished at now.
// Daily automations move to the next calendar day at RunTime, weekly ones to
// the nearest configured day strictly after today. Once automations return nil.
func ComputeNextRun(a *Automation, now time.Time, loc *time.Location) *time.Time {
	spec, ok := CronSpec(a)
	if !ok {
		return nil
	}
	schedule, err := ParseCron(spec)
	if err != nil {
		return nil
	}
	location := AutomationLocation(a, loc)
	local := now.In(location)
	tomorrow := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, location)
	next := schedule.Next(tomorrow.Add(-time.Second))
	if next.IsZero() {
		return nil
	}
	next = next.UTC()
	return &next
}

// InitialNextRun computes the first fire time for a freshly created or
// rescheduled automation. Recurring automations get the first RunTime strictly
// after now (today if it is still ahead); once automations fire immediately.
func InitialNextRun(a *Automation, now time.Time, loc *time.Location) *time.Time {
	if a.Frequency == FrequencyOnce {
		if a.LastRunAt != nil {
			return nil
		}
		at := now.UTC()
		return &at
	}
	spec, ok := CronSpec(a)
	if !ok {
		return nil
	}
	schedule, err := ParseCron(spec)
	if err != nil {
		return nil
	}
	next := schedule.Next(now.In(AutomationLocation(a, loc)))
	if next.IsZero() {
		return nil
	}
	next = next.UTC()
	return &next
}

// PreviewRuns lists up to n planned fire times starting at now.
func PreviewRuns(a *Automation, now time.Time, loc *time.Location, n int) []time.Time {
	if a.Frequency == FrequencyOnce {
		if a.LastRunAt != nil {
			return nil
		}
		if a.NextRunAt != nil && a.NextRunAt.After(now) {
			return []time.Time{a.NextRunAt.UTC()}
		}
		return []time.Time{now.UTC()}
	}
	spec, ok := CronSpec(a)
	if !ok {
		return nil
	}
	schedule, err := ParseCron(spec)
	if err != nil {
		return nil
	}
	base := now
	if a.NextRunAt != nil && a.NextRunAt.After(now) {
		base = a.NextRunAt.Add(-time.Second)
	}
	times := NextOccurrences(schedule, base.In(AutomationLocation(a, loc)), n)
	for i := range times {
		times[i] = times[i].UTC()
	}
	return times
}
