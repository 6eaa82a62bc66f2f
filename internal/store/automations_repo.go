package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dialcron/internal/core"
)

// ErrAutomationNotFound is returned when an automation id does not exist.
var ErrAutomationNotFound = core.ErrAutomationNotFound

const automationColumns = `id, user_id, name, enabled, agent_ref, target_statuses, frequency, run_days,
	run_time, timezone, max_calls_per_run, last_run_at, next_run_at, created_at, updated_at`

// InsertAutomation stores a new automation.
func (s *Store) InsertAutomation(ctx context.Context, a *core.Automation) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO automations (`+automationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.UserID, a.Name, boolToInt(a.Enabled), a.AgentRef,
		joinStatuses(a.TargetStatuses), string(a.Frequency), joinWeekdays(a.RunDays),
		a.RunTime.String(), a.Timezone, a.MaxCallsPerRun,
		nullableTime(a.LastRunAt), nullableTime(a.NextRunAt),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert automation: %w", err)
	}
	return nil
}

// UpdateAutomation replaces the mutable configuration of an automation.
// next_run_at is written only when reschedule is set; otherwise the stored
// scheduling fields belong to the executor and are copied back into a.
func (s *Store) UpdateAutomation(ctx context.Context, a *core.Automation, reschedule bool) error {
	a.UpdatedAt = time.Now().UTC()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update automation: %w", err)
	}
	defer tx.Rollback()

	set := `name = ?, enabled = ?, agent_ref = ?, target_statuses = ?, frequency = ?, run_days = ?,
		run_time = ?, timezone = ?, max_calls_per_run = ?, updated_at = ?`
	args := []any{a.Name, boolToInt(a.Enabled), a.AgentRef, joinStatuses(a.TargetStatuses), string(a.Frequency),
		joinWeekdays(a.RunDays), a.RunTime.String(), a.Timezone, a.MaxCallsPerRun, formatTime(a.UpdatedAt)}
	if reschedule {
		set += `, next_run_at = ?`
		args = append(args, nullableTime(a.NextRunAt))
	}
	args = append(args, a.ID)

	res, err := tx.ExecContext(ctx, `UPDATE automations SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update automation: %w", err)
	}
	if err := expectOneRow(res, ErrAutomationNotFound); err != nil {
		return err
	}

	var lastRunAt, nextRunAt sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT last_run_at, next_run_at FROM automations WHERE id = ?`, a.ID).
		Scan(&lastRunAt, &nextRunAt); err != nil {
		return fmt.Errorf("reload automation schedule: %w", err)
	}
	if a.LastRunAt, err = parseNullTime(lastRunAt); err != nil {
		return err
	}
	if a.NextRunAt, err = parseNullTime(nextRunAt); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateAutomationSchedule writes the scheduling fields after a successful run.
func (s *Store) UpdateAutomationSchedule(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE automations
		SET last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, nullableTime(lastRunAt), nullableTime(nextRunAt), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update automation schedule: %w", err)
	}
	return expectOneRow(res, ErrAutomationNotFound)
}

// DeleteAutomation removes an automation together with its run history.
func (s *Store) DeleteAutomation(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete automation: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE automation_id = ?`, id); err != nil {
		return fmt.Errorf("delete automation runs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete automation: %w", err)
	}
	if err := expectOneRow(res, ErrAutomationNotFound); err != nil {
		return err
	}
	return tx.Commit()
}

// GetAutomation loads one automation.
func (s *Store) GetAutomation(ctx context.Context, id string) (*core.Automation, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+automationColumns+` FROM automations WHERE id = ?`, id)
	a, err := scanAutomation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAutomationNotFound
		}
		return nil, err
	}
	return a, nil
}

// ListAutomations returns automations matching filter, newest first.
func (s *Store) ListAutomations(ctx context.Context, filter core.AutomationFilter) ([]*core.Automation, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.EnabledOnly {
		where = append(where, "enabled = 1")
	}
	query := `SELECT ` + automationColumns + ` FROM automations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}
	defer rows.Close()
	var out []*core.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanAutomation(row scanner) (*core.Automation, error) {
	var (
		a              core.Automation
		enabled        int
		targetStatuses string
		frequency      string
		runDays        string
		runTime        string
		lastRunAt      sql.NullString
		nextRunAt      sql.NullString
		createdAt      string
		updatedAt      string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &enabled, &a.AgentRef, &targetStatuses, &frequency,
		&runDays, &runTime, &a.Timezone, &a.MaxCallsPerRun, &lastRunAt, &nextRunAt, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan automation: %w", err)
	}
	a.Enabled = enabled == 1
	a.Frequency = core.Frequency(frequency)
	a.TargetStatuses = splitStatuses(targetStatuses)

	var err error
	if a.RunDays, err = splitWeekdays(runDays); err != nil {
		return nil, fmt.Errorf("automation %s: %w", a.ID, err)
	}
	if a.RunTime, err = core.ParseRunTime(runTime); err != nil {
		return nil, fmt.Errorf("automation %s: %w", a.ID, err)
	}
	if a.LastRunAt, err = parseNullTime(lastRunAt); err != nil {
		return nil, err
	}
	if a.NextRunAt, err = parseNullTime(nextRunAt); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func joinStatuses(statuses []core.ContactStatus) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func splitStatuses(value string) []core.ContactStatus {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]core.ContactStatus, len(parts))
	for i, p := range parts {
		out[i] = core.ContactStatus(p)
	}
	return out
}

func joinWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = core.WeekdayName(d)
	}
	return strings.Join(parts, ",")
}

func splitWeekdays(value string) ([]time.Weekday, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	out := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		d, err := core.ParseWeekday(p)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
