package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dialcron/internal/core"
)

var (
	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = core.ErrRunNotFound
	// ErrRunClosed is returned when finishing a run that is no longer running.
	ErrRunClosed = errors.New("run already closed")
)

const runColumns = `id, automation_id, status, started_at, ended_at, contacts_processed, calls_initiated, calls_failed, error_message`

// InsertRun records a new run.
func (s *Store) InsertRun(ctx context.Context, run *core.Run) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.AutomationID, string(run.Status), formatTime(run.StartedAt), nullableTime(run.EndedAt),
		run.ContactsProcessed, run.CallsInitiated, run.CallsFailed, nullableString(run.ErrorMessage))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun closes a running run with its terminal status and counters. A
// run that was already closed, for example by stale recovery, is left as is.
func (s *Store) FinishRun(ctx context.Context, run *core.Run) error {
	if !run.Status.Terminal() {
		return fmt.Errorf("finish run %s: status %q is not terminal", run.ID, run.Status)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, ended_at = ?, contacts_processed = ?, calls_initiated = ?, calls_failed = ?, error_message = ?
		WHERE id = ? AND status = ?
	`, string(run.Status), nullableTime(run.EndedAt), run.ContactsProcessed, run.CallsInitiated, run.CallsFailed,
		nullableString(run.ErrorMessage), run.ID, string(core.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	if _, err := s.GetRun(ctx, run.ID); err != nil {
		return err
	}
	return ErrRunClosed
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, id string) (*core.Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns an automation's runs, newest first.
func (s *Store) ListRuns(ctx context.Context, automationID string, limit, offset int) ([]*core.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE automation_id = ?
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?
	`, automationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// HasActiveRun reports whether the automation has a running run started at
// or after since.
func (s *Store) HasActiveRun(ctx context.Context, automationID string, since time.Time) (bool, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM runs
		WHERE automation_id = ? AND status = ? AND started_at >= ?
	`, automationID, string(core.RunStatusRunning), formatTime(since)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check active run: %w", err)
	}
	return count > 0, nil
}

// FailStaleRuns marks running runs started before startedBefore as failed and
// returns how many were closed.
func (s *Store) FailStaleRuns(ctx context.Context, startedBefore, endedAt time.Time, message string) (int, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, ended_at = ?, error_message = ?
		WHERE status = ? AND started_at < ?
	`, string(core.RunStatusFailed), formatTime(endedAt), message,
		string(core.RunStatusRunning), formatTime(startedBefore))
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// PruneRuns deletes closed runs beyond the newest keep for an automation.
func (s *Store) PruneRuns(ctx context.Context, automationID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM runs
		WHERE automation_id = ? AND status != ? AND id NOT IN (
			SELECT id FROM runs
			WHERE automation_id = ?
			ORDER BY started_at DESC, id
			LIMIT ?
		)
	`, automationID, string(core.RunStatusRunning), automationID, keep)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return nil
}

func scanRun(row scanner) (*core.Run, error) {
	var (
		run       core.Run
		status    string
		startedAt string
		endedAt   sql.NullString
		errMsg    sql.NullString
	)
	if err := row.Scan(&run.ID, &run.AutomationID, &status, &startedAt, &endedAt,
		&run.ContactsProcessed, &run.CallsInitiated, &run.CallsFailed, &errMsg); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = core.RunStatus(status)
	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if run.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		run.ErrorMessage = &errMsg.String
	}
	return &run, nil
}
