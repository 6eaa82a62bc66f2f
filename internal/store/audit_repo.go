package store

import (
	"context"
	"fmt"
	"time"

	"dialcron/internal/core"
)

// InsertAuditEntry appends one audit entry.
func (s *Store) InsertAuditEntry(ctx context.Context, e core.AuditEntry) error {
	if e.ID == "" {
		e.ID = core.NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO audit_logs (id, timestamp, level, source, message)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.Timestamp), string(e.Level), e.Source, e.Message)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns the newest entries first. An empty source lists
// every source.
func (s *Store) ListAuditEntries(ctx context.Context, source string, limit int) ([]core.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, timestamp, level, source, message
		FROM audit_logs
		WHERE ? = '' OR source = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`, source, source, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()
	var out []core.AuditEntry
	for rows.Next() {
		var (
			e     core.AuditEntry
			ts    string
			level string
		)
		if err := rows.Scan(&e.ID, &ts, &level, &e.Source, &e.Message); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		e.Level = core.AuditLevel(level)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PruneAuditEntries deletes entries older than before.
func (s *Store) PruneAuditEntries(ctx context.Context, before time.Time) (int, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM audit_logs WHERE timestamp < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
