// Package audit records operational events for automation runs.
package audit

import (
	"context"
	"log/slog"
	"time"

	"dialcron/internal/core"
)

// Sink persists audit entries. *store.Store implements it.
type Sink interface {
	InsertAuditEntry(ctx context.Context, e core.AuditEntry) error
}

// Logger writes audit entries to a Sink and mirrors them to slog. When the
// sink is unavailable the entry is still emitted on the console.
type Logger struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// New creates an audit logger. sink may be nil for console-only auditing.
func New(sink Sink, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		sink:   sink,
		logger: logger.With("component", "audit"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append implements core.AuditLog.
func (l *Logger) Append(ctx context.Context, level core.AuditLevel, source, message string) {
	entry := core.AuditEntry{
		ID:        core.NewID(),
		Timestamp: l.now(),
		Level:     level,
		Source:    source,
		Message:   message,
	}
	l.logger.Log(ctx, slogLevel(level), message, "source", source)
	if l.sink == nil {
		return
	}
	// Audit writes must land even when the run's context is cancelled.
	if err := l.sink.InsertAuditEntry(context.WithoutCancel(ctx), entry); err != nil {
		l.logger.Error("persist audit entry", "source", source, "level", string(level), "err", err)
	}
}

func slogLevel(level core.AuditLevel) slog.Level {
	switch level {
	case core.AuditError:
		return slog.LevelError
	case core.AuditWarn:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
