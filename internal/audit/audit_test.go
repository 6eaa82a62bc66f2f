package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dialcron/internal/core"
)

type memSink struct {
	mu      sync.Mutex
	entries []core.AuditEntry
	err     error
	ctxErr  error
}

func (s *memSink) InsertAuditEntry(ctx context.Context, e core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErr = ctx.Err()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func TestAppendPersistsAndMirrors(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	sink := &memSink{}
	l := New(sink, slog.New(slog.NewTextHandler(&buf, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Append(ctx, core.AuditWarn, "run-executor", "call placed but contact not updated")

	require.Len(t, sink.entries, 1)
	e := sink.entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, core.AuditWarn, e.Level)
	assert.Equal(t, "run-executor", e.Source)
	assert.False(t, e.Timestamp.IsZero())
	assert.NoError(t, sink.ctxErr, "persisted with a live context")

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "source=run-executor")
}

func TestAppendFallsBackToConsole(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	sink := &memSink{err: errors.New("disk full")}
	l := New(sink, slog.New(slog.NewTextHandler(&buf, nil)))

	l.Append(context.Background(), core.AuditError, "scheduler", "tick failed")
	out := buf.String()
	assert.Contains(t, out, "tick failed")
	assert.Contains(t, out, "persist audit entry")
	assert.Contains(t, out, "disk full")

	buf.Reset()
	New(nil, slog.New(slog.NewTextHandler(&buf, nil))).Append(context.Background(), core.AuditInfo, "scheduler", "console only")
	assert.Contains(t, buf.String(), "console only")
}

type stubPruner struct {
	before time.Time
	calls  int
	err    error
}

func (p *stubPruner) PruneAuditEntries(_ context.Context, before time.Time) (int, error) {
	p.calls++
	p.before = before
	return 3, p.err
}

func TestRetentionPruneOnce(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	p := &stubPruner{}
	r := NewRetention(p, 30*24*time.Hour, time.UTC, nil)
	r.now = func() time.Time { return now }

	n, err := r.PruneOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, now.Add(-30*24*time.Hour), p.before)
}

func TestRetentionStart(t *testing.T) {
	t.Parallel()
	p := &stubPruner{}
	r := NewRetention(p, time.Hour, time.UTC, nil)
	require.NoError(t, r.Start(context.Background()))
	r.Stop()
	assert.Equal(t, 1, p.calls, "prunes once at startup")

	disabled := &stubPruner{}
	off := NewRetention(disabled, 0, time.UTC, nil)
	require.NoError(t, off.Start(context.Background()))
	off.Stop()
	assert.Zero(t, disabled.calls)
}
