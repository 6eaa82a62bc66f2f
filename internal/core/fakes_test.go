package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

// memStore is an in-memory AutomationStore, RunStore and ContactStore.
type memStore struct {
	mu          sync.Mutex
	automations map[string]*Automation
	runs        map[string]*Run
	contacts    map[string]*Contact

	listErr     error
	insertErr   error
	queryErr    error
	markErr     error
	scheduleErr error
	finished    []RunStatus
	pruned      int
}

func newMemStore() *memStore {
	return &memStore{
		automations: map[string]*Automation{},
		runs:        map[string]*Run{},
		contacts:    map[string]*Contact{},
	}
}

func (m *memStore) putAutomation(a *Automation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.automations[a.ID] = &cp
}

func (m *memStore) putContact(c Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[c.ID] = &c
}

func (m *memStore) contact(id string) Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.contacts[id]
}

func (m *memStore) automation(id string) *Automation {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.automations[id]
	return &cp
}

func (m *memStore) GetAutomation(_ context.Context, id string) (*Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.automations[id]
	if !ok {
		return nil, ErrAutomationNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListAutomations(_ context.Context, filter AutomationFilter) ([]*Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*Automation
	for _, a := range m.automations {
		if filter.EnabledOnly && !a.Enabled {
			continue
		}
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) InsertAutomation(_ context.Context, a *Automation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	cp := *a
	m.automations[a.ID] = &cp
	return nil
}

func (m *memStore) UpdateAutomation(_ context.Context, a *Automation, reschedule bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.automations[a.ID]
	if !ok {
		return ErrAutomationNotFound
	}
	cp := *a
	cp.LastRunAt = stored.LastRunAt
	if !reschedule {
		cp.NextRunAt = stored.NextRunAt
	}
	m.automations[a.ID] = &cp
	a.LastRunAt, a.NextRunAt = cp.LastRunAt, cp.NextRunAt
	return nil
}

func (m *memStore) DeleteAutomation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.automations[id]; !ok {
		return ErrAutomationNotFound
	}
	delete(m.automations, id)
	return nil
}

func (m *memStore) UpdateAutomationSchedule(_ context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scheduleErr != nil {
		return m.scheduleErr
	}
	a, ok := m.automations[id]
	if !ok {
		return ErrAutomationNotFound
	}
	a.LastRunAt = lastRunAt
	a.NextRunAt = nextRunAt
	return nil
}

func (m *memStore) InsertRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStore) FinishRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.runs[run.ID]
	if !ok {
		return ErrRunNotFound
	}
	if existing.Status != RunStatusRunning {
		return fmt.Errorf("run %s already closed", run.ID)
	}
	cp := *run
	m.runs[run.ID] = &cp
	m.finished = append(m.finished, run.Status)
	return nil
}

func (m *memStore) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListRuns(_ context.Context, automationID string, limit, offset int) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Run
	for _, r := range m.runs {
		if r.AutomationID == automationID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) HasActiveRun(_ context.Context, automationID string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.AutomationID == automationID && r.Status == RunStatusRunning && !r.StartedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) FailStaleRuns(_ context.Context, startedBefore, endedAt time.Time, message string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.runs {
		if r.Status == RunStatusRunning && r.StartedAt.Before(startedBefore) {
			r.Status = RunStatusFailed
			ended := endedAt
			msg := message
			r.EndedAt = &ended
			r.ErrorMessage = &msg
			n++
		}
	}
	return n, nil
}

func (m *memStore) PruneRuns(context.Context, string, int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned++
	return nil
}

// QueryEligible deliberately returns every contact of the user so the
// selector's own filtering is exercised.
func (m *memStore) QueryEligible(_ context.Context, userID string, _ []ContactStatus, _ time.Time) ([]Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []Contact
	for _, c := range m.contacts {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) MarkContacted(ctx context.Context, contactID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	c, ok := m.contacts[contactID]
	if !ok {
		return errors.New("contact not found")
	}
	c.Status = ContactStatusContacted
	ts := at
	c.LastContactedAt = &ts
	return nil
}

// fakeDialer records placements and fails for numbers listed in failFor.
type fakeDialer struct {
	mu      sync.Mutex
	failFor map[string]error
	panicOn string
	placed  []string
	block   chan struct{}
}

func (d *fakeDialer) Place(ctx context.Context, agentRef, phone string) (CallHandle, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return CallHandle{}, ctx.Err()
		}
	}
	if phone == d.panicOn && phone != "" {
		panic("dialer exploded")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.failFor[phone]; ok {
		return CallHandle{}, err
	}
	d.placed = append(d.placed, phone)
	return CallHandle{SID: fmt.Sprintf("CA%03d-%s", len(d.placed), agentRef)}, nil
}

func (d *fakeDialer) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.placed...)
}

type auditRecord struct {
	Level   AuditLevel
	Source  string
	Message string
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditRecord
}

func (r *recordingAudit) Append(_ context.Context, level AuditLevel, source, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, auditRecord{Level: level, Source: source, Message: message})
}

func (r *recordingAudit) levels(level AuditLevel) []auditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auditRecord
	for _, e := range r.entries {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Send(_ context.Context, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

type countingPacer struct {
	mu    sync.Mutex
	waits int
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits++
	return ctx.Err()
}

// manualTrigger lets tests fire ticks by hand.
type manualTrigger struct {
	job     func()
	started bool
}

func (m *manualTrigger) Schedule(job func()) { m.job = job }
func (m *manualTrigger) Start()              { m.started = true }
func (m *manualTrigger) Stop() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
func (m *manualTrigger) fire() { m.job() }
