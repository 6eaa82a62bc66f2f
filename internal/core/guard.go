package core

import (
	"context"
	"sync"
)

// LocalGuard tracks running automations inside this process.
type LocalGuard struct {
	running sync.Map // automationID -> struct{}{}
}

// NewLocalGuard creates an empty in-process guard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{}
}

// Acquire claims the automation or returns ErrRunInProgress.
func (g *LocalGuard) Acquire(_ context.Context, automationID string) (func(), error) {
	if _, loaded := g.running.LoadOrStore(automationID, struct{}{}); loaded {
		return nil, ErrRunInProgress
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.running.Delete(automationID) })
	}, nil
}

// IsRunning reports whether the automation is claimed in this process.
func (g *LocalGuard) IsRunning(automationID string) bool {
	_, ok := g.running.Load(automationID)
	return ok
}
