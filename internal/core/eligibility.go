package core

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// DefaultCooldown is the minimum time between successful contacts.
const DefaultCooldown = 24 * time.Hour

// SelectCandidates applies the eligibility contract to contacts: owned by the
// automation's user, in a target status, and outside the cooldown. The result
// is ordered by LastContactedAt ascending with never-contacted contacts first,
// then by CreatedAt. No cap is applied here.
func SelectCandidates(a *Automation, contacts []Contact, now time.Time, cooldown time.Duration) []Contact {
	cutoff := now.Add(-cooldown)
	out := make([]Contact, 0, len(contacts))
	for _, c := range contacts {
		if c.UserID != a.UserID || !a.Targets(c.Status) {
			continue
		}
		if c.LastContactedAt != nil && c.LastContactedAt.After(cutoff) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := out[i].LastContactedAt, out[j].LastContactedAt
		switch {
		case li == nil && lj != nil:
			return true
		case li != nil && lj == nil:
			return false
		case li != nil && lj != nil && !li.Equal(*lj):
			return li.Before(*lj)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Selector fetches candidates from the contact store and enforces the
// eligibility contract on whatever the store returns.
type Selector struct {
	contacts ContactStore
	cooldown time.Duration
}

// NewSelector creates a selector. A non-positive cooldown uses DefaultCooldown.
func NewSelector(contacts ContactStore, cooldown time.Duration) *Selector {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Selector{contacts: contacts, cooldown: cooldown}
}

// Select returns the ordered candidate list for one run at now.
func (s *Selector) Select(ctx context.Context, a *Automation, now time.Time) ([]Contact, error) {
	found, err := s.contacts.QueryEligible(ctx, a.UserID, a.TargetStatuses, now.Add(-s.cooldown))
	if err != nil {
		return nil, fmt.Errorf("query eligible contacts: %w", err)
	}
	return SelectCandidates(a, found, now, s.cooldown), nil
}
