package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ago(now time.Time, d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func TestSelectCandidatesCooldown(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 15, 9, 2, 0, 0, time.UTC)
	a := dailyAt(9, 0)
	a.TargetStatuses = []ContactStatus{ContactStatusNew, ContactStatusContacted}

	cases := []struct {
		name string
		last *time.Time
		want bool
	}{
		{"never contacted", nil, true},
		{"one hour ago", ago(now, time.Hour), false},
		{"just inside cooldown", ago(now, 24*time.Hour-time.Second), false},
		{"exactly at cooldown", ago(now, 24*time.Hour), true},
		{"25 hours ago", ago(now, 25*time.Hour), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Contact{ID: "c1", UserID: "u1", Status: ContactStatusContacted, LastContactedAt: tc.last}
			got := SelectCandidates(a, []Contact{c}, now, DefaultCooldown)
			assert.Equal(t, tc.want, len(got) == 1)
		})
	}
}

func TestSelectCandidatesFiltersOwnerAndStatus(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	a := dailyAt(9, 0)

	contacts := []Contact{
		{ID: "mine", UserID: "u1", Status: ContactStatusNew},
		{ID: "other-user", UserID: "u2", Status: ContactStatusNew},
		{ID: "qualified", UserID: "u1", Status: ContactStatusQualified},
	}
	got := SelectCandidates(a, contacts, now, DefaultCooldown)
	require.Len(t, got, 1)
	assert.Equal(t, "mine", got[0].ID)
}

func TestSelectCandidatesOrdering(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	a := dailyAt(9, 0)
	a.TargetStatuses = []ContactStatus{ContactStatusNew, ContactStatusContacted}
	created := now.Add(-30 * 24 * time.Hour)

	contacts := []Contact{
		{ID: "old-call", UserID: "u1", Status: ContactStatusContacted, LastContactedAt: ago(now, 72*time.Hour), CreatedAt: created},
		{ID: "new-later", UserID: "u1", Status: ContactStatusNew, CreatedAt: created.Add(time.Hour)},
		{ID: "recent-call", UserID: "u1", Status: ContactStatusContacted, LastContactedAt: ago(now, 48*time.Hour), CreatedAt: created},
		{ID: "new-first", UserID: "u1", Status: ContactStatusNew, CreatedAt: created},
	}
	got := SelectCandidates(a, contacts, now, DefaultCooldown)
	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"new-first", "new-later", "old-call", "recent-call"}, ids)
}

func TestSelectorFiltersStoreResults(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	st := newMemStore()
	st.putContact(Contact{ID: "eligible", UserID: "u1", Status: ContactStatusNew})
	st.putContact(Contact{ID: "cooling", UserID: "u1", Status: ContactStatusNew, LastContactedAt: ago(now, time.Hour)})

	sel := NewSelector(st, 0)
	got, err := sel.Select(context.Background(), dailyAt(9, 0), now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "eligible", got[0].ID)

	st.queryErr = errors.New("contact store offline")
	_, err = sel.Select(context.Background(), dailyAt(9, 0), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contact store offline")
}
