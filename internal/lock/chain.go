package lock

import (
	"context"

	"dialcron/internal/core"
)

// Chain acquires every guard in order and releases them in reverse. If any
// guard refuses, the ones already held are released.
type Chain []core.RunGuard

// Acquire implements core.RunGuard.
func (c Chain) Acquire(ctx context.Context, automationID string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, g := range c {
		if g == nil {
			continue
		}
		release, err := g.Acquire(ctx, automationID)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
