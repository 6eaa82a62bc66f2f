package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"dialcron/internal/core"
)

// DryRun logs calls instead of placing them. Numbers are still validated so
// a dry run surfaces the same per-contact failures as a live one.
type DryRun struct {
	logger *slog.Logger
	seq    atomic.Int64
}

// NewDryRun creates a dry-run initiator.
func NewDryRun(logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{logger: logger.With("component", "dry-run-dialer")}
}

// Place implements core.CallInitiator.
func (d *DryRun) Place(ctx context.Context, agentRef, phoneNumber string) (core.CallHandle, error) {
	to := strings.TrimSpace(phoneNumber)
	if !e164.MatchString(to) {
		return core.CallHandle{}, fmt.Errorf("destination %q: %w", to, ErrInvalidNumber)
	}
	if err := ctx.Err(); err != nil {
		return core.CallHandle{}, err
	}
	sid := fmt.Sprintf("DRY%016d", d.seq.Add(1))
	d.logger.InfoContext(ctx, "dry run call", "agent_ref", agentRef, "to", to, "call_sid", sid)
	return core.CallHandle{SID: sid}, nil
}
