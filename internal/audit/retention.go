package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes audit entries older than a cutoff. *store.Store implements it.
type Pruner interface {
	PruneAuditEntries(ctx context.Context, before time.Time) (int, error)
}

// Retention prunes the audit log once a day.
type Retention struct {
	pruner Pruner
	keep   time.Duration
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time
}

// NewRetention creates a daily pruning job keeping entries newer than keep.
func NewRetention(pruner Pruner, keep time.Duration, location *time.Location, logger *slog.Logger) *Retention {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{
		pruner: pruner,
		keep:   keep,
		cron:   cron.New(cron.WithLocation(location)),
		logger: logger.With("component", "audit-retention"),
		now:    time.Now,
	}
}

// Start prunes immediately and then every day at midnight. A non-positive
// retention disables pruning.
func (r *Retention) Start(ctx context.Context) error {
	if r.keep <= 0 {
		r.logger.Info("audit retention disabled")
		return nil
	}
	if _, err := r.cron.AddFunc("@daily", func() { r.run(ctx) }); err != nil {
		return fmt.Errorf("schedule audit pruning: %w", err)
	}
	r.run(ctx)
	r.cron.Start()
	return nil
}

// Stop halts the daily job and waits for a running prune to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}

// PruneOnce deletes entries older than the retention window.
func (r *Retention) PruneOnce(ctx context.Context) (int, error) {
	return r.pruner.PruneAuditEntries(ctx, r.now().Add(-r.keep))
}

func (r *Retention) run(ctx context.Context) {
	n, err := r.PruneOnce(ctx)
	if err != nil {
		r.logger.Error("prune audit entries", "err", err)
		return
	}
	if n > 0 {
		r.logger.Info("pruned audit entries", "count", n, "retention", r.keep)
	}
}
