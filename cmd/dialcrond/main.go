package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"dialcron/internal/api"
	"dialcron/internal/audit"
	"dialcron/internal/config"
	"dialcron/internal/core"
	"dialcron/internal/dialer"
	"dialcron/internal/lock"
	"dialcron/internal/logging"
	dialcronmcp "dialcron/internal/mcp"
	"dialcron/internal/notify"
	"dialcron/internal/store"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("dialcrond exited", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := store.Open(ctx, cfg.StateDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	location := cfg.Location()
	auditLog := audit.New(st, logger)

	callInitiator, err := newCallInitiator(cfg, logger)
	if err != nil {
		return err
	}

	guard, closeGuard, err := newRunGuard(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeGuard()

	executor := core.NewExecutor(core.ExecutorDeps{
		Automations: st,
		Runs:        st,
		Contacts:    st,
		Dialer:      callInitiator,
		Audit:       auditLog,
		Guard:       guard,
		Notifier:    newNotifier(cfg, logger),
		Logger:      logger,
	}, core.ExecutorConfig{
		Location:    location,
		Cooldown:    cfg.Run.ContactCooldown,
		CallPacing:  cfg.Run.CallPacing,
		CallTimeout: cfg.Run.CallTimeout,
		StaleAfter:  cfg.Scheduler.RunStaleAfter,
		HistoryKeep: cfg.Run.HistoryKeep,
	})

	scheduler := core.NewScheduler(st, st, executor, logger, core.SchedulerConfig{
		Interval:      cfg.Scheduler.TickInterval,
		Tolerance:     cfg.Scheduler.DueTolerance,
		Location:      location,
		MaxConcurrent: cfg.Scheduler.MaxConcurrentRuns,
		StaleAfter:    cfg.Scheduler.RunStaleAfter,
	}, core.WithAudit(auditLog))

	service := core.NewService(st, st, scheduler, nil, location, logger)

	// Runs keep going after a shutdown signal until the grace period ends.
	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()
	scheduler.Start(runCtx)

	retention := audit.NewRetention(st, cfg.Log.AuditRetention, location, logger)
	if err := retention.Start(runCtx); err != nil {
		logger.Error("start audit retention", "err", err)
	}
	defer retention.Stop()

	mcpServer := dialcronmcp.NewMCPServer(service, logger)
	serveErr := serve(ctx, cfg, logger, service, st, mcpServer)

	stopped := scheduler.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(cfg.Server.ShutdownGrace):
		logger.Warn("scheduler stop timed out, cancelling in-flight runs")
		cancelRuns()
		<-stopped.Done()
	}
	return serveErr
}

// serve runs the configured front ends until ctx is done or one of them fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, service *core.Service, st *store.Store, mcpServer *dialcronmcp.MCPServer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.ServesHTTP() {
		server := api.NewServer(api.Options{
			Addr:      cfg.Server.Addr,
			AuthToken: cfg.Server.AuthToken,
			Service:   service,
			Contacts:  st,
			Audit:     st,
			Health:    st,
			MCP:       mcpServer.HTTPHandler(),
		}, logger)
		g.Go(func() error {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown", "err", err)
			}
			return nil
		})
	}

	if cfg.ServesMCPStdio() {
		g.Go(func() error {
			err := mcpServer.ServeStdio(gctx, os.Stdin, os.Stdout)
			if cfg.Server.Mode == config.ModeMCP {
				// The client closing stdin ends an MCP-only process.
				cancel()
			} else if err == nil {
				logger.Info("mcp stdio closed, http keeps serving")
			}
			if err != nil {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		})
	}

	<-gctx.Done()
	logger.Info("shutting down")
	return g.Wait()
}

func newCallInitiator(cfg *config.Config, logger *slog.Logger) (core.CallInitiator, error) {
	if cfg.Run.DryRun {
		logger.Warn("dry run enabled, calls are logged but not placed")
		return dialer.NewDryRun(logger), nil
	}
	twilio, err := dialer.NewTwilio(dialer.TwilioConfig{
		AccountSID:     cfg.Twilio.AccountSID,
		AuthToken:      cfg.Twilio.AuthToken,
		FromNumber:     cfg.Twilio.FromNumber,
		WebhookBaseURL: cfg.Twilio.WebhookBaseURL,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("configure twilio: %w", err)
	}
	return twilio, nil
}

func newRunGuard(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.RunGuard, func(), error) {
	local := core.NewLocalGuard()
	if cfg.RedisURL == "" {
		return local, func() {}, nil
	}
	redisGuard, err := lock.NewRedisGuard(ctx, cfg.RedisURL, cfg.Scheduler.RunStaleAfter, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis run lock: %w", err)
	}
	logger.Info("using redis run lock")
	return lock.Chain{local, redisGuard}, func() { _ = redisGuard.Close() }, nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) core.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			logger.Error("configure bark notifier", "err", err)
		} else {
			notifiers = append(notifiers, bark)
		}
	}
	if len(notifiers) == 0 {
		return notify.NoOpNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}
