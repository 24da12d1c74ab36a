package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/ecovest/internal/server"
	"github.com/alanyoungcy/ecovest/internal/server/handler"
	"github.com/alanyoungcy/ecovest/internal/server/ws"
	"github.com/alanyoungcy/ecovest/internal/service"
	"github.com/alanyoungcy/ecovest/internal/settlement"
	"github.com/alanyoungcy/ecovest/internal/valuation"
)

// SchedulerMode runs the settlement trigger only.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")

	_, trigger, err := a.buildSettlement(deps)
	if err != nil {
		return fmt.Errorf("scheduler mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return trigger.Run(ctx)
	})
	return g.Wait()
}

// ServerMode runs the HTTP API without a scheduler. Settlement reports from
// scheduler processes still reach websocket clients through the bus.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil, nil)
	return g.Wait()
}

// FullMode runs the settlement trigger and the HTTP API in one process. It
// also serves demo mode, whose dependencies are in-memory.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	sched, trigger, err := a.buildSettlement(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return trigger.Run(ctx)
	})
	if a.cfg.RunsServer() {
		a.startHTTPServer(ctx, g, deps, sched, trigger)
	}
	return g.Wait()
}

// OnceMode runs a single settlement cycle, logs its report and returns.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	sched, _, err := a.buildSettlement(deps)
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}
	report, err := sched.SettleCycle(ctx)
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}

	a.logger.InfoContext(ctx, "settlement cycle report",
		slog.String("run_id", report.RunID),
		slog.Int("listed", report.Listed),
		slog.Int("advanced", report.Advanced),
		slog.Int("completed", report.Completed),
		slog.Int("conflicts", report.Conflicts),
		slog.Int("accounts_credited", report.AccountsCredited),
		slog.String("total_credited", report.TotalCredited.StringFixed(2)),
		slog.Int("position_failures", len(report.PositionFailures)),
		slog.Int("ledger_failures", len(report.LedgerFailures)),
	)
	return nil
}

// buildSettlement constructs the scheduler and its cron trigger from the
// settlement config.
func (a *App) buildSettlement(deps *Dependencies) (*settlement.Scheduler, *settlement.Trigger, error) {
	sc := a.cfg.Settlement

	var source valuation.Source
	if sc.Seed != 0 {
		a.logger.Warn("settlement: seeded random source in use, cycles are reproducible", slog.Uint64("seed", sc.Seed))
		source = valuation.NewSeededSource(sc.Seed)
	}

	sd := settlement.Deps{
		Positions: deps.Positions,
		Ledger:    deps.Ledger,
		Runs:      deps.Runs,
		Audit:     deps.Audit,
		Bus:       deps.Bus,
		Locks:     deps.Locks,
		Alerts:    deps.Notifier,
		Source:    source,
	}
	if deps.Archiver != nil {
		sd.Sink = deps.Archiver
	}

	sched, err := settlement.NewScheduler(sd, settlement.Config{
		PayoutFraction:   sc.PayoutFraction,
		ShockProbability: sc.ShockProbability,
		Workers:          sc.Workers,
		LockKey:          sc.LockKey,
		LockTTL:          sc.LockTTL.Duration,
		SanityTimeout:    sc.SanityTimeout.Duration,
	}, a.logger)
	if err != nil {
		return nil, nil, err
	}
	trigger, err := settlement.NewTrigger(sched, sc.Schedule, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return sched, trigger, nil
}

// startHTTPServer adds the HTTP server and websocket hub goroutines to g. The
// server is shut down gracefully when ctx is cancelled. sched and trigger are
// nil when this process does not run settlement cycles.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	sched *settlement.Scheduler,
	trigger *settlement.Trigger,
) {
	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	portfolio := service.NewPortfolioService(
		deps.Positions, deps.Accounts, deps.Ledger, deps.Bus, deps.Audit, a.logger,
	)

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Health, a.logger),
		Projections: handler.NewProjectionHandler(a.cfg.Projection.MaxPeriods, a.logger),
		Positions:   handler.NewPositionHandler(portfolio, a.logger),
		Audit:       handler.NewAuditHandler(deps.Audit, a.logger),
	}
	if trigger != nil {
		handlers.Status = handler.NewStatusHandler(a.cfg.Mode, trigger.Schedule(), sched)
		handlers.Settlement = handler.NewSettlementHandler(trigger, sched, deps.Runs, a.logger)
	} else {
		handlers.Status = handler.NewStatusHandler(a.cfg.Mode, a.cfg.Settlement.Schedule, nil)
		handlers.Settlement = handler.NewSettlementHandler(nil, nil, deps.Runs, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
