package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/updown/internal/config"
	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/notify"
	"github.com/alanyoungcy/updown/internal/scheduler"
	"github.com/alanyoungcy/updown/internal/server"
	"github.com/alanyoungcy/updown/internal/server/handler"
	"github.com/alanyoungcy/updown/internal/server/ws"
	"github.com/alanyoungcy/updown/internal/service"
)

// Core holds the services every mode shares.
type Core struct {
	Calendar *service.MarketCalendar
	Prices   *service.PriceService
	Rounds   *service.RoundService
	Accounts *service.AccountService
	Alerts   *notify.RoundAlerts
}

// RoundRules maps the market section onto the round service rules.
func RoundRules(m config.MarketConfig) service.RoundRules {
	return service.RoundRules{
		MinBet:          m.MinBet.Amount,
		MaxBet:          m.MaxBet.Amount,
		FeeBps:          m.FeeBps,
		PriceBandBps:    m.PriceBandBps,
		MinSettleDelay:  m.MinSettleDelay.Duration,
		BankruptcyFloor: m.BankruptcyFloor.Amount,
		EnforceHours:    m.EnforceHours,
		SettleLockTTL:   m.SettleLockTTL.Duration,
	}
}

func (a *App) buildCore(deps *Dependencies) (*Core, error) {
	m := a.cfg.Market
	calendar, err := service.NewMarketCalendar(m.Timezone, service.SessionHours{
		Open:   m.SessionOpen.Minutes,
		Close:  m.SessionClose.Minutes,
		Settle: m.SettleAt.Minutes,
	})
	if err != nil {
		return nil, err
	}
	prices := service.NewPriceService(m.Symbol, deps.Quotes, deps.Pushed, a.logger)

	rounds := service.NewRoundService(deps.Ledger, calendar, prices, RoundRules(m), a.logger).
		WithEvents(deps.publishers()).
		WithAudit(deps.Audit).
		WithMetrics(deps.Metrics)
	if deps.Escrow != nil {
		rounds = rounds.WithChainMirror(deps.Escrow)
	}
	if deps.Receipts != nil {
		rounds = rounds.WithArchive(deps.Receipts)
	}
	if deps.Locks != nil {
		rounds = rounds.WithLocks(deps.Locks)
	}

	return &Core{
		Calendar: calendar,
		Prices:   prices,
		Rounds:   rounds,
		Accounts: service.NewAccountService(deps.Accounts, m.StartingBalance.Amount, a.logger),
		Alerts:   notify.NewRoundAlerts(deps.Notifier),
	}, nil
}

// ServerMode serves the HTTP API and the WebSocket relay.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, core *Core) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, core)
	return g.Wait()
}

// SchedulerMode opens and settles rounds on the configured schedule.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies, core *Core) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startScheduler(ctx, g, deps, core); err != nil {
		return fmt.Errorf("scheduler mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs the scheduler and the HTTP server in one process. Dev mode
// is full mode over in-memory dependencies.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, core *Core) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startScheduler(ctx, g, deps, core); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps, core)
	return g.Wait()
}

func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies, core *Core) error {
	sc := a.cfg.Scheduler
	sched := scheduler.New(core.Calendar.Location(), a.logger)
	jobs := scheduler.NewJobs(core.Rounds, core.Prices, scheduler.RetryPolicy{
		Interval:    sc.RetryInterval.Duration,
		MaxAttempts: sc.MaxAttempts,
		MaxPriceAge: sc.MaxPriceAge.Duration,
	}, a.logger).
		WithAlerter(core.Alerts).
		WithMetrics(deps.Metrics)
	if err := jobs.Register(sched, sc.OpenCron, sc.SettleCron); err != nil {
		return err
	}

	for name, at := range sched.NextRuns() {
		a.logger.InfoContext(ctx, "scheduler: job registered",
			slog.String("job", name),
			slog.Time("next_run", at),
		)
	}
	g.Go(func() error {
		return sched.Run(ctx)
	})
	return nil
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, core *Core) {
	hub := ws.NewHub(deps.Bus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var receipts domain.ReceiptReader
	if deps.Receipts != nil {
		receipts = deps.Receipts
	}

	h := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger).WithClients(hub.ClientCount),
		Market:  handler.NewMarketHandler(core.Rounds, core.Calendar, core.Prices, a.logger),
		Rounds:  handler.NewRoundHandler(core.Rounds, receipts, a.logger),
		Bets:    handler.NewBetHandler(core.Rounds, core.Accounts, a.logger),
		Agents:  handler.NewAgentHandler(core.Accounts, a.logger),
		Admin:   handler.NewAdminHandler(core.Rounds, core.Prices, deps.Audit, a.logger),
		Hub:     hub,
		Metrics: deps.Metrics.Handler(),
	}
	if deps.Escrow != nil {
		h.Chain = handler.NewChainHandler(deps.Escrow, a.logger)
	}
	if a.cfg.Server.AdminKey == "" {
		a.logger.WarnContext(ctx, "HTTP server: server.admin_key is empty, admin routes are disabled")
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		AdminKey:        a.cfg.Server.AdminKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, h, server.Deps{
		Auth:    core.Accounts,
		Limiter: deps.Limiter,
		Events:  deps.Metrics,
	}, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
