package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/streampredict/internal/pricing"
	"github.com/alanyoungcy/streampredict/internal/server"
	"github.com/alanyoungcy/streampredict/internal/server/handler"
	"github.com/alanyoungcy/streampredict/internal/server/ws"
	"github.com/alanyoungcy/streampredict/internal/service"
	"github.com/alanyoungcy/streampredict/internal/settlement"
)

// services holds the service layer shared by every mode.
type services struct {
	odds        *service.OddsService
	markets     *service.MarketService
	settlements *service.SettlementService
	analytics   *service.AnalyticsService
}

func (a *App) buildServices(deps *Dependencies) (*services, error) {
	pc := a.cfg.Pricing
	oddsEngine, err := pricing.NewEngine(pricing.Config{
		Volatility:     pc.Volatility,
		Momentum:       pc.Momentum,
		MinProbability: pc.MinProbability,
		MaxProbability: pc.MaxProbability,
		MinOdds:        pc.MinOdds,
		MaxOdds:        pc.MaxOdds,
	})
	if err != nil {
		return nil, err
	}
	source, err := pricing.NewSignalSource(pc.SignalSource, deps.SignalStore, pc.RandomSeed)
	if err != nil {
		return nil, err
	}
	settleEngine, err := settlement.NewEngine(a.cfg.Settlement.Precision)
	if err != nil {
		return nil, err
	}

	odds := service.NewOddsService(oddsEngine, source, deps.MarketStore, deps.MarketCache, deps.SignalBus,
		service.OddsConfig{
			Interval:       pc.Interval.Duration,
			MaxConcurrency: pc.MaxConcurrency,
		}, a.logger)

	var onBet *service.OddsService
	if pc.RecomputeOnBet {
		onBet = odds
	}
	markets := service.NewMarketService(deps.MarketStore, deps.BetStore, deps.MarketCache, deps.AuditStore,
		onBet, a.marketRules(), a.logger)

	settlements := service.NewSettlementService(
		settleEngine,
		deps.MarketStore, deps.BetStore, deps.SettlementStore,
		deps.LockManager, deps.MarketCache, deps.SignalBus, deps.AuditStore,
		deps.Archiver, deps.Notifier,
		service.SettlementConfig{LockTTL: a.cfg.Settlement.LockTTL.Duration},
		a.logger,
	)

	analytics := service.NewAnalyticsService(deps.MarketStore, deps.BetStore, deps.SettlementStore, a.logger)

	return &services{odds: odds, markets: markets, settlements: settlements, analytics: analytics}, nil
}

func (a *App) marketRules() service.MarketRules {
	rules := service.DefaultMarketRules()
	sc := a.cfg.Settlement
	if len(sc.AllowedCreatorCuts) > 0 {
		rules.AllowedCuts = make([]decimal.Decimal, 0, len(sc.AllowedCreatorCuts))
		for _, c := range sc.AllowedCreatorCuts {
			rules.AllowedCuts = append(rules.AllowedCuts, decimal.NewFromFloat(c))
		}
	}
	if sc.MinOutcomes > 0 {
		rules.MinOutcomes = sc.MinOutcomes
	}
	if sc.MaxOutcomes > 0 {
		rules.MaxOutcomes = sc.MaxOutcomes
	}
	return rules
}

// APIMode serves the HTTP API and the WebSocket event feed. Odds are still
// recomputed after every bet when pricing.recompute_on_bet is set.
func (a *App) APIMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// PricerMode runs only the periodic odds recomputation.
func (a *App) PricerMode(ctx context.Context, svcs *services) error {
	a.logger.InfoContext(ctx, "starting pricer mode",
		slog.Duration("interval", a.cfg.Pricing.Interval.Duration),
		slog.String("signal_source", a.cfg.Pricing.SignalSource),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svcs.odds.Run(ctx)
	})
	return g.Wait()
}

// FullMode runs the odds scheduler alongside the API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svcs.odds.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// ArchiveMode uploads every settlement committed before now and exits.
func (a *App) ArchiveMode(ctx context.Context, svcs *services) error {
	before := time.Now().UTC()
	a.logger.InfoContext(ctx, "starting archive mode", slog.Time("before", before))

	n, err := svcs.settlements.ArchiveBefore(ctx, before)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete", slog.Int64("settlements", n))
	return nil
}

// startHTTPServer registers the API and WebSocket hub goroutines on g. The
// server shuts down when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Channels:  []string{service.ChannelOdds, service.ChannelSettlements},
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	sc := a.cfg.Server
	srv := server.NewServer(server.Config{
		Port:            sc.Port,
		CORSOrigins:     sc.CORSOrigins,
		APIKey:          sc.APIKey,
		RateLimit:       sc.RateLimit,
		RateLimitWindow: sc.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(a.cfg.Mode, healthChecks(deps), a.logger),
		Markets:     handler.NewMarketHandler(svcs.markets, svcs.odds, a.logger),
		Settlements: handler.NewSettlementHandler(svcs.settlements, a.logger),
		Analytics:   handler.NewAnalyticsHandler(svcs.analytics, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// healthChecks lists the adapters /api/health pings. The bucket is only
// checked when archival built a client.
func healthChecks(deps *Dependencies) map[string]handler.Pinger {
	checks := map[string]handler.Pinger{
		"postgres": deps.Postgres,
		"redis":    deps.Redis,
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3
	}
	return checks
}
