package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/streampredict/internal/domain"
	"github.com/alanyoungcy/streampredict/internal/pricing"
)

// OddsConfig controls the re-pricing loop.
type OddsConfig struct {
	Interval       time.Duration
	MaxConcurrency int
}

// OddsService re-prices active markets on a timer and on demand. Only the
// odds columns are written back so a concurrent bet never loses stake.
type OddsService struct {
	engine   *pricing.Engine
	source   pricing.SignalSource
	markets  domain.MarketStore
	cache    domain.MarketCache
	bus      domain.SignalBus
	interval time.Duration
	limit    int
	logger   *slog.Logger
	now      func() time.Time
}

// NewOddsService creates an OddsService. A nil source means no external
// signals.
func NewOddsService(
	engine *pricing.Engine,
	source pricing.SignalSource,
	markets domain.MarketStore,
	cache domain.MarketCache,
	bus domain.SignalBus,
	cfg OddsConfig,
	logger *slog.Logger,
) *OddsService {
	if source == nil {
		source = pricing.NoSignals{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	return &OddsService{
		engine:   engine,
		source:   source,
		markets:  markets,
		cache:    cache,
		bus:      bus,
		interval: cfg.Interval,
		limit:    cfg.MaxConcurrency,
		logger:   logger.With(slog.String("component", "odds_service")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run re-prices every active market once per interval until ctx ends.
func (s *OddsService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RecomputeAll(ctx); err != nil {
				s.logger.ErrorContext(ctx, "odds_service: recompute cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RecomputeAll re-prices all active markets in parallel and returns how many
// had their odds changed. A failing market is logged and skipped.
func (s *OddsService) RecomputeAll(ctx context.Context) (int, error) {
	markets, err := s.markets.ListActive(ctx, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("odds_service: list active: %w", err)
	}

	var changed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for _, m := range markets {
		g.Go(func() error {
			before := m.Clone()
			after, err := s.Reprice(gctx, m)
			if err != nil {
				s.logger.WarnContext(gctx, "odds_service: reprice failed",
					slog.String("market_id", m.ID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if oddsChanged(before, after) {
				changed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.DebugContext(ctx, "odds_service: cycle complete",
		slog.Int("markets", len(markets)),
		slog.Int64("changed", changed.Load()),
	)
	return int(changed.Load()), ctx.Err()
}

// RepriceMarket loads a market and re-prices it. When factors is nil the
// configured signal source supplies them.
func (s *OddsService) RepriceMarket(ctx context.Context, marketID string, factors *domain.ExternalFactors) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("odds_service: get market %q: %w", marketID, err)
	}
	if factors != nil {
		return s.RepriceWith(ctx, m, *factors)
	}
	return s.Reprice(ctx, m)
}

// Reprice fetches signals for m and applies RepriceWith.
func (s *OddsService) Reprice(ctx context.Context, m domain.Market) (domain.Market, error) {
	factors, err := s.source.Signals(ctx, m)
	if err != nil {
		return domain.Market{}, fmt.Errorf("odds_service: signals for %q: %w", m.ID, err)
	}
	return s.RepriceWith(ctx, m, factors)
}

// RepriceWith recomputes odds from the given factors, persists them, refreshes
// the cache and publishes an odds_updated event. Nothing is written when the
// odds did not move or the market is no longer active.
func (s *OddsService) RepriceWith(ctx context.Context, m domain.Market, factors domain.ExternalFactors) (domain.Market, error) {
	asOf := s.now()
	updated, err := s.engine.RecomputeOdds(m, factors, asOf)
	if err != nil {
		return domain.Market{}, fmt.Errorf("odds_service: recompute %q: %w", m.ID, err)
	}
	if !oddsChanged(m, updated) {
		return updated, nil
	}

	odds := oddsMap(updated)
	if err := s.markets.UpdateOdds(ctx, updated.ID, odds); err != nil {
		if errors.Is(err, domain.ErrMarketNotActive) {
			// Settled between load and write; the stale quote is dropped.
			return m, nil
		}
		return domain.Market{}, fmt.Errorf("odds_service: update odds %q: %w", m.ID, err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, updated.ID); err != nil {
			s.logger.WarnContext(ctx, "odds_service: cache invalidate failed",
				slog.String("market_id", updated.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	publish(ctx, s.bus, s.logger, ChannelOdds, StreamOdds, Event{
		Event:     EventOddsUpdated,
		MarketID:  updated.ID,
		Data:      domain.OddsUpdate{MarketID: updated.ID, Odds: odds, AsOf: asOf},
		Timestamp: asOf,
	})
	return updated, nil
}

func oddsMap(m domain.Market) map[string]float64 {
	out := make(map[string]float64, len(m.Outcomes))
	for _, o := range m.Outcomes {
		out[o.ID] = o.Odds
	}
	return out
}

func oddsChanged(before, after domain.Market) bool {
	if len(before.Outcomes) != len(after.Outcomes) {
		return true
	}
	for i := range before.Outcomes {
		if before.Outcomes[i].Odds != after.Outcomes[i].Odds {
			return true
		}
	}
	return false
}
