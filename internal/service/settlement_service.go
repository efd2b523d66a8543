package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/streampredict/internal/domain"
	"github.com/alanyoungcy/streampredict/internal/payout"
	"github.com/alanyoungcy/streampredict/internal/settlement"
)

// SettlementNotifier receives settled markets. *notify.Notifier implements it.
type SettlementNotifier interface {
	NotifySettlement(ctx context.Context, market domain.Market, result domain.SettlementResult) error
}

// SettlementConfig tunes SettlementService.
type SettlementConfig struct {
	LockTTL time.Duration
}

// SettlementService resolves and cancels markets. Each market is settled
// under a per-market lock and committed in a single transaction; everything
// after the commit (cache, events, archive, payouts, notifications) is best
// effort.
type SettlementService struct {
	engine      *settlement.Engine
	markets     domain.MarketStore
	bets        domain.BetStore
	settlements domain.SettlementStore
	locks       domain.LockManager
	cache       domain.MarketCache
	bus         domain.SignalBus
	audit       domain.AuditStore
	archiver    domain.Archiver
	notifier    SettlementNotifier
	lockTTL     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewSettlementService creates a SettlementService. cache, bus, audit,
// archiver and notifier may be nil.
func NewSettlementService(
	engine *settlement.Engine,
	markets domain.MarketStore,
	bets domain.BetStore,
	settlements domain.SettlementStore,
	locks domain.LockManager,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	archiver domain.Archiver,
	notifier SettlementNotifier,
	cfg SettlementConfig,
	logger *slog.Logger,
) *SettlementService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &SettlementService{
		engine:      engine,
		markets:     markets,
		bets:        bets,
		settlements: settlements,
		locks:       locks,
		cache:       cache,
		bus:         bus,
		audit:       audit,
		archiver:    archiver,
		notifier:    notifier,
		lockTTL:     cfg.LockTTL,
		logger:      logger.With(slog.String("component", "settlement_service")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Resolve settles marketID in favour of winningOutcomeID. A
// *domain.NoWinnersError is returned together with the committed result.
func (s *SettlementService) Resolve(ctx context.Context, marketID, winningOutcomeID string) (domain.SettlementResult, error) {
	return s.settle(ctx, marketID, "resolve", func(m domain.Market, bets []domain.Bet) (domain.Settlement, error) {
		return s.engine.Settle(m, winningOutcomeID, bets, s.now())
	})
}

// Cancel refunds every bet on marketID and marks it cancelled.
func (s *SettlementService) Cancel(ctx context.Context, marketID string) (domain.SettlementResult, error) {
	return s.settle(ctx, marketID, "cancel", func(m domain.Market, bets []domain.Bet) (domain.Settlement, error) {
		return s.engine.Cancel(m, bets, s.now())
	})
}

type settleFunc func(domain.Market, []domain.Bet) (domain.Settlement, error)

// maxSettleAttempts bounds how often a settlement is recomputed when bets
// keep landing between the ledger read and the commit.
const maxSettleAttempts = 3

func (s *SettlementService) settle(ctx context.Context, marketID, op string, compute settleFunc) (domain.SettlementResult, error) {
	unlock, err := s.locks.Acquire(ctx, "settle:"+marketID, s.lockTTL)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: %s %q: %w", op, marketID, err)
	}
	defer unlock()

	var (
		st        domain.Settlement
		noWinners *domain.NoWinnersError
	)
	for attempt := 1; ; attempt++ {
		st, noWinners, err = s.computeAndSave(ctx, marketID, compute)
		if !errors.Is(err, domain.ErrLedgerChanged) || attempt == maxSettleAttempts {
			break
		}
		s.logger.WarnContext(ctx, "settlement_service: ledger changed, recomputing",
			slog.String("market_id", marketID),
			slog.Int("attempt", attempt),
		)
	}
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: %s %q: %w", op, marketID, err)
	}

	s.logger.InfoContext(ctx, "settlement_service: market settled",
		slog.String("market_id", marketID),
		slog.String("kind", string(st.Result.Kind)),
		slog.String("winning_outcome_id", st.Result.WinningOutcomeID),
		slog.String("total_pool", st.Result.TotalPool.String()),
		slog.String("creator_cut", st.Result.CreatorCut.String()),
		slog.Int("winners", st.Result.WinnerCount),
	)
	if noWinners != nil {
		s.logger.WarnContext(ctx, "settlement_service: no winning bets",
			slog.String("market_id", marketID),
			slog.String("unclaimed", noWinners.Unclaimed.String()),
		)
	}

	s.afterCommit(ctx, st)

	if noWinners != nil {
		return st.Result, noWinners
	}
	return st.Result, nil
}

// computeAndSave reads the market and its ledger, computes the settlement
// and commits it. domain.ErrLedgerChanged means a bet landed in between and
// the whole read must be repeated.
func (s *SettlementService) computeAndSave(ctx context.Context, marketID string, compute settleFunc) (domain.Settlement, *domain.NoWinnersError, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Settlement{}, nil, err
	}
	bets, err := s.bets.ListByMarket(ctx, marketID)
	if err != nil {
		return domain.Settlement{}, nil, err
	}
	if m.IsActive() && m.Validate() == nil && m.CheckLedger(bets) != nil {
		return domain.Settlement{}, nil, domain.ErrLedgerChanged
	}

	st, err := compute(m, bets)
	var noWinners *domain.NoWinnersError
	if err != nil && !errors.As(err, &noWinners) {
		return domain.Settlement{}, nil, err
	}
	if err := s.settlements.Save(ctx, st); err != nil {
		return domain.Settlement{}, nil, err
	}
	return st, noWinners, nil
}

// afterCommit runs the side effects of a committed settlement.
func (s *SettlementService) afterCommit(ctx context.Context, st domain.Settlement) {
	r := st.Result

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, r.MarketID); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: cache invalidate failed",
				slog.String("market_id", r.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	event := EventMarketResolved
	if r.Kind == domain.SettlementCancelled {
		event = EventMarketCancelled
	}
	publish(ctx, s.bus, s.logger, ChannelSettlements, StreamSettlements, Event{
		Event:     event,
		MarketID:  r.MarketID,
		Data:      r,
		Timestamp: r.SettledAt,
	})

	var archivePath string
	if s.archiver != nil {
		path, err := s.archiver.ArchiveSettlement(ctx, r)
		if err != nil {
			s.logger.WarnContext(ctx, "settlement_service: archive failed",
				slog.String("market_id", r.MarketID),
				slog.String("error", err.Error()),
			)
		}
		archivePath = path
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, event, map[string]any{
			"market_id":          r.MarketID,
			"winning_outcome_id": r.WinningOutcomeID,
			"total_pool":         r.TotalPool.String(),
			"creator_cut":        r.CreatorCut.String(),
			"unclaimed":          r.Unclaimed.String(),
			"remainder":          r.Remainder.String(),
			"remainder_bet_id":   r.RemainderBetID,
			"payouts":            len(r.Payouts),
			"archive_path":       archivePath,
		}); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: audit log failed",
				slog.String("market_id", r.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	plan, err := payout.Build(st.Market, r)
	if err != nil {
		s.logger.WarnContext(ctx, "settlement_service: payout plan failed",
			slog.String("market_id", r.MarketID),
			slog.String("error", err.Error()),
		)
	} else if len(plan.Transfers) > 0 {
		publish(ctx, s.bus, s.logger, "", StreamPayouts, Event{
			Event:     EventPayoutPlanned,
			MarketID:  r.MarketID,
			Data:      plan,
			Timestamp: r.SettledAt,
		})
	}

	if s.notifier != nil {
		if err := s.notifier.NotifySettlement(ctx, st.Market, r); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: notify failed",
				slog.String("market_id", r.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// GetSettlement returns the stored result of a settled market.
func (s *SettlementService) GetSettlement(ctx context.Context, marketID string) (domain.SettlementResult, error) {
	r, err := s.settlements.GetByMarket(ctx, marketID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: get %q: %w", marketID, err)
	}
	return r, nil
}

// ArchiveBefore uploads every settlement older than before as one batch.
// It returns zero when no archiver is configured.
func (s *SettlementService) ArchiveBefore(ctx context.Context, before time.Time) (int64, error) {
	if s.archiver == nil {
		return 0, nil
	}
	n, err := s.archiver.ArchiveSettlements(ctx, before)
	if err != nil {
		return n, fmt.Errorf("settlement_service: archive before %s: %w", before.Format(time.RFC3339), err)
	}
	s.logger.InfoContext(ctx, "settlement_service: archived settlements",
		slog.Int64("count", n),
		slog.Time("before", before),
	)
	return n, nil
}
