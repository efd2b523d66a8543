package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/streampredict/internal/domain"
	"github.com/alanyoungcy/streampredict/internal/pricing"
)

// Leaderboard size bounds.
const (
	DefaultLeaderboardSize = 10
	MaxLeaderboardSize     = 100
)

// AnalyticsService serves read-only market, creator and participant
// statistics.
type AnalyticsService struct {
	markets     domain.MarketStore
	bets        domain.BetStore
	settlements domain.SettlementStore
	logger      *slog.Logger
	now         func() time.Time
}

// NewAnalyticsService creates an AnalyticsService.
func NewAnalyticsService(
	markets domain.MarketStore,
	bets domain.BetStore,
	settlements domain.SettlementStore,
	logger *slog.Logger,
) *AnalyticsService {
	return &AnalyticsService{
		markets:     markets,
		bets:        bets,
		settlements: settlements,
		logger:      logger.With(slog.String("component", "analytics_service")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Creator returns revenue and activity totals for a creator.
func (s *AnalyticsService) Creator(ctx context.Context, creatorID string) (domain.CreatorAnalytics, error) {
	if creatorID == "" {
		return domain.CreatorAnalytics{}, domain.NewValidationError("creator_id", "must not be empty")
	}
	a, err := s.settlements.CreatorAnalytics(ctx, creatorID)
	if err != nil {
		return domain.CreatorAnalytics{}, fmt.Errorf("analytics_service: creator %q: %w", creatorID, err)
	}
	return a, nil
}

// Leaderboard ranks participants by settled winnings and attaches the
// badges each has earned. limit is clamped to [1, MaxLeaderboardSize] with
// DefaultLeaderboardSize for zero.
func (s *AnalyticsService) Leaderboard(ctx context.Context, limit int) ([]domain.ParticipantStats, error) {
	switch {
	case limit <= 0:
		limit = DefaultLeaderboardSize
	case limit > MaxLeaderboardSize:
		limit = MaxLeaderboardSize
	}
	rows, err := s.bets.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("analytics_service: leaderboard: %w", err)
	}
	for i := range rows {
		rows[i].Badges = domain.EarnedBadges(rows[i])
	}
	return rows, nil
}

// Volatility reports how unevenly stake is spread across a market's outcomes.
func (s *AnalyticsService) Volatility(ctx context.Context, marketID string) (domain.MarketVolatility, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.MarketVolatility{}, fmt.Errorf("analytics_service: volatility %q: %w", marketID, err)
	}
	return pricing.Volatility(m), nil
}

// Prediction guesses the likely winner of a market from its stake pools.
func (s *AnalyticsService) Prediction(ctx context.Context, marketID string) (domain.MarketPrediction, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.MarketPrediction{}, fmt.Errorf("analytics_service: prediction %q: %w", marketID, err)
	}
	return pricing.PredictMovement(m, s.now()), nil
}
