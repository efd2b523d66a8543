package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

// MaxQuestionLength bounds a market question in characters.
const MaxQuestionLength = 280

// AllowedDurations are the market lifetimes a creator may pick, in seconds.
var AllowedDurations = []int{300, 900, 1800, 3600, 7200}

// Categories are the accepted market categories.
var Categories = []string{"Gaming", "Sports", "Entertainment", "Tech", "Crypto", "General"}

// MarketRules are the creation limits applied by CreateMarket.
type MarketRules struct {
	AllowedCuts []decimal.Decimal
	MinOutcomes int
	MaxOutcomes int
}

// DefaultMarketRules allows 2, 5, 10 or 15 percent cuts and 2-6 outcomes.
func DefaultMarketRules() MarketRules {
	return MarketRules{
		AllowedCuts: []decimal.Decimal{
			decimal.NewFromInt(2), decimal.NewFromInt(5), decimal.NewFromInt(10), decimal.NewFromInt(15),
		},
		MinOutcomes: domain.MinOutcomes,
		MaxOutcomes: domain.MaxOutcomes,
	}
}

// CreateMarketRequest is the input of CreateMarket.
type CreateMarketRequest struct {
	CreatorID            string          `json:"creator_id"`
	Question             string          `json:"question"`
	Category             string          `json:"category,omitempty"`
	Outcomes             []string        `json:"outcomes"`
	CreatorCutPercentage decimal.Decimal `json:"creator_cut_percentage"`
	DurationSeconds      int             `json:"duration_seconds,omitempty"`
}

// PlaceBetRequest is the input of PlaceBet.
type PlaceBetRequest struct {
	MarketID      string          `json:"market_id"`
	ParticipantID string          `json:"participant_id"`
	OutcomeID     string          `json:"outcome_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// MarketService opens markets and accepts bets.
type MarketService struct {
	markets domain.MarketStore
	bets    domain.BetStore
	cache   domain.MarketCache
	audit   domain.AuditStore
	odds    *OddsService
	rules   MarketRules
	logger  *slog.Logger
	now     func() time.Time
}

// NewMarketService creates a MarketService. When odds is non-nil every
// accepted bet is followed by an immediate re-price of its market.
func NewMarketService(
	markets domain.MarketStore,
	bets domain.BetStore,
	cache domain.MarketCache,
	audit domain.AuditStore,
	odds *OddsService,
	rules MarketRules,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		bets:    bets,
		cache:   cache,
		audit:   audit,
		odds:    odds,
		rules:   rules,
		logger:  logger.With(slog.String("component", "market_service")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateMarket validates req and opens a new active market with every
// outcome at neutral odds.
func (s *MarketService) CreateMarket(ctx context.Context, req CreateMarketRequest) (domain.Market, error) {
	if err := s.validateCreate(req); err != nil {
		return domain.Market{}, err
	}

	now := s.now()
	m := domain.Market{
		ID:                   uuid.NewString(),
		CreatorID:            req.CreatorID,
		Question:             strings.TrimSpace(req.Question),
		Category:             req.Category,
		Status:               domain.MarketStatusActive,
		CreatedAt:            now,
		UpdatedAt:            now,
		CreatorCutPercentage: req.CreatorCutPercentage,
		Volume:               decimal.Zero,
	}
	if m.Category == "" {
		m.Category = "General"
	}
	if req.DurationSeconds > 0 {
		closes := now.Add(time.Duration(req.DurationSeconds) * time.Second)
		m.ClosesAt = &closes
	}
	for i, id := range outcomeIDs(req.Outcomes) {
		m.Outcomes = append(m.Outcomes, domain.Outcome{
			ID:          id,
			Name:        strings.TrimSpace(req.Outcomes[i]),
			Odds:        domain.NeutralOdds,
			TotalStaked: decimal.Zero,
		})
	}

	if err := s.markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}
	s.cacheSet(ctx, m)
	s.auditLog(ctx, "market_created", map[string]any{
		"market_id":  m.ID,
		"creator_id": m.CreatorID,
		"outcomes":   len(m.Outcomes),
		"cut":        m.CreatorCutPercentage.String(),
	})

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID),
		slog.String("creator_id", m.CreatorID),
	)
	return m, nil
}

func (s *MarketService) validateCreate(req CreateMarketRequest) error {
	if strings.TrimSpace(req.CreatorID) == "" {
		return domain.NewValidationError("creator_id", "must not be empty")
	}
	q := strings.TrimSpace(req.Question)
	if q == "" {
		return domain.NewValidationError("question", "must not be empty")
	}
	if len([]rune(q)) > MaxQuestionLength {
		return domain.NewValidationError("question", "must be at most "+strconv.Itoa(MaxQuestionLength)+" characters")
	}
	if n := len(req.Outcomes); n < s.rules.MinOutcomes || n > s.rules.MaxOutcomes {
		return domain.NewValidationError("outcomes",
			fmt.Sprintf("need between %d and %d outcomes", s.rules.MinOutcomes, s.rules.MaxOutcomes))
	}
	seen := make(map[string]struct{}, len(req.Outcomes))
	for _, name := range req.Outcomes {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return domain.NewValidationError("outcomes", "outcome name must not be empty")
		}
		if _, dup := seen[key]; dup {
			return domain.NewValidationError("outcomes", "duplicate outcome "+strings.TrimSpace(name))
		}
		seen[key] = struct{}{}
	}
	if !slices.ContainsFunc(s.rules.AllowedCuts, req.CreatorCutPercentage.Equal) {
		return domain.NewValidationError("creator_cut_percentage", "not an allowed cut")
	}
	if req.DurationSeconds != 0 && !slices.Contains(AllowedDurations, req.DurationSeconds) {
		return domain.NewValidationError("duration_seconds", "not an allowed duration")
	}
	if req.Category != "" && !slices.Contains(Categories, req.Category) {
		return domain.NewValidationError("category", "unknown category "+req.Category)
	}
	return nil
}

// outcomeIDs slugs outcome names into stable ids. Names that slug to
// nothing or collide fall back to a positional id.
func outcomeIDs(names []string) []string {
	ids := make([]string, len(names))
	used := make(map[string]struct{}, len(names))
	for i, name := range names {
		id := slug(name)
		if _, taken := used[id]; id == "" || taken {
			id = "outcome-" + strconv.Itoa(i+1)
		}
		used[id] = struct{}{}
		ids[i] = id
	}
	return ids
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// PlaceBet records a bet at the current quote and returns it with the
// updated market.
func (s *MarketService) PlaceBet(ctx context.Context, req PlaceBetRequest) (domain.Bet, domain.Market, error) {
	switch {
	case strings.TrimSpace(req.ParticipantID) == "":
		return domain.Bet{}, domain.Market{}, domain.NewValidationError("participant_id", "must not be empty")
	case req.OutcomeID == "":
		return domain.Bet{}, domain.Market{}, domain.NewValidationError("outcome_id", "must not be empty")
	case !req.Amount.IsPositive():
		return domain.Bet{}, domain.Market{}, domain.NewValidationError("amount", "must be positive")
	}

	m, err := s.GetMarket(ctx, req.MarketID)
	if err != nil {
		return domain.Bet{}, domain.Market{}, err
	}
	if !m.IsActive() {
		return domain.Bet{}, domain.Market{}, fmt.Errorf("market_service: place bet on %q: %w", m.ID, domain.ErrMarketNotActive)
	}
	outcome, ok := m.Outcome(req.OutcomeID)
	if !ok {
		return domain.Bet{}, domain.Market{}, domain.NewValidationError("outcome_id", "unknown outcome "+req.OutcomeID)
	}

	bet := domain.Bet{
		ID:              uuid.NewString(),
		MarketID:        m.ID,
		ParticipantID:   req.ParticipantID,
		OutcomeID:       outcome.ID,
		Amount:          req.Amount,
		PlacedAt:        s.now(),
		Status:          domain.BetStatusPending,
		PotentialPayout: domain.PotentialPayout(req.Amount, outcome.Odds),
	}
	updated, err := s.bets.Place(ctx, bet)
	if err != nil {
		return domain.Bet{}, domain.Market{}, fmt.Errorf("market_service: place bet on %q: %w", m.ID, err)
	}

	if s.odds != nil {
		repriced, err := s.odds.Reprice(ctx, updated)
		if err != nil {
			s.logger.WarnContext(ctx, "market_service: reprice after bet failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		} else {
			updated = repriced
		}
	}
	// Concurrent bets finish in any order, so the next read refills the
	// cache from the store instead of this snapshot.
	s.cacheInvalidate(ctx, m.ID)

	s.logger.InfoContext(ctx, "market_service: bet placed",
		slog.String("market_id", m.ID),
		slog.String("bet_id", bet.ID),
		slog.String("outcome_id", bet.OutcomeID),
		slog.String("amount", bet.Amount.String()),
	)
	return bet, updated, nil
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the persistent store on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by id %q: %w", id, err)
	}
	s.cacheSet(ctx, m)
	return m, nil
}

// ListActive returns active markets directly from the persistent store.
func (s *MarketService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list active: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the persistent store.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}

// ListBets returns a market's ledger in placement order.
func (s *MarketService) ListBets(ctx context.Context, marketID string) ([]domain.Bet, error) {
	if _, err := s.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	bets, err := s.bets.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("market_service: list bets %q: %w", marketID, err)
	}
	return bets, nil
}

// ListParticipantBets returns one participant's bets across markets, newest
// first.
func (s *MarketService) ListParticipantBets(ctx context.Context, participantID string, opts domain.ListOpts) ([]domain.Bet, error) {
	if participantID == "" {
		return nil, domain.NewValidationError("participant_id", "must not be empty")
	}
	bets, err := s.bets.ListByParticipant(ctx, participantID, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list bets of %q: %w", participantID, err)
	}
	return bets, nil
}

func (s *MarketService) cacheSet(ctx context.Context, m domain.Market) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) cacheInvalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
