package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets and their outcomes.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	ListByCreator(ctx context.Context, creatorID string, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
	// UpdateOdds writes only the quoted odds of an active market. Stakes are
	// never touched so a recomputation racing a bet cannot lose stake.
	UpdateOdds(ctx context.Context, marketID string, odds map[string]float64) error
}

// BetStore persists the bet ledger.
type BetStore interface {
	// Place records the bet and applies it to the outcome pool, market volume
	// and participant count in one transaction. It returns the updated market.
	Place(ctx context.Context, bet Bet) (Market, error)
	ListByMarket(ctx context.Context, marketID string) ([]Bet, error)
	ListByParticipant(ctx context.Context, participantID string, opts ListOpts) ([]Bet, error)
	Leaderboard(ctx context.Context, limit int) ([]ParticipantStats, error)
}

// SettlementStore persists settlement results together with the final
// market and bet states.
type SettlementStore interface {
	// Save commits a settlement only if the market is still active. A market
	// that already left the Active state yields *AlreadyResolvedError.
	Save(ctx context.Context, s Settlement) error
	GetByMarket(ctx context.Context, marketID string) (SettlementResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]SettlementResult, error)
	CreatorAnalytics(ctx context.Context, creatorID string) (CreatorAnalytics, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
