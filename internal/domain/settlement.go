package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BetPayout is the settled amount owed to a single bet.
type BetPayout struct {
	BetID         string          `json:"bet_id"`
	ParticipantID string          `json:"participant_id"`
	OutcomeID     string          `json:"outcome_id"`
	Stake         decimal.Decimal `json:"stake"`
	Payout        decimal.Decimal `json:"payout"`
	Status        BetStatus       `json:"status"`
}

// SettlementKind distinguishes a resolution from a cancellation refund.
type SettlementKind string

const (
	SettlementResolved  SettlementKind = "resolved"
	SettlementCancelled SettlementKind = "cancelled"
)

// SettlementResult is the fee and payout breakdown of a settled market.
//
// The amounts always satisfy
//
//	CreatorCut + sum(Payouts[i].Payout) + Unclaimed == TotalPool
//
// where Unclaimed is non-zero only when nobody backed the winning outcome.
// RemainderBetID names the winning bet that absorbed the rounding remainder.
type SettlementResult struct {
	MarketID         string          `json:"market_id"`
	Kind             SettlementKind  `json:"kind"`
	WinningOutcomeID string          `json:"winning_outcome_id,omitempty"`
	TotalPool        decimal.Decimal `json:"total_pool"`
	CreatorCut       decimal.Decimal `json:"creator_cut"`
	PayoutPool       decimal.Decimal `json:"payout_pool"`
	WinningStake     decimal.Decimal `json:"winning_stake"`
	WinnerCount      int             `json:"winner_count"`
	Unclaimed        decimal.Decimal `json:"unclaimed"`
	Remainder        decimal.Decimal `json:"remainder"`
	RemainderBetID   string          `json:"remainder_bet_id,omitempty"`
	Payouts          []BetPayout     `json:"payouts"`
	SettledAt        time.Time       `json:"settled_at"`
}

// Distributed is the total paid out to individual bets.
func (r SettlementResult) Distributed() decimal.Decimal {
	total := decimal.Zero
	for _, p := range r.Payouts {
		total = total.Add(p.Payout)
	}
	return total
}

// Balanced reports whether the result conserves the pool exactly.
func (r SettlementResult) Balanced() bool {
	return r.CreatorCut.Add(r.Distributed()).Add(r.Unclaimed).Equal(r.TotalPool)
}

// Settlement is the complete outcome of a settle or cancel call: the market
// and ledger in their final state plus the computed breakdown.
type Settlement struct {
	Market Market           `json:"market"`
	Bets   []Bet            `json:"bets"`
	Result SettlementResult `json:"result"`
}
