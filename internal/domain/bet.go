package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BetStatus tracks a bet from placement to settlement.
type BetStatus string

const (
	BetStatusPending  BetStatus = "pending"
	BetStatusWon      BetStatus = "won"
	BetStatusLost     BetStatus = "lost"
	BetStatusRefunded BetStatus = "refunded"
)

// Bet is a participant's stake on one outcome of a market.
//
// PotentialPayout is informational while the bet is pending (stake times the
// quoted odds at placement); settlement overwrites it with the actual payout.
type Bet struct {
	ID              string          `json:"bet_id"`
	MarketID        string          `json:"market_id"`
	ParticipantID   string          `json:"participant_id"`
	OutcomeID       string          `json:"outcome_id"`
	Amount          decimal.Decimal `json:"bet_amount"`
	PlacedAt        time.Time       `json:"bet_timestamp"`
	Status          BetStatus       `json:"status"`
	PotentialPayout decimal.Decimal `json:"potential_payout"`
}

// PotentialPayout is the informational payout quoted at placement time.
func PotentialPayout(amount decimal.Decimal, odds float64) decimal.Decimal {
	return amount.Mul(decimal.NewFromFloat(odds))
}
