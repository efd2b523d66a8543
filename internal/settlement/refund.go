package settlement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

// Cancel voids an active market and refunds every bet in full. No creator
// cut is taken.
func (e *Engine) Cancel(market domain.Market, bets []domain.Bet, asOf time.Time) (domain.Settlement, error) {
	if err := checkSettleable(market, bets); err != nil {
		return domain.Settlement{}, err
	}

	total := sumStakes(bets)
	res := domain.SettlementResult{
		MarketID:     market.ID,
		Kind:         domain.SettlementCancelled,
		TotalPool:    total,
		CreatorCut:   decimal.Zero,
		PayoutPool:   total,
		WinningStake: decimal.Zero,
		Unclaimed:    decimal.Zero,
		Remainder:    decimal.Zero,
		Payouts:      make([]domain.BetPayout, 0, len(bets)),
		SettledAt:    asOf,
	}

	out := make([]domain.Bet, len(bets))
	for i, b := range bets {
		out[i] = b
		out[i].Status = domain.BetStatusRefunded
		out[i].PotentialPayout = b.Amount
		res.Payouts = append(res.Payouts, domain.BetPayout{
			BetID:         b.ID,
			ParticipantID: b.ParticipantID,
			OutcomeID:     b.OutcomeID,
			Stake:         b.Amount,
			Payout:        b.Amount,
			Status:        domain.BetStatusRefunded,
		})
	}

	m := market.Clone()
	m.Status = domain.MarketStatusCancelled
	at := asOf
	m.ResolvedAt = &at
	m.UpdatedAt = asOf
	return domain.Settlement{Market: m, Bets: out, Result: res}, nil
}
