// Package settlement turns a closed market and its bet ledger into a creator
// fee and per-bet payouts. All arithmetic is exact decimal; division is
// floored at a fixed precision and whatever is left over is assigned to a
// single winning bet so the pool is always conserved.
package settlement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

// DefaultPrecision matches the 18 decimals of the settlement token, so every
// payout is representable in wei.
const DefaultPrecision int32 = 18

const maxPrecision int32 = 36

var hundred = decimal.NewFromInt(100)

// Engine settles markets. It holds no mutable state and is safe for
// concurrent use; callers serialise settlements of the same market.
type Engine struct {
	precision int32
}

// NewEngine returns an Engine that floors every division to precision
// decimal places.
func NewEngine(precision int32) (*Engine, error) {
	if precision < 0 || precision > maxPrecision {
		return nil, domain.NewValidationError("precision", fmt.Sprintf("must be within [0, %d]", maxPrecision))
	}
	return &Engine{precision: precision}, nil
}

// Settle resolves market in favour of winningOutcomeID.
//
// The total pool is the sum of the ledger, the creator cut is taken from it
// and the rest is split pro rata among bets on the winning outcome. The
// rounding remainder goes to the largest winning bet, the earliest one in
// ledger order on a tie.
//
// A market nobody backed correctly still resolves: the returned settlement
// is complete and is accompanied by a *domain.NoWinnersError whose Unclaimed
// amount equals the payout pool. Any other error means nothing was computed.
func (e *Engine) Settle(market domain.Market, winningOutcomeID string, bets []domain.Bet, asOf time.Time) (domain.Settlement, error) {
	if err := checkSettleable(market, bets); err != nil {
		return domain.Settlement{}, err
	}
	if _, ok := market.Outcome(winningOutcomeID); !ok {
		return domain.Settlement{}, domain.NewValidationError("winning_outcome_id", "unknown outcome "+winningOutcomeID)
	}

	res := domain.SettlementResult{
		MarketID:         market.ID,
		Kind:             domain.SettlementResolved,
		WinningOutcomeID: winningOutcomeID,
		TotalPool:        sumStakes(bets),
		CreatorCut:       decimal.Zero,
		PayoutPool:       decimal.Zero,
		WinningStake:     decimal.Zero,
		Unclaimed:        decimal.Zero,
		Remainder:        decimal.Zero,
		Payouts:          make([]domain.BetPayout, 0, len(bets)),
		SettledAt:        asOf,
	}

	settled := resolvedMarket(market, winningOutcomeID, asOf)
	if res.TotalPool.IsZero() {
		return domain.Settlement{Market: settled, Bets: []domain.Bet{}, Result: res}, nil
	}

	res.CreatorCut = e.floorDiv(res.TotalPool.Mul(market.CreatorCutPercentage), hundred)
	res.PayoutPool = res.TotalPool.Sub(res.CreatorCut)

	largest := -1
	for i, b := range bets {
		if b.OutcomeID != winningOutcomeID {
			continue
		}
		res.WinnerCount++
		res.WinningStake = res.WinningStake.Add(b.Amount)
		if largest < 0 || b.Amount.GreaterThan(bets[largest].Amount) {
			largest = i
		}
	}

	out := make([]domain.Bet, len(bets))
	distributed := decimal.Zero
	for i, b := range bets {
		payout := decimal.Zero
		status := domain.BetStatusLost
		if b.OutcomeID == winningOutcomeID {
			payout = e.floorDiv(b.Amount.Mul(res.PayoutPool), res.WinningStake)
			status = domain.BetStatusWon
			distributed = distributed.Add(payout)
		}
		out[i] = b
		out[i].Status = status
		out[i].PotentialPayout = payout
		res.Payouts = append(res.Payouts, domain.BetPayout{
			BetID:         b.ID,
			ParticipantID: b.ParticipantID,
			OutcomeID:     b.OutcomeID,
			Stake:         b.Amount,
			Payout:        payout,
			Status:        status,
		})
	}

	if largest < 0 {
		res.Unclaimed = res.PayoutPool
		s := domain.Settlement{Market: settled, Bets: out, Result: res}
		return s, &domain.NoWinnersError{
			MarketID:         market.ID,
			WinningOutcomeID: winningOutcomeID,
			Unclaimed:        res.Unclaimed,
		}
	}

	res.Remainder = res.PayoutPool.Sub(distributed)
	if !res.Remainder.IsZero() {
		res.RemainderBetID = bets[largest].ID
		res.Payouts[largest].Payout = res.Payouts[largest].Payout.Add(res.Remainder)
		out[largest].PotentialPayout = res.Payouts[largest].Payout
	}
	return domain.Settlement{Market: settled, Bets: out, Result: res}, nil
}

// floorDiv divides and truncates toward zero at the engine precision. All
// operands are non-negative so truncation is a floor.
func (e *Engine) floorDiv(num, den decimal.Decimal) decimal.Decimal {
	q, _ := num.QuoRem(den, e.precision)
	return q
}

func resolvedMarket(m domain.Market, winningOutcomeID string, asOf time.Time) domain.Market {
	out := m.Clone()
	out.Status = domain.MarketStatusResolved
	out.WinningOutcomeID = winningOutcomeID
	at := asOf
	out.ResolvedAt = &at
	out.UpdatedAt = asOf
	return out
}

// checkSettleable rejects a market that is malformed or no longer active and
// a ledger that does not belong to it or misses stake the market records.
func checkSettleable(market domain.Market, bets []domain.Bet) error {
	if err := market.Validate(); err != nil {
		return err
	}
	if !market.IsActive() {
		return &domain.AlreadyResolvedError{MarketID: market.ID, Status: market.Status}
	}
	return validateLedger(market, bets)
}

func validateLedger(market domain.Market, bets []domain.Bet) error {
	seen := make(map[string]struct{}, len(bets))
	for i, b := range bets {
		field := fmt.Sprintf("bets[%d]", i)
		if b.ID == "" {
			return domain.NewValidationError(field+".bet_id", "must not be empty")
		}
		if _, dup := seen[b.ID]; dup {
			return domain.NewValidationError(field+".bet_id", "duplicate bet "+b.ID)
		}
		seen[b.ID] = struct{}{}
		if b.MarketID != market.ID {
			return domain.NewValidationError(field+".market_id", fmt.Sprintf("bet %s references market %s", b.ID, b.MarketID))
		}
		if _, ok := market.Outcome(b.OutcomeID); !ok {
			return domain.NewValidationError(field+".outcome_id", "unknown outcome "+b.OutcomeID)
		}
		if !b.Amount.IsPositive() {
			return domain.NewValidationError(field+".bet_amount", "must be positive")
		}
		if b.Status != "" && b.Status != domain.BetStatusPending {
			return domain.NewValidationError(field+".status", fmt.Sprintf("bet %s is already %s", b.ID, b.Status))
		}
	}
	return market.CheckLedger(bets)
}

func sumStakes(bets []domain.Bet) decimal.Decimal {
	total := decimal.Zero
	for _, b := range bets {
		total = total.Add(b.Amount)
	}
	return total
}
