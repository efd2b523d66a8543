package settlement

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testMarket(cut string, stakes ...string) domain.Market {
	m := domain.Market{
		ID:                   "m1",
		CreatorID:            "creator",
		Question:             "Who wins the next round?",
		Status:               domain.MarketStatusActive,
		CreatedAt:            now.Add(-2 * time.Hour),
		CreatorCutPercentage: dec(cut),
		Volume:               decimal.Zero,
	}
	for i, s := range stakes {
		id := string(rune('A' + i))
		m.Outcomes = append(m.Outcomes, domain.Outcome{
			ID:          id,
			Name:        "Outcome " + id,
			Odds:        domain.NeutralOdds,
			TotalStaked: dec(s),
		})
		m.Volume = m.Volume.Add(dec(s))
	}
	return m
}

func bet(id, outcome, amount string) domain.Bet {
	return domain.Bet{
		ID:            id,
		MarketID:      "m1",
		ParticipantID: "p-" + id,
		OutcomeID:     outcome,
		Amount:        dec(amount),
		PlacedAt:      now.Add(-time.Hour),
		Status:        domain.BetStatusPending,
	}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultPrecision)
	require.NoError(t, err)
	return e
}

func TestSettle_ProRataWithCreatorCut(t *testing.T) {
	e := newEngine(t)
	market := testMarket("5", "6", "4")
	bets := []domain.Bet{
		bet("b1", "A", "2"),
		bet("b2", "A", "2"),
		bet("b3", "A", "2"),
		bet("b4", "B", "2"),
		bet("b5", "B", "2"),
	}

	s, err := e.Settle(market, "A", bets, now)
	require.NoError(t, err)

	r := s.Result
	assert.True(t, r.TotalPool.Equal(dec("10")))
	assert.True(t, r.CreatorCut.Equal(dec("0.5")))
	assert.True(t, r.PayoutPool.Equal(dec("9.5")))
	assert.True(t, r.WinningStake.Equal(dec("6")))
	assert.Equal(t, 3, r.WinnerCount)
	assert.True(t, r.Unclaimed.IsZero())
	assert.True(t, r.Balanced(), "cut + payouts must equal pool")

	share := dec("3.166666666666666666")
	assert.True(t, r.Payouts[0].Payout.Equal(share.Add(dec("0.000000000000000002"))))
	assert.True(t, r.Payouts[1].Payout.Equal(share))
	assert.True(t, r.Payouts[2].Payout.Equal(share))
	assert.Equal(t, "b1", r.RemainderBetID)
	assert.True(t, r.Remainder.Equal(dec("0.000000000000000002")))

	for i, b := range s.Bets {
		assert.Equal(t, r.Payouts[i].Payout.String(), b.PotentialPayout.String())
		if b.OutcomeID == "A" {
			assert.Equal(t, domain.BetStatusWon, b.Status)
		} else {
			assert.Equal(t, domain.BetStatusLost, b.Status)
			assert.True(t, b.PotentialPayout.IsZero())
		}
	}

	assert.Equal(t, domain.MarketStatusResolved, s.Market.Status)
	assert.Equal(t, "A", s.Market.WinningOutcomeID)
	require.NotNil(t, s.Market.ResolvedAt)
	assert.Equal(t, now, *s.Market.ResolvedAt)
}

func TestSettle_DoesNotMutateInputs(t *testing.T) {
	e := newEngine(t)
	market := testMarket("5", "3", "1")
	bets := []domain.Bet{bet("b1", "A", "3"), bet("b2", "B", "1")}

	_, err := e.Settle(market, "B", bets, now)
	require.NoError(t, err)

	assert.Equal(t, domain.MarketStatusActive, market.Status)
	assert.Nil(t, market.ResolvedAt)
	assert.Equal(t, domain.BetStatusPending, bets[0].Status)
	assert.Equal(t, domain.BetStatusPending, bets[1].Status)
}

func TestSettle_RemainderGoesToLargestWinner(t *testing.T) {
	e, err := NewEngine(2)
	require.NoError(t, err)
	market := testMarket("0", "10", "1")
	bets := []domain.Bet{
		bet("b1", "A", "3"),
		bet("b2", "A", "4"),
		bet("b3", "A", "3"),
		bet("b4", "B", "1"),
	}

	s, err := e.Settle(market, "A", bets, now)
	require.NoError(t, err)

	// 11 * 3/10 = 3.3, 11 * 4/10 = 4.4: exact at two places.
	assert.True(t, s.Result.Remainder.IsZero())
	assert.Empty(t, s.Result.RemainderBetID)

	market = testMarket("0", "3", "1")
	bets = []domain.Bet{
		bet("b1", "A", "1"),
		bet("b2", "A", "1"),
		bet("b3", "A", "1"),
		bet("b4", "B", "1"),
	}
	s, err = e.Settle(market, "A", bets, now)
	require.NoError(t, err)

	// 4/3 floors to 1.33 three times, leaving 0.01 for the first bet in the ledger.
	assert.True(t, s.Result.Payouts[0].Payout.Equal(dec("1.34")))
	assert.True(t, s.Result.Payouts[1].Payout.Equal(dec("1.33")))
	assert.True(t, s.Result.Payouts[2].Payout.Equal(dec("1.33")))
	assert.Equal(t, "b1", s.Result.RemainderBetID)
	assert.True(t, s.Result.Balanced())
}

func TestSettle_ZeroPool(t *testing.T) {
	e := newEngine(t)
	market := testMarket("10", "0", "0")

	s, err := e.Settle(market, "A", nil, now)
	require.NoError(t, err)

	assert.True(t, s.Result.TotalPool.IsZero())
	assert.True(t, s.Result.CreatorCut.IsZero())
	assert.True(t, s.Result.PayoutPool.IsZero())
	assert.Empty(t, s.Result.Payouts)
	assert.Equal(t, 0, s.Result.WinnerCount)
	assert.Equal(t, domain.MarketStatusResolved, s.Market.Status)
	assert.True(t, s.Result.Balanced())
}

func TestSettle_NoWinners(t *testing.T) {
	e := newEngine(t)
	market := testMarket("5", "4", "0")
	bets := []domain.Bet{bet("b1", "A", "2"), bet("b2", "A", "2")}

	s, err := e.Settle(market, "B", bets, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoWinners))

	var nw *domain.NoWinnersError
	require.ErrorAs(t, err, &nw)
	assert.True(t, nw.Unclaimed.Equal(dec("3.8")))

	assert.Equal(t, domain.MarketStatusResolved, s.Market.Status)
	assert.True(t, s.Result.Unclaimed.Equal(dec("3.8")))
	assert.True(t, s.Result.CreatorCut.Equal(dec("0.2")))
	assert.Equal(t, 0, s.Result.WinnerCount)
	assert.True(t, s.Result.Balanced())
	for _, b := range s.Bets {
		assert.Equal(t, domain.BetStatusLost, b.Status)
	}
}

func TestSettle_AlreadyResolved(t *testing.T) {
	e := newEngine(t)
	market := testMarket("5", "2", "2")
	bets := []domain.Bet{bet("b1", "A", "2"), bet("b2", "B", "2")}

	first, err := e.Settle(market, "A", bets, now)
	require.NoError(t, err)

	_, err = e.Settle(first.Market, "B", first.Bets, now.Add(time.Minute))
	var are *domain.AlreadyResolvedError
	require.ErrorAs(t, err, &are)
	assert.Equal(t, domain.MarketStatusResolved, are.Status)
	assert.True(t, errors.Is(err, domain.ErrAlreadyResolved))

	assert.Equal(t, "A", first.Market.WinningOutcomeID)
	assert.Equal(t, domain.BetStatusWon, first.Bets[0].Status)

	cancelled := testMarket("5", "2", "2")
	cancelled.Status = domain.MarketStatusCancelled
	_, err = e.Settle(cancelled, "A", bets, now)
	assert.True(t, errors.Is(err, domain.ErrAlreadyResolved))
}

func TestSettle_Validation(t *testing.T) {
	e := newEngine(t)

	foreign := bet("b2", "A", "1")
	foreign.MarketID = "other"
	settledBet := bet("b2", "A", "1")
	settledBet.Status = domain.BetStatusWon
	oneOutcome := testMarket("5", "1")
	dupOutcome := testMarket("5", "1", "1")
	dupOutcome.Outcomes[1].ID = "A"
	driftedVolume := testMarket("5", "1", "1")
	driftedVolume.Volume = dec("3")

	tests := []struct {
		name   string
		market domain.Market
		winner string
		bets   []domain.Bet
		field  string
	}{
		{"unknown winner", testMarket("5", "1", "1"), "Z", []domain.Bet{bet("b1", "A", "1"), bet("b2", "B", "1")}, "winning_outcome_id"},
		{"volume drift", driftedVolume, "A", []domain.Bet{bet("b1", "A", "1"), bet("b2", "B", "1")}, "volume"},
		{"missing bet", testMarket("5", "1", "1"), "A", []domain.Bet{bet("b1", "A", "1")}, "bets"},
		{"extra bet", testMarket("5", "1", "1"), "A", []domain.Bet{bet("b1", "A", "1"), bet("b2", "B", "1"), bet("b3", "B", "1")}, "bets"},
		{"single outcome", oneOutcome, "A", nil, "outcomes"},
		{"duplicate outcome", dupOutcome, "A", nil, "outcomes"},
		{"foreign bet", testMarket("5", "1", "1"), "A", []domain.Bet{bet("b1", "A", "1"), foreign}, "bets[1].market_id"},
		{"unknown bet outcome", testMarket("5", "1", "1"), "A", []domain.Bet{bet("b1", "Q", "1")}, "bets[0].outcome_id"},
		{"zero stake", testMarket("5", "1", "1"), "A", []domain.Bet{bet("b1", "A", "0")}, "bets[0].bet_amount"},
		{"duplicate bet", testMarket("5", "1", "1"), "A", []domain.Bet{bet("b1", "A", "1"), bet("b1", "B", "1")}, "bets[1].bet_id"},
		{"settled bet", testMarket("5", "1", "1"), "A", []domain.Bet{bet("b1", "A", "1"), settledBet}, "bets[1].status"},
		{"cut above 100", testMarket("101", "1", "1"), "A", nil, "creator_cut_percentage"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Settle(tc.market, tc.winner, tc.bets, now)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
			assert.True(t, errors.Is(err, domain.ErrValidation))
		})
	}
}

func TestSettle_RejectsIncompleteLedger(t *testing.T) {
	e := newEngine(t)
	// 10 staked on the market, only 4 of it in the ledger
	market := testMarket("5", "6", "4")
	bets := []domain.Bet{bet("b1", "A", "2"), bet("b4", "B", "2")}

	_, err := e.Settle(market, "A", bets, now)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "bets", ve.Field)

	_, err = e.Cancel(market, bets, now)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// right total, wrong split between outcomes
	bets = []domain.Bet{bet("b1", "A", "4"), bet("b2", "B", "6")}
	_, err = e.Settle(market, "A", bets, now)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSettle_ConservationRandomLedgers(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	cuts := []string{"0", "2", "5", "10", "15", "33.3"}

	for _, precision := range []int32{0, 2, 6, 18} {
		e, err := NewEngine(precision)
		require.NoError(t, err)

		for run := 0; run < 200; run++ {
			market := testMarket(cuts[rng.IntN(len(cuts))], "0", "0", "0")
			n := rng.IntN(12)
			bets := make([]domain.Bet, 0, n)
			for i := 0; i < n; i++ {
				amount := decimal.New(rng.Int64N(1_000_000)+1, -int32(rng.IntN(7)))
				idx := rng.IntN(3)
				b := bet(fmt.Sprintf("b%d", i), market.Outcomes[idx].ID, "1")
				b.Amount = amount
				bets = append(bets, b)
				market.Outcomes[idx].TotalStaked = market.Outcomes[idx].TotalStaked.Add(amount)
				market.Volume = market.Volume.Add(amount)
			}
			winner := string(rune('A' + rng.IntN(3)))

			s, err := e.Settle(market, winner, bets, now)
			if err != nil {
				require.ErrorIs(t, err, domain.ErrNoWinners)
			}
			require.True(t, s.Result.Balanced(),
				"precision %d run %d: cut %s + paid %s + unclaimed %s != pool %s",
				precision, run, s.Result.CreatorCut, s.Result.Distributed(), s.Result.Unclaimed, s.Result.TotalPool)
			for _, p := range s.Result.Payouts {
				require.False(t, p.Payout.IsNegative())
			}
		}
	}
}

func TestNewEngine_RejectsPrecision(t *testing.T) {
	_, err := NewEngine(-1)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = NewEngine(maxPrecision + 1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
