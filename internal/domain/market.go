package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive    MarketStatus = "active"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// Outcome bounds and the neutral quote every outcome starts with.
const (
	MinOutcomes = 2
	MaxOutcomes = 6
	NeutralOdds = 2.0
)

// Outcome is one discrete answer of a market together with its stake pool.
type Outcome struct {
	ID          string          `json:"outcome_id"`
	Name        string          `json:"name"`
	Odds        float64         `json:"odds"`
	TotalStaked decimal.Decimal `json:"total_staked"`
}

// Market is a creator-opened wagering market on a discrete-outcome question.
type Market struct {
	ID                   string          `json:"market_id"`
	CreatorID            string          `json:"creator_id"`
	Question             string          `json:"question"`
	Category             string          `json:"category,omitempty"`
	Outcomes             []Outcome       `json:"outcomes"`
	Status               MarketStatus    `json:"status"`
	CreatedAt            time.Time       `json:"creation_timestamp"`
	ClosesAt             *time.Time      `json:"closes_at,omitempty"`
	ResolvedAt           *time.Time      `json:"resolution_timestamp,omitempty"`
	WinningOutcomeID     string          `json:"winning_outcome_id,omitempty"`
	CreatorCutPercentage decimal.Decimal `json:"creator_cut_percentage"`
	Participants         int             `json:"participants"`
	Volume               decimal.Decimal `json:"volume"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// IsActive reports whether the market still accepts stakes and re-pricing.
func (m Market) IsActive() bool {
	return m.Status == MarketStatusActive
}

// Outcome returns the outcome with the given id.
func (m Market) Outcome(id string) (Outcome, bool) {
	for _, o := range m.Outcomes {
		if o.ID == id {
			return o, true
		}
	}
	return Outcome{}, false
}

// TotalPool sums the stake of every outcome.
func (m Market) TotalPool() decimal.Decimal {
	total := decimal.Zero
	for _, o := range m.Outcomes {
		total = total.Add(o.TotalStaked)
	}
	return total
}

// Clone returns a deep copy so callers can mutate outcomes without aliasing
// the original slice.
func (m Market) Clone() Market {
	out := m
	out.Outcomes = make([]Outcome, len(m.Outcomes))
	copy(out.Outcomes, m.Outcomes)
	if m.ClosesAt != nil {
		t := *m.ClosesAt
		out.ClosesAt = &t
	}
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

// Validate checks the structural invariants of a market: identifier present,
// 2-6 outcomes with unique non-empty ids, non-negative stakes summing to the
// volume and a creator cut within [0, 100].
func (m Market) Validate() error {
	if m.ID == "" {
		return NewValidationError("market_id", "must not be empty")
	}
	if n := len(m.Outcomes); n < MinOutcomes || n > MaxOutcomes {
		return NewValidationError("outcomes", "market must have between 2 and 6 outcomes")
	}
	seen := make(map[string]struct{}, len(m.Outcomes))
	for _, o := range m.Outcomes {
		if o.ID == "" {
			return NewValidationError("outcomes", "outcome id must not be empty")
		}
		if _, dup := seen[o.ID]; dup {
			return NewValidationError("outcomes", "duplicate outcome id "+o.ID)
		}
		seen[o.ID] = struct{}{}
		if o.TotalStaked.IsNegative() {
			return NewValidationError("outcomes", "negative stake on outcome "+o.ID)
		}
	}
	if pool := m.TotalPool(); !m.Volume.Equal(pool) {
		return NewValidationError("volume", fmt.Sprintf("volume %s does not match outcome stakes %s", m.Volume, pool))
	}
	if m.CreatorCutPercentage.IsNegative() || m.CreatorCutPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return NewValidationError("creator_cut_percentage", "must be within [0, 100]")
	}
	return nil
}

// CheckLedger verifies that bets account for every unit staked on m: the
// stakes per outcome must equal each outcome's TotalStaked.
func (m Market) CheckLedger(bets []Bet) error {
	staked := make(map[string]decimal.Decimal, len(m.Outcomes))
	for _, b := range bets {
		sum, ok := staked[b.OutcomeID]
		if !ok {
			sum = decimal.Zero
		}
		staked[b.OutcomeID] = sum.Add(b.Amount)
	}
	for _, o := range m.Outcomes {
		got, ok := staked[o.ID]
		if !ok {
			got = decimal.Zero
		}
		if !got.Equal(o.TotalStaked) {
			return NewValidationError("bets", fmt.Sprintf("ledger holds %s on outcome %s, market records %s", got, o.ID, o.TotalStaked))
		}
		delete(staked, o.ID)
	}
	for id := range staked {
		return NewValidationError("bets", "ledger references unknown outcome "+id)
	}
	return nil
}
