// Package payout turns a settlement into wei-denominated transfer
// instructions for whatever custody system moves the funds. Nothing here
// signs or submits transactions.
package payout

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

// ErrSubWei is returned for an amount that is not a whole number of wei.
var ErrSubWei = errors.New("payout: amount has a fraction below one wei")

var weiPerEther = decimal.NewFromBigInt(new(big.Int).SetUint64(params.Ether), 0)

// TransferKind labels why a transfer exists.
type TransferKind string

const (
	KindWinnings   TransferKind = "winnings"
	KindRefund     TransferKind = "refund"
	KindCreatorFee TransferKind = "creator_fee"
)

// Transfer is a single instruction to move AmountWei to To.
type Transfer struct {
	Kind      TransferKind   `json:"kind"`
	BetID     string         `json:"bet_id,omitempty"`
	To        common.Address `json:"to"`
	AmountWei *big.Int       `json:"amount_wei"`
}

// Plan is every transfer owed for one market.
type Plan struct {
	MarketID  string      `json:"market_id"`
	MarketKey common.Hash `json:"market_key"`
	Transfers []Transfer  `json:"transfers"`
	// Skipped lists bet ids (or "creator") owed funds whose recipient is not
	// an on-chain address. Those are settled off-chain.
	Skipped []string `json:"skipped,omitempty"`
	Total   *big.Int `json:"total_wei"`
}

// MarketKey derives the bytes32 key a contract would index the market by.
func MarketKey(marketID string) common.Hash {
	return crypto.Keccak256Hash([]byte(marketID))
}

// ToWei converts an ether-denominated amount to wei exactly.
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("payout: negative amount %s", amount)
	}
	wei := amount.Mul(weiPerEther)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s", ErrSubWei, amount)
	}
	return wei.BigInt(), nil
}

// Build plans the transfers for a settlement. Zero amounts are omitted.
// Participants and the creator are paid only when their id is a hex
// address; anything else is reported in Plan.Skipped.
func Build(market domain.Market, result domain.SettlementResult) (Plan, error) {
	plan := Plan{
		MarketID:  result.MarketID,
		MarketKey: MarketKey(result.MarketID),
		Total:     new(big.Int),
	}

	kind := KindWinnings
	if result.Kind == domain.SettlementCancelled {
		kind = KindRefund
	}
	for _, p := range result.Payouts {
		if !p.Payout.IsPositive() {
			continue
		}
		if err := plan.add(kind, p.BetID, p.ParticipantID, p.Payout); err != nil {
			return Plan{}, fmt.Errorf("payout: bet %s: %w", p.BetID, err)
		}
	}
	if result.CreatorCut.IsPositive() {
		if err := plan.add(KindCreatorFee, "", market.CreatorID, result.CreatorCut); err != nil {
			return Plan{}, fmt.Errorf("payout: creator fee: %w", err)
		}
	}
	return plan, nil
}

func (p *Plan) add(kind TransferKind, betID, recipient string, amount decimal.Decimal) error {
	wei, err := ToWei(amount)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(recipient) {
		if betID == "" {
			betID = "creator"
		}
		p.Skipped = append(p.Skipped, betID)
		return nil
	}
	p.Transfers = append(p.Transfers, Transfer{
		Kind:      kind,
		BetID:     betID,
		To:        common.HexToAddress(recipient),
		AmountWei: wei,
	})
	p.Total.Add(p.Total, wei)
	return nil
}
