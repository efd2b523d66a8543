package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockHeld        = errors.New("lock already held")
	ErrMarketNotActive = errors.New("market not active")
	ErrValidation      = errors.New("validation failed")
	ErrAlreadyResolved = errors.New("market already resolved")
	ErrNoWinners       = errors.New("no winning bets")
	// ErrLedgerChanged means a bet landed between reading a market's ledger
	// and committing its settlement.
	ErrLedgerChanged   = errors.New("bet ledger changed during settlement")
)

// ValidationError rejects malformed input before anything is mutated.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Is lets callers match any ValidationError with errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// AlreadyResolvedError is returned when settling or cancelling a market that
// has already left the Active state.
type AlreadyResolvedError struct {
	MarketID string
	Status   MarketStatus
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("market %s already %s", e.MarketID, e.Status)
}

func (e *AlreadyResolvedError) Is(target error) bool {
	return target == ErrAlreadyResolved
}

// NoWinnersError reports a resolved market whose winning outcome attracted no
// bets. It accompanies a complete settlement; Unclaimed is the payout pool the
// caller must route to the creator or treasury.
type NoWinnersError struct {
	MarketID         string
	WinningOutcomeID string
	Unclaimed        decimal.Decimal
}

func (e *NoWinnersError) Error() string {
	return fmt.Sprintf("market %s: no bets on winning outcome %s, %s unclaimed",
		e.MarketID, e.WinningOutcomeID, e.Unclaimed.String())
}

func (e *NoWinnersError) Is(target error) bool {
	return target == ErrNoWinners
}
