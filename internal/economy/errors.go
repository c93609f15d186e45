// Package economy implements balance operations, catalog redemption, the spin wheel
// and referral rewards on top of the repository's transactional store.
package economy

import (
	"errors"
	"math"
)

var (
	// ErrInvalidAmount is returned for zero, negative or non-finite amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientFunds is returned when a debit would make a balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrSelfReferral is returned when a user tries to refer themselves.
	ErrSelfReferral = errors.New("self referral")
	// ErrVoucherExchangeDisabled is returned when voucher purchase is switched off.
	ErrVoucherExchangeDisabled = errors.New("voucher exchange disabled")
	// ErrInvalidEntry is returned when a catalog entry fails validation.
	ErrInvalidEntry = errors.New("invalid catalog entry")
)

func validAmount(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
