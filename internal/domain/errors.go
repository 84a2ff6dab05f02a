package domain

import "errors"

// Trade rejections are deterministic and non-retryable: resubmitting the
// identical request against unchanged state yields the identical rejection.
// Storage and transport faults are surfaced separately by the adapters.
var (
	ErrZeroAmount            = errors.New("zero amount")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientLiquidity = errors.New("insufficient market liquidity")
	ErrAllowanceExceeded     = errors.New("allowance exceeded")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrAmountOverflow        = errors.New("amount overflow")

	ErrInvalidAccount = errors.New("invalid account")
	ErrInvalidAsset   = errors.New("invalid asset")
	ErrInvalidAmount  = errors.New("invalid amount")

	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
	ErrLockHeld    = errors.New("lock already held")
)
