package ledger

import "errors"

// Amount validation errors.
var (
	ErrInvalidAmount = errors.New("invalid amount")
)

// Accounting errors.
var (
	ErrScopeNotFound         = errors.New("budget scope not found")
	ErrBudgetExceeded        = errors.New("budget exceeded")
	ErrCeilingBelowCommitted = errors.New("ceiling below committed spend")
	ErrReservationSettled    = errors.New("reservation already settled")
)
