package model

import "errors"

// Every rejection the engine can produce. All are local, recoverable
// rejections of a single operation; state is mutated only after every
// precondition has passed, so none of these leaves the ledger corrupted.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrUnauthorized        = errors.New("caller is not an administrator")
	ErrInvalidDeadline     = errors.New("deadline must be in the future")
	ErrMarketNotFound      = errors.New("market not found")
	ErrPositionNotFound    = errors.New("position not found")
	ErrAlreadyResolved     = errors.New("market already resolved")
	ErrMarketNotActive     = errors.New("market is not open for positions")
	ErrMarketNotLockable   = errors.New("market deadline has not passed")
	ErrMarketNotResolved   = errors.New("market not resolved yet")
	ErrInvalidLeverage     = errors.New("leverage not in permitted set")
	ErrInvalidMargin       = errors.New("margin must be positive")
	ErrAlreadyPositioned   = errors.New("trader already has a position")
	ErrNotOwner            = errors.New("position belongs to another trader")
	ErrAlreadyClaimed      = errors.New("position already claimed")
	ErrArithmeticOverflow  = errors.New("arithmetic overflow")
)
