package swapengine

import "errors"

var (
	// ErrQueryFailed is a transient read failure; the owning loop stage retries.
	ErrQueryFailed = errors.New("chain query failed")
	// ErrInsufficientLiquidity means the pool could not price the amount.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrPairNotFound means the factory has no pair for the tokens yet.
	ErrPairNotFound = errors.New("pair not found")
	// ErrExecutionFailed covers submission, confirmation and missing results.
	// Swaps failing this way are never resubmitted.
	ErrExecutionFailed = errors.New("swap execution failed")
	// ErrGuardViolation is a rejected second commit in one detection episode.
	ErrGuardViolation = errors.New("already bought")
)
