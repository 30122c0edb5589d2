package ratelimit

import "errors"

// Sentinel errors for the rate limiter.
var (
	// ErrAccountDisabled marks a reservation against an inactive account.
	// Callers should fail over to another account or defer the item.
	ErrAccountDisabled = errors.New("sending account is disabled")
)
