package application

import "errors"

var (
	// ErrAmountTooSmall and ErrAmountTooLarge are returned by the limits
	// check before any provider call is made.
	ErrAmountTooSmall = errors.New("amount too small")
	ErrAmountTooLarge = errors.New("amount too big")

	// ErrUnknownSwap means a status event referenced a provider swap id we
	// never created, or one whose stored payloads do not match its type.
	ErrUnknownSwap = errors.New("unknown swap")
)
