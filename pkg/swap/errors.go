package swap

import "errors"

var (
	// ErrPreimageMismatch means the provider's claimed preimage does not hash
	// to the invoice's payment hash. Signing must never proceed past this.
	ErrPreimageMismatch = errors.New("provider preimage does not match invoice payment hash")

	// ErrNoSwapOutput means the lockup transaction pays no output to the
	// tweaked swap key.
	ErrNoSwapOutput = errors.New("no swap output found in lockup transaction")

	// Magic routing hint rejections. Any of these makes the caller fall back
	// to a submarine swap.
	ErrInvalidSignature = errors.New("invalid routing hint address signature")
	ErrInvalidAsset     = errors.New("routing hint bip21 asset does not match")
	ErrInvalidAmount    = errors.New("routing hint bip21 amount exceeds invoice amount")
)
