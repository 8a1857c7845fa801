package ports

import "context"

// CovenantClaim registers a reverse swap with the external covenant claiming
// service. Swaps registered this way bypass the local signing engine
// entirely.
type CovenantClaim struct {
	SwapID             string `json:"swapId"`
	Address            string `json:"address"`
	Preimage           string `json:"preimage"`
	ClaimPublicKey     string `json:"claimPublicKey"`
	RefundPublicKey    string `json:"refundPublicKey"`
	BlindingKey        string `json:"blindingKey,omitempty"`
	ClaimLeaf          string `json:"claimLeaf"`
	RefundLeaf         string `json:"refundLeaf"`
	TimeoutBlockHeight uint32 `json:"timeoutBlockHeight"`
}

type CovenantClient interface {
	RegisterClaim(ctx context.Context, claim CovenantClaim) error
}
