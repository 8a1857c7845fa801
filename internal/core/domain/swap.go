package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AmbossTech/banco-swaps/pkg/boltz"
)

// ErrSwapNotFound is returned by repositories when no swap matches the
// lookup key. Callers use it to tell an unknown swap apart from a store
// failure.
var ErrSwapNotFound = errors.New("swap not found")

type SwapType string

const (
	SwapTypeSubmarine SwapType = "submarine"
	SwapTypeReverse   SwapType = "reverse"
	SwapTypeChain     SwapType = "chain"
)

type SwapProvider string

const SwapProviderBoltz SwapProvider = "BOLTZ"

// SwapRequest is the locally-built half of a swap pair. It carries the
// provider-facing public parameters plus the secret material (ephemeral
// private keys, preimage) that only this process ever holds.
type SwapRequest interface {
	SwapType() SwapType
	SwapProvider() SwapProvider
}

// SwapResponse mirrors the request's (provider, type) pair and holds the
// provider's public commitment: swap tree, addresses, amounts, server keys.
type SwapResponse interface {
	SwapType() SwapType
	SwapProvider() SwapProvider
}

type SubmarineRequest struct {
	boltz.CreateSubmarineRequest
	// RefundPrivateKey is the hex-encoded ephemeral key whose public half was
	// sent as refundPublicKey.
	RefundPrivateKey string `json:"refundPrivateKey"`
	// PaymentHash of the invoice being paid, hex.
	PaymentHash string `json:"paymentHash"`
}

type SubmarineResponse struct {
	boltz.CreateSubmarineResponse
}

type ReverseRequest struct {
	boltz.CreateReverseRequest
	ClaimPrivateKey string `json:"claimPrivateKey"`
	Preimage        string `json:"preimage"`
	// DestinationAddress receives the claimed funds.
	DestinationAddress string `json:"destinationAddress"`
	// BlindingPrivateKey unblinds the destination output on Liquid, hex.
	BlindingPrivateKey string `json:"blindingPrivateKey,omitempty"`
	// Covenant marks swaps delegated to the external covenant claim service.
	// Those are never claimed locally.
	Covenant bool `json:"covenant"`
}

type ReverseResponse struct {
	boltz.CreateReverseResponse
}

type ChainRequest struct {
	boltz.CreateChainRequest
	ClaimPrivateKey    string `json:"claimPrivateKey"`
	RefundPrivateKey   string `json:"refundPrivateKey"`
	Preimage           string `json:"preimage"`
	DestinationAddress string `json:"destinationAddress"`
	BlindingPrivateKey string `json:"blindingPrivateKey,omitempty"`
}

type ChainResponse struct {
	boltz.ChainSwapData
}

func (SubmarineRequest) SwapType() SwapType          { return SwapTypeSubmarine }
func (SubmarineRequest) SwapProvider() SwapProvider  { return SwapProviderBoltz }
func (SubmarineResponse) SwapType() SwapType         { return SwapTypeSubmarine }
func (SubmarineResponse) SwapProvider() SwapProvider { return SwapProviderBoltz }
func (ReverseRequest) SwapType() SwapType            { return SwapTypeReverse }
func (ReverseRequest) SwapProvider() SwapProvider    { return SwapProviderBoltz }
func (ReverseResponse) SwapType() SwapType           { return SwapTypeReverse }
func (ReverseResponse) SwapProvider() SwapProvider   { return SwapProviderBoltz }
func (ChainRequest) SwapType() SwapType              { return SwapTypeChain }
func (ChainRequest) SwapProvider() SwapProvider      { return SwapProviderBoltz }
func (ChainResponse) SwapType() SwapType             { return SwapTypeChain }
func (ChainResponse) SwapProvider() SwapProvider     { return SwapProviderBoltz }

// Swap pairs a request with the provider's response. It is written once at
// creation time and mutated exactly once, when Completed flips to true. Swaps
// are never deleted so the audit trail stays intact.
type Swap struct {
	ID              string
	WalletAccountID string
	// ProviderID is the provider-side swap id, used for websocket
	// subscriptions and status lookups.
	ProviderID string
	Provider   SwapProvider
	Type       SwapType
	Request    SwapRequest
	Response   SwapResponse
	Completed  bool
	CreatedAt  time.Time
}

// NewSwap builds a Swap and enforces that request and response agree on
// provider and swap type.
func NewSwap(
	walletAccountID, providerID string, request SwapRequest, response SwapResponse,
) (*Swap, error) {
	if request == nil || response == nil {
		return nil, fmt.Errorf("missing swap request or response")
	}
	if request.SwapType() != response.SwapType() {
		return nil, fmt.Errorf(
			"swap type mismatch: request %s, response %s",
			request.SwapType(), response.SwapType(),
		)
	}
	if request.SwapProvider() != response.SwapProvider() {
		return nil, fmt.Errorf(
			"swap provider mismatch: request %s, response %s",
			request.SwapProvider(), response.SwapProvider(),
		)
	}
	return &Swap{
		ID:              fmt.Sprintf("%s-%s", request.SwapProvider(), providerID),
		WalletAccountID: walletAccountID,
		ProviderID:      providerID,
		Provider:        request.SwapProvider(),
		Type:            request.SwapType(),
		Request:         request,
		Response:        response,
		CreatedAt:       time.Now(),
	}, nil
}

// SwapRepository stores swap pairs created by the wallet.
type SwapRepository interface {
	Add(ctx context.Context, swap Swap) error
	MarkCompleted(ctx context.Context, id string) error
	// GetActive returns all swaps with Completed == false.
	GetActive(ctx context.Context) ([]Swap, error)
	GetByProviderID(ctx context.Context, providerID string) (*Swap, error)
	GetByInvoice(ctx context.Context, invoice string) (*Swap, error)
	Close()
}
