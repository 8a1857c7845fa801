package boltz

const (
	CurrencyBtc    Currency = "BTC"
	CurrencyLiquid Currency = "L-BTC"
)

type Currency string

type PairLimits struct {
	Minimal uint64 `json:"minimal"`
	Maximal uint64 `json:"maximal"`
}

type SubmarineFees struct {
	Percentage float64 `json:"percentage"`
	MinerFees  uint64  `json:"minerFees"`
}

type SubmarinePair struct {
	Hash   string        `json:"hash"`
	Rate   float64       `json:"rate"`
	Limits PairLimits    `json:"limits"`
	Fees   SubmarineFees `json:"fees"`
}

type ReverseMinerFees struct {
	Claim  uint64 `json:"claim"`
	Lockup uint64 `json:"lockup"`
}

type ReverseFees struct {
	Percentage float64          `json:"percentage"`
	MinerFees  ReverseMinerFees `json:"minerFees"`
}

type ReversePair struct {
	Hash   string      `json:"hash"`
	Rate   float64     `json:"rate"`
	Limits PairLimits  `json:"limits"`
	Fees   ReverseFees `json:"fees"`
}

type ChainMinerFees struct {
	Server uint64           `json:"server"`
	User   ReverseMinerFees `json:"user"`
}

type ChainFees struct {
	Percentage float64        `json:"percentage"`
	MinerFees  ChainMinerFees `json:"minerFees"`
}

type ChainPair struct {
	Hash   string     `json:"hash"`
	Rate   float64    `json:"rate"`
	Limits PairLimits `json:"limits"`
	Fees   ChainFees  `json:"fees"`
}

// Pair tables are keyed from -> to.
type (
	SubmarinePairs map[Currency]map[Currency]SubmarinePair
	ReversePairs   map[Currency]map[Currency]ReversePair
	ChainPairs     map[Currency]map[Currency]ChainPair
)

type Leaf struct {
	Version uint8  `json:"version"`
	Output  string `json:"output"`
}

type SwapTree struct {
	ClaimLeaf  Leaf `json:"claimLeaf"`
	RefundLeaf Leaf `json:"refundLeaf"`
}

type CreateSubmarineRequest struct {
	From            Currency `json:"from"`
	To              Currency `json:"to"`
	Invoice         string   `json:"invoice"`
	RefundPublicKey string   `json:"refundPublicKey"`
	PairHash        string   `json:"pairHash,omitempty"`
	ReferralID      string   `json:"referralId,omitempty"`
}

type CreateSubmarineResponse struct {
	ID                 string   `json:"id"`
	Address            string   `json:"address"`
	SwapTree           SwapTree `json:"swapTree"`
	ClaimPublicKey     string   `json:"claimPublicKey"`
	TimeoutBlockHeight uint32   `json:"timeoutBlockHeight"`
	AcceptZeroConf     bool     `json:"acceptZeroConf"`
	ExpectedAmount     uint64   `json:"expectedAmount"`
	// BlindingKey is set for Liquid lockups only.
	BlindingKey string `json:"blindingKey,omitempty"`

	Error string `json:"error,omitempty"`
}

type CreateReverseRequest struct {
	From           Currency `json:"from"`
	To             Currency `json:"to"`
	InvoiceAmount  uint64   `json:"invoiceAmount"`
	PreimageHash   string   `json:"preimageHash"`
	ClaimPublicKey string   `json:"claimPublicKey"`
	Description    string   `json:"description,omitempty"`
	// Address and AddressSignature enable the magic routing hint on the
	// generated invoice.
	Address          string `json:"address,omitempty"`
	AddressSignature string `json:"addressSignature,omitempty"`
	// ClaimCovenant asks the provider for a covenant-claimable lockup.
	ClaimCovenant bool   `json:"claimCovenant,omitempty"`
	PairHash      string `json:"pairHash,omitempty"`
	ReferralID    string `json:"referralId,omitempty"`
}

type CreateReverseResponse struct {
	ID                 string   `json:"id"`
	Invoice            string   `json:"invoice"`
	LockupAddress      string   `json:"lockupAddress"`
	SwapTree           SwapTree `json:"swapTree"`
	RefundPublicKey    string   `json:"refundPublicKey"`
	TimeoutBlockHeight uint32   `json:"timeoutBlockHeight"`
	OnchainAmount      uint64   `json:"onchainAmount"`
	BlindingKey        string   `json:"blindingKey,omitempty"`

	Error string `json:"error,omitempty"`
}

type CreateChainRequest struct {
	From            Currency `json:"from"`
	To              Currency `json:"to"`
	PreimageHash    string   `json:"preimageHash"`
	ClaimPublicKey  string   `json:"claimPublicKey"`
	RefundPublicKey string   `json:"refundPublicKey"`
	UserLockAmount  uint64   `json:"userLockAmount,omitempty"`
	PairHash        string   `json:"pairHash,omitempty"`
	ReferralID      string   `json:"referralId,omitempty"`
}

// ChainSwapSide describes one leg of a chain swap. ClaimDetails is the leg we
// claim with the claim key, LockupDetails the leg we funded and cooperate on
// with the refund key. The two roles must not be swapped.
type ChainSwapSide struct {
	SwapTree           SwapTree `json:"swapTree"`
	LockupAddress      string   `json:"lockupAddress"`
	ServerPublicKey    string   `json:"serverPublicKey"`
	Amount             uint64   `json:"amount"`
	TimeoutBlockHeight uint32   `json:"timeoutBlockHeight"`
	BlindingKey        string   `json:"blindingKey,omitempty"`
}

type ChainSwapData struct {
	ID            string         `json:"id"`
	ClaimDetails  *ChainSwapSide `json:"claimDetails"`
	LockupDetails *ChainSwapSide `json:"lockupDetails"`

	Error string `json:"error,omitempty"`
}

// SubmarineClaimDetails is the provider's request for our cooperative
// signature after it paid the invoice. The preimage must hash to the
// invoice's payment hash before anything is signed.
type SubmarineClaimDetails struct {
	Preimage        string `json:"preimage"`
	PubNonce        string `json:"pubNonce"`
	PublicKey       string `json:"publicKey"`
	TransactionHash string `json:"transactionHash"`
}

type PartialSignature struct {
	PubNonce         string `json:"pubNonce"`
	PartialSignature string `json:"partialSignature"`
}

type ReverseClaimRequest struct {
	Index       int    `json:"index"`
	Transaction string `json:"transaction"`
	Preimage    string `json:"preimage"`
	PubNonce    string `json:"pubNonce"`
}

type ChainClaimDetails struct {
	PubNonce        string `json:"pubNonce"`
	PublicKey       string `json:"publicKey"`
	TransactionHash string `json:"transactionHash"`
}

// ToSign carries the claim-leg transaction the provider should partially
// sign for us.
type ToSign struct {
	PubNonce    string `json:"pubNonce"`
	Transaction string `json:"transaction"`
	Index       int    `json:"index"`
}

type ChainClaimRequest struct {
	Preimage  string            `json:"preimage"`
	Signature *PartialSignature `json:"signature,omitempty"`
	ToSign    *ToSign           `json:"toSign"`
}

type TransactionResponse struct {
	ID                 string `json:"id"`
	Hex                string `json:"hex"`
	TimeoutBlockHeight uint32 `json:"timeoutBlockHeight,omitempty"`
}

type ChainSwapTransaction struct {
	Transaction TransactionResponse `json:"transaction"`
	Timeout     struct {
		BlockHeight uint32 `json:"blockHeight"`
	} `json:"timeout"`
}

type ChainSwapTransactions struct {
	UserLock   *ChainSwapTransaction `json:"userLock,omitempty"`
	ServerLock *ChainSwapTransaction `json:"serverLock,omitempty"`
}

// ReverseBip21 is the provider's direct-settlement payload for an invoice
// carrying the magic routing hint. Signature is a Schnorr signature over
// SHA256 of the address by the hint's node key.
type ReverseBip21 struct {
	Bip21     string `json:"bip21"`
	Signature string `json:"signature"`
}

type BroadcastRequest struct {
	Hex string `json:"hex"`
}

type BroadcastResponse struct {
	ID string `json:"id"`
}
