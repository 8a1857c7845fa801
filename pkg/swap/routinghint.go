package swap

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/AmbossTech/banco-swaps/pkg/boltz"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
)

// MagicRoutingHintChannelID is the fixed short channel id the provider puts
// into an invoice's routing hints to signal that the invoice can be settled
// directly on chain, without a submarine swap.
const MagicRoutingHintChannelID uint64 = 0x0846c900051c0000

// DirectSettlement is a verified on-chain alternative to paying the
// invoice over Lightning.
type DirectSettlement struct {
	Address    string
	AmountSats uint64
	AssetID    string
}

// MagicRoutingHintResolver checks invoices for the magic routing hint and
// independently verifies the provider's direct-settlement payload. Nothing
// here requires trusting the provider: the address is signed by the hint's
// node key and the amount is bounded by the invoice.
type MagicRoutingHintResolver struct {
	boltz *boltz.Api
	net   *chaincfg.Params
	// assetID is the hex id of the expected settlement asset (L-BTC).
	assetID string
}

func NewMagicRoutingHintResolver(api *boltz.Api, net *chaincfg.Params, assetID string) *MagicRoutingHintResolver {
	return &MagicRoutingHintResolver{boltz: api, net: net, assetID: assetID}
}

// FindMagicRoutingHint decodes the invoice and returns the hint's node key,
// or nil when the invoice carries no magic hint.
func FindMagicRoutingHint(invoice string, net *chaincfg.Params) (*zpay32.Invoice, *btcec.PublicKey, error) {
	decoded, err := zpay32.Decode(invoice, net)
	if err != nil {
		return nil, nil, fmt.Errorf("decode invoice: %w", err)
	}

	for _, hint := range decoded.RouteHints {
		for _, hop := range hint {
			if hop.ChannelID == MagicRoutingHintChannelID {
				return decoded, hop.NodeID, nil
			}
		}
	}
	return decoded, nil, nil
}

// Resolve returns the verified direct settlement for an invoice, or nil when
// the invoice has no magic routing hint. Any verification failure is an
// error; the caller falls back to a submarine swap in both cases.
func (r *MagicRoutingHintResolver) Resolve(invoice string) (*DirectSettlement, error) {
	decoded, hintKey, err := FindMagicRoutingHint(invoice, r.net)
	if err != nil {
		return nil, err
	}
	if hintKey == nil {
		return nil, nil
	}

	payload, err := r.boltz.GetReverseBip21(invoice)
	if err != nil {
		return nil, fmt.Errorf("fetch bip21 for invoice: %w", err)
	}

	address, amountSats, assetID, err := ParseBip21(payload.Bip21)
	if err != nil {
		return nil, err
	}

	sigBytes, err := hex.DecodeString(payload.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode bip21 signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return nil, fmt.Errorf("parse bip21 signature: %w", err)
	}

	addressHash := sha256.Sum256([]byte(address))
	if !sig.Verify(addressHash[:], hintKey) {
		return nil, ErrInvalidSignature
	}

	if assetID != r.assetID {
		return nil, ErrInvalidAsset
	}

	var invoiceSats uint64
	if decoded.MilliSat != nil {
		invoiceSats = uint64(decoded.MilliSat.ToSatoshis())
	}
	// The recipient may receive up to the declared amount (minus fees), but
	// never be asked to authorize more than the invoice declares.
	if amountSats > invoiceSats {
		return nil, ErrInvalidAmount
	}

	return &DirectSettlement{
		Address:    address,
		AmountSats: amountSats,
		AssetID:    assetID,
	}, nil
}

// ParseBip21 extracts address, amount (sats) and asset id from a BIP-21
// payment URI such as liquidnetwork:<addr>?amount=0.001&assetid=<hex>.
func ParseBip21(bip21 string) (string, uint64, string, error) {
	parsed, err := url.Parse(bip21)
	if err != nil {
		return "", 0, "", fmt.Errorf("parse bip21: %w", err)
	}
	if parsed.Opaque == "" {
		return "", 0, "", fmt.Errorf("bip21 has no address")
	}

	query := parsed.Query()
	amountBtc, err := strconv.ParseFloat(query.Get("amount"), 64)
	if err != nil {
		return "", 0, "", fmt.Errorf("parse bip21 amount: %w", err)
	}
	amountSats := uint64(math.Round(amountBtc * 1e8))

	return parsed.Opaque, amountSats, query.Get("assetid"), nil
}
