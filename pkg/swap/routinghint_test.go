package swap

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AmbossTech/banco-swaps/pkg/boltz"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/stretchr/testify/require"
)

const testLbtcAssetID = "6f0279e9ed041c3d710a9f57d0c02928416460c4b722ae3457a11eec381c526d"

func encodeInvoice(
	t *testing.T, payeeKey *btcec.PrivateKey, amountSats uint64,
	hintNode *btcec.PublicKey, channelID uint64,
) string {
	t.Helper()

	var paymentHash [32]byte
	for i := range paymentHash {
		paymentHash[i] = 0x42
	}

	opts := []func(*zpay32.Invoice){
		zpay32.Amount(lnwire.MilliSatoshi(amountSats * 1000)),
		zpay32.Description("direct settlement test"),
	}
	if hintNode != nil {
		opts = append(opts, zpay32.RouteHint([]zpay32.HopHint{{
			NodeID:          hintNode,
			ChannelID:       channelID,
			CLTVExpiryDelta: 80,
		}}))
	}

	invoice, err := zpay32.NewInvoice(
		&chaincfg.MainNetParams, paymentHash, time.Unix(1700000000, 0), opts...,
	)
	require.NoError(t, err)

	encoded, err := invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			return ecdsa.SignCompact(payeeKey, chainhash.HashB(msg), true), nil
		},
	})
	require.NoError(t, err)
	return encoded
}

func newHintResolver(t *testing.T, payload boltz.ReverseBip21) *MagicRoutingHintResolver {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Contains(t, r.URL.Path, "/bip21")
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(payload))
	}))
	t.Cleanup(srv.Close)

	api := &boltz.Api{URL: srv.URL}
	return NewMagicRoutingHintResolver(api, &chaincfg.MainNetParams, testLbtcAssetID)
}

func signAddress(t *testing.T, key *btcec.PrivateKey, address string) string {
	t.Helper()
	hash := sha256.Sum256([]byte(address))
	sig, err := schnorr.Sign(key, hash[:])
	require.NoError(t, err)
	return hex.EncodeToString(sig.Serialize())
}

func TestFindMagicRoutingHint(t *testing.T) {
	payeeKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	hintKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	t.Run("present", func(t *testing.T) {
		invoice := encodeInvoice(t, payeeKey, 100_000, hintKey.PubKey(), MagicRoutingHintChannelID)
		decoded, node, err := FindMagicRoutingHint(invoice, &chaincfg.MainNetParams)
		require.NoError(t, err)
		require.NotNil(t, decoded)
		require.NotNil(t, node)
		require.Equal(t, hintKey.PubKey().SerializeCompressed(), node.SerializeCompressed())
	})

	t.Run("ordinary hint is not magic", func(t *testing.T) {
		invoice := encodeInvoice(t, payeeKey, 100_000, hintKey.PubKey(), 123456)
		_, node, err := FindMagicRoutingHint(invoice, &chaincfg.MainNetParams)
		require.NoError(t, err)
		require.Nil(t, node)
	})

	t.Run("no hints", func(t *testing.T) {
		invoice := encodeInvoice(t, payeeKey, 100_000, nil, 0)
		_, node, err := FindMagicRoutingHint(invoice, &chaincfg.MainNetParams)
		require.NoError(t, err)
		require.Nil(t, node)
	})

	t.Run("garbage invoice", func(t *testing.T) {
		_, _, err := FindMagicRoutingHint("lnbc1notaninvoice", &chaincfg.MainNetParams)
		require.Error(t, err)
	})
}

func TestResolveDirectSettlement(t *testing.T) {
	payeeKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	hintKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	const address = "lq1qqw2ee9dtwsknzvpnkfsr2kpwg2nyzzltcqvnhpg0r43t2sxv6s8d"
	const invoiceSats = 100_000

	invoice := encodeInvoice(t, payeeKey, invoiceSats, hintKey.PubKey(), MagicRoutingHintChannelID)
	bip21 := func(amountBtc string, assetID string) string {
		return fmt.Sprintf("liquidnetwork:%s?amount=%s&assetid=%s", address, amountBtc, assetID)
	}

	t.Run("valid", func(t *testing.T) {
		resolver := newHintResolver(t, boltz.ReverseBip21{
			Bip21:     bip21("0.00099", testLbtcAssetID),
			Signature: signAddress(t, hintKey, address),
		})
		settlement, err := resolver.Resolve(invoice)
		require.NoError(t, err)
		require.NotNil(t, settlement)
		require.Equal(t, address, settlement.Address)
		require.Equal(t, uint64(99_000), settlement.AmountSats)
		require.Equal(t, testLbtcAssetID, settlement.AssetID)
	})

	t.Run("amount equal to invoice passes", func(t *testing.T) {
		resolver := newHintResolver(t, boltz.ReverseBip21{
			Bip21:     bip21("0.001", testLbtcAssetID),
			Signature: signAddress(t, hintKey, address),
		})
		settlement, err := resolver.Resolve(invoice)
		require.NoError(t, err)
		require.Equal(t, uint64(invoiceSats), settlement.AmountSats)
	})

	t.Run("amount above invoice rejected", func(t *testing.T) {
		resolver := newHintResolver(t, boltz.ReverseBip21{
			Bip21:     bip21("0.00100001", testLbtcAssetID),
			Signature: signAddress(t, hintKey, address),
		})
		_, err := resolver.Resolve(invoice)
		require.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("signature by wrong key rejected", func(t *testing.T) {
		wrongKey, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		resolver := newHintResolver(t, boltz.ReverseBip21{
			Bip21:     bip21("0.00099", testLbtcAssetID),
			Signature: signAddress(t, wrongKey, address),
		})
		_, err = resolver.Resolve(invoice)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("signature over different address rejected", func(t *testing.T) {
		resolver := newHintResolver(t, boltz.ReverseBip21{
			Bip21:     bip21("0.00099", testLbtcAssetID),
			Signature: signAddress(t, hintKey, "lq1qqothersettlementaddress"),
		})
		_, err := resolver.Resolve(invoice)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("wrong asset rejected", func(t *testing.T) {
		const usdt = "ce091c998b83c78bb71a632313ba3760f1763d9cfcffae02258ffa9865a37bd2"
		resolver := newHintResolver(t, boltz.ReverseBip21{
			Bip21:     bip21("0.00099", usdt),
			Signature: signAddress(t, hintKey, address),
		})
		_, err := resolver.Resolve(invoice)
		require.ErrorIs(t, err, ErrInvalidAsset)
	})

	t.Run("no hint short circuits without fetching", func(t *testing.T) {
		api := &boltz.Api{URL: "http://127.0.0.1:0"}
		resolver := NewMagicRoutingHintResolver(api, &chaincfg.MainNetParams, testLbtcAssetID)
		plain := encodeInvoice(t, payeeKey, invoiceSats, nil, 0)
		settlement, err := resolver.Resolve(plain)
		require.NoError(t, err)
		require.Nil(t, settlement)
	})
}

func TestParseBip21(t *testing.T) {
	address, sats, assetID, err := ParseBip21(
		"liquidnetwork:lq1qqaddr?amount=0.00123456&assetid=" + testLbtcAssetID,
	)
	require.NoError(t, err)
	require.Equal(t, "lq1qqaddr", address)
	require.Equal(t, uint64(123_456), sats)
	require.Equal(t, testLbtcAssetID, assetID)

	_, _, _, err = ParseBip21("liquidnetwork:lq1qqaddr")
	require.Error(t, err, "missing amount")

	_, _, _, err = ParseBip21("liquidnetwork:?amount=0.001")
	require.Error(t, err, "missing address")
}
