package swap

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AmbossTech/banco-swaps/internal/core/domain"
	"github.com/AmbossTech/banco-swaps/pkg/boltz"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// providerSign produces the provider half of a cooperative signature the way
// the real server does: same keyset order, same taproot tweak, partial sent
// as a bare 32-byte scalar.
func providerSign(
	t *testing.T, serverKey, ourKey *btcec.PrivateKey, root []byte,
	ourNonceHex string, msg [32]byte,
) boltz.PartialSignature {
	t.Helper()

	serverNonces, err := musig2.GenNonces(musig2.WithPublicKey(serverKey.PubKey()))
	require.NoError(t, err)

	ourNonce, err := parsePubNonce(ourNonceHex)
	require.NoError(t, err)
	combined, err := musig2.AggregateNonces([][66]byte{serverNonces.PubNonce, ourNonce})
	require.NoError(t, err)

	keys := []*btcec.PublicKey{serverKey.PubKey(), ourKey.PubKey()}
	partial, err := musig2.Sign(
		serverNonces.SecNonce, serverKey, combined, keys, msg,
		musig2.WithTaprootSignTweak(root), musig2.WithFastSign(),
	)
	require.NoError(t, err)

	return boltz.PartialSignature{
		PubNonce:         hex.EncodeToString(serverNonces.PubNonce[:]),
		PartialSignature: hex.EncodeToString(serializeScalar(partial.S)),
	}
}

func submarineSwap(t *testing.T, ourKey *btcec.PrivateKey, serverPub string, paymentHash []byte) *domain.Swap {
	t.Helper()
	s, err := domain.NewSwap("acct-1", "sub1",
		domain.SubmarineRequest{
			RefundPrivateKey: hex.EncodeToString(ourKey.Serialize()),
			PaymentHash:      hex.EncodeToString(paymentHash),
		},
		domain.SubmarineResponse{CreateSubmarineResponse: boltz.CreateSubmarineResponse{
			ID:             "sub1",
			ClaimPublicKey: serverPub,
			SwapTree:       testTree(),
		}},
	)
	require.NoError(t, err)
	return s
}

func TestClaimSubmarinePreimageMismatch(t *testing.T) {
	ourKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	serverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	paymentHash := randomBytes(t, 32)
	wrongPreimage := randomBytes(t, 32)

	posts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v2/swap/submarine/sub1/claim":
			serverNonces, err := musig2.GenNonces(musig2.WithPublicKey(serverKey.PubKey()))
			require.NoError(t, err)
			require.NoError(t, json.NewEncoder(w).Encode(boltz.SubmarineClaimDetails{
				Preimage:        hex.EncodeToString(wrongPreimage),
				PubNonce:        hex.EncodeToString(serverNonces.PubNonce[:]),
				PublicKey:       hex.EncodeToString(serverKey.PubKey().SerializeCompressed()),
				TransactionHash: hex.EncodeToString(randomBytes(t, 32)),
			}))
		case r.Method == http.MethodPost:
			posts++
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	engine := NewBtcEngine(&boltz.Api{URL: srv.URL}, &chaincfg.RegressionNetParams, 2)
	swap := submarineSwap(t, ourKey, hex.EncodeToString(serverKey.PubKey().SerializeCompressed()), paymentHash)

	err = engine.ClaimSubmarine(context.Background(), swap)
	require.ErrorIs(t, err, ErrPreimageMismatch)
	require.Zero(t, posts, "no signature may leave the process on a preimage mismatch")
}

func TestClaimSubmarineCooperative(t *testing.T) {
	ourKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	serverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	preimage := randomBytes(t, 32)
	paymentHash := sha256.Sum256(preimage)

	root, err := TreeRoot(testTree())
	require.NoError(t, err)
	keys := []*btcec.PublicKey{serverKey.PubKey(), ourKey.PubKey()}

	var txHash [32]byte
	copy(txHash[:], randomBytes(t, 32))

	serverNonces, err := musig2.GenNonces(musig2.WithPublicKey(serverKey.PubKey()))
	require.NoError(t, err)

	verified := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v2/swap/submarine/sub1/claim":
			require.NoError(t, json.NewEncoder(w).Encode(boltz.SubmarineClaimDetails{
				Preimage:        hex.EncodeToString(preimage),
				PubNonce:        hex.EncodeToString(serverNonces.PubNonce[:]),
				PublicKey:       hex.EncodeToString(serverKey.PubKey().SerializeCompressed()),
				TransactionHash: hex.EncodeToString(txHash[:]),
			}))
		case r.Method == http.MethodPost && r.URL.Path == "/v2/swap/submarine/sub1/claim":
			var sig boltz.PartialSignature
			require.NoError(t, json.NewDecoder(r.Body).Decode(&sig))

			// Complete the combine server side to prove our partial verifies.
			ourNonce, err := parsePubNonce(sig.PubNonce)
			require.NoError(t, err)
			combined, err := musig2.AggregateNonces([][66]byte{serverNonces.PubNonce, ourNonce})
			require.NoError(t, err)
			serverPartial, err := musig2.Sign(
				serverNonces.SecNonce, serverKey, combined, keys, txHash,
				musig2.WithTaprootSignTweak(root), musig2.WithFastSign(),
			)
			require.NoError(t, err)

			ourScalar, err := hex.DecodeString(sig.PartialSignature)
			require.NoError(t, err)
			require.Len(t, ourScalar, 32)
			var s btcec.ModNScalar
			_ = s.SetByteSlice(ourScalar)
			ourPartial := &musig2.PartialSignature{S: &s, R: serverPartial.R}

			final := musig2.CombineSigs(
				serverPartial.R,
				[]*musig2.PartialSignature{serverPartial, ourPartial},
				musig2.WithTaprootTweakedCombine(txHash, keys, root, false),
			)

			aggKey, _, _, err := musig2.AggregateKeys(keys, false)
			require.NoError(t, err)
			outputKey := txscript.ComputeTaprootOutputKey(aggKey.FinalKey, root)
			require.True(t, final.Verify(txHash[:], outputKey))
			verified = true
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	engine := NewBtcEngine(&boltz.Api{URL: srv.URL}, &chaincfg.RegressionNetParams, 2)
	swap := submarineSwap(t, ourKey, hex.EncodeToString(serverKey.PubKey().SerializeCompressed()), paymentHash[:])

	require.NoError(t, engine.ClaimSubmarine(context.Background(), swap))
	require.True(t, verified)
}

// Full reverse claim round trip: the simulated provider serves its lockup,
// countersigns our claim transaction and checks that the broadcast carries a
// valid key-path witness for the swap output.
func TestClaimReverse(t *testing.T) {
	ourKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	serverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	tree := testTree()
	root, err := TreeRoot(tree)
	require.NoError(t, err)

	aggKey, _, _, err := musig2.AggregateKeys(
		[]*btcec.PublicKey{serverKey.PubKey(), ourKey.PubKey()}, false,
	)
	require.NoError(t, err)
	outputKey := txscript.ComputeTaprootOutputKey(aggKey.FinalKey, root)
	swapScript, err := txscript.PayToTaprootScript(outputKey)
	require.NoError(t, err)

	lockupTx := wire.NewMsgTx(wire.TxVersion)
	lockupTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	lockupTx.AddTxOut(wire.NewTxOut(100_000, swapScript))
	var lockupBuf bytes.Buffer
	require.NoError(t, lockupTx.Serialize(&lockupBuf))

	prevOutPoint := wire.OutPoint{Hash: lockupTx.TxHash(), Index: 0}
	prevOut := lockupTx.TxOut[0]

	destKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	destAddr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(destKey.PubKey().SerializeCompressed()),
		&chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	preimage := hex.EncodeToString(randomBytes(t, 32))

	broadcasts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v2/swap/reverse/rev1/transaction":
			require.NoError(t, json.NewEncoder(w).Encode(boltz.TransactionResponse{
				Hex: hex.EncodeToString(lockupBuf.Bytes()),
			}))

		case r.Method == http.MethodPost && r.URL.Path == "/v2/swap/reverse/rev1/claim":
			var req boltz.ReverseClaimRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, preimage, req.Preimage)

			raw, err := hex.DecodeString(req.Transaction)
			require.NoError(t, err)
			claimTx := wire.NewMsgTx(wire.TxVersion)
			require.NoError(t, claimTx.Deserialize(bytes.NewReader(raw)))

			msg, err := taprootSighash(claimTx, req.Index, prevOut, prevOutPoint)
			require.NoError(t, err)

			sig := providerSign(t, serverKey, ourKey, root, req.PubNonce, msg)
			require.NoError(t, json.NewEncoder(w).Encode(sig))

		case r.Method == http.MethodPost && r.URL.Path == "/v2/chain/BTC/transaction":
			var req boltz.BroadcastRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			raw, err := hex.DecodeString(req.Hex)
			require.NoError(t, err)
			tx := wire.NewMsgTx(wire.TxVersion)
			require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))

			require.Len(t, tx.TxIn, 1)
			require.Equal(t, prevOutPoint, tx.TxIn[0].PreviousOutPoint)
			require.Len(t, tx.TxIn[0].Witness, 1)

			msg, err := taprootSighash(tx, 0, prevOut, prevOutPoint)
			require.NoError(t, err)
			witnessSig, err := schnorr.ParseSignature(tx.TxIn[0].Witness[0])
			require.NoError(t, err)
			require.True(t, witnessSig.Verify(msg[:], outputKey),
				"witness must be a valid key-path signature for the swap output")

			require.Len(t, tx.TxOut, 1)
			require.Less(t, tx.TxOut[0].Value, prevOut.Value)
			require.Greater(t, tx.TxOut[0].Value, prevOut.Value-1000)

			broadcasts++
			require.NoError(t, json.NewEncoder(w).Encode(boltz.BroadcastResponse{
				ID: tx.TxHash().String(),
			}))

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	engine := NewBtcEngine(&boltz.Api{URL: srv.URL}, &chaincfg.RegressionNetParams, 2)

	swap, err := domain.NewSwap("acct-1", "rev1",
		domain.ReverseRequest{
			ClaimPrivateKey:    hex.EncodeToString(ourKey.Serialize()),
			Preimage:           preimage,
			DestinationAddress: destAddr.EncodeAddress(),
		},
		domain.ReverseResponse{CreateReverseResponse: boltz.CreateReverseResponse{
			ID:              "rev1",
			RefundPublicKey: hex.EncodeToString(serverKey.PubKey().SerializeCompressed()),
			SwapTree:        tree,
		}},
	)
	require.NoError(t, err)

	require.NoError(t, engine.ClaimReverse(context.Background(), swap))
	require.Equal(t, 1, broadcasts)
}

func TestClaimReverseNoSwapOutput(t *testing.T) {
	ourKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	serverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	// Lockup pays an unrelated script.
	lockupTx := wire.NewMsgTx(wire.TxVersion)
	lockupTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	lockupTx.AddTxOut(wire.NewTxOut(100_000, randomBytes(t, 34)))
	var lockupBuf bytes.Buffer
	require.NoError(t, lockupTx.Serialize(&lockupBuf))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(boltz.TransactionResponse{
			Hex: hex.EncodeToString(lockupBuf.Bytes()),
		}))
	}))
	t.Cleanup(srv.Close)

	engine := NewBtcEngine(&boltz.Api{URL: srv.URL}, &chaincfg.RegressionNetParams, 2)

	destKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	destAddr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(destKey.PubKey().SerializeCompressed()),
		&chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	swap, err := domain.NewSwap("acct-1", "rev2",
		domain.ReverseRequest{
			ClaimPrivateKey:    hex.EncodeToString(ourKey.Serialize()),
			Preimage:           hex.EncodeToString(randomBytes(t, 32)),
			DestinationAddress: destAddr.EncodeAddress(),
		},
		domain.ReverseResponse{CreateReverseResponse: boltz.CreateReverseResponse{
			ID:              "rev2",
			RefundPublicKey: hex.EncodeToString(serverKey.PubKey().SerializeCompressed()),
			SwapTree:        testTree(),
		}},
	)
	require.NoError(t, err)

	err = engine.ClaimReverse(context.Background(), swap)
	require.ErrorIs(t, err, ErrNoSwapOutput)
}
