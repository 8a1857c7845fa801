package swap

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/AmbossTech/banco-swaps/internal/core/domain"
	"github.com/AmbossTech/banco-swaps/pkg/boltz"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/ccoveille/go-safecast"
	log "github.com/sirupsen/logrus"
)

// BtcEngine builds and cooperatively signs Bitcoin L1 claim transactions.
type BtcEngine struct {
	boltz   *boltz.Api
	net     *chaincfg.Params
	feeRate float64 // sat/vB for locally built claim transactions
}

func NewBtcEngine(api *boltz.Api, net *chaincfg.Params, feeRate float64) *BtcEngine {
	return &BtcEngine{boltz: api, net: net, feeRate: feeRate}
}

// ClaimSubmarine hands the provider our partial signature so it can sweep
// the lockup after paying the invoice. The preimage check is the anti-fraud
// gate: without it we would sign away the lockup for an unpaid invoice.
// We never broadcast here; the funds move to the provider.
func (e *BtcEngine) ClaimSubmarine(ctx context.Context, s *domain.Swap) error {
	req, ok := s.Request.(domain.SubmarineRequest)
	if !ok {
		return fmt.Errorf("swap %s: request is not a submarine request", s.ID)
	}
	resp, ok := s.Response.(domain.SubmarineResponse)
	if !ok {
		return fmt.Errorf("swap %s: response is not a submarine response", s.ID)
	}

	details, err := e.boltz.GetSubmarineClaimDetails(s.ProviderID)
	if err != nil {
		return fmt.Errorf("fetch submarine claim details: %w", err)
	}

	preimage, err := hex.DecodeString(details.Preimage)
	if err != nil {
		return fmt.Errorf("decode provider preimage: %w", err)
	}
	paymentHash, err := hex.DecodeString(req.PaymentHash)
	if err != nil {
		return fmt.Errorf("decode payment hash: %w", err)
	}
	preimageHash := sha256.Sum256(preimage)
	if !bytes.Equal(preimageHash[:], paymentHash) {
		return ErrPreimageMismatch
	}

	session, err := e.newSession(req.RefundPrivateKey, resp.ClaimPublicKey, resp.SwapTree)
	if err != nil {
		return err
	}
	if err := session.Aggregate(details.PubNonce); err != nil {
		return err
	}

	msg, err := parseSighash(details.TransactionHash)
	if err != nil {
		return err
	}
	partial, err := session.Sign(msg)
	if err != nil {
		return err
	}

	if err := e.boltz.SendSubmarineClaimSignature(s.ProviderID, boltz.PartialSignature{
		PubNonce:         session.PubNonce(),
		PartialSignature: partial,
	}); err != nil {
		return fmt.Errorf("send submarine claim signature: %w", err)
	}

	log.Infof("cooperatively signed submarine claim for swap %s", s.ID)
	return nil
}

// ClaimReverse sweeps the provider's lockup to our destination address.
func (e *BtcEngine) ClaimReverse(ctx context.Context, s *domain.Swap) error {
	req, ok := s.Request.(domain.ReverseRequest)
	if !ok {
		return fmt.Errorf("swap %s: request is not a reverse request", s.ID)
	}
	resp, ok := s.Response.(domain.ReverseResponse)
	if !ok {
		return fmt.Errorf("swap %s: response is not a reverse response", s.ID)
	}

	lockup, err := e.boltz.GetReverseTransaction(s.ProviderID)
	if err != nil {
		return fmt.Errorf("fetch lockup transaction: %w", err)
	}

	session, err := e.newSession(req.ClaimPrivateKey, resp.RefundPublicKey, resp.SwapTree)
	if err != nil {
		return err
	}

	claimTx, prevOut, prevOutPoint, err := e.buildClaimTx(
		lockup.Hex, session, req.DestinationAddress,
	)
	if err != nil {
		return err
	}

	msg, err := taprootSighash(claimTx, 0, prevOut, prevOutPoint)
	if err != nil {
		return err
	}

	txHex, err := serializeTx(claimTx)
	if err != nil {
		return err
	}
	theirs, err := e.boltz.GetReverseClaimSignature(s.ProviderID, boltz.ReverseClaimRequest{
		Index:       0,
		Transaction: txHex,
		Preimage:    req.Preimage,
		PubNonce:    session.PubNonce(),
	})
	if err != nil {
		return fmt.Errorf("fetch reverse claim signature: %w", err)
	}

	if err := finalizeKeyPath(claimTx, session, msg, theirs); err != nil {
		return err
	}

	return e.broadcast(claimTx, s.ID)
}

// ClaimChain claims the server-locked leg of a chain swap and, in the same
// exchange, gives the provider our cooperative signature for the leg we
// funded. The claim leg uses the claim key over claimDetails, the refund leg
// the refund key over lockupDetails; swapping the roles produces signatures
// over the wrong tree.
func (e *BtcEngine) ClaimChain(ctx context.Context, s *domain.Swap) error {
	req, ok := s.Request.(domain.ChainRequest)
	if !ok {
		return fmt.Errorf("swap %s: request is not a chain request", s.ID)
	}
	resp, ok := s.Response.(domain.ChainResponse)
	if !ok {
		return fmt.Errorf("swap %s: response is not a chain response", s.ID)
	}
	if resp.ClaimDetails == nil || resp.LockupDetails == nil {
		return fmt.Errorf("swap %s: chain swap response is missing leg details", s.ID)
	}

	txs, err := e.boltz.GetChainTransactions(s.ProviderID)
	if err != nil {
		return fmt.Errorf("fetch chain swap transactions: %w", err)
	}
	if txs.ServerLock == nil {
		return fmt.Errorf("swap %s: server lockup not available yet", s.ID)
	}

	claimSession, err := e.newSession(
		req.ClaimPrivateKey, resp.ClaimDetails.ServerPublicKey, resp.ClaimDetails.SwapTree,
	)
	if err != nil {
		return err
	}

	claimTx, prevOut, prevOutPoint, err := e.buildClaimTx(
		txs.ServerLock.Transaction.Hex, claimSession, req.DestinationAddress,
	)
	if err != nil {
		return err
	}
	claimMsg, err := taprootSighash(claimTx, 0, prevOut, prevOutPoint)
	if err != nil {
		return err
	}

	// Refund leg: the provider sweeps our lockup and needs our partial
	// signature over its transaction hash.
	serverDetails, err := e.boltz.GetChainClaimDetails(s.ProviderID)
	if err != nil {
		return fmt.Errorf("fetch chain claim details: %w", err)
	}
	refundSession, err := e.newSession(
		req.RefundPrivateKey, resp.LockupDetails.ServerPublicKey, resp.LockupDetails.SwapTree,
	)
	if err != nil {
		return err
	}
	if err := refundSession.Aggregate(serverDetails.PubNonce); err != nil {
		return err
	}
	refundMsg, err := parseSighash(serverDetails.TransactionHash)
	if err != nil {
		return err
	}
	refundPartial, err := refundSession.Sign(refundMsg)
	if err != nil {
		return err
	}

	claimTxHex, err := serializeTx(claimTx)
	if err != nil {
		return err
	}
	theirs, err := e.boltz.SendChainClaim(s.ProviderID, boltz.ChainClaimRequest{
		Preimage: req.Preimage,
		Signature: &boltz.PartialSignature{
			PubNonce:         refundSession.PubNonce(),
			PartialSignature: refundPartial,
		},
		ToSign: &boltz.ToSign{
			PubNonce:    claimSession.PubNonce(),
			Transaction: claimTxHex,
			Index:       0,
		},
	})
	if err != nil {
		return fmt.Errorf("exchange chain claim signatures: %w", err)
	}

	if err := finalizeKeyPath(claimTx, claimSession, claimMsg, theirs); err != nil {
		return err
	}

	return e.broadcast(claimTx, s.ID)
}

func (e *BtcEngine) newSession(privKeyHex, serverKeyHex string, tree boltz.SwapTree) (*Session, error) {
	privBytes, err := hex.DecodeString(privKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode ephemeral key: %w", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(privBytes)

	serverKey, err := parsePubkey(serverKeyHex)
	if err != nil {
		return nil, err
	}

	root, err := TreeRoot(tree)
	if err != nil {
		return nil, err
	}
	return NewSession(priv, serverKey, root)
}

// buildClaimTx locates our output in the lockup transaction and constructs a
// single-input sweep to destination, with the fee converged against the
// configured rate.
func (e *BtcEngine) buildClaimTx(
	lockupHex string, session *Session, destination string,
) (*wire.MsgTx, *wire.TxOut, wire.OutPoint, error) {
	lockupTx := wire.NewMsgTx(wire.TxVersion)
	raw, err := hex.DecodeString(lockupHex)
	if err != nil {
		return nil, nil, wire.OutPoint{}, fmt.Errorf("decode lockup tx: %w", err)
	}
	if err := lockupTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, nil, wire.OutPoint{}, fmt.Errorf("deserialize lockup tx: %w", err)
	}

	outputKey, err := session.OutputKey()
	if err != nil {
		return nil, nil, wire.OutPoint{}, err
	}
	swapScript, err := txscript.PayToTaprootScript(outputKey)
	if err != nil {
		return nil, nil, wire.OutPoint{}, fmt.Errorf("build swap script: %w", err)
	}

	vout := -1
	for i, out := range lockupTx.TxOut {
		if bytes.Equal(out.PkScript, swapScript) {
			vout = i
			break
		}
	}
	if vout < 0 {
		return nil, nil, wire.OutPoint{}, ErrNoSwapOutput
	}
	prevOut := lockupTx.TxOut[vout]

	addr, err := btcutil.DecodeAddress(destination, e.net)
	if err != nil {
		return nil, nil, wire.OutPoint{}, fmt.Errorf("decode destination address: %w", err)
	}
	destScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, nil, wire.OutPoint{}, fmt.Errorf("build destination script: %w", err)
	}

	voutIdx, err := safecast.ToUint32(vout)
	if err != nil {
		return nil, nil, wire.OutPoint{}, err
	}
	prevOutPoint := wire.OutPoint{Hash: lockupTx.TxHash(), Index: voutIdx}

	var claimTx *wire.MsgTx
	buildWithFee := func(fee uint64) (int, error) {
		feeInt, err := safecast.ToInt64(fee)
		if err != nil {
			return 0, err
		}
		if feeInt >= prevOut.Value {
			return 0, fmt.Errorf("fee %d swallows lockup value %d", fee, prevOut.Value)
		}

		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxIn(wire.NewTxIn(&prevOutPoint, nil, nil))
		tx.AddTxOut(wire.NewTxOut(prevOut.Value-feeInt, destScript))
		// key-path spend witness is always a single 64-byte signature
		tx.TxIn[0].Witness = wire.TxWitness{make([]byte, 64)}

		claimTx = tx
		return txVirtualSize(tx), nil
	}
	if _, err := ConvergeFee(e.feeRate, buildWithFee); err != nil {
		return nil, nil, wire.OutPoint{}, err
	}

	claimTx.TxIn[0].Witness = nil
	return claimTx, prevOut, prevOutPoint, nil
}

func (e *BtcEngine) broadcast(tx *wire.MsgTx, swapID string) error {
	txHex, err := serializeTx(tx)
	if err != nil {
		return err
	}
	resp, err := e.boltz.BroadcastTransaction(boltz.CurrencyBtc, txHex)
	if err != nil {
		return fmt.Errorf("broadcast claim tx: %w", err)
	}
	log.Infof("broadcast claim tx %s for swap %s", resp.ID, swapID)
	return nil
}

// finalizeKeyPath combines both partial signatures and attaches the key-path
// witness to input 0.
func finalizeKeyPath(tx *wire.MsgTx, session *Session, msg [32]byte, theirs *boltz.PartialSignature) error {
	if err := session.Aggregate(theirs.PubNonce); err != nil {
		return err
	}
	if err := session.AddServerSignature(theirs.PartialSignature); err != nil {
		return err
	}
	sig, err := session.Finalize(msg)
	if err != nil {
		return err
	}
	tx.TxIn[0].Witness = wire.TxWitness{sig.Serialize()}
	return nil
}

// taprootSighash computes the BIP341 key-path sighash for the given input.
func taprootSighash(
	tx *wire.MsgTx, inputIndex int, prevOut *wire.TxOut, prevOutPoint wire.OutPoint,
) ([32]byte, error) {
	var msg [32]byte
	fetcher := txscript.NewMultiPrevOutFetcher(map[wire.OutPoint]*wire.TxOut{
		prevOutPoint: prevOut,
	})
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	hash, err := txscript.CalcTaprootSignatureHash(
		sigHashes, txscript.SigHashDefault, tx, inputIndex, fetcher,
	)
	if err != nil {
		return msg, fmt.Errorf("CalcTaprootSignatureHash: %w", err)
	}
	copy(msg[:], hash)
	return msg, nil
}

func parsePubkey(pubkeyHex string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode pubkey: %w", err)
	}
	pk, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("parse pubkey: %w", err)
	}
	return pk, nil
}

func parseSighash(hashHex string) ([32]byte, error) {
	var msg [32]byte
	b, err := hex.DecodeString(hashHex)
	if err != nil {
		return msg, fmt.Errorf("decode transaction hash: %w", err)
	}
	if len(b) != chainhash.HashSize {
		return msg, fmt.Errorf("invalid transaction hash len: got %d want 32", len(b))
	}
	copy(msg[:], b)
	return msg, nil
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serialize tx: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// txVirtualSize is ceil(weight / 4) with weight = stripped*3 + total.
func txVirtualSize(tx *wire.MsgTx) int {
	weight := tx.SerializeSizeStripped()*3 + tx.SerializeSize()
	return (weight + 3) / 4
}
