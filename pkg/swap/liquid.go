package swap

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/AmbossTech/banco-swaps/internal/core/domain"
	"github.com/AmbossTech/banco-swaps/pkg/boltz"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/ccoveille/go-safecast"
	"github.com/vulpemventures/go-elements/address"
	"github.com/vulpemventures/go-elements/confidential"
	"github.com/vulpemventures/go-elements/elementsutil"
	"github.com/vulpemventures/go-elements/network"
	"github.com/vulpemventures/go-elements/transaction"

	log "github.com/sirupsen/logrus"
)

// Liquid taproot sighashes commit to the genesis block hash of the chain
// being signed for, unlike Bitcoin.
var liquidGenesisHashes = map[string]string{
	network.Liquid.Name:  "1466275836220db2944ca059a3a10ef6fd2ea684b0688d2c379296888a206003",
	network.Testnet.Name: "a771da8e52ee6ad581ed1e9a99825e5b3b7992225534eaa2ae23244fe26ab1c1",
	network.Regtest.Name: "00902a6b70c2ca83b5d9c815d96a0e2f4202179316970d14ea1847dae5b1ca21",
}

// LiquidEngine builds and cooperatively signs Liquid claim transactions.
// Unlike the Bitcoin engine it unblinds the lockup with the provider's
// blinding key and re-blinds the claim output to the destination's blinding
// key, so the swept amount stays confidential.
type LiquidEngine struct {
	boltz   *boltz.Api
	net     *network.Network
	genesis chainhash.Hash
	feeRate float64 // sat/vB
}

func NewLiquidEngine(api *boltz.Api, net *network.Network, feeRate float64) (*LiquidEngine, error) {
	genesisHex, ok := liquidGenesisHashes[net.Name]
	if !ok {
		return nil, fmt.Errorf("unknown liquid network %q", net.Name)
	}
	genesis, err := chainhash.NewHashFromStr(genesisHex)
	if err != nil {
		return nil, fmt.Errorf("parse genesis hash: %w", err)
	}
	return &LiquidEngine{boltz: api, net: net, genesis: *genesis, feeRate: feeRate}, nil
}

// ClaimSubmarine is a no-op: submarine claims sign a provider-supplied hash
// and carry no chain-specific transaction work, so they are handled by the
// Bitcoin engine for both chains.
func (e *LiquidEngine) ClaimSubmarine(ctx context.Context, s *domain.Swap) error {
	log.Debugf("liquid submarine claim for swap %s delegated to bitcoin engine", s.ID)
	return nil
}

func (e *LiquidEngine) ClaimReverse(ctx context.Context, s *domain.Swap) error {
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

	claim, err := e.buildClaimTx(
		lockup.Hex, session, resp.BlindingKey, req.DestinationAddress,
	)
	if err != nil {
		return err
	}

	txHex, err := claim.tx.ToHex()
	if err != nil {
		return fmt.Errorf("serialize claim tx: %w", err)
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

	if err := e.finalizeKeyPath(claim, session, theirs); err != nil {
		return err
	}
	return e.broadcast(claim.tx, s.ID)
}

func (e *LiquidEngine) ClaimChain(ctx context.Context, s *domain.Swap) error {
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
	claim, err := e.buildClaimTx(
		txs.ServerLock.Transaction.Hex, claimSession,
		resp.ClaimDetails.BlindingKey, req.DestinationAddress,
	)
	if err != nil {
		return err
	}

	// Refund leg: our cooperative signature over the provider's sweep of the
	// lockup we funded. Hash-only signing, identical on both chains.
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

	claimTxHex, err := claim.tx.ToHex()
	if err != nil {
		return fmt.Errorf("serialize claim tx: %w", err)
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

	if err := e.finalizeKeyPath(claim, claimSession, theirs); err != nil {
		return err
	}
	return e.broadcast(claim.tx, s.ID)
}

func (e *LiquidEngine) newSession(privKeyHex, serverKeyHex string, tree boltz.SwapTree) (*Session, error) {
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

// liquidClaim carries a built claim transaction together with everything the
// sighash needs to commit to: the prevout's script and its asset/value
// commitments exactly as they appear on chain.
type liquidClaim struct {
	tx         *transaction.Transaction
	prevScript []byte
	prevAsset  []byte
	prevValue  []byte
}

func (e *LiquidEngine) buildClaimTx(
	lockupHex string, session *Session, lockupBlindingKey, destination string,
) (*liquidClaim, error) {
	lockupTx, err := transaction.NewTxFromHex(lockupHex)
	if err != nil {
		return nil, fmt.Errorf("parse lockup tx: %w", err)
	}

	outputKey, err := session.OutputKey()
	if err != nil {
		return nil, err
	}
	swapScript, err := txscript.PayToTaprootScript(outputKey)
	if err != nil {
		return nil, fmt.Errorf("build swap script: %w", err)
	}

	vout := -1
	for i, out := range lockupTx.Outputs {
		if bytes.Equal(out.Script, swapScript) {
			vout = i
			break
		}
	}
	if vout < 0 {
		return nil, ErrNoSwapOutput
	}
	lockupOut := lockupTx.Outputs[vout]

	blindKey, err := hex.DecodeString(lockupBlindingKey)
	if err != nil {
		return nil, fmt.Errorf("decode lockup blinding key: %w", err)
	}
	unblinded, err := confidential.UnblindOutputWithKey(lockupOut, blindKey)
	if err != nil {
		return nil, fmt.Errorf("unblind lockup output: %w", err)
	}

	voutIdx, err := safecast.ToUint32(vout)
	if err != nil {
		return nil, err
	}
	lockupHash := lockupTx.TxHash()
	input := transaction.NewTxInput(lockupHash[:], voutIdx)

	// Two passes: size the transaction with a draft at zero fee, then
	// rebuild with the converged fee. Range proof sizes jitter by a few
	// bytes between blindings, so exact fixpoint iteration is not possible
	// here the way it is on Bitcoin.
	draft, err := e.assembleClaim(input, unblinded, 0, destination)
	if err != nil {
		return nil, err
	}
	fee := uint64(math.Ceil(float64(draft.VirtualSize()) * e.feeRate))
	if fee >= unblinded.Value {
		return nil, fmt.Errorf("fee %d swallows lockup value %d", fee, unblinded.Value)
	}
	tx, err := e.assembleClaim(input, unblinded, fee, destination)
	if err != nil {
		return nil, err
	}

	return &liquidClaim{
		tx:         tx,
		prevScript: swapScript,
		prevAsset:  lockupOut.Asset,
		prevValue:  lockupOut.Value,
	}, nil
}

// assembleClaim builds the claim transaction paying value-fee to the
// destination, with a confidential output when the address carries a
// blinding key, plus the explicit fee output Liquid requires.
func (e *LiquidEngine) assembleClaim(
	input *transaction.TxInput,
	unblinded *confidential.UnblindOutputResult,
	fee uint64,
	destination string,
) (*transaction.Transaction, error) {
	destScript, err := address.ToOutputScript(destination)
	if err != nil {
		return nil, fmt.Errorf("decode destination address: %w", err)
	}

	destValue := unblinded.Value - fee
	var destOutput *transaction.TxOutput
	if conf, err := address.FromConfidential(destination); err == nil {
		destOutput, err = e.blindOutput(destValue, unblinded, destScript, conf.BlindingKey)
		if err != nil {
			return nil, err
		}
	} else {
		valueBytes, err := elementsutil.ValueToBytes(destValue)
		if err != nil {
			return nil, fmt.Errorf("encode output value: %w", err)
		}
		destOutput = transaction.NewTxOutput(
			explicitAsset(unblinded.Asset), valueBytes, destScript,
		)
	}

	feeValue, err := elementsutil.ValueToBytes(fee)
	if err != nil {
		return nil, fmt.Errorf("encode fee value: %w", err)
	}
	feeOutput := transaction.NewTxOutput(explicitAsset(unblinded.Asset), feeValue, nil)

	tx := transaction.NewTx(2)
	tx.Inputs = append(tx.Inputs, input)
	tx.Outputs = append(tx.Outputs, destOutput, feeOutput)
	// key-path spend witness placeholder so size estimation is honest
	tx.Inputs[0].Witness = transaction.TxWitness{make([]byte, 64)}
	return tx, nil
}

// blindOutput produces a confidential output for the destination: value and
// asset commitments, a range proof decodable with the destination blinding
// key, and a surjection proof rooted in the lockup's asset.
func (e *LiquidEngine) blindOutput(
	value uint64,
	unblinded *confidential.UnblindOutputResult,
	script []byte,
	blindingPubKey []byte,
) (*transaction.TxOutput, error) {
	assetBlinder, err := random32()
	if err != nil {
		return nil, err
	}
	valueBlinder, err := random32()
	if err != nil {
		return nil, err
	}

	assetCommitment, err := confidential.AssetCommitment(unblinded.Asset, assetBlinder[:])
	if err != nil {
		return nil, fmt.Errorf("asset commitment: %w", err)
	}
	valueCommitment, err := confidential.ValueCommitment(value, assetCommitment, valueBlinder[:])
	if err != nil {
		return nil, fmt.Errorf("value commitment: %w", err)
	}

	ephemeralKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral blinding key: %w", err)
	}
	nonce, err := confidential.NonceHash(blindingPubKey, ephemeralKey.Serialize())
	if err != nil {
		return nil, fmt.Errorf("nonce hash: %w", err)
	}

	rangeProof, err := confidential.RangeProof(confidential.RangeProofArgs{
		Value:               value,
		Nonce:               nonce,
		Asset:               unblinded.Asset,
		AssetBlindingFactor: assetBlinder[:],
		ValueBlindFactor:    valueBlinder,
		ValueCommit:         valueCommitment,
		ScriptPubkey:        script,
		MinValue:            1,
		Exp:                 0,
		MinBits:             52,
	})
	if err != nil {
		return nil, fmt.Errorf("range proof: %w", err)
	}

	seed, err := random32()
	if err != nil {
		return nil, err
	}
	surjectionProof, ok := confidential.SurjectionProof(confidential.SurjectionProofArgs{
		OutputAsset:               unblinded.Asset,
		OutputAssetBlindingFactor: assetBlinder[:],
		InputAssets:               [][]byte{unblinded.Asset},
		InputAssetBlindingFactors: [][]byte{unblinded.AssetBlindingFactor},
		Seed:                      seed[:],
	})
	if !ok {
		return nil, fmt.Errorf("surjection proof generation failed")
	}

	out := transaction.NewTxOutput(assetCommitment, valueCommitment, script)
	out.Nonce = ephemeralKey.PubKey().SerializeCompressed()
	out.RangeProof = rangeProof
	out.SurjectionProof = surjectionProof
	return out, nil
}

// finalizeKeyPath computes the genesis-bound taproot sighash, runs the
// cooperative signature exchange to completion and attaches the witness.
func (e *LiquidEngine) finalizeKeyPath(
	claim *liquidClaim, session *Session, theirs *boltz.PartialSignature,
) error {
	msg := claim.tx.HashForWitnessV1(
		0,
		[][]byte{claim.prevScript},
		[][]byte{claim.prevAsset},
		[][]byte{claim.prevValue},
		txscript.SigHashDefault,
		&e.genesis,
		nil,
		nil,
	)

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
	claim.tx.Inputs[0].Witness = transaction.TxWitness{sig.Serialize()}
	return nil
}

func (e *LiquidEngine) broadcast(tx *transaction.Transaction, swapID string) error {
	txHex, err := tx.ToHex()
	if err != nil {
		return fmt.Errorf("serialize claim tx: %w", err)
	}
	resp, err := e.boltz.BroadcastTransaction(boltz.CurrencyLiquid, txHex)
	if err != nil {
		return fmt.Errorf("broadcast claim tx: %w", err)
	}
	log.Infof("broadcast liquid claim tx %s for swap %s", resp.ID, swapID)
	return nil
}

// explicitAsset prefixes a raw asset tag for use in an unblinded output.
func explicitAsset(asset []byte) []byte {
	return append([]byte{0x01}, asset...)
}

func random32() ([32]byte, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return b, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}
