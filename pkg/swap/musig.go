package swap

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/txscript"
)

// Session holds the state of one cooperative 2-of-2 MuSig2 exchange with the
// provider. It lives only for the duration of a single claim and is never
// persisted.
//
// The flow, for both transaction formats:
//   - GenNonces (keep SecNonce + PubNonce)
//   - exchange pub nonces with the provider
//   - AggregateNonces
//   - musig2.Sign(... WithTaprootSignTweak(treeRoot) ...)
//   - musig2.CombineSigs(... WithTaprootTweakedCombine(...)) when we are the
//     one assembling the witness
type Session struct {
	privateKey *btcec.PrivateKey
	publicKey  *btcec.PublicKey
	serverKey  *btcec.PublicKey

	// treeRoot is the taproot script root of the swap tree; every sign and
	// combine call must carry the same tweak or the signature verifies
	// against the wrong output key.
	treeRoot []byte

	ourNonces      *musig2.Nonces
	combinedNonce  [66]byte
	haveCombined   bool
	theirPartial   *musig2.PartialSignature
	ourPartial     *musig2.PartialSignature
}

// NewSession creates a cooperative signing session. The provider's key comes
// first in the keyset; the provider expects that ordering when aggregating.
func NewSession(ourKey *btcec.PrivateKey, serverKey *btcec.PublicKey, treeRoot []byte) (*Session, error) {
	if ourKey == nil {
		return nil, fmt.Errorf("nil private key")
	}
	if serverKey == nil {
		return nil, fmt.Errorf("nil server public key")
	}
	if len(treeRoot) != 32 {
		return nil, fmt.Errorf("invalid tree root len: got %d want 32", len(treeRoot))
	}

	nonces, err := musig2.GenNonces(musig2.WithPublicKey(ourKey.PubKey()))
	if err != nil {
		return nil, fmt.Errorf("musig2.GenNonces: %w", err)
	}

	return &Session{
		privateKey: ourKey,
		publicKey:  ourKey.PubKey(),
		serverKey:  serverKey,
		treeRoot:   treeRoot,
		ourNonces:  nonces,
	}, nil
}

// Keys returns the signer keyset in canonical order: server first.
func (s *Session) Keys() []*btcec.PublicKey {
	return []*btcec.PublicKey{s.serverKey, s.publicKey}
}

// PubNonce is our public nonce, hex encoded for the provider API.
func (s *Session) PubNonce() string {
	return hex.EncodeToString(s.ourNonces.PubNonce[:])
}

// Aggregate combines our nonce with the provider's.
func (s *Session) Aggregate(serverNonceHex string) error {
	serverNonce, err := parsePubNonce(serverNonceHex)
	if err != nil {
		return err
	}

	combined, err := musig2.AggregateNonces([][66]byte{
		s.ourNonces.PubNonce,
		serverNonce,
	})
	if err != nil {
		return fmt.Errorf("musig2.AggregateNonces: %w", err)
	}

	s.combinedNonce = combined
	s.haveCombined = true
	return nil
}

// Sign produces our partial signature over the 32-byte sighash. Aggregate
// must have been called first.
func (s *Session) Sign(msg [32]byte) (string, error) {
	if !s.haveCombined {
		return "", fmt.Errorf("nonces not aggregated")
	}

	ps, err := musig2.Sign(
		s.ourNonces.SecNonce,
		s.privateKey,
		s.combinedNonce,
		s.Keys(),
		msg,
		musig2.WithTaprootSignTweak(s.treeRoot),
		musig2.WithFastSign(),
	)
	if err != nil {
		return "", fmt.Errorf("musig2.Sign: %w", err)
	}

	s.ourPartial = ps
	return hex.EncodeToString(serializeScalar(ps.S)), nil
}

// AddServerSignature records the provider's partial signature, given in the
// provider's wire format: a bare 32-byte S scalar.
func (s *Session) AddServerSignature(sigHex string) error {
	ps, err := parsePartialSignature(sigHex)
	if err != nil {
		return err
	}
	s.theirPartial = ps
	return nil
}

// Finalize signs msg, combines both partial signatures into a final Schnorr
// signature and verifies it against the tweaked output key.
func (s *Session) Finalize(msg [32]byte) (*schnorr.Signature, error) {
	if s.theirPartial == nil {
		return nil, fmt.Errorf("missing server partial signature")
	}
	if _, err := s.Sign(msg); err != nil {
		return nil, err
	}

	sig := musig2.CombineSigs(
		s.ourPartial.R,
		[]*musig2.PartialSignature{s.ourPartial, s.theirPartial},
		musig2.WithTaprootTweakedCombine(msg, s.Keys(), s.treeRoot, false),
	)
	if sig == nil {
		return nil, fmt.Errorf("CombineSigs returned nil")
	}

	outputKey, err := s.OutputKey()
	if err != nil {
		return nil, err
	}
	if !sig.Verify(msg[:], outputKey) {
		return nil, fmt.Errorf("combined signature does not verify against output key")
	}
	return sig, nil
}

// OutputKey computes the taproot output key for the aggregated keyset and
// swap tree root, i.e. the key the lockup output pays to.
func (s *Session) OutputKey() (*btcec.PublicKey, error) {
	return tweakedOutputKey(s.Keys(), s.treeRoot)
}

func tweakedOutputKey(keys []*btcec.PublicKey, treeRoot []byte) (*btcec.PublicKey, error) {
	agg, _, _, err := musig2.AggregateKeys(keys, false)
	if err != nil {
		return nil, fmt.Errorf("musig2.AggregateKeys: %w", err)
	}
	return txscript.ComputeTaprootOutputKey(agg.FinalKey, treeRoot), nil
}

func parsePubNonce(nonceHex string) ([66]byte, error) {
	var n [66]byte
	b, err := hex.DecodeString(nonceHex)
	if err != nil {
		return n, fmt.Errorf("decode pub nonce: %w", err)
	}
	if len(b) != 66 {
		return n, fmt.Errorf("invalid pub nonce len: got %d want 66", len(b))
	}
	copy(n[:], b)
	return n, nil
}

// parsePartialSignature parses the provider's partial signature format: a
// 32-byte S scalar. This is not the musig2.PartialSignature encoding, so
// sig.Decode must not be used here.
func parsePartialSignature(sigHex string) (*musig2.PartialSignature, error) {
	b, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, fmt.Errorf("decode partial sig: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("invalid partial sig len: got %d want 32", len(b))
	}

	ps := &musig2.PartialSignature{S: new(btcec.ModNScalar)}
	if overflow := ps.S.SetByteSlice(b); overflow {
		return nil, fmt.Errorf("partial sig scalar overflow")
	}
	return ps, nil
}

func serializeScalar(s *btcec.ModNScalar) []byte {
	b := s.Bytes()
	return b[:]
}
