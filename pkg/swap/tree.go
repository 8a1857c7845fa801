package swap

import (
	"encoding/hex"
	"fmt"

	"github.com/AmbossTech/banco-swaps/pkg/boltz"
	"github.com/btcsuite/btcd/txscript"
)

// TreeRoot computes the taproot script root of a provider swap tree. The
// root tweaks the aggregated MuSig2 key, so a wrong root makes every
// cooperative signature invalid.
func TreeRoot(tree boltz.SwapTree) ([]byte, error) {
	claimScript, err := hex.DecodeString(tree.ClaimLeaf.Output)
	if err != nil {
		return nil, fmt.Errorf("decode claim leaf: %w", err)
	}
	refundScript, err := hex.DecodeString(tree.RefundLeaf.Output)
	if err != nil {
		return nil, fmt.Errorf("decode refund leaf: %w", err)
	}

	scriptTree := txscript.AssembleTaprootScriptTree(
		txscript.NewTapLeaf(txscript.TapscriptLeafVersion(tree.ClaimLeaf.Version), claimScript),
		txscript.NewTapLeaf(txscript.TapscriptLeafVersion(tree.RefundLeaf.Version), refundScript),
	)
	root := scriptTree.RootNode.TapHash()
	return root[:], nil
}
