package swap

import (
	"fmt"
	"math"
)

const maxFeeIterations = 10

// ConvergeFee finds the fee for a transaction whose size depends on the fee
// carved out of its output. build must return the virtual size of the
// transaction paying the given fee; the loop stops once size x rate stops
// moving the fee.
func ConvergeFee(satPerVbyte float64, build func(fee uint64) (vsize int, err error)) (uint64, error) {
	if satPerVbyte <= 0 {
		return 0, fmt.Errorf("invalid fee rate %f", satPerVbyte)
	}

	var fee uint64
	for range maxFeeIterations {
		vsize, err := build(fee)
		if err != nil {
			return 0, err
		}
		next := uint64(math.Ceil(float64(vsize) * satPerVbyte))
		if next == fee {
			return fee, nil
		}
		fee = next
	}
	return 0, fmt.Errorf("fee estimation did not converge after %d iterations", maxFeeIterations)
}
