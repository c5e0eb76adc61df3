package swapengine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
)

// BoundDirection selects how a bound is interpreted.
type BoundDirection int

const (
	MinOut BoundDirection = iota // lowest acceptable output
	MaxIn                        // highest acceptable input
)

// Bound applies a slippage tolerance of 1/denominator to a quoted amount:
// quoted - floor(quoted/denominator). A zero denominator disables the bound,
// giving 0 for MinOut and 2^256-1 for MaxIn.
func Bound(quoted *big.Int, denominator uint64, dir BoundDirection) *big.Int {
	if denominator == 0 {
		if dir == MaxIn {
			return new(big.Int).Set(math.MaxBig256)
		}
		return new(big.Int)
	}
	if quoted == nil || quoted.Sign() <= 0 {
		return new(big.Int)
	}

	cut := new(big.Int).Quo(quoted, new(big.Int).SetUint64(denominator))
	return cut.Sub(quoted, cut)
}
