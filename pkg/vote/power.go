package vote

import (
	"math/big"

	"github.com/holiman/uint256"
)

// maxDecimals is the largest exponent with 10^d below 2^256.
const maxDecimals = 77

// Power is floor(balance / 10^decimals): whole tokens only, so 1.9 tokens vote as 1.
func Power(balance *big.Int, decimals uint64) *big.Int {
	if balance == nil || balance.Sign() <= 0 {
		return new(big.Int)
	}
	if decimals > maxDecimals {
		return new(big.Int)
	}
	bal, overflow := uint256.FromBig(balance)
	if overflow {
		// wider than uint256
		div := new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(decimals), nil)
		return new(big.Int).Quo(balance, div)
	}
	div := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(decimals))
	return new(uint256.Int).Div(bal, div).ToBig()
}
