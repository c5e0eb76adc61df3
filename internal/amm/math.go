package amm

import (
	"errors"
	"fmt"
	"math"
	"math/big"
)

var (
	ErrInsufficientInput     = errors.New("insufficient input amount")
	ErrInsufficientOutput    = errors.New("insufficient output amount")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)

// Fee is the share of the input kept by the pool, e.g. 3/1000.
type Fee struct {
	Numerator   uint64
	Denominator uint64
}

func (f Fee) validate() error {
	if f.Denominator == 0 {
		return fmt.Errorf("fee denominator cannot be 0")
	}
	if f.Numerator >= f.Denominator {
		return fmt.Errorf("fee %d/%d takes the whole input", f.Numerator, f.Denominator)
	}
	return nil
}

// Bps converts the fee to basis points.
func (f Fee) Bps() uint16 {
	if f.Denominator == 0 {
		return 0
	}
	return uint16((f.Numerator * 10000) / f.Denominator)
}

// GetAmountOut computes the constant-product output for an exact input with
// the fee taken from the input, matching UniswapV2Library.getAmountOut:
//
//	out = in*(D-N)*reserveOut / (reserveIn*D + in*(D-N))
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, fee Fee) (*big.Int, error) {
	if err := fee.validate(); err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInsufficientInput
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}

	keep := new(big.Int).SetUint64(fee.Denominator - fee.Numerator)
	den := new(big.Int).SetUint64(fee.Denominator)

	inWithFee := new(big.Int).Mul(amountIn, keep)
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, den)
	denominator.Add(denominator, inWithFee)

	return numerator.Div(numerator, denominator), nil
}

// GetAmountIn computes the input needed for an exact output, rounded up,
// matching UniswapV2Library.getAmountIn.
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int, fee Fee) (*big.Int, error) {
	if err := fee.validate(); err != nil {
		return nil, err
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInsufficientOutput
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientLiquidity
	}

	keep := new(big.Int).SetUint64(fee.Denominator - fee.Numerator)
	den := new(big.Int).SetUint64(fee.Denominator)

	numerator := new(big.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, den)
	denominator := new(big.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, keep)

	amountIn := numerator.Div(numerator, denominator)
	return amountIn.Add(amountIn, big.NewInt(1)), nil
}

// PriceImpact returns 1 - executionRate/spotRate, floored at 0.
func PriceImpact(amountIn, amountOut, reserveIn, reserveOut *big.Int) float64 {
	if amountIn == nil || amountIn.Sign() == 0 || reserveIn == nil || reserveIn.Sign() == 0 || reserveOut == nil {
		return 0
	}
	spot, _ := new(big.Rat).SetFrac(reserveOut, reserveIn).Float64()
	exec, _ := new(big.Rat).SetFrac(amountOut, amountIn).Float64()
	if spot <= 0 {
		return 0
	}
	return math.Max(0, 1-(exec/spot))
}
