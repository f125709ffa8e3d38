package math

import (
	"errors"
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	NativeConfig = DecimalConfig{DecimalPrecision: 9, Scale: 1_000_000_000} // lamports
	StableConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}     // stable token base units
	PriceConfig  = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000}   // USD per native unit
)

// BpsScale is 100% in basis points.
const BpsScale int64 = 10_000

// ErrOverflow is returned when a result does not fit in int64.
var ErrOverflow = errors.New("fixed-point overflow")

// ErrDivideByZero is returned for a zero denominator.
var ErrDivideByZero = errors.New("fixed-point division by zero")

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// MulDiv computes (Π numerators) / (Π denominators) with the given rounding.
// All inputs must be non-negative; denominators must be positive.
func MulDiv(numerators []int64, denominators []int64, mode RoundingMode) (int64, error) {
	num := getInt128()
	den := getInt128()
	tmp := getInt128()
	defer putInt128(num)
	defer putInt128(den)
	defer putInt128(tmp)

	num.SetInt64(1)
	for _, n := range numerators {
		num.Mul(num, tmp.SetInt64(n))
	}
	den.SetInt64(1)
	for _, d := range denominators {
		if d == 0 {
			return 0, ErrDivideByZero
		}
		den.Mul(den, tmp.SetInt64(d))
	}

	return divideBig(num, den, mode)
}

func divideBig(num, den *big.Int, mode RoundingMode) (int64, error) {
	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	quotient.QuoRem(num, den, remainder)

	if remainder.Sign() != 0 {
		switch mode {
		case RoundUp:
			quotient.Add(quotient, big.NewInt(1))
		case RoundHalfEven:
			twice := new(big.Int).Mul(remainder, big.NewInt(2))
			cmp := twice.CmpAbs(den)
			if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
				quotient.Add(quotient, big.NewInt(1))
			}
		}
	}

	if !quotient.IsInt64() {
		return 0, ErrOverflow
	}
	return quotient.Int64(), nil
}

// NativeToUsd converts native base units to USD expressed in stable base units.
// Rounds down: collateral is never overvalued.
//
//	usd = native * price * stableScale / (nativeScale * priceScale)
func NativeToUsd(native, price int64) (int64, error) {
	return MulDiv(
		[]int64{native, price, StableConfig.Scale},
		[]int64{NativeConfig.Scale, PriceConfig.Scale},
		RoundDown,
	)
}

// UsdToNative converts USD (stable base units) to native base units at price.
// Rounds down.
//
//	native = usd * nativeScale * priceScale / (price * stableScale)
func UsdToNative(usd, price int64) (int64, error) {
	return MulDiv(
		[]int64{usd, NativeConfig.Scale, PriceConfig.Scale},
		[]int64{price, StableConfig.Scale},
		RoundDown,
	)
}

// ApplyBps returns floor(amount * bps / 10_000).
func ApplyBps(amount int64, bps uint16) (int64, error) {
	return MulDiv([]int64{amount, int64(bps)}, []int64{BpsScale}, RoundDown)
}

// CompareProducts compares a1*a2 against b1*b2 without overflow.
// Returns -1, 0 or +1.
func CompareProducts(a1, a2, b1, b2 int64) int {
	return CompareMul([]int64{a1, a2}, []int64{b1, b2})
}

// CompareMul compares the product of left against the product of right.
func CompareMul(left, right []int64) int {
	l := getInt128()
	r := getInt128()
	tmp := getInt128()
	defer putInt128(l)
	defer putInt128(r)
	defer putInt128(tmp)

	l.SetInt64(1)
	for _, v := range left {
		l.Mul(l, tmp.SetInt64(v))
	}
	r.SetInt64(1)
	for _, v := range right {
		r.Mul(r, tmp.SetInt64(v))
	}
	return l.Cmp(r)
}

// CompareRatios compares n1/d1 against n2/d2 for positive denominators.
func CompareRatios(n1, d1, n2, d2 int64) int {
	return CompareProducts(n1, d2, n2, d1)
}
