package state

import (
	"math"

	fpmath "StableLedger/internal/math"
	"StableLedger/internal/oracle"

	"github.com/shopspring/decimal"
)

// HealthFactor is the exact ratio
//
//	collateralUsd * thresholdBps / (10_000 * debt)
//
// kept as its integer terms so comparisons never round. Zero debt is +Inf.
type HealthFactor struct {
	collateralUsd int64
	thresholdBps  int64
	debt          int64
}

// ComputeHealthFactor values position against cfg given its collateral in USD.
func ComputeHealthFactor(p Position, cfg Config, collateralUsd int64) HealthFactor {
	return HealthFactor{
		collateralUsd: collateralUsd,
		thresholdBps:  int64(cfg.LiquidationThresholdBps),
		debt:          p.AmountMinted,
	}
}

// EvaluateHealth prices the position's collateral at price and computes its health factor.
func EvaluateHealth(p Position, cfg Config, price oracle.ValidatedPrice) (HealthFactor, error) {
	usd, err := price.NativeToUsd(p.CollateralAmount)
	if err != nil {
		return HealthFactor{}, err
	}
	return ComputeHealthFactor(p, cfg, usd), nil
}

func (h HealthFactor) IsInfinite() bool {
	return h.debt == 0
}

// MeetsMinimum reports HF >= minBps/10_000. Equality passes.
func (h HealthFactor) MeetsMinimum(minBps uint16) bool {
	if h.IsInfinite() {
		return true
	}
	return fpmath.CompareProducts(h.collateralUsd, h.thresholdBps, int64(minBps), h.debt) >= 0
}

// Cmp returns -1, 0 or +1 comparing h to other.
func (h HealthFactor) Cmp(other HealthFactor) int {
	switch {
	case h.IsInfinite() && other.IsInfinite():
		return 0
	case h.IsInfinite():
		return 1
	case other.IsInfinite():
		return -1
	}
	// c1*t1/d1 vs c2*t2/d2; the 10_000 cancels.
	return fpmath.CompareMul(
		[]int64{h.collateralUsd, h.thresholdBps, other.debt},
		[]int64{other.collateralUsd, other.thresholdBps, h.debt},
	)
}

// Bps returns the health factor in basis points, floored. Saturates at MaxInt64.
func (h HealthFactor) Bps() int64 {
	if h.IsInfinite() {
		return math.MaxInt64
	}
	v, err := fpmath.MulDiv([]int64{h.collateralUsd, h.thresholdBps}, []int64{h.debt}, fpmath.RoundDown)
	if err != nil {
		return math.MaxInt64
	}
	return v
}

// Decimal returns the health factor for display. ok is false when it is infinite.
func (h HealthFactor) Decimal() (d decimal.Decimal, ok bool) {
	if h.IsInfinite() {
		return decimal.Zero, false
	}
	num := decimal.NewFromInt(h.collateralUsd).Mul(decimal.NewFromInt(h.thresholdBps))
	den := decimal.NewFromInt(h.debt).Mul(decimal.NewFromInt(fpmath.BpsScale))
	return num.Div(den), true
}

func (h HealthFactor) String() string {
	d, ok := h.Decimal()
	if !ok {
		return "inf"
	}
	return d.Truncate(4).String()
}
