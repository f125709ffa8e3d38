package state

import (
	"errors"

	"StableLedger/internal/apperrors"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/oracle"

	"github.com/ethereum/go-ethereum/common"
)

// LiquidationPlan is a fully computed liquidation, ready to be applied.
type LiquidationPlan struct {
	Depositor      common.Address
	Liquidator     common.Address
	BurnAmount     int64 // stable burned by the liquidator
	BaseCollateral int64 // native equivalent of BurnAmount
	Bonus          int64 // native bonus on top of BaseCollateral
	Seized         int64 // native moved from the vault to the liquidator
	Capped         bool  // Seized was limited by the remaining collateral
	PreHealth      HealthFactor
	PostHealth     HealthFactor
	Before         Position
	After          Position
}

// PlanLiquidation checks eligibility and computes the split. The quote must
// already be validated; nothing is mutated.
func PlanLiquidation(
	p Position,
	liquidator common.Address,
	burnAmount int64,
	price oracle.ValidatedPrice,
	cfg Config,
) (LiquidationPlan, error) {
	pre, err := EvaluateHealth(p, cfg, price)
	if err != nil {
		return LiquidationPlan{}, err
	}
	if pre.MeetsMinimum(cfg.MinHealthFactorBps) {
		return LiquidationPlan{}, apperrors.Newf(apperrors.KindAboveMinimumHealthFactor,
			"health factor %s meets minimum %d bps", pre, cfg.MinHealthFactorBps)
	}
	if burnAmount > p.AmountMinted {
		return LiquidationPlan{}, apperrors.Newf(apperrors.KindExcessiveBurnAmount,
			"burn %d exceeds minted %d", burnAmount, p.AmountMinted)
	}
	if burnAmount <= 0 {
		return LiquidationPlan{}, apperrors.Newf(apperrors.KindInvalidAmount, "burn amount %d", burnAmount)
	}

	base, err := price.UsdToNative(burnAmount)
	if err != nil {
		return LiquidationPlan{}, err
	}
	bonus, err := fpmath.ApplyBps(base, cfg.LiquidationBonusBps)
	if err != nil {
		if errors.Is(err, fpmath.ErrOverflow) {
			return LiquidationPlan{}, apperrors.WithCause(apperrors.KindMathOverflow, "liquidation bonus", err)
		}
		return LiquidationPlan{}, err
	}

	seized, capped := capSeizure(base, bonus, p.CollateralAmount)

	after, err := p.Apply(PositionDelta{CollateralDelta: -seized, DebtDelta: -burnAmount})
	if err != nil {
		return LiquidationPlan{}, err
	}
	post, err := EvaluateHealth(after, cfg, price)
	if err != nil {
		return LiquidationPlan{}, err
	}

	if !liquidationAccepted(cfg.LiquidationPolicy, cfg.MinHealthFactorBps, pre, post) {
		return LiquidationPlan{}, apperrors.Newf(apperrors.KindBelowMinimumHealthFactor,
			"post-liquidation health factor %s (was %s) fails %s policy", post, pre, cfg.LiquidationPolicy)
	}
	after.Status = StatusFor(post, cfg)

	return LiquidationPlan{
		Depositor:      p.Depositor,
		Liquidator:     liquidator,
		BurnAmount:     burnAmount,
		BaseCollateral: base,
		Bonus:          bonus,
		Seized:         seized,
		Capped:         capped,
		PreHealth:      pre,
		PostHealth:     post,
		Before:         p,
		After:          after,
	}, nil
}

// capSeizure returns min(base+bonus, collateral) without overflowing the sum.
func capSeizure(base, bonus, collateral int64) (int64, bool) {
	if base > collateral || bonus > collateral-base {
		return collateral, true
	}
	return base + bonus, false
}

func liquidationAccepted(policy LiquidationPolicy, minBps uint16, pre, post HealthFactor) bool {
	if post.MeetsMinimum(minBps) {
		return true
	}
	if policy == PolicyRecover {
		return false
	}
	return post.Cmp(pre) > 0
}
