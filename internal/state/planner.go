package state

import (
	"StableLedger/internal/apperrors"
	"StableLedger/internal/oracle"
)

// PositionPlan is a validated deposit or withdrawal.
type PositionPlan struct {
	Before     Position
	After      Position
	PostHealth HealthFactor
}

// StatusFor maps a health factor onto the position status.
func StatusFor(hf HealthFactor, cfg Config) PositionStatus {
	if hf.MeetsMinimum(cfg.MinHealthFactorBps) {
		return PositionStatusActive
	}
	return PositionStatusLiquidatable
}

// PlanDeposit adds collateral and debt, requiring the result to stay healthy.
func PlanDeposit(p Position, amount, mintAmount int64, price oracle.ValidatedPrice, cfg Config) (PositionPlan, error) {
	if amount <= 0 {
		return PositionPlan{}, apperrors.Newf(apperrors.KindInvalidAmount, "collateral amount %d", amount)
	}
	if mintAmount < 0 {
		return PositionPlan{}, apperrors.Newf(apperrors.KindInvalidAmount, "mint amount %d", mintAmount)
	}
	if p.CollateralAmount > maxInt64-amount || p.AmountMinted > maxInt64-mintAmount {
		return PositionPlan{}, apperrors.New(apperrors.KindMathOverflow, "position totals overflow")
	}

	after, err := p.Apply(PositionDelta{CollateralDelta: amount, DebtDelta: mintAmount})
	if err != nil {
		return PositionPlan{}, err
	}
	return checkHealthy(p, after, price, cfg)
}

// PlanWithdraw removes collateral and debt, requiring the result to stay healthy.
func PlanWithdraw(p Position, amount, burnAmount int64, price oracle.ValidatedPrice, cfg Config) (PositionPlan, error) {
	if amount < 0 || burnAmount < 0 {
		return PositionPlan{}, apperrors.Newf(apperrors.KindInvalidAmount,
			"withdraw amount %d, burn amount %d", amount, burnAmount)
	}
	if amount == 0 && burnAmount == 0 {
		return PositionPlan{}, apperrors.New(apperrors.KindInvalidAmount, "nothing to withdraw or burn")
	}

	after, err := p.Apply(PositionDelta{CollateralDelta: -amount, DebtDelta: -burnAmount})
	if err != nil {
		return PositionPlan{}, err
	}
	return checkHealthy(p, after, price, cfg)
}

func checkHealthy(before, after Position, price oracle.ValidatedPrice, cfg Config) (PositionPlan, error) {
	hf, err := EvaluateHealth(after, cfg, price)
	if err != nil {
		return PositionPlan{}, err
	}
	if !hf.MeetsMinimum(cfg.MinHealthFactorBps) {
		return PositionPlan{}, apperrors.Newf(apperrors.KindBelowMinimumHealthFactor,
			"health factor %s below minimum %d bps", hf, cfg.MinHealthFactorBps)
	}
	after.Status = PositionStatusActive
	return PositionPlan{Before: before, After: after, PostHealth: hf}, nil
}

const maxInt64 = int64(^uint64(0) >> 1)
