// Package mint issues and retires the stable token.
package mint

import (
	"StableLedger/internal/apperrors"
	"StableLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

// Controller is the only component allowed to change stable supply.
type Controller struct {
	tracker *ledger.BalanceTracker
}

func NewController(tracker *ledger.BalanceTracker) *Controller {
	return &Controller{tracker: tracker}
}

// Mint credits amount stable tokens to recipient. Zero is a no-op.
func (c *Controller) Mint(b *ledger.BatchBuilder, recipient common.Address, amount int64) error {
	if amount < 0 {
		return apperrors.Newf(apperrors.KindInvalidAmount, "mint amount %d", amount)
	}
	b.MintStable(recipient, amount)
	return nil
}

// Burn retires amount stable tokens held by holder. Zero is a no-op.
func (c *Controller) Burn(b *ledger.BatchBuilder, holder common.Address, amount int64) error {
	if err := c.checkBurn(holder, amount); err != nil {
		return err
	}
	b.BurnStable(holder, amount)
	return nil
}

// BurnForLiquidation is Burn recorded against a liquidation.
func (c *Controller) BurnForLiquidation(b *ledger.BatchBuilder, liquidator common.Address, amount int64) error {
	if err := c.checkBurn(liquidator, amount); err != nil {
		return err
	}
	b.LiquidationBurn(liquidator, amount)
	return nil
}

func (c *Controller) checkBurn(holder common.Address, amount int64) error {
	if amount < 0 {
		return apperrors.Newf(apperrors.KindInvalidAmount, "burn amount %d", amount)
	}
	if have := c.tracker.GetStableBalance(holder); have < amount {
		return apperrors.Newf(apperrors.KindInsufficientTokenBalance,
			"%s holds %d stable, burn needs %d", holder.Hex(), have, amount)
	}
	return nil
}

// Balance returns holder's stable balance.
func (c *Controller) Balance(holder common.Address) int64 {
	return c.tracker.GetStableBalance(holder)
}

// Supply returns the outstanding stable supply.
func (c *Controller) Supply() int64 {
	return c.tracker.GetOutstandingSupply()
}
