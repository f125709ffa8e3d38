// Package custody escrows position collateral in per-depositor vault accounts.
package custody

import (
	"StableLedger/internal/apperrors"
	"StableLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

// Vaults builds the ledger legs that move collateral in and out of escrow.
// Balances are read from the tracker; nothing is mutated until the core
// applies the batch.
type Vaults struct {
	tracker *ledger.BalanceTracker
}

func NewVaults(tracker *ledger.BalanceTracker) *Vaults {
	return &Vaults{tracker: tracker}
}

// Lock moves amount from the depositor's wallet into their vault.
func (v *Vaults) Lock(b *ledger.BatchBuilder, depositor common.Address, amount int64) error {
	if amount < 0 {
		return apperrors.Newf(apperrors.KindInvalidAmount, "lock amount %d", amount)
	}
	if have := v.tracker.GetWalletBalance(depositor); have < amount {
		return apperrors.Newf(apperrors.KindInsufficientFunds,
			"wallet %s holds %d, deposit needs %d", depositor.Hex(), have, amount)
	}
	b.LockCollateral(depositor, amount)
	return nil
}

// Release moves amount from the depositor's vault to the recipient's wallet.
// A release to anyone other than the depositor is recorded as a liquidation seizure.
func (v *Vaults) Release(b *ledger.BatchBuilder, depositor, to common.Address, amount int64) error {
	if amount < 0 {
		return apperrors.Newf(apperrors.KindInvalidAmount, "release amount %d", amount)
	}
	if have := v.tracker.GetVaultBalance(depositor); have < amount {
		return apperrors.Newf(apperrors.KindInsufficientCollateral,
			"vault %s holds %d, release needs %d", depositor.Hex(), have, amount)
	}
	if to == depositor {
		b.ReleaseCollateral(depositor, to, amount)
	} else {
		b.LiquidationSeize(depositor, to, amount)
	}
	return nil
}

// Balance returns the native units escrowed for depositor.
func (v *Vaults) Balance(depositor common.Address) int64 {
	return v.tracker.GetVaultBalance(depositor)
}
