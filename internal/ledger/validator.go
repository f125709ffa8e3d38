package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateVaultMatches verifies the vault holds exactly the recorded collateral
func (v *InvariantValidator) ValidateVaultMatches(owner common.Address, collateralAmount int64) error {
	vault := v.tracker.GetVaultBalance(owner)
	if vault != collateralAmount {
		return fmt.Errorf("vault for %s holds %d, position records %d", owner.Hex(), vault, collateralAmount)
	}
	return nil
}

// ValidateSupplyMatchesDebt verifies issued supply equals total outstanding debt
func (v *InvariantValidator) ValidateSupplyMatchesDebt(totalDebt int64) error {
	supply := v.tracker.GetOutstandingSupply()
	if supply != totalDebt {
		return fmt.Errorf("stable supply %d does not match outstanding debt %d", supply, totalDebt)
	}
	return nil
}

// ValidateUserAccountsNonNegative checks every account of owner is >= 0
func (v *InvariantValidator) ValidateUserAccountsNonNegative(owner common.Address) error {
	for _, key := range []AccountKey{WalletKey(owner), VaultKey(owner), StableKey(owner)} {
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
